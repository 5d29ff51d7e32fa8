package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrUnauthorized signals a 401-class response from a tool endpoint. The
// customer adapter converts it into the escalation flow; nothing else
// should see it.
var ErrUnauthorized = errors.New("tool endpoint returned unauthorized")

// rpcRequest is a JSON-RPC 2.0 request payload.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcCallParams mirrors the tools/call params shape.
type rpcCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// RPCClient speaks JSON-RPC 2.0 over HTTP POST to a tool endpoint. A zero
// bearer token means unauthenticated. Every call carries the configured
// timeout so a stuck endpoint cannot block a turn indefinitely.
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewRPCClient creates a client for one endpoint.
func NewRPCClient(endpoint string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the configured endpoint URL.
func (c *RPCClient) Endpoint() string {
	return c.endpoint
}

// ListTools issues tools/list and returns the raw descriptor entries.
func (c *RPCClient) ListTools(ctx context.Context, bearer string) ([]any, error) {
	raw, err := c.do(ctx, "tools/list", nil, bearer)
	if err != nil {
		return nil, err
	}

	var result struct {
		Tools []any `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// CallTool issues tools/call for a named tool and returns the decoded
// result object.
func (c *RPCClient) CallTool(ctx context.Context, name string, args map[string]any, bearer string) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.do(ctx, "tools/call", rpcCallParams{Name: name, Arguments: args}, bearer)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return result, nil
}

func (c *RPCClient) do(ctx context.Context, method string, params any, bearer string) (json.RawMessage, error) {
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%s %s: %w", method, c.endpoint, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s returned status %s", method, c.endpoint, resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return nil, fmt.Errorf("%s response missing result", method)
	}
	return rpcResp.Result, nil
}
