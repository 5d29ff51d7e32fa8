package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"shopassist/pkg/logx"
)

// In-memory increment source.
type memSource struct {
	byID    map[string]*IncrementRule
	byTitle map[string]*IncrementRule
	err     error
}

func (m *memSource) LookupIncrement(_ context.Context, entityID string) (*IncrementRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byID[entityID], nil
}

func (m *memSource) LookupIncrementByTitle(_ context.Context, title string) (*IncrementRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byTitle[title], nil
}

// In-memory metadata store.
type memMeta struct {
	data   map[string]map[string]any
	setErr error
	sets   int
}

func newMemMeta() *memMeta {
	return &memMeta{data: map[string]map[string]any{}}
}

func (m *memMeta) GetMetadata(_ context.Context, conversationID string) (map[string]any, error) {
	meta := m.data[conversationID]
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, nil
}

func (m *memMeta) SetMetadata(_ context.Context, conversationID string, patch map[string]any) error {
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	meta := m.data[conversationID]
	if meta == nil {
		meta = map[string]any{}
		m.data[conversationID] = meta
	}
	for k, v := range patch {
		meta[k] = v
	}
	return nil
}

// In-memory token store.
type memTokens struct {
	tokens map[string]*CustomerToken
	err    error
}

func (m *memTokens) GetToken(_ context.Context, conversationID string) (*CustomerToken, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tokens[conversationID], nil
}

func (m *memTokens) StoreToken(_ context.Context, conversationID, accessToken string, expiresAt time.Time) error {
	if m.tokens == nil {
		m.tokens = map[string]*CustomerToken{}
	}
	m.tokens[conversationID] = &CustomerToken{ConversationID: conversationID, AccessToken: accessToken, ExpiresAt: expiresAt}
	return nil
}

// Stub authorization URL provider.
type stubAuthURLs struct {
	url string
	err error
}

func (s *stubAuthURLs) AuthorizeURL(_ context.Context, conversationID, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.url + "?conversation=" + conversationID, nil
}

// rpcStub is a scriptable JSON-RPC tool endpoint.
type rpcStub struct {
	tools       []any
	results     map[string]map[string]any // tool name -> tools/call result
	requireAuth string                    // non-empty: reject calls without this bearer
	failWith    int                       // non-zero: respond with this HTTP status
	rpcErr      string                    // non-empty: respond with a JSON-RPC error object

	mu       sync.Mutex
	lastAuth string
	lastArgs map[string]any
	calls    int
}

func (s *rpcStub) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls++
		s.lastAuth = r.Header.Get("Authorization")

		if s.failWith != 0 {
			w.WriteHeader(s.failWith)
			return
		}

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if s.rpcErr != "" {
			writeJSON(w, map[string]any{
				"jsonrpc": "2.0", "id": json.RawMessage(req.ID),
				"error": map[string]any{"code": -32600, "message": s.rpcErr},
			})
			return
		}

		switch req.Method {
		case "tools/list":
			writeJSON(w, map[string]any{
				"jsonrpc": "2.0", "id": json.RawMessage(req.ID),
				"result": map[string]any{"tools": s.tools},
			})
		case "tools/call":
			if s.requireAuth != "" && s.lastAuth != "Bearer "+s.requireAuth {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			s.lastArgs = req.Params.Arguments
			result := s.results[req.Params.Name]
			if result == nil {
				result = map[string]any{}
			}
			writeJSON(w, map[string]any{
				"jsonrpc": "2.0", "id": json.RawMessage(req.ID),
				"result": result,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testLogger() *logx.Logger {
	return logx.NewLogger("test")
}

var errBoom = errors.New("boom")
