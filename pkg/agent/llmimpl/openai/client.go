// Package openai adapts the official OpenAI Go SDK to the llm.Client
// interface using the Responses API. Conversation history is flattened
// into a single transcript input; tool calls come back as function_call
// output items.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"shopassist/pkg/agent/llm"
	"shopassist/pkg/agent/llmerrors"
	"shopassist/pkg/chat"
	"shopassist/pkg/logx"
	"shopassist/pkg/tools"
)

// Client wraps the OpenAI Responses API.
type Client struct {
	client openaisdk.Client
	logger *logx.Logger
	model  string
}

// NewClient creates an OpenAI-backed LLM client.
func NewClient(apiKey, model string) *Client {
	return &Client{
		client: openaisdk.NewClient(option.WithAPIKey(apiKey)),
		logger: logx.NewLogger("openai"),
		model:  model,
	}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return c.model }

// Complete sends the flattened conversation to the Responses API.
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openaisdk.Int(int64(in.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openaisdk.String(flattenTranscript(in))},
	}
	if in.Temperature > 0 {
		params.Temperature = openaisdk.Float(float64(in.Temperature))
	}
	if len(in.Tools) > 0 {
		params.Tools = buildTools(in.Tools)
	}

	c.logger.Debug("completing: model=%s tools=%d", c.model, len(params.Tools))

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}
	if resp == nil {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "nil response from responses API")
	}

	out := llm.Response{StopReason: "end_turn"}
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "function_call" {
			continue
		}
		call := item.AsFunctionCall()
		input := map[string]any{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
				c.logger.Warn("skipping tool call %s with malformed arguments: %v", call.Name, err)
				continue
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: call.ID, Name: call.Name, Input: input})
	}
	out.Content = resp.OutputText()
	if len(out.ToolCalls) > 0 {
		out.StopReason = "tool_use"
	}

	if out.Content == "" && len(out.ToolCalls) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "response contained no output")
	}
	return out, nil
}

// flattenTranscript renders system prompt, history, and tool activity as
// a single prompt string. The Responses API keeps no server-side state
// for us, so every call carries the full transcript.
func flattenTranscript(in llm.Request) string {
	var b strings.Builder
	if in.System != "" {
		fmt.Fprintf(&b, "System: %s\n\n", in.System)
	}
	for _, msg := range in.Messages {
		for _, block := range msg.Content {
			switch block.Type {
			case chat.BlockText:
				if block.Text == "" {
					continue
				}
				if msg.Role == chat.RoleAssistant {
					fmt.Fprintf(&b, "Assistant: %s\n\n", block.Text)
				} else {
					fmt.Fprintf(&b, "User: %s\n\n", block.Text)
				}
			case chat.BlockToolUse:
				args, _ := json.Marshal(block.Input)
				fmt.Fprintf(&b, "Assistant called tool %s with arguments %s\n\n", block.ToolName, args)
			case chat.BlockToolResult:
				label := "Tool result"
				if block.IsError {
					label = "Tool error"
				}
				fmt.Fprintf(&b, "%s: %s\n\n", label, block.Content)
			}
		}
	}
	return b.String()
}

func buildTools(catalogue []tools.ToolDescriptor) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(catalogue))
	for _, desc := range catalogue {
		schema := map[string]any{"type": "object"}
		if props, ok := desc.InputSchema["properties"]; ok {
			schema["properties"] = props
		}
		if req, ok := desc.InputSchema["required"]; ok {
			schema["required"] = req
		}
		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        desc.Name,
				Description: openaisdk.String(desc.Description),
				Parameters:  openaisdk.FunctionParameters(schema),
			},
		})
	}
	return out
}
