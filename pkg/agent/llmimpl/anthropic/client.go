// Package anthropic adapts the official Anthropic SDK to the llm.Client
// interface, translating between chat content blocks and the Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"shopassist/pkg/agent/llm"
	"shopassist/pkg/agent/llmerrors"
	"shopassist/pkg/chat"
	"shopassist/pkg/logx"
	"shopassist/pkg/tools"
)

// Client wraps the Anthropic Messages API.
type Client struct {
	client anthropicsdk.Client
	logger *logx.Logger
	model  string
}

// NewClient creates an Anthropic-backed LLM client.
func NewClient(apiKey, model string) *Client {
	return &Client{
		client: anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		logger: logx.NewLogger("anthropic"),
		model:  model,
	}
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return c.model }

// Complete sends the conversation and tool catalogue to the Messages API.
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(in.MaxTokens),
		Messages:  buildMessages(in.Messages),
	}
	if in.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: in.System}}
	}
	if in.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(float64(in.Temperature))
	}
	if len(in.Tools) > 0 {
		params.Tools = buildTools(in.Tools)
		params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{
			OfAuto: &anthropicsdk.ToolChoiceAutoParam{},
		}
	}

	c.logger.Debug("completing: model=%s messages=%d tools=%d", c.model, len(params.Messages), len(params.Tools))

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, llmerrors.Classify(err)
	}

	out := llm.Response{StopReason: string(resp.StopReason)}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			input := map[string]any{}
			if len(tu.Input) > 0 {
				if err := json.Unmarshal(tu.Input, &input); err != nil {
					return llm.Response{}, llmerrors.Wrap(llmerrors.ErrorTypeUnknown, err,
						fmt.Sprintf("malformed tool input for %s", tu.Name))
				}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tu.ID, Name: tu.Name, Input: input})
		}
	}

	if out.Content == "" && len(out.ToolCalls) == 0 {
		return llm.Response{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "response contained no content blocks")
	}
	return out, nil
}

func buildMessages(history []chat.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(history))
	for _, msg := range history {
		blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(msg.Content))
		for _, b := range msg.Content {
			switch b.Type {
			case chat.BlockText:
				if b.Text != "" {
					blocks = append(blocks, anthropicsdk.NewTextBlock(b.Text))
				}
			case chat.BlockToolUse:
				blocks = append(blocks, anthropicsdk.ContentBlockParamUnion{
					OfToolUse: &anthropicsdk.ToolUseBlockParam{
						ID:    b.ToolUseID,
						Name:  b.ToolName,
						Input: b.Input,
					},
				})
			case chat.BlockToolResult:
				blocks = append(blocks, anthropicsdk.NewToolResultBlock(b.ToolCallID, b.Content, b.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == chat.RoleAssistant {
			out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropicsdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func buildTools(catalogue []tools.ToolDescriptor) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(catalogue))
	for _, desc := range catalogue {
		schema := anthropicsdk.ToolInputSchemaParam{Type: "object"}
		if props, ok := desc.InputSchema["properties"]; ok {
			schema.Properties = props
		}
		if req, ok := desc.InputSchema["required"].([]any); ok {
			schema.Required = stringSlice(req)
		}
		param := anthropicsdk.ToolParam{
			Name:        desc.Name,
			Description: anthropicsdk.String(desc.Description),
			InputSchema: schema,
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &param})
	}
	return out
}

func stringSlice(vals []any) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
