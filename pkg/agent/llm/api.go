// Package llm provides the interface and types for language model client
// implementations. The turn loop only ever sees this interface; provider
// SDK details live in pkg/agent/llmimpl.
package llm

import (
	"context"

	"shopassist/pkg/chat"
	"shopassist/pkg/tools"
)

const (
	// TemperatureDefault keeps replies focused while allowing some
	// variation in phrasing.
	TemperatureDefault = 0.3

	// MaxTokensDefault bounds a single completion.
	MaxTokensDefault = 4096
)

// Request asks the model for the next action given the accumulated
// history and the merged tool catalogue.
type Request struct {
	System      string
	Messages    []chat.Message
	Tools       []tools.ToolDescriptor
	MaxTokens   int
	Temperature float32
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Input map[string]any `json:"input"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
}

// Response is the model's answer: text, tool calls, or both.
type Response struct {
	ToolCalls  []ToolCall
	Content    string
	StopReason string // "end_turn", "tool_use", "max_tokens", ...
}

// Client is a turn-taking language model.
type Client interface {
	// Complete generates the next response synchronously.
	Complete(ctx context.Context, in Request) (Response, error)

	// ModelName returns the model identifier for logging and metrics.
	ModelName() string
}

// NewRequest creates a request with default limits.
func NewRequest(system string, messages []chat.Message, catalogue []tools.ToolDescriptor) Request {
	return Request{
		System:      system,
		Messages:    messages,
		Tools:       catalogue,
		MaxTokens:   MaxTokensDefault,
		Temperature: TemperatureDefault,
	}
}
