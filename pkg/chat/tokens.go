package chat

import (
	"encoding/json"
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token usage of message histories so the turn loop
// can trim old turns before a provider rejects the request. All supported
// models are approximated with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a token counter.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountText returns the token count for a plain string, falling back to a
// 4-chars-per-token estimate if the codec fails.
func (tc *TokenCounter) CountText(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountMessage returns the approximate token count of one message,
// including tool inputs and results.
func (tc *TokenCounter) CountMessage(msg *Message) int {
	total := 0
	for i := range msg.Content {
		block := &msg.Content[i]
		switch block.Type {
		case BlockText:
			total += tc.CountText(block.Text)
		case BlockToolUse:
			total += tc.CountText(block.ToolName)
			if raw, err := json.Marshal(block.Input); err == nil {
				total += tc.CountText(string(raw))
			}
		case BlockToolResult:
			total += tc.CountText(block.Content)
		}
	}
	return total
}

// TrimToBudget drops the oldest messages until the history fits the token
// budget, then re-sanitizes so no half-pair of tool blocks survives the
// cut. The newest message is always kept.
func (tc *TokenCounter) TrimToBudget(history []Message, budget int) []Message {
	if budget <= 0 || len(history) == 0 {
		return history
	}

	total := 0
	counts := make([]int, len(history))
	for i := range history {
		counts[i] = tc.CountMessage(&history[i])
		total += counts[i]
	}

	start := 0
	for total > budget && start < len(history)-1 {
		total -= counts[start]
		start++
	}
	if start == 0 {
		return history
	}
	return Sanitize(history[start:])
}
