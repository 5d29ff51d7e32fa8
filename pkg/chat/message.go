// Package chat defines the conversation message model shared by the turn
// loop, the channels, and the persistence layer. Messages carry ordered
// content blocks (text, tool_use, tool_result) matching the shape the LLM
// providers exchange.
package chat

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is one element of a message's content. Exactly one of the
// three shapes is populated, selected by Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ToolUseID string         `json:"id,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`

	// tool_result
	ToolCallID string `json:"tool_use_id,omitempty"`
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is a single conversation entry.
type Message struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewTextBlock creates a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewToolUseBlock creates a tool_use content block.
func NewToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, Input: input}
}

// NewToolResultBlock creates a tool_result content block referencing a
// prior tool_use by ID.
func NewToolResultBlock(toolCallID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolCallID: toolCallID, Content: content, IsError: isError}
}

// UserText creates a user message with a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{NewTextBlock(text)}, CreatedAt: time.Now().UTC()}
}

// AssistantText creates an assistant message with a single text block.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{NewTextBlock(text)}, CreatedAt: time.Now().UTC()}
}

// FirstText returns the first text block's content, or "".
func (m *Message) FirstText() string {
	for i := range m.Content {
		if m.Content[i].Type == BlockText {
			return m.Content[i].Text
		}
	}
	return ""
}

// ToolUses returns all tool_use blocks in the message.
func (m *Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for i := range m.Content {
		if m.Content[i].Type == BlockToolUse {
			uses = append(uses, m.Content[i])
		}
	}
	return uses
}

// Sanitize strips orphaned tool blocks from a history before it is replayed
// to the LLM. A tool_use block is orphaned when the next message carries no
// tool_result with the same ID; a tool_result is orphaned when the previous
// message carries no matching tool_use. Messages emptied by stripping are
// dropped entirely, since providers reject messages with no content.
func Sanitize(history []Message) []Message {
	if len(history) == 0 {
		return history
	}

	resultIDs := make([]map[string]bool, len(history))
	useIDs := make([]map[string]bool, len(history))
	for i := range history {
		resultIDs[i] = make(map[string]bool)
		useIDs[i] = make(map[string]bool)
		for j := range history[i].Content {
			block := &history[i].Content[j]
			switch block.Type {
			case BlockToolResult:
				resultIDs[i][block.ToolCallID] = true
			case BlockToolUse:
				useIDs[i][block.ToolUseID] = true
			}
		}
	}

	sanitized := make([]Message, 0, len(history))
	for i := range history {
		var kept []ContentBlock
		for j := range history[i].Content {
			block := history[i].Content[j]
			switch block.Type {
			case BlockToolUse:
				// Must be answered in the immediately following message.
				if i+1 < len(history) && resultIDs[i+1][block.ToolUseID] {
					kept = append(kept, block)
				}
			case BlockToolResult:
				// Must answer a tool_use in the immediately preceding message.
				if i > 0 && useIDs[i-1][block.ToolCallID] {
					kept = append(kept, block)
				}
			default:
				kept = append(kept, block)
			}
		}
		if len(kept) > 0 {
			msg := history[i]
			msg.Content = kept
			sanitized = append(sanitized, msg)
		}
	}

	return sanitized
}
