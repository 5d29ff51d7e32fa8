package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"shopassist/pkg/chat"
)

// Conversation is one chat thread on one channel.
type Conversation struct {
	ID        string
	Channel   string
	Metadata  map[string]any
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationStore persists conversations and their message history.
// It also implements the metadata interface the tool layer uses for
// cart continuity.
type ConversationStore struct {
	store *Store
}

// Conversations returns the conversation store.
func (s *Store) Conversations() *ConversationStore {
	return &ConversationStore{store: s}
}

// Ensure creates the conversation row if it does not exist yet.
func (c *ConversationStore) Ensure(ctx context.Context, conversationID, channel string) error {
	_, err := c.store.db.ExecContext(ctx, `
		INSERT INTO conversations (id, channel) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`, conversationID, channel)
	if err != nil {
		return fmt.Errorf("failed to ensure conversation %s: %w", conversationID, err)
	}
	return nil
}

// Get loads one conversation, or nil when it does not exist.
func (c *ConversationStore) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	row := c.store.db.QueryRowContext(ctx, `
		SELECT id, channel, metadata, archived, created_at, updated_at
		FROM conversations WHERE id = ?`, conversationID)

	var (
		conv    Conversation
		rawMeta string
	)
	err := row.Scan(&conv.ID, &conv.Channel, &rawMeta, &conv.Archived, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}
	if err := json.Unmarshal([]byte(rawMeta), &conv.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata for conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

// Archive marks a conversation archived. History stays readable.
func (c *ConversationStore) Archive(ctx context.Context, conversationID string) error {
	_, err := c.store.db.ExecContext(ctx, `
		UPDATE conversations SET archived = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to archive conversation %s: %w", conversationID, err)
	}
	return nil
}

// AppendMessage stores one message at the end of the conversation.
func (c *ConversationStore) AppendMessage(ctx context.Context, conversationID string, msg *chat.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encode message content: %w", err)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = c.store.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, string(msg.Role), string(content), createdAt)
	if err != nil {
		return fmt.Errorf("failed to append message to %s: %w", conversationID, err)
	}
	_, err = c.store.db.ExecContext(ctx, `
		UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation %s: %w", conversationID, err)
	}
	return nil
}

// AppendMessages stores messages in order.
func (c *ConversationStore) AppendMessages(ctx context.Context, conversationID string, msgs []chat.Message) error {
	for i := range msgs {
		if err := c.AppendMessage(ctx, conversationID, &msgs[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetHistory returns the most recent limit messages in chronological
// order. A limit of 0 returns everything.
func (c *ConversationStore) GetHistory(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	query := `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unlimited
	}
	rows, err := c.store.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var history []chat.Message
	for rows.Next() {
		var (
			msg     chat.Message
			role    string
			content string
		)
		if err := rows.Scan(&role, &content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		if err := json.Unmarshal([]byte(content), &msg.Content); err != nil {
			return nil, fmt.Errorf("corrupt message content in %s: %w", conversationID, err)
		}
		history = append(history, msg)
	}
	return history, rows.Err()
}

// GetMetadata returns the free-form metadata map, empty when unset.
func (c *ConversationStore) GetMetadata(ctx context.Context, conversationID string) (map[string]any, error) {
	conv, err := c.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.Metadata == nil {
		return map[string]any{}, nil
	}
	return conv.Metadata, nil
}

// SetMetadata merges patch into the stored metadata. A nil value in the
// patch deletes the key.
func (c *ConversationStore) SetMetadata(ctx context.Context, conversationID string, patch map[string]any) error {
	current, err := c.GetMetadata(ctx, conversationID)
	if err != nil {
		return err
	}
	for k, v := range patch {
		if v == nil {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = c.store.db.ExecContext(ctx, `
		UPDATE conversations SET metadata = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(raw), conversationID)
	if err != nil {
		return fmt.Errorf("failed to store metadata for %s: %w", conversationID, err)
	}
	return nil
}
