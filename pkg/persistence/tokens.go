package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shopassist/pkg/tools"
)

// TokenStore persists customer bearer tokens keyed by conversation.
// Written by the OAuth callback handler, read by the customer adapter.
type TokenStore struct {
	store *Store
}

// Tokens returns the token store.
func (s *Store) Tokens() *TokenStore {
	return &TokenStore{store: s}
}

// GetToken loads the token for a conversation, nil when none is stored.
func (t *TokenStore) GetToken(ctx context.Context, conversationID string) (*tools.CustomerToken, error) {
	row := t.store.db.QueryRowContext(ctx, `
		SELECT conversation_id, access_token, expires_at
		FROM customer_tokens WHERE conversation_id = ?`, conversationID)

	var (
		token   tools.CustomerToken
		expires sql.NullTime
	)
	err := row.Scan(&token.ConversationID, &token.AccessToken, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token for %s: %w", conversationID, err)
	}
	if expires.Valid {
		token.ExpiresAt = expires.Time
	}
	return &token, nil
}

// StoreToken upserts the token for a conversation.
func (t *TokenStore) StoreToken(ctx context.Context, conversationID, accessToken string, expiresAt time.Time) error {
	var expires any
	if !expiresAt.IsZero() {
		expires = expiresAt
	}
	_, err := t.store.db.ExecContext(ctx, `
		INSERT INTO customer_tokens (conversation_id, access_token, expires_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(conversation_id) DO UPDATE SET
			access_token = excluded.access_token,
			expires_at   = excluded.expires_at,
			updated_at   = CURRENT_TIMESTAMP`,
		conversationID, accessToken, expires)
	if err != nil {
		return fmt.Errorf("failed to store token for %s: %w", conversationID, err)
	}
	return nil
}

// DeleteToken removes the token for a conversation.
func (t *TokenStore) DeleteToken(ctx context.Context, conversationID string) error {
	_, err := t.store.db.ExecContext(ctx, `
		DELETE FROM customer_tokens WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete token for %s: %w", conversationID, err)
	}
	return nil
}
