package tools

import (
	"context"
	"time"
)

// CustomerToken is a bearer token bound to one conversation. Created by
// the OAuth callback collaborator, read on every customer-tool call, and
// expired by timestamp comparison at read time; there is no active
// eviction.
type CustomerToken struct {
	ConversationID string
	AccessToken    string
	ExpiresAt      time.Time
}

// Expired reports whether the token is past its expiry.
func (t *CustomerToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// TokenStore looks up and stores customer bearer tokens by conversation.
type TokenStore interface {
	GetToken(ctx context.Context, conversationID string) (*CustomerToken, error)
	StoreToken(ctx context.Context, conversationID, accessToken string, expiresAt time.Time) error
}

// MetadataStore is the slice of the conversation store the dispatcher
// needs: reading and patching the free-form metadata map that carries
// cart-continuity fields.
type MetadataStore interface {
	GetMetadata(ctx context.Context, conversationID string) (map[string]any, error)
	SetMetadata(ctx context.Context, conversationID string, patch map[string]any) error
}

// IncrementRule is a purchase-quantity constraint for a product or
// variant. Rules are owned by an external catalogue-sync process; the
// engine only ever looks them up.
type IncrementRule struct {
	EntityID   string
	EntityType string // "product" | "variant"
	Title      string
	Increment  int
}

// IncrementSource looks up quantity-increment rules. Both methods return
// (nil, nil) when no rule matches.
type IncrementSource interface {
	LookupIncrement(ctx context.Context, entityID string) (*IncrementRule, error)
	LookupIncrementByTitle(ctx context.Context, title string) (*IncrementRule, error)
}

// AuthURLProvider generates an OAuth authorization URL bound to a
// conversation and shop. Consumed, not implemented, by this package.
type AuthURLProvider interface {
	AuthorizeURL(ctx context.Context, conversationID, shopID string) (string, error)
}
