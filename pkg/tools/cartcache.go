package tools

import (
	"context"
	"strings"
	"sync"
	"time"

	"shopassist/pkg/logx"
)

// Metadata keys for cart continuity.
const (
	MetaLastCartID      = "last_cart_id"
	MetaLastCheckoutURL = "last_checkout_url"
	MetaCartUpdatedAt   = "cart_updated_at"
)

// CartContinuity remembers the most recent cart identifier and checkout
// URL for one conversation, injecting the cart ID into calls that omit it
// and mirroring changes into conversation metadata. Everything here is
// best effort: an extraction or persistence failure is logged and never
// fails the triggering tool call. Safe for concurrent use: the dispatcher
// cache hands one instance to every in-flight request for a conversation.
type CartContinuity struct {
	store          MetadataStore
	logger         *logx.Logger
	conversationID string

	mu          sync.Mutex
	loaded      bool
	cartID      string
	checkoutURL string
}

// NewCartContinuity creates the continuity cache for one conversation.
func NewCartContinuity(store MetadataStore, conversationID string, logger *logx.Logger) *CartContinuity {
	return &CartContinuity{store: store, conversationID: conversationID, logger: logger}
}

// InjectCartID adds the last known cart ID to a cart call whose arguments
// omit it. Memory is checked first, then conversation metadata.
func (cc *CartContinuity) InjectCartID(ctx context.Context, args map[string]any) {
	if id, ok := args[argCartID].(string); ok && id != "" {
		return
	}
	if id, ok := args[argCartIDAlt].(string); ok && id != "" {
		return
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.loadLocked(ctx)
	if cc.cartID == "" {
		return
	}
	args[argCartID] = cc.cartID
	cc.logger.Debug("injected cart_id %s into call for conversation %s", cc.cartID, cc.conversationID)
}

// CheckoutURL returns the last known checkout URL, if any.
func (cc *CartContinuity) CheckoutURL(ctx context.Context) string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.loadLocked(ctx)
	return cc.checkoutURL
}

// Absorb extracts the cart identifier and checkout URL from a successful
// cart-tool response, supporting both the nested cart.id/cart.checkout_url
// shape and the flat cart_id/checkout_url shape, and persists values that
// changed into conversation metadata.
func (cc *CartContinuity) Absorb(ctx context.Context, response map[string]any) {
	if response == nil {
		return
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.loadLocked(ctx)

	cartID, checkoutURL := extractCartFields(response)
	cartID = normalizeCartID(cartID)

	patch := map[string]any{}
	if cartID != "" && cartID != cc.cartID {
		cc.cartID = cartID
		patch[MetaLastCartID] = cartID
	}
	if checkoutURL != "" && checkoutURL != cc.checkoutURL {
		cc.checkoutURL = checkoutURL
		patch[MetaLastCheckoutURL] = checkoutURL
	}
	if len(patch) == 0 {
		return
	}
	patch[MetaCartUpdatedAt] = time.Now().UTC().Format(time.RFC3339)

	if err := cc.store.SetMetadata(ctx, cc.conversationID, patch); err != nil {
		cc.logger.Warn("failed to persist cart continuity for %s: %v", cc.conversationID, err)
		return
	}
	cc.logger.Debug("cart continuity updated for %s: cart_id=%s", cc.conversationID, cc.cartID)
}

// loadLocked seeds the in-memory state from conversation metadata on
// first use. Caller holds cc.mu.
func (cc *CartContinuity) loadLocked(ctx context.Context) {
	if cc.loaded {
		return
	}
	cc.loaded = true

	meta, err := cc.store.GetMetadata(ctx, cc.conversationID)
	if err != nil {
		cc.logger.Warn("failed to load cart continuity metadata for %s: %v", cc.conversationID, err)
		return
	}
	if id, ok := meta[MetaLastCartID].(string); ok {
		cc.cartID = id
	}
	if url, ok := meta[MetaLastCheckoutURL].(string); ok {
		cc.checkoutURL = url
	}
}

// extractCartFields pulls the cart ID and checkout URL out of a response,
// trying the nested shape first.
func extractCartFields(response map[string]any) (cartID, checkoutURL string) {
	if cart, ok := response["cart"].(map[string]any); ok {
		cartID, _ = cart["id"].(string)
		checkoutURL, _ = cart["checkout_url"].(string)
	}
	if cartID == "" {
		cartID, _ = response[argCartID].(string)
	}
	if checkoutURL == "" {
		checkoutURL, _ = response["checkout_url"].(string)
	}
	return cartID, checkoutURL
}

// normalizeCartID strips any query string from a cart identifier, since
// some providers append tracking parameters to gid URLs.
func normalizeCartID(id string) string {
	if idx := strings.Index(id, "?"); idx >= 0 {
		return id[:idx]
	}
	return id
}
