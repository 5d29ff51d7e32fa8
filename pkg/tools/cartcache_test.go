package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectAfterAbsorb(t *testing.T) {
	ctx := context.Background()
	cc := NewCartContinuity(newMemMeta(), "conv-1", testLogger())

	cc.Absorb(ctx, map[string]any{
		"cart": map[string]any{
			"id":           "gid://cart/1",
			"checkout_url": "https://shop.example/checkout/1",
		},
	})

	args := map[string]any{}
	cc.InjectCartID(ctx, args)
	assert.Equal(t, "gid://cart/1", args[argCartID])
	assert.Equal(t, "https://shop.example/checkout/1", cc.CheckoutURL(ctx))
}

func TestInjectDoesNotOverrideExplicitID(t *testing.T) {
	ctx := context.Background()
	cc := NewCartContinuity(newMemMeta(), "conv-1", testLogger())
	cc.Absorb(ctx, map[string]any{argCartID: "gid://cart/old"})

	args := map[string]any{argCartID: "gid://cart/explicit"}
	cc.InjectCartID(ctx, args)
	assert.Equal(t, "gid://cart/explicit", args[argCartID])

	// camelCase variant also counts as present
	args = map[string]any{argCartIDAlt: "gid://cart/camel"}
	cc.InjectCartID(ctx, args)
	_, injected := args[argCartID]
	assert.False(t, injected)
}

func TestAbsorbFlatShape(t *testing.T) {
	ctx := context.Background()
	cc := NewCartContinuity(newMemMeta(), "conv-1", testLogger())

	cc.Absorb(ctx, map[string]any{
		argCartID:      "gid://cart/flat",
		"checkout_url": "https://shop.example/co",
	})

	args := map[string]any{}
	cc.InjectCartID(ctx, args)
	assert.Equal(t, "gid://cart/flat", args[argCartID])
}

func TestAbsorbStripsQueryParams(t *testing.T) {
	ctx := context.Background()
	cc := NewCartContinuity(newMemMeta(), "conv-1", testLogger())

	cc.Absorb(ctx, map[string]any{
		"cart": map[string]any{"id": "gid://cart/1?key=tracking"},
	})

	args := map[string]any{}
	cc.InjectCartID(ctx, args)
	assert.Equal(t, "gid://cart/1", args[argCartID])
}

func TestAbsorbPersistsOnlyOnChange(t *testing.T) {
	ctx := context.Background()
	store := newMemMeta()
	cc := NewCartContinuity(store, "conv-1", testLogger())

	response := map[string]any{"cart": map[string]any{"id": "gid://cart/1"}}
	cc.Absorb(ctx, response)
	assert.Equal(t, 1, store.sets)

	// same cart id again: no write
	cc.Absorb(ctx, response)
	assert.Equal(t, 1, store.sets)

	cc.Absorb(ctx, map[string]any{"cart": map[string]any{"id": "gid://cart/2"}})
	assert.Equal(t, 2, store.sets)
	assert.Equal(t, "gid://cart/2", store.data["conv-1"][MetaLastCartID])
	assert.NotEmpty(t, store.data["conv-1"][MetaCartUpdatedAt])
}

func TestAbsorbPersistFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	store := newMemMeta()
	store.setErr = errBoom
	cc := NewCartContinuity(store, "conv-1", testLogger())

	cc.Absorb(ctx, map[string]any{"cart": map[string]any{"id": "gid://cart/1"}})

	// memory still updated, so the conversation keeps working
	args := map[string]any{}
	cc.InjectCartID(ctx, args)
	assert.Equal(t, "gid://cart/1", args[argCartID])
}

func TestInjectLoadsFromMetadata(t *testing.T) {
	ctx := context.Background()
	store := newMemMeta()
	store.data["conv-1"] = map[string]any{
		MetaLastCartID:      "gid://cart/persisted",
		MetaLastCheckoutURL: "https://shop.example/co",
	}

	// fresh continuity instance, as after a dispatcher cache eviction
	cc := NewCartContinuity(store, "conv-1", testLogger())
	args := map[string]any{}
	cc.InjectCartID(ctx, args)
	require.Equal(t, "gid://cart/persisted", args[argCartID])
	assert.Equal(t, "https://shop.example/co", cc.CheckoutURL(ctx))
}

func TestAbsorbIgnoresResponsesWithoutCart(t *testing.T) {
	ctx := context.Background()
	store := newMemMeta()
	cc := NewCartContinuity(store, "conv-1", testLogger())

	cc.Absorb(ctx, nil)
	cc.Absorb(ctx, map[string]any{"products": []any{}})
	assert.Equal(t, 0, store.sets)
}

func TestCartContinuityConcurrentUse(t *testing.T) {
	ctx := context.Background()
	cc := NewCartContinuity(newMemMeta(), "conv-1", testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cc.Absorb(ctx, map[string]any{
				"cart": map[string]any{"id": fmt.Sprintf("gid://cart/%d", n)},
			})
			args := map[string]any{}
			cc.InjectCartID(ctx, args)
			cc.CheckoutURL(ctx)
		}(i)
	}
	wg.Wait()

	args := map[string]any{}
	cc.InjectCartID(ctx, args)
	id, _ := args[argCartID].(string)
	assert.True(t, strings.HasPrefix(id, "gid://cart/"))
}
