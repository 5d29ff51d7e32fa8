package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopassist/pkg/chat"
	"shopassist/pkg/tools"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// reopening an up-to-date database must not re-run migrations
	store, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	convs := newTestStore(t).Conversations()

	require.NoError(t, convs.Ensure(ctx, "conv-1", "web"))
	// Ensure is a no-op for an existing conversation
	require.NoError(t, convs.Ensure(ctx, "conv-1", "whatsapp"))

	conv, err := convs.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "web", conv.Channel)
	assert.False(t, conv.Archived)

	missing, err := convs.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, convs.Archive(ctx, "conv-1"))
	conv, err = convs.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, conv.Archived)
}

func TestMessageHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	convs := newTestStore(t).Conversations()
	require.NoError(t, convs.Ensure(ctx, "conv-1", "web"))

	msgs := []chat.Message{
		chat.UserText("do you sell espresso?"),
		{Role: chat.RoleAssistant, Content: []chat.ContentBlock{
			chat.NewTextBlock("checking"),
			chat.NewToolUseBlock("tu_1", "search_shop_catalog", map[string]any{"query": "espresso"}),
		}},
		{Role: chat.RoleUser, Content: []chat.ContentBlock{
			chat.NewToolResultBlock("tu_1", `{"products":[]}`, false),
		}},
	}
	require.NoError(t, convs.AppendMessages(ctx, "conv-1", msgs))

	history, err := convs.GetHistory(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, chat.RoleUser, history[0].Role)
	assert.Equal(t, "do you sell espresso?", history[0].FirstText())

	// tool blocks survive the JSON round trip
	uses := history[1].ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "search_shop_catalog", uses[0].ToolName)
	assert.Equal(t, "espresso", uses[0].Input["query"])
	assert.Equal(t, chat.BlockToolResult, history[2].Content[0].Type)
	assert.Equal(t, "tu_1", history[2].Content[0].ToolCallID)
}

func TestGetHistoryLimitKeepsNewest(t *testing.T) {
	ctx := context.Background()
	convs := newTestStore(t).Conversations()
	require.NoError(t, convs.Ensure(ctx, "conv-1", "web"))

	for _, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, convs.AppendMessage(ctx, "conv-1", &chat.Message{
			Role:    chat.RoleUser,
			Content: []chat.ContentBlock{chat.NewTextBlock(text)},
		}))
	}

	history, err := convs.GetHistory(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "three", history[0].FirstText())
	assert.Equal(t, "four", history[1].FirstText())
}

func TestMetadataMergeAndDelete(t *testing.T) {
	ctx := context.Background()
	convs := newTestStore(t).Conversations()
	require.NoError(t, convs.Ensure(ctx, "conv-1", "web"))

	meta, err := convs.GetMetadata(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, meta)

	require.NoError(t, convs.SetMetadata(ctx, "conv-1", map[string]any{
		"last_cart_id":      "gid://cart/1",
		"last_checkout_url": "https://shop.example/checkout",
	}))
	require.NoError(t, convs.SetMetadata(ctx, "conv-1", map[string]any{
		"last_cart_id":      "gid://cart/2",
		"last_checkout_url": nil,
	}))

	meta, err = convs.GetMetadata(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "gid://cart/2", meta["last_cart_id"])
	_, hasCheckout := meta["last_checkout_url"]
	assert.False(t, hasCheckout)
}

func TestTokenStore(t *testing.T) {
	ctx := context.Background()
	tokens := newTestStore(t).Tokens()

	token, err := tokens.GetToken(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, token)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, tokens.StoreToken(ctx, "conv-1", "tok-abc", expires))

	token, err = tokens.GetToken(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "tok-abc", token.AccessToken)
	assert.False(t, token.Expired(time.Now()))

	// upsert replaces
	require.NoError(t, tokens.StoreToken(ctx, "conv-1", "tok-def", expires))
	token, err = tokens.GetToken(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-def", token.AccessToken)

	require.NoError(t, tokens.DeleteToken(ctx, "conv-1"))
	token, err = tokens.GetToken(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestIncrementStoreLookups(t *testing.T) {
	ctx := context.Background()
	incs := newTestStore(t).Increments()

	rule, err := incs.LookupIncrement(ctx, "variant-1")
	require.NoError(t, err)
	assert.Nil(t, rule)

	require.NoError(t, incs.UpsertRule(ctx, &tools.IncrementRule{
		EntityID:   "variant-1",
		EntityType: "variant",
		Title:      "Bulk Beans 1kg",
		Increment:  6,
	}))

	rule, err = incs.LookupIncrement(ctx, "variant-1")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, 6, rule.Increment)
	assert.Equal(t, "variant", rule.EntityType)

	rule, err = incs.LookupIncrementByTitle(ctx, "Bulk Beans 1kg")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "variant-1", rule.EntityID)

	require.NoError(t, incs.DeleteRule(ctx, "variant-1"))
	rule, err = incs.LookupIncrement(ctx, "variant-1")
	require.NoError(t, err)
	assert.Nil(t, rule)
}
