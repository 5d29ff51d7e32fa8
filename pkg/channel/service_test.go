package channel_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopassist/pkg/agent/turnloop"
	"shopassist/pkg/channel"
	"shopassist/pkg/chat"
	"shopassist/pkg/config"
	"shopassist/pkg/tools"
)

// In-memory conversation store.
type memConvs struct {
	history  map[string][]chat.Message
	metadata map[string]map[string]any
	channels map[string]string
}

func newMemConvs() *memConvs {
	return &memConvs{
		history:  map[string][]chat.Message{},
		metadata: map[string]map[string]any{},
		channels: map[string]string{},
	}
}

func (m *memConvs) Ensure(_ context.Context, id, ch string) error {
	if _, ok := m.channels[id]; !ok {
		m.channels[id] = ch
		m.metadata[id] = map[string]any{}
	}
	return nil
}

func (m *memConvs) GetHistory(_ context.Context, id string, limit int) ([]chat.Message, error) {
	h := m.history[id]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h, nil
}

func (m *memConvs) AppendMessages(_ context.Context, id string, msgs []chat.Message) error {
	m.history[id] = append(m.history[id], msgs...)
	return nil
}

func (m *memConvs) GetMetadata(_ context.Context, id string) (map[string]any, error) {
	meta := m.metadata[id]
	if meta == nil {
		meta = map[string]any{}
	}
	return meta, nil
}

func (m *memConvs) SetMetadata(_ context.Context, id string, patch map[string]any) error {
	meta := m.metadata[id]
	if meta == nil {
		meta = map[string]any{}
		m.metadata[id] = meta
	}
	for k, v := range patch {
		if v == nil {
			delete(meta, k)
			continue
		}
		meta[k] = v
	}
	return nil
}

// In-memory token store.
type memTokens struct {
	tokens map[string]*tools.CustomerToken
}

func (m *memTokens) GetToken(_ context.Context, id string) (*tools.CustomerToken, error) {
	return m.tokens[id], nil
}

func (m *memTokens) StoreToken(_ context.Context, id, token string, expires time.Time) error {
	if m.tokens == nil {
		m.tokens = map[string]*tools.CustomerToken{}
	}
	m.tokens[id] = &tools.CustomerToken{ConversationID: id, AccessToken: token, ExpiresAt: expires}
	return nil
}

// Scripted turn runner.
type stubRunner struct {
	outcomes []turnloop.Outcome
	inputs   []string
	calls    int
}

func (r *stubRunner) RunTurn(_ context.Context, _ string, _ []chat.Message, message string) (turnloop.Outcome, error) {
	r.inputs = append(r.inputs, message)
	out := r.outcomes[r.calls]
	r.calls++
	if len(out.Messages) == 0 {
		out.Messages = []chat.Message{chat.UserText(message), chat.AssistantText(out.Reply)}
	}
	return out, nil
}

func TestHandleMessagePersistsTurn(t *testing.T) {
	convs := newMemConvs()
	runner := &stubRunner{outcomes: []turnloop.Outcome{
		{Kind: turnloop.OutcomeReply, Reply: "We sell espresso."},
	}}
	svc := channel.NewService(config.ChannelWeb, runner, convs, &memTokens{}, 0)

	reply, err := svc.HandleMessage(context.Background(), "conv-1", "what do you sell?")
	require.NoError(t, err)

	assert.Equal(t, "We sell espresso.", reply.Text)
	assert.Len(t, convs.history["conv-1"], 2)
	assert.Equal(t, config.ChannelWeb, convs.channels["conv-1"])
}

func TestAuthOutcomeStoresPendingMessage(t *testing.T) {
	convs := newMemConvs()
	runner := &stubRunner{outcomes: []turnloop.Outcome{
		{Kind: turnloop.OutcomeAuthRequired, AuthURL: "https://auth.example/x", Reply: "Please sign in: https://auth.example/x"},
	}}
	svc := channel.NewService(config.ChannelWeb, runner, convs, &memTokens{}, 0)

	reply, err := svc.HandleMessage(context.Background(), "conv-1", "show my orders")
	require.NoError(t, err)

	assert.Equal(t, "https://auth.example/x", reply.AuthURL)
	assert.Equal(t, "show my orders", convs.metadata["conv-1"]["pending_message"])
}

func TestResumeReplaysPendingAfterToken(t *testing.T) {
	ctx := context.Background()
	convs := newMemConvs()
	tokens := &memTokens{}
	runner := &stubRunner{outcomes: []turnloop.Outcome{
		{Kind: turnloop.OutcomeAuthRequired, AuthURL: "https://auth.example/x", Reply: "sign in"},
		{Kind: turnloop.OutcomeReply, Reply: "Here are your orders."},
	}}
	svc := channel.NewService(config.ChannelWeb, runner, convs, tokens, 0)

	_, err := svc.HandleMessage(ctx, "conv-1", "show my orders")
	require.NoError(t, err)

	// token arrives out of band via the OAuth callback
	require.NoError(t, tokens.StoreToken(ctx, "conv-1", "tok", time.Now().Add(time.Hour)))

	reply, err := svc.Resume(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.True(t, reply.Resumed)
	assert.Equal(t, "Here are your orders.", reply.Text)
	assert.Equal(t, []string{"show my orders", "show my orders"}, runner.inputs)
	_, stillPending := convs.metadata["conv-1"]["pending_message"]
	assert.False(t, stillPending)
}

func TestResumeWithoutPendingIsNoop(t *testing.T) {
	svc := channel.NewService(config.ChannelWeb, &stubRunner{}, newMemConvs(), &memTokens{}, 0)
	reply, err := svc.Resume(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, reply)
}

func TestNextMessageReplaysPendingFirst(t *testing.T) {
	ctx := context.Background()
	convs := newMemConvs()
	tokens := &memTokens{}
	runner := &stubRunner{outcomes: []turnloop.Outcome{
		{Kind: turnloop.OutcomeAuthRequired, AuthURL: "https://auth.example/x", Reply: "sign in"},
		{Kind: turnloop.OutcomeReply, Reply: "Here are your orders."},
		{Kind: turnloop.OutcomeReply, Reply: "Anything else?"},
	}}
	svc := channel.NewService(config.ChannelWeb, runner, convs, tokens, 0)

	_, err := svc.HandleMessage(ctx, "conv-1", "show my orders")
	require.NoError(t, err)
	require.NoError(t, tokens.StoreToken(ctx, "conv-1", "tok", time.Now().Add(time.Hour)))

	reply, err := svc.HandleMessage(ctx, "conv-1", "thanks")
	require.NoError(t, err)

	assert.True(t, reply.Resumed)
	// the replayed turn's answer is surfaced ahead of the new reply
	assert.Equal(t, "Here are your orders.\n\nAnything else?", reply.Text)
	assert.Equal(t, []string{"show my orders", "show my orders", "thanks"}, runner.inputs)
}

func TestReplayedTurnEventsFoldIntoReply(t *testing.T) {
	ctx := context.Background()
	convs := newMemConvs()
	tokens := &memTokens{}
	runner := &stubRunner{outcomes: []turnloop.Outcome{
		{Kind: turnloop.OutcomeAuthRequired, AuthURL: "https://auth.example/x", Reply: "sign in"},
		{
			Kind:   turnloop.OutcomeReply,
			Reply:  "Your order form is ready.",
			Events: []turnloop.Event{{Action: "order_form", Data: map[string]any{"action": "order_form", "cart_id": "gid://cart/9"}}},
		},
		{Kind: turnloop.OutcomeReply, Reply: ""},
	}}
	svc := channel.NewService(config.ChannelWhatsApp, runner, convs, tokens, 0)

	_, err := svc.HandleMessage(ctx, "conv-1", "send me the order form")
	require.NoError(t, err)
	require.NoError(t, tokens.StoreToken(ctx, "conv-1", "tok", time.Now().Add(time.Hour)))

	reply, err := svc.HandleMessage(ctx, "conv-1", "ok")
	require.NoError(t, err)

	assert.True(t, reply.Resumed)
	assert.Equal(t, "Your order form is ready.", reply.Text)
	require.NotNil(t, reply.OrderForm)
	assert.Equal(t, "gid://cart/9", reply.OrderForm["cart_id"])
}

func TestHandoffEventRecorded(t *testing.T) {
	convs := newMemConvs()
	runner := &stubRunner{outcomes: []turnloop.Outcome{
		{
			Kind:   turnloop.OutcomeReply,
			Reply:  "A colleague will take over.",
			Events: []turnloop.Event{{Action: "handoff", Data: map[string]any{"action": "handoff", "reason": "refund dispute"}}},
		},
	}}
	svc := channel.NewService(config.ChannelWeb, runner, convs, &memTokens{}, 0)

	reply, err := svc.HandleMessage(context.Background(), "conv-1", "I need a human")
	require.NoError(t, err)

	assert.True(t, reply.Handoff)
	assert.Equal(t, "refund dispute", reply.HandoffReason)
	assert.Equal(t, "refund dispute", convs.metadata["conv-1"]["handoff_reason"])
}

func TestOrderFormEventSurfaced(t *testing.T) {
	runner := &stubRunner{outcomes: []turnloop.Outcome{
		{
			Kind:   turnloop.OutcomeReply,
			Reply:  "I've sent you an order form.",
			Events: []turnloop.Event{{Action: "order_form", Data: map[string]any{"action": "order_form", "cart_id": "gid://cart/1"}}},
		},
	}}
	svc := channel.NewService(config.ChannelWhatsApp, runner, newMemConvs(), &memTokens{}, 0)

	reply, err := svc.HandleMessage(context.Background(), "conv-1", "send me the form")
	require.NoError(t, err)

	require.NotNil(t, reply.OrderForm)
	assert.Equal(t, "gid://cart/1", reply.OrderForm["cart_id"])
}

func TestDefaultLocalTools(t *testing.T) {
	assert.Equal(t,
		[]string{tools.ToolValidateQuantity, tools.ToolRequestHuman},
		channel.DefaultLocalTools(config.ChannelWeb))
	assert.Equal(t,
		[]string{tools.ToolValidateQuantity, tools.ToolRequestHuman, tools.ToolSendOrderForm},
		channel.DefaultLocalTools(config.ChannelWhatsApp))
}
