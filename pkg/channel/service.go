// Package channel adapts inbound messaging channels (web chat, WhatsApp)
// to the shared conversation engine. Each channel configures its own local
// tool set but runs the same turn loop, quantity enforcement, and cart
// continuity. The channel owns what the engine does not: persisting
// messages, interpreting custom tool events, and replaying a suspended
// message after customer authorization.
package channel

import (
	"context"
	"fmt"
	"time"

	"shopassist/pkg/agent/turnloop"
	"shopassist/pkg/chat"
	"shopassist/pkg/config"
	"shopassist/pkg/logx"
	"shopassist/pkg/tools"
)

// Conversation metadata keys owned by the channel layer.
const (
	metaPendingMessage = "pending_message"
	metaHandoffReason  = "handoff_reason"
)

// TurnRunner executes one conversation turn. Implemented by the engine
// wiring in cmd, mocked in tests.
type TurnRunner interface {
	RunTurn(ctx context.Context, conversationID string, history []chat.Message, message string) (turnloop.Outcome, error)
}

// ConversationStore is the slice of persistence the channel needs.
type ConversationStore interface {
	Ensure(ctx context.Context, conversationID, channel string) error
	GetHistory(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
	AppendMessages(ctx context.Context, conversationID string, msgs []chat.Message) error
	GetMetadata(ctx context.Context, conversationID string) (map[string]any, error)
	SetMetadata(ctx context.Context, conversationID string, patch map[string]any) error
}

// Reply is the channel-facing result of one inbound message.
type Reply struct {
	OrderForm     map[string]any
	Text          string
	AuthURL       string
	HandoffReason string
	Handoff       bool
	Resumed       bool // a previously suspended message was replayed first
}

// Service handles inbound messages for one channel.
type Service struct {
	runner TurnRunner
	convs  ConversationStore
	tokens tools.TokenStore
	logger *logx.Logger
	name   string
	limit  int
}

// NewService creates a channel service. historyLimit bounds how many
// stored messages seed each turn.
func NewService(name string, runner TurnRunner, convs ConversationStore, tokens tools.TokenStore, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = config.DefaultHistoryLimit
	}
	return &Service{
		runner: runner,
		convs:  convs,
		tokens: tokens,
		logger: logx.NewLogger("channel-" + name),
		name:   name,
		limit:  historyLimit,
	}
}

// Name returns the channel name.
func (s *Service) Name() string { return s.name }

// HandleMessage runs the engine for one inbound user message. If a prior
// message was suspended for authorization and a token has since arrived,
// that message is replayed first and its result folded into this reply.
func (s *Service) HandleMessage(ctx context.Context, conversationID, text string) (*Reply, error) {
	if err := s.convs.Ensure(ctx, conversationID, s.name); err != nil {
		return nil, err
	}

	var resumedReply *Reply
	if pending, ok := s.pendingMessage(ctx, conversationID); ok && s.hasValidToken(ctx, conversationID) {
		s.logger.Info("🔁 replaying suspended message for %s", conversationID)
		rr, err := s.runOnce(ctx, conversationID, pending)
		if err != nil {
			return nil, fmt.Errorf("resume of suspended message failed: %w", err)
		}
		s.clearPending(ctx, conversationID)
		resumedReply = rr
	}

	reply, err := s.runOnce(ctx, conversationID, text)
	if err != nil {
		return nil, err
	}
	if resumedReply != nil {
		foldResumed(reply, resumedReply)
	}
	return reply, nil
}

// foldResumed merges the replayed suspended turn into the reply for the
// new message, so the user sees the answer to the question that triggered
// authorization.
func foldResumed(reply, resumed *Reply) {
	reply.Resumed = true
	if resumed.Text != "" {
		if reply.Text == "" {
			reply.Text = resumed.Text
		} else {
			reply.Text = resumed.Text + "\n\n" + reply.Text
		}
	}
	if !reply.Handoff && resumed.Handoff {
		reply.Handoff = true
		reply.HandoffReason = resumed.HandoffReason
	}
	if reply.OrderForm == nil {
		reply.OrderForm = resumed.OrderForm
	}
}

// Resume replays the suspended message, if any, without a new inbound
// message. Used after the OAuth callback lands a token.
func (s *Service) Resume(ctx context.Context, conversationID string) (*Reply, error) {
	pending, ok := s.pendingMessage(ctx, conversationID)
	if !ok {
		return nil, nil
	}
	if !s.hasValidToken(ctx, conversationID) {
		return nil, fmt.Errorf("conversation %s has no valid token to resume with", conversationID)
	}
	reply, err := s.runOnce(ctx, conversationID, pending)
	if err != nil {
		return nil, err
	}
	s.clearPending(ctx, conversationID)
	reply.Resumed = true
	return reply, nil
}

func (s *Service) runOnce(ctx context.Context, conversationID, text string) (*Reply, error) {
	history, err := s.convs.GetHistory(ctx, conversationID, s.limit)
	if err != nil {
		return nil, err
	}

	outcome, err := s.runner.RunTurn(ctx, conversationID, history, text)
	if err != nil {
		return nil, fmt.Errorf("turn failed for %s: %w", conversationID, err)
	}

	if err := s.convs.AppendMessages(ctx, conversationID, outcome.Messages); err != nil {
		// history persistence is best effort; the user still gets a reply
		s.logger.Warn("failed to persist turn messages for %s: %v", conversationID, err)
	}

	reply := &Reply{Text: outcome.Reply}
	switch outcome.Kind {
	case turnloop.OutcomeAuthRequired:
		reply.AuthURL = outcome.AuthURL
		if err := s.convs.SetMetadata(ctx, conversationID, map[string]any{metaPendingMessage: text}); err != nil {
			s.logger.Warn("failed to store suspended message for %s: %v", conversationID, err)
		}
	case turnloop.OutcomeAuthError, turnloop.OutcomeCeiling, turnloop.OutcomeReply:
	}

	for _, ev := range outcome.Events {
		s.applyEvent(ctx, conversationID, ev, reply)
	}
	return reply, nil
}

func (s *Service) applyEvent(ctx context.Context, conversationID string, ev turnloop.Event, reply *Reply) {
	switch ev.Action {
	case "handoff":
		reply.Handoff = true
		reply.HandoffReason, _ = ev.Data["reason"].(string)
		if err := s.convs.SetMetadata(ctx, conversationID, map[string]any{metaHandoffReason: reply.HandoffReason}); err != nil {
			s.logger.Warn("failed to record handoff for %s: %v", conversationID, err)
		}
		s.logger.Info("🙋 human handoff requested for %s: %s", conversationID, reply.HandoffReason)
	case "order_form":
		reply.OrderForm = ev.Data
	default:
		s.logger.Warn("ignoring unknown custom tool action %q for %s", ev.Action, conversationID)
	}
}

func (s *Service) pendingMessage(ctx context.Context, conversationID string) (string, bool) {
	meta, err := s.convs.GetMetadata(ctx, conversationID)
	if err != nil {
		s.logger.Warn("failed to read metadata for %s: %v", conversationID, err)
		return "", false
	}
	pending, _ := meta[metaPendingMessage].(string)
	return pending, pending != ""
}

func (s *Service) clearPending(ctx context.Context, conversationID string) {
	if err := s.convs.SetMetadata(ctx, conversationID, map[string]any{metaPendingMessage: nil}); err != nil {
		s.logger.Warn("failed to clear suspended message for %s: %v", conversationID, err)
	}
}

func (s *Service) hasValidToken(ctx context.Context, conversationID string) bool {
	if s.tokens == nil {
		return false
	}
	token, err := s.tokens.GetToken(ctx, conversationID)
	if err != nil || token == nil {
		return false
	}
	return !token.Expired(time.Now())
}

// DefaultLocalTools returns the local tool names a channel enables when
// the config does not override them. Both channels can hand off to a
// human and validate quantities; WhatsApp additionally sends native
// order-form messages.
func DefaultLocalTools(channelName string) []string {
	switch channelName {
	case config.ChannelWhatsApp:
		return []string{tools.ToolValidateQuantity, tools.ToolRequestHuman, tools.ToolSendOrderForm}
	default:
		return []string{tools.ToolValidateQuantity, tools.ToolRequestHuman}
	}
}
