// Package turnloop drives one conversation turn: it feeds cleaned history
// to the model, executes requested tools through the dispatcher, and loops
// until the model answers in text, an auth escalation fires, or the
// iteration ceiling is reached.
package turnloop

import (
	"context"
	"fmt"

	"shopassist/pkg/agent/llm"
	"shopassist/pkg/chat"
	"shopassist/pkg/logx"
	"shopassist/pkg/tools"
)

// State is the driver's position within a turn.
type State int8

const (
	// StateAwaitingLLM means the next step is a model completion.
	StateAwaitingLLM State = iota
	// StateToolRequested means the model asked for a tool and the driver
	// is about to execute it.
	StateToolRequested
	// StateTurnComplete means the turn has a final outcome.
	StateTurnComplete
)

func (s State) String() string {
	switch s {
	case StateAwaitingLLM:
		return "awaiting-llm"
	case StateToolRequested:
		return "tool-requested"
	case StateTurnComplete:
		return "turn-complete"
	default:
		return "invalid"
	}
}

// OutcomeKind classifies how a turn ended.
type OutcomeKind int8

const (
	// OutcomeReply is a normal text answer.
	OutcomeReply OutcomeKind = iota
	// OutcomeAuthRequired means the user must authorize before the
	// conversation can touch their account. AuthURL carries the link.
	OutcomeAuthRequired
	// OutcomeAuthError means authorization escalation itself failed.
	OutcomeAuthError
	// OutcomeCeiling means the iteration ceiling cut the turn short.
	OutcomeCeiling
)

// Event is a side effect a local tool asked the calling channel to
// perform, such as handing off to a human agent.
type Event struct {
	Data   map[string]any
	Action string
}

// Outcome is the result of one completed turn.
type Outcome struct {
	Reply    string
	AuthURL  string
	Messages []chat.Message // messages appended during this turn, for persistence
	Events   []Event
	Kind     OutcomeKind
}

// ToolDispatcher is the driver's view of the tool layer.
type ToolDispatcher interface {
	Tools() []tools.ToolDescriptor
	Call(ctx context.Context, name string, args map[string]any) tools.Result
}

// FallbackReply is used when the ceiling is hit before the model produced
// any usable text.
const FallbackReply = "I'm sorry, I wasn't able to finish that just now. Could you rephrase or try again?"

// Driver runs turns for one conversation.
type Driver struct {
	llm           llm.Client
	dispatcher    ToolDispatcher
	counter       *chat.TokenCounter
	logger        *logx.Logger
	systemPrompt  string
	maxIterations int
	historyBudget int
	maxTokens     int
	temperature   float32
}

// Options tunes a Driver beyond its required collaborators.
type Options struct {
	SystemPrompt  string
	MaxIterations int
	HistoryBudget int // tokens; 0 disables trimming
	MaxTokens     int
	Temperature   float32
	TokenCounter  *chat.TokenCounter
}

// NewDriver creates a turn driver.
func NewDriver(client llm.Client, dispatcher ToolDispatcher, opts Options) *Driver {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 5
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = llm.MaxTokensDefault
	}
	if opts.Temperature == 0 {
		opts.Temperature = llm.TemperatureDefault
	}
	return &Driver{
		llm:           client,
		dispatcher:    dispatcher,
		counter:       opts.TokenCounter,
		logger:        logx.NewLogger("turnloop"),
		systemPrompt:  opts.SystemPrompt,
		maxIterations: opts.MaxIterations,
		historyBudget: opts.HistoryBudget,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
	}
}

// RunTurn executes one conversation turn. History is sanitized before use;
// the user message is appended as the seed. The returned Outcome.Messages
// contains every message added during the turn, starting with the user's.
func (d *Driver) RunTurn(ctx context.Context, history []chat.Message, userMessage string) (Outcome, error) {
	msgs := chat.Sanitize(history)
	msgs = append(msgs, chat.UserText(userMessage))
	if d.counter != nil && d.historyBudget > 0 {
		msgs = d.counter.TrimToBudget(msgs, d.historyBudget)
	}
	baseLen := len(msgs) - 1 // everything after this index is new

	var (
		state    = StateAwaitingLLM
		outcome  Outcome
		events   []Event
		lastText string
	)

	for iteration := 1; state != StateTurnComplete; iteration++ {
		if iteration > d.maxIterations {
			d.logger.Warn("iteration ceiling %d reached, ending turn", d.maxIterations)
			reply := lastText
			if reply == "" {
				reply = FallbackReply
			}
			outcome = Outcome{Kind: OutcomeCeiling, Reply: reply}
			state = StateTurnComplete
			break
		}

		req := llm.NewRequest(d.systemPrompt, msgs, d.dispatcher.Tools())
		req.MaxTokens = d.maxTokens
		req.Temperature = d.temperature

		resp, err := d.llm.Complete(ctx, req)
		if err != nil {
			return Outcome{}, fmt.Errorf("llm completion failed on iteration %d: %w", iteration, err)
		}
		if resp.Content != "" {
			lastText = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			outcome = Outcome{Kind: OutcomeReply, Reply: resp.Content}
			if outcome.Reply == "" {
				outcome.Reply = FallbackReply
			}
			msgs = append(msgs, chat.AssistantText(resp.Content))
			state = StateTurnComplete
			break
		}

		state = StateToolRequested
		call := resp.ToolCalls[0]
		if len(resp.ToolCalls) > 1 {
			d.logger.Debug("ignoring %d extra tool calls in the same response", len(resp.ToolCalls)-1)
		}

		assistant := chat.Message{Role: chat.RoleAssistant}
		if resp.Content != "" {
			assistant.Content = append(assistant.Content, chat.NewTextBlock(resp.Content))
		}
		assistant.Content = append(assistant.Content, chat.NewToolUseBlock(call.ID, call.Name, call.Input))
		msgs = append(msgs, assistant)

		d.logger.Info("🔧 executing tool %s (iteration %d/%d)", call.Name, iteration, d.maxIterations)
		result := d.dispatcher.Call(ctx, call.Name, call.Input)

		rendered, isErr := result.Render()
		msgs = append(msgs, chat.Message{
			Role:    chat.RoleUser,
			Content: []chat.ContentBlock{chat.NewToolResultBlock(call.ID, rendered, isErr)},
		})

		if result.IsAuth() {
			outcome = d.authOutcome(&result)
			state = StateTurnComplete
			break
		}
		if result.Custom {
			if ev := eventFromResult(&result); ev.Action != "" {
				events = append(events, ev)
			}
		}
		state = StateAwaitingLLM
	}

	outcome.Events = events
	outcome.Messages = msgs[baseLen:]
	return outcome, nil
}

func (d *Driver) authOutcome(result *tools.Result) Outcome {
	if result.Err.Kind == tools.ErrAuthRequired {
		d.logger.Info("🔐 turn suspended pending customer authorization")
		return Outcome{
			Kind:    OutcomeAuthRequired,
			AuthURL: result.Err.Data,
			Reply:   fmt.Sprintf("To access your account I need your permission first. Please sign in here: %s", result.Err.Data),
		}
	}
	d.logger.Error("auth escalation failed: %s", result.Err.Data)
	return Outcome{
		Kind:  OutcomeAuthError,
		Reply: "I'm sorry, I couldn't connect to your customer account right now. Please try again later.",
	}
}

func eventFromResult(result *tools.Result) Event {
	action, _ := result.Content["action"].(string)
	return Event{Action: action, Data: result.Content}
}
