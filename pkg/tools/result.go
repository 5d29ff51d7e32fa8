// Package tools implements the tool-orchestration layer: the provider
// catalogue, the JSON-RPC adapters, the quantity-increment interceptor,
// cart continuity, authentication escalation, and the dispatcher that ties
// them together.
package tools

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies tool failures. Adapters never panic or return bare
// errors to the driver; every failure is one of these kinds so the turn
// loop can decide between feeding the error back to the model and
// short-circuiting the turn.
type ErrorKind string

const (
	// ErrAuthRequired means the customer endpoint rejected the call and an
	// authorization URL was issued. Recoverable by user action outside this
	// turn.
	ErrAuthRequired ErrorKind = "auth_required"
	// ErrAuthError means escalation itself failed (shop misconfiguration).
	ErrAuthError ErrorKind = "auth_error"
	// ErrInternal is an adapter or transport failure, fed back to the LLM
	// as an error tool_result rather than surfaced raw.
	ErrInternal ErrorKind = "internal_error"
	// ErrToolNotFound means the requested name maps to no known provider.
	// Fatal to the tool-call attempt, not to the turn.
	ErrToolNotFound ErrorKind = "tool_not_found"
	// ErrValidation means the call arguments were unusable (for example an
	// add-item entry with no product or variant identifier).
	ErrValidation ErrorKind = "validation_error"
)

// Error is the typed failure variant of a Result.
type Error struct {
	Kind ErrorKind
	Data string // auth URL for ErrAuthRequired, message otherwise
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Data)
}

// Result is the single return type of every adapter call: either a success
// payload or a typed error, never a thrown exception. Custom marks results
// of local tools the calling channel must interpret itself (order-form
// dispatch, human handoff); the core performs no side effects for those.
type Result struct {
	Content map[string]any
	Err     *Error
	Custom  bool
}

// OK creates a success result.
func OK(content map[string]any) Result {
	return Result{Content: content}
}

// CustomResult creates a success result the channel handler interprets.
func CustomResult(content map[string]any) Result {
	return Result{Content: content, Custom: true}
}

// Errf creates a failure result.
func Errf(kind ErrorKind, format string, args ...any) Result {
	return Result{Err: &Error{Kind: kind, Data: fmt.Sprintf(format, args...)}}
}

// AuthRequired creates the escalation sentinel carrying the authorization
// URL the user must visit.
func AuthRequired(authorizationURL string) Result {
	return Result{Err: &Error{Kind: ErrAuthRequired, Data: authorizationURL}}
}

// IsErr reports whether the result is a failure.
func (r Result) IsErr() bool {
	return r.Err != nil
}

// IsAuth reports whether the result ends the turn with an authorization
// outcome (either the escalation sentinel or an escalation failure).
func (r Result) IsAuth() bool {
	return r.Err != nil && (r.Err.Kind == ErrAuthRequired || r.Err.Kind == ErrAuthError)
}

// Render serializes the result for a tool_result block. The second return
// is the block's is_error flag.
func (r Result) Render() (string, bool) {
	if r.Err != nil {
		return r.Err.Error(), true
	}
	if len(r.Content) == 0 {
		return "{}", false
	}
	raw, err := json.Marshal(r.Content)
	if err != nil {
		return fmt.Sprintf("%v", r.Content), false
	}
	return string(raw), false
}
