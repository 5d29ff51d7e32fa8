// Package llmerrors classifies provider API failures so the retry
// middleware can decide what is worth retrying.
package llmerrors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType categorizes an LLM API failure.
type ErrorType int8

const (
	// ErrorTypeRateLimit covers 429 and quota errors.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient covers 5xx, timeouts, and dropped connections.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse covers a 200 with no usable content.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth covers 401/403 and bad API keys. Never retried.
	ErrorTypeAuth
	// ErrorTypeBadPrompt covers malformed or oversized requests. Never retried.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for anything unclassified.
	ErrorTypeUnknown
)

func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// RetryConfig is the backoff schedule for one error type.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

//nolint:gochecknoglobals // package-level defaults, read-only after init
var defaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeRateLimit:     {MaxRetries: 6, InitialDelay: time.Second, MaxDelay: 60 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeTransient:     {MaxRetries: 4, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeEmptyResponse: {MaxRetries: 3, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2.0, Jitter: true},
	ErrorTypeAuth:          {MaxRetries: 0, BackoffFactor: 1.0},
	ErrorTypeBadPrompt:     {MaxRetries: 0, BackoffFactor: 1.0},
	ErrorTypeUnknown:       {MaxRetries: 1, InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2.0, Jitter: true},
}

// Error is a classified provider failure.
type Error struct {
	Err        error
	Message    string
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("llm error (%s): %s", e.Type, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("llm error (%s): %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("llm error (%s): status %d", e.Type, e.StatusCode)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the retry middleware may retry this error.
// Everything is retryable unless explicitly non-retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt:
		return false
	default:
		return true
	}
}

// RetryConfigFor returns the backoff schedule for this error.
func (e *Error) RetryConfigFor() RetryConfig {
	if cfg, ok := defaultRetryConfigs[e.Type]; ok {
		return cfg
	}
	return defaultRetryConfigs[ErrorTypeUnknown]
}

// New creates a classified error.
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap creates a classified error around a cause.
func Wrap(t ErrorType, cause error, message string) *Error {
	return &Error{Type: t, Err: cause, Message: message}
}

// Is reports whether err carries the given classification.
func Is(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// TypeOf returns the classification of err, ErrorTypeUnknown when none.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// ClassifyHTTP maps an SDK error with a known HTTP status to a type.
func ClassifyHTTP(status int, cause error) *Error {
	var t ErrorType
	switch {
	case status == 429:
		t = ErrorTypeRateLimit
	case status == 401 || status == 403:
		t = ErrorTypeAuth
	case status == 400 || status == 413 || status == 422:
		t = ErrorTypeBadPrompt
	case status >= 500:
		t = ErrorTypeTransient
	default:
		t = ErrorTypeUnknown
	}
	return &Error{Type: t, Err: cause, StatusCode: status}
}

// Classify inspects an arbitrary SDK error and assigns a type, falling
// back to string matching when no status code is available.
func Classify(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(ErrorTypeTransient, err, "network timeout")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "quota"):
		return Wrap(ErrorTypeRateLimit, err, "")
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized"):
		return Wrap(ErrorTypeAuth, err, "")
	case strings.Contains(msg, "eof") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "529") ||
		strings.Contains(msg, "overloaded"):
		return Wrap(ErrorTypeTransient, err, "")
	case strings.Contains(msg, "400") || strings.Contains(msg, "too long") || strings.Contains(msg, "invalid request"):
		return Wrap(ErrorTypeBadPrompt, err, "")
	default:
		return Wrap(ErrorTypeUnknown, err, "")
	}
}
