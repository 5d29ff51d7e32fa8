package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopassist/pkg/agent/llm"
	"shopassist/pkg/agent/llmerrors"
)

type flakyClient struct {
	failures int
	err      error
	calls    int
}

func (c *flakyClient) Complete(_ context.Context, _ llm.Request) (llm.Response, error) {
	c.calls++
	if c.calls <= c.failures {
		return llm.Response{}, c.err
	}
	return llm.Response{Content: "ok"}, nil
}

func (c *flakyClient) ModelName() string { return "flaky" }

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2.0}
}

func TestRetriesTransientErrors(t *testing.T) {
	base := &flakyClient{failures: 2, err: llmerrors.New(llmerrors.ErrorTypeTransient, "overloaded")}
	client := Middleware(fastPolicy(4))(base)

	resp, err := client.Complete(context.Background(), llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, base.calls)
}

func TestDoesNotRetryAuthErrors(t *testing.T) {
	base := &flakyClient{failures: 10, err: llmerrors.New(llmerrors.ErrorTypeAuth, "bad key")}
	client := Middleware(fastPolicy(4))(base)

	_, err := client.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, base.calls)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))
}

func TestExhaustsAttempts(t *testing.T) {
	base := &flakyClient{failures: 10, err: llmerrors.New(llmerrors.ErrorTypeTransient, "down")}
	client := Middleware(fastPolicy(3))(base)

	_, err := client.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Equal(t, 3, base.calls)
}

func TestUnclassifiedErrorsNotRetried(t *testing.T) {
	base := &flakyClient{failures: 10, err: context.Canceled}
	client := Middleware(fastPolicy(4))(base)

	_, err := client.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, base.calls)
}

func TestContextCancellationStopsBackoff(t *testing.T) {
	base := &flakyClient{failures: 10, err: llmerrors.New(llmerrors.ErrorTypeTransient, "down")}
	policy := Policy{MaxAttempts: 5, InitialDelay: time.Minute, MaxDelay: time.Minute, BackoffFactor: 2.0}
	client := Middleware(policy)(base)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Complete(ctx, llm.Request{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestDelaySchedule(t *testing.T) {
	policy := Policy{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, BackoffFactor: 2.0}

	assert.Equal(t, time.Duration(0), policy.Delay(1))
	assert.Equal(t, 100*time.Millisecond, policy.Delay(2))
	assert.Equal(t, 200*time.Millisecond, policy.Delay(3))
	// capped
	assert.Equal(t, 250*time.Millisecond, policy.Delay(4))
}

func TestBackoffUsesClassifiedSchedule(t *testing.T) {
	policy := Policy{MaxAttempts: 4, InitialDelay: 0, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2.0}
	transient := llmerrors.New(llmerrors.ErrorTypeTransient, "down")

	// without a classified error the policy curve applies, and a zero
	// InitialDelay means no backoff at all
	assert.Equal(t, time.Duration(0), policy.backoffFor(2, nil))
	// a classified error brings its own schedule, still capped by the
	// policy ceiling
	assert.Equal(t, 20*time.Millisecond, policy.backoffFor(2, transient))
	assert.Equal(t, time.Duration(0), policy.backoffFor(1, transient))
}

func TestModelNamePassesThrough(t *testing.T) {
	client := Middleware(fastPolicy(2))(&flakyClient{})
	assert.Equal(t, "flaky", client.ModelName())
}
