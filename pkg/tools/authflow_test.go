package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscalateWithOverride(t *testing.T) {
	resolveCalls := 0
	resolver := func(context.Context, string) (string, error) {
		resolveCalls++
		return "https://resolved.example", nil
	}
	flow := NewEscalationFlow(&stubAuthURLs{url: "https://auth.example"}, resolver, "https://override.example", testLogger())

	url, err := flow.Escalate(context.Background(), "conv-1", "shop.example", "shop-1")
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example?conversation=conv-1", url)
	// the override wins, no live lookup
	assert.Equal(t, 0, resolveCalls)
}

func TestEscalateCachesLiveLookup(t *testing.T) {
	resolveCalls := 0
	resolver := func(_ context.Context, domain string) (string, error) {
		resolveCalls++
		return "https://account." + domain, nil
	}
	flow := NewEscalationFlow(&stubAuthURLs{url: "https://auth.example"}, resolver, "", testLogger())

	_, err := flow.Escalate(context.Background(), "conv-1", "shop.example", "shop-1")
	require.NoError(t, err)
	_, err = flow.Escalate(context.Background(), "conv-2", "shop.example", "shop-1")
	require.NoError(t, err)

	assert.Equal(t, 1, resolveCalls)
}

func TestEscalateResolutionFailure(t *testing.T) {
	resolver := func(context.Context, string) (string, error) { return "", errBoom }
	flow := NewEscalationFlow(&stubAuthURLs{url: "https://auth.example"}, resolver, "", testLogger())

	_, err := flow.Escalate(context.Background(), "conv-1", "shop.example", "shop-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shop.example")
}

func TestEscalateEmptyAccountURL(t *testing.T) {
	resolver := func(context.Context, string) (string, error) { return "", nil }
	flow := NewEscalationFlow(&stubAuthURLs{url: "https://auth.example"}, resolver, "", testLogger())

	_, err := flow.Escalate(context.Background(), "conv-1", "shop.example", "shop-1")
	require.Error(t, err)
}

func TestEscalateAuthURLFailure(t *testing.T) {
	flow := NewEscalationFlow(&stubAuthURLs{err: errBoom}, nil, "https://override.example", testLogger())

	_, err := flow.Escalate(context.Background(), "conv-1", "shop.example", "shop-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization URL")
}
