package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDebugEnabledDomainFiltering(t *testing.T) {
	SetDebug(true, []string{"dispatcher", "turnloop"})
	defer SetDebug(false, nil)

	assert.True(t, IsDebugEnabled("dispatcher"))
	assert.True(t, IsDebugEnabled("turnloop"))
	assert.False(t, IsDebugEnabled("webchat"))
}

func TestIsDebugEnabledAllDomains(t *testing.T) {
	SetDebug(true, nil)
	defer SetDebug(false, nil)

	assert.True(t, IsDebugEnabled("anything"))
}

func TestIsDebugEnabledDisabled(t *testing.T) {
	SetDebug(false, nil)

	assert.False(t, IsDebugEnabled("dispatcher"))
}

func TestWithComponent(t *testing.T) {
	logger := NewLogger("dispatcher")
	derived := logger.WithComponent("cartcache")

	assert.Equal(t, "dispatcher", logger.Component())
	assert.Equal(t, "cartcache", derived.Component())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "should be nil"))
}

func TestWrapError(t *testing.T) {
	err := Wrap(assert.AnError, "context")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "context: ")
}
