package tools

import (
	"context"
	"errors"
	"sync"
	"time"

	"shopassist/pkg/logx"
)

// CustomerAdapter calls the OAuth-gated customer-account tool endpoint.
// Token resolution order: the in-memory token cached on this adapter,
// then the token store keyed by conversation, then none (the call
// proceeds unauthenticated and the endpoint decides). An unauthorized
// response is never retried; it triggers the escalation flow and comes
// back as the auth_required sentinel.
type CustomerAdapter struct {
	rpc            *RPCClient
	tokens         TokenStore
	escalation     *EscalationFlow
	logger         *logx.Logger
	conversationID string
	shopDomain     string
	shopID         string

	mu          sync.Mutex
	cachedToken string
}

// NewCustomerAdapter creates the customer adapter for one conversation.
func NewCustomerAdapter(rpc *RPCClient, tokens TokenStore, escalation *EscalationFlow, conversationID, shopDomain, shopID string, logger *logx.Logger) *CustomerAdapter {
	return &CustomerAdapter{
		rpc:            rpc,
		tokens:         tokens,
		escalation:     escalation,
		logger:         logger,
		conversationID: conversationID,
		shopDomain:     shopDomain,
		shopID:         shopID,
	}
}

// ListTools fetches the customer endpoint's raw tool descriptors. Listing
// works without credentials; only tool calls are gated.
func (a *CustomerAdapter) ListTools(ctx context.Context) ([]any, error) {
	return a.rpc.ListTools(ctx, a.resolveToken(ctx))
}

// Call invokes a named customer tool, escalating on an unauthorized
// response.
func (a *CustomerAdapter) Call(ctx context.Context, name string, args map[string]any) Result {
	response, err := a.rpc.CallTool(ctx, name, args, a.resolveToken(ctx))
	if err == nil {
		return OK(response)
	}

	if errors.Is(err, ErrUnauthorized) {
		a.mu.Lock()
		a.cachedToken = "" // whatever we sent was rejected
		a.mu.Unlock()
		authURL, escErr := a.escalation.Escalate(ctx, a.conversationID, a.shopDomain, a.shopID)
		if escErr != nil {
			a.logger.Error("auth escalation failed for %s: %v", a.conversationID, escErr)
			return Errf(ErrAuthError, "authorization could not be arranged: %v", escErr)
		}
		return AuthRequired(authURL)
	}

	a.logger.Error("customer tool %s failed: %v", name, err)
	return Errf(ErrInternal, "customer tool %s: %v", name, err)
}

// resolveToken returns the bearer token for this conversation, or "" to
// proceed unauthenticated. Expiry is checked at read time only.
func (a *CustomerAdapter) resolveToken(ctx context.Context) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cachedToken != "" {
		return a.cachedToken
	}
	if a.tokens == nil {
		return ""
	}

	token, err := a.tokens.GetToken(ctx, a.conversationID)
	if err != nil {
		a.logger.Warn("token lookup failed for %s: %v", a.conversationID, err)
		return ""
	}
	if token == nil || token.Expired(time.Now()) {
		return ""
	}
	a.cachedToken = token.AccessToken
	return a.cachedToken
}
