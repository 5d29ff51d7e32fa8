package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"shopassist/pkg/logx"
)

// AccountURLResolver looks up a shop's customer-account base URL. The
// default implementation queries the shop's well-known endpoint; tests and
// deployments with a fixed account domain inject their own.
type AccountURLResolver func(ctx context.Context, shopDomain string) (string, error)

// EscalationFlow handles the authentication-escalation sub-protocol: when
// the customer endpoint rejects a call, the flow resolves the shop's
// customer-account URL, generates an authorization URL bound to the
// conversation, and hands it back so the driver can suspend the turn. The
// authorized transition happens out-of-band via the OAuth callback.
type EscalationFlow struct {
	authURLs AuthURLProvider
	resolve  AccountURLResolver
	override string // skips resolution entirely when set
	logger   *logx.Logger

	mu    sync.Mutex
	cache map[string]string // shopDomain -> account base URL
}

// NewEscalationFlow creates the escalation flow. override may be empty;
// resolver may be nil to use the well-known endpoint lookup.
func NewEscalationFlow(authURLs AuthURLProvider, resolver AccountURLResolver, override string, logger *logx.Logger) *EscalationFlow {
	flow := &EscalationFlow{
		authURLs: authURLs,
		resolve:  resolver,
		override: override,
		logger:   logger,
		cache:    make(map[string]string),
	}
	if flow.resolve == nil {
		flow.resolve = wellKnownAccountURL
	}
	return flow
}

// Escalate resolves the customer-account URL for the shop and returns an
// authorization URL for the conversation. The account URL is resolved from
// the cache, then the override, then a live lookup that is cached
// afterward.
func (f *EscalationFlow) Escalate(ctx context.Context, conversationID, shopDomain, shopID string) (string, error) {
	if _, err := f.accountURL(ctx, shopDomain); err != nil {
		return "", fmt.Errorf("resolve customer account URL for %s: %w", shopDomain, err)
	}

	authURL, err := f.authURLs.AuthorizeURL(ctx, conversationID, shopID)
	if err != nil {
		return "", fmt.Errorf("generate authorization URL: %w", err)
	}

	f.logger.Info("🔐 issued authorization URL for conversation %s", conversationID)
	return authURL, nil
}

func (f *EscalationFlow) accountURL(ctx context.Context, shopDomain string) (string, error) {
	f.mu.Lock()
	if cached, ok := f.cache[shopDomain]; ok {
		f.mu.Unlock()
		return cached, nil
	}
	f.mu.Unlock()

	if f.override != "" {
		f.store(shopDomain, f.override)
		return f.override, nil
	}

	resolved, err := f.resolve(ctx, shopDomain)
	if err != nil {
		return "", err
	}
	if resolved == "" {
		return "", fmt.Errorf("shop %s has no customer account URL", shopDomain)
	}
	f.store(shopDomain, resolved)
	return resolved, nil
}

func (f *EscalationFlow) store(shopDomain, url string) {
	f.mu.Lock()
	f.cache[shopDomain] = url
	f.mu.Unlock()
}

// wellKnownAccountURL fetches https://<domain>/.well-known/customer-account
// and reads the account_url field.
func wellKnownAccountURL(ctx context.Context, shopDomain string) (string, error) {
	url := fmt.Sprintf("https://%s/.well-known/customer-account", shopDomain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("well-known lookup returned status %s", resp.Status)
	}

	var payload struct {
		AccountURL string `json:"account_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode well-known response: %w", err)
	}
	return payload.AccountURL, nil
}
