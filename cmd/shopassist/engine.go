package main

import (
	"context"
	"fmt"
	"net/url"

	"shopassist/pkg/agent/llm"
	"shopassist/pkg/agent/turnloop"
	"shopassist/pkg/chat"
	"shopassist/pkg/config"
	"shopassist/pkg/logx"
	"shopassist/pkg/persistence"
	"shopassist/pkg/tools"
)

const systemPrompt = `You are a shopping assistant for an online store. Help customers find products, answer questions about the catalogue, and manage their cart using the available tools.

Guidelines:
- Use search_shop_catalog before recommending products, never invent items.
- When adding to the cart, keep quantities as the customer asked; the store enforces its own purchase rules.
- If a customer account tool asks for authorization, share the sign-in link and wait.
- Hand off to a human for anything involving refunds, disputes, or account changes you cannot perform.
- Keep replies short and concrete.`

// authorizeURLBuilder generates OAuth authorization URLs from the
// configured authorize endpoint.
type authorizeURLBuilder struct {
	endpoint string
}

func (b *authorizeURLBuilder) AuthorizeURL(_ context.Context, conversationID, shopID string) (string, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return "", fmt.Errorf("bad authorize endpoint: %w", err)
	}
	q := u.Query()
	q.Set("conversation_id", conversationID)
	q.Set("shop_id", shopID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// engine runs conversation turns for one channel: it caches a connected
// dispatcher per conversation and drives the turn loop over it.
type engine struct {
	cfg        *config.Config
	llm        llm.Client
	store      *persistence.Store
	cache      *tools.DispatcherCache
	counter    *chat.TokenCounter
	logger     *logx.Logger
	localTools []string
}

func newEngine(cfg *config.Config, client llm.Client, store *persistence.Store, cache *tools.DispatcherCache, counter *chat.TokenCounter, localTools []string) *engine {
	return &engine{
		cfg:        cfg,
		llm:        client,
		store:      store,
		cache:      cache,
		counter:    counter,
		logger:     logx.NewLogger("engine"),
		localTools: localTools,
	}
}

// RunTurn implements channel.TurnRunner.
func (e *engine) RunTurn(ctx context.Context, conversationID string, history []chat.Message, message string) (turnloop.Outcome, error) {
	key := tools.CacheKey{ShopDomain: e.cfg.Shop.Domain, ConversationID: conversationID}
	dispatcher, err := e.cache.GetOrCreate(ctx, key, func(ctx context.Context) (*tools.Dispatcher, error) {
		return e.buildDispatcher(ctx, conversationID)
	})
	if err != nil {
		return turnloop.Outcome{}, fmt.Errorf("connect tool dispatcher: %w", err)
	}

	driver := turnloop.NewDriver(e.llm, dispatcher, turnloop.Options{
		SystemPrompt:  systemPrompt,
		MaxIterations: e.cfg.Engine.MaxTurnIterations,
		MaxTokens:     e.cfg.LLM.MaxTokens,
		Temperature:   e.cfg.LLM.Temperature,
		HistoryBudget: e.cfg.Engine.HistoryTokenBudget,
		TokenCounter:  e.counter,
	})
	return driver.RunTurn(ctx, history, message)
}

func (e *engine) buildDispatcher(ctx context.Context, conversationID string) (*tools.Dispatcher, error) {
	shop := e.cfg.Shop
	logger := logx.NewLogger("tools")

	storefront := tools.NewStorefrontAdapter(
		tools.NewRPCClient(shop.StorefrontEndpoint, e.cfg.Engine.RPCTimeout), logger)

	escalation := tools.NewEscalationFlow(
		&authorizeURLBuilder{endpoint: shop.AuthorizeEndpoint},
		nil, shop.AccountURLOverride, logger)
	customer := tools.NewCustomerAdapter(
		tools.NewRPCClient(shop.CustomerEndpoint, e.cfg.Engine.RPCTimeout),
		e.store.Tokens(), escalation, conversationID, shop.Domain, shop.ID, logger)

	resolver := tools.NewProductResolver(storefront, logger)
	increments := e.store.Increments()
	locals, err := tools.BuildLocalTools(e.localTools, increments, resolver, logger)
	if err != nil {
		return nil, err
	}

	dispatcher := tools.NewDispatcher(tools.DispatcherDeps{
		Storefront:  storefront,
		Customer:    customer,
		Local:       tools.NewLocalAdapter(logger, locals...),
		Interceptor: tools.NewInterceptor(increments, resolver, logger),
		Continuity:  tools.NewCartContinuity(e.store.Conversations(), conversationID, logger),
		DeniedTools: e.cfg.Engine.DisabledTools,
		Logger:      logger,
	})
	if err := dispatcher.Connect(ctx); err != nil {
		return nil, err
	}
	return dispatcher, nil
}
