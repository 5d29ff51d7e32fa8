// Command shopassist runs the shopping-assistant conversation engine: an
// HTTP server that drives LLM tool-calling turns against a shop's
// storefront and customer-account tool endpoints for web chat and
// WhatsApp.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopassist/pkg/agent/llm"
	"shopassist/pkg/agent/llmimpl/anthropic"
	"shopassist/pkg/agent/llmimpl/openai"
	"shopassist/pkg/agent/middleware/metrics"
	"shopassist/pkg/agent/middleware/retry"
	"shopassist/pkg/channel"
	"shopassist/pkg/chat"
	"shopassist/pkg/config"
	"shopassist/pkg/logx"
	"shopassist/pkg/persistence"
	"shopassist/pkg/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "shopassist: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	logger := logx.NewLogger("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	store, err := persistence.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := buildLLMClient(cfg)
	if err != nil {
		return err
	}

	counter, err := chat.NewTokenCounter()
	if err != nil {
		logger.Warn("token counter unavailable, history trimming uses estimates: %v", err)
	}

	cache := tools.NewDispatcherCache(0)
	convs := store.Conversations()
	tokens := store.Tokens()

	srv := &server{
		tokens: tokens,
		cache:  cache,
		shop:   cfg.Shop,
		logger: logx.NewLogger("http"),
	}
	if cfg.Channels.Web.Enabled {
		locals := cfg.Channels.Web.LocalTools
		if len(locals) == 0 {
			locals = channel.DefaultLocalTools(config.ChannelWeb)
		}
		runner := newEngine(cfg, client, store, cache, counter, locals)
		srv.web = channel.NewService(config.ChannelWeb, runner, convs, tokens, cfg.Engine.HistoryLimit)
	}
	if cfg.Channels.WhatsApp.Enabled {
		locals := cfg.Channels.WhatsApp.LocalTools
		if len(locals) == 0 {
			locals = channel.DefaultLocalTools(config.ChannelWhatsApp)
		}
		runner := newEngine(cfg, client, store, cache, counter, locals)
		srv.whatsapp = channel.NewService(config.ChannelWhatsApp, runner, convs, tokens, cfg.Engine.HistoryLimit)
	}
	if srv.web == nil && srv.whatsapp == nil {
		return errors.New("no channel is enabled in the config")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 listening on %s (shop %s, model %s)", cfg.Server.Addr, cfg.Shop.Domain, cfg.LLM.Model)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	var base llm.Client
	switch cfg.LLM.Provider {
	case "anthropic":
		base = anthropic.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
	case "openai":
		base = openai.NewClient(cfg.LLM.APIKey, cfg.LLM.Model)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}

	policy := retry.DefaultPolicy
	if cfg.LLM.MaxRetries > 0 {
		policy.MaxAttempts = cfg.LLM.MaxRetries + 1
	}
	return llm.Chain(base, metrics.Middleware(), retry.Middleware(policy)), nil
}
