// Package config provides configuration loading and validation for the
// shopping assistant. It handles YAML config files with environment
// variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Channel identifiers. Conversation IDs are prefixed with one of these so
// the engine can tell which surface a conversation belongs to.
const (
	ChannelWeb      = "web"
	ChannelWhatsApp = "whatsapp"
)

// Default turn-loop and transport limits.
const (
	DefaultMaxTurnIterations  = 5
	DefaultRPCTimeout         = 30 * time.Second
	DefaultLLMMaxTokens       = 4096
	DefaultHistoryLimit       = 40
	DefaultHistoryTokenBudget = 24000
)

// Config is the root configuration.
type Config struct {
	Shop     ShopConfig     `yaml:"shop"`
	LLM      LLMConfig      `yaml:"llm"`
	Engine   EngineConfig   `yaml:"engine"`
	Channels ChannelsConfig `yaml:"channels"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
}

// ShopConfig describes the shop whose storefront and customer-account
// endpoints the engine talks to.
type ShopConfig struct {
	Domain             string `yaml:"domain"`               // e.g. "example.myshopify.com"
	ID                 string `yaml:"id"`                   // shop identifier used in auth URLs
	StorefrontEndpoint string `yaml:"storefront_endpoint"`  // JSON-RPC endpoint, no auth
	CustomerEndpoint   string `yaml:"customer_endpoint"`    // JSON-RPC endpoint, bearer auth
	AccountURLOverride string `yaml:"account_url_override"` // skips live customer-account URL lookup
	AuthorizeEndpoint  string `yaml:"authorize_endpoint"`   // OAuth authorize URL generator
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic" | "openai"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

// EngineConfig bounds the turn loop and tool transport.
type EngineConfig struct {
	MaxTurnIterations  int           `yaml:"max_turn_iterations"`
	RPCTimeout         time.Duration `yaml:"rpc_timeout"`
	HistoryLimit       int           `yaml:"history_limit"`
	HistoryTokenBudget int           `yaml:"history_token_budget"`
	DisabledTools      []string      `yaml:"disabled_tools"`
}

// ChannelsConfig holds per-channel tool configuration. Both channels share
// one engine; they differ only in which local tools are registered.
type ChannelsConfig struct {
	Web      ChannelConfig `yaml:"web"`
	WhatsApp ChannelConfig `yaml:"whatsapp"`
}

// ChannelConfig configures a single chat surface.
type ChannelConfig struct {
	Enabled    bool     `yaml:"enabled"`
	LocalTools []string `yaml:"local_tools"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// envVarPattern matches ${VAR} placeholders in the raw config file.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, substitutes, parses, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	substituted := envVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.MaxTurnIterations <= 0 {
		c.Engine.MaxTurnIterations = DefaultMaxTurnIterations
	}
	if c.Engine.RPCTimeout <= 0 {
		c.Engine.RPCTimeout = DefaultRPCTimeout
	}
	if c.Engine.HistoryLimit <= 0 {
		c.Engine.HistoryLimit = DefaultHistoryLimit
	}
	if c.Engine.HistoryTokenBudget <= 0 {
		c.Engine.HistoryTokenBudget = DefaultHistoryTokenBudget
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = DefaultLLMMaxTokens
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "shopassist.db"
	}
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	var problems []string

	if c.Shop.Domain == "" {
		problems = append(problems, "shop.domain is required")
	}
	if c.Shop.StorefrontEndpoint == "" {
		problems = append(problems, "shop.storefront_endpoint is required")
	}
	if c.Shop.CustomerEndpoint == "" {
		problems = append(problems, "shop.customer_endpoint is required")
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	case "":
		problems = append(problems, "llm.provider is required")
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
