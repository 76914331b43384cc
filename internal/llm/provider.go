package llm

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnknownProvider is returned for an unrecognised provider name.
var ErrUnknownProvider = errors.New("unknown llm provider")

// ProviderConfig selects and configures a completion backend.
type ProviderConfig struct {
	Provider string // "openai" or "anthropic"
	APIKey   string
	Model    string
	BaseURL  string

	RPM        int // requests per minute, 0 for unlimited
	MaxRetries int
}

// Client is a configured completer plus the stats it records.
type Client struct {
	Completer
	Model string
	Stats *Stats
}

// New builds the completer chain: stats around retry around the rate
// limiter around the provider, so recorded latency includes backoff.
func New(cfg ProviderConfig, stats *Stats, log *slog.Logger) (*Client, error) {
	var base Completer
	switch cfg.Provider {
	case "openai":
		base = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "anthropic":
		base = NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	var c Completer = NewLimited(base, cfg.RPM)
	c = NewRetrying(c, cfg.MaxRetries, log.With("provider", cfg.Provider))
	if stats != nil {
		c = &Instrumented{Completer: c, Stats: stats}
	}
	return &Client{Completer: c, Model: cfg.Model, Stats: stats}, nil
}
