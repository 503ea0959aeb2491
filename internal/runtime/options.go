package runtime

import (
	"fmt"
	"log/slog"

	"github.com/kamesh6592-cell/v0-clone/internal/config"
	"github.com/kamesh6592-cell/v0-clone/internal/notify"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
	"github.com/kamesh6592-cell/v0-clone/internal/storage"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig loads config.yaml from path and reloads entitlements and
// API keys when it changes. A missing file falls back to the environment.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		p, err := config.NewProvider(path, g.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.configProvider = p
		return nil
	}
}

// WithConfig uses a fixed, already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets the logger. Apply it first so later options use it.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithStore replaces the configured ownership store.
func WithStore(store storage.OwnershipStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithNotifier replaces the configured notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(g *Gateway) error {
		g.notifier = n
		return nil
	}
}

// WithAdapters replaces the vendor adapters built from configuration.
func WithAdapters(adapters ...provider.Adapter) Option {
	return func(g *Gateway) error {
		g.adapters = adapters
		return nil
	}
}
