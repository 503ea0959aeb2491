package runtime

import (
	"fmt"
	"log/slog"

	"github.com/kamesh6592-cell/v0-clone/internal/config"
	"github.com/kamesh6592-cell/v0-clone/internal/notify"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
	"github.com/kamesh6592-cell/v0-clone/internal/provider/claude"
	"github.com/kamesh6592-cell/v0-clone/internal/provider/deepseek"
	"github.com/kamesh6592-cell/v0-clone/internal/provider/grok"
	v0 "github.com/kamesh6592-cell/v0-clone/internal/provider/v0"
	"github.com/kamesh6592-cell/v0-clone/internal/storage"
	"github.com/kamesh6592-cell/v0-clone/internal/storage/memory"
	"github.com/kamesh6592-cell/v0-clone/internal/storage/sqldb"
)

// newAdapters builds one adapter per vendor. Adapters without a key are
// still registered so requests selecting them fail with a clear message.
func newAdapters(cfg config.ProvidersConfig) []provider.Adapter {
	return []provider.Adapter{
		v0.New(cfg.V0.APIKey, v0.WithBaseURL(cfg.V0.BaseURL)),
		claude.New(cfg.Claude.APIKey,
			claude.WithBaseURL(cfg.Claude.BaseURL),
			claude.WithModel(cfg.Claude.Model),
			claude.WithMaxTokens(cfg.Claude.MaxTokens),
			claude.WithTemperature(cfg.Claude.Temperature),
		),
		grok.New(cfg.Grok.APIKey,
			grok.WithModel(cfg.Grok.Model),
			grok.WithMaxTokens(cfg.Grok.MaxTokens),
			grok.WithTimeout(cfg.Grok.Timeout),
		),
		deepseek.New(cfg.DeepSeek.APIKey,
			deepseek.WithAzureEndpoint(cfg.DeepSeek.Endpoint, cfg.DeepSeek.APIVersion),
			deepseek.WithBaseURL(cfg.DeepSeek.BaseURL),
			deepseek.WithModel(cfg.DeepSeek.Model),
			deepseek.WithMaxTokens(cfg.DeepSeek.MaxTokens),
		),
	}
}

func newStore(cfg config.StorageConfig) (storage.OwnershipStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(), nil
	case "sqlite", "":
		store, err := sqldb.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) notify.Notifier {
	if cfg.ResendAPIKey == "" || cfg.To == "" {
		logger.Warn("operator notifications disabled, set notify.resend_api_key and notify.to to enable")
		return notify.Noop{Logger: logger}
	}
	return notify.NewResend(cfg.ResendAPIKey, cfg.From, cfg.To, logger)
}
