// Package runtime assembles the gateway from configuration and manages its
// lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/kamesh6592-cell/v0-clone/internal/auth"
	"github.com/kamesh6592-cell/v0-clone/internal/config"
	"github.com/kamesh6592-cell/v0-clone/internal/failover"
	"github.com/kamesh6592-cell/v0-clone/internal/frontdoor"
	"github.com/kamesh6592-cell/v0-clone/internal/health"
	"github.com/kamesh6592-cell/v0-clone/internal/normalize"
	"github.com/kamesh6592-cell/v0-clone/internal/notify"
	"github.com/kamesh6592-cell/v0-clone/internal/ownership"
	"github.com/kamesh6592-cell/v0-clone/internal/pkg/safehttp"
	"github.com/kamesh6592-cell/v0-clone/internal/preview"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
	"github.com/kamesh6592-cell/v0-clone/internal/quota"
	"github.com/kamesh6592-cell/v0-clone/internal/server"
	"github.com/kamesh6592-cell/v0-clone/internal/storage"
	"github.com/kamesh6592-cell/v0-clone/internal/tokens"
)

// Gateway owns every long-lived component of the service.
type Gateway struct {
	configProvider *config.Provider
	cfg            *config.Config
	logger         *slog.Logger

	adapters []provider.Adapter
	store    storage.OwnershipStore
	notifier notify.Notifier

	registry      *provider.Registry
	authenticator *auth.Authenticator
	limiter       *quota.Limiter
	orchestrator  *failover.Orchestrator
	server        *server.Server

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New builds a gateway. Configuration comes from WithFileConfig or WithConfig.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.cfg == nil {
		if g.configProvider == nil {
			return nil, fmt.Errorf("config required (use WithFileConfig or WithConfig)")
		}
		cfg, err := g.configProvider.Load()
		if err != nil {
			return nil, err
		}
		g.cfg = cfg
	}

	if err := g.build(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) build() error {
	cfg := g.cfg

	if g.adapters == nil {
		g.adapters = newAdapters(cfg.Providers)
	}
	registry, err := provider.NewRegistry(g.adapters...)
	if err != nil {
		return fmt.Errorf("init providers: %w", err)
	}
	g.registry = registry

	if g.store == nil {
		store, err := newStore(cfg.Storage)
		if err != nil {
			return err
		}
		g.store = store
	}
	if g.notifier == nil {
		g.notifier = newNotifier(cfg.Notify, g.logger)
	}

	rewriter := preview.NewRewriter(cfg.Preview.PublicHost, cfg.Preview.InternalHost)
	recorder := ownership.NewRecorder(g.store, g.logger, ownership.WithTokenCounter(tokens.NewCounter()))

	g.orchestrator = failover.New(registry, normalize.New(rewriter), g.logger,
		failover.WithNotifier(g.notifier),
		failover.WithRecorder(recorder),
		failover.WithFirstResponseTimeout(cfg.Failover.FirstResponseTimeout),
		failover.WithNotifyTimeout(cfg.Failover.NotifyTimeout),
	)
	g.limiter = quota.NewLimiter(g.store, quota.FromConfig(cfg.Quota), g.logger)
	g.authenticator = auth.NewAuthenticator(cfg.Auth.Keys)

	proxy := preview.NewProxy(rewriter, g.logger,
		preview.WithHTTPClient(safehttp.NewClient(cfg.Preview.FetchTimeout)),
		preview.WithCache(cfg.Preview.CacheSize, cfg.Preview.CacheTTL),
		preview.WithUserAgent(cfg.Preview.UserAgent),
	)

	g.server = server.New(cfg.Server.Port, cfg.Server.RequestTimeout, g.logger, g.authenticator)
	frontdoor.NewHandler(frontdoor.Config{
		Chat:            g.orchestrator,
		Quota:           g.limiter,
		Health:          health.NewChecker(registry),
		Preview:         proxy,
		Notifier:        g.notifier,
		EnableTestEmail: cfg.Server.EnableTestEmail,
		Logger:          g.logger,
	}).Mount(g.server.Router)

	for _, a := range registry.Ordered() {
		g.logger.Info("provider registered",
			slog.String("provider", a.ID().String()),
			slog.Bool("configured", a.Configured()),
			slog.Bool("streaming", a.SupportsStreaming()))
	}
	return nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (g *Gateway) Handler() http.Handler {
	return g.server.Router
}

// Start begins serving and watching the config file. It returns once the
// listener goroutine is running; serve errors are logged.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctx, g.cancel = context.WithCancel(ctx)

	if g.configProvider != nil {
		if err := g.configProvider.Watch(g.ctx, g.reload); err != nil {
			g.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		}
	}

	go func() {
		if err := g.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	g.logger.Info("gateway started",
		slog.Int("port", g.cfg.Server.Port),
		slog.Int("api_keys", len(g.cfg.Auth.Keys)))
	return nil
}

// reload applies the settings that can change without a restart.
func (g *Gateway) reload(cfg *config.Config) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.authenticator.Update(cfg.Auth.Keys)
	g.limiter.Update(quota.FromConfig(cfg.Quota))
	g.cfg.Auth = cfg.Auth
	g.cfg.Quota = cfg.Quota

	g.logger.Info("reload complete", slog.Int("api_keys", len(cfg.Auth.Keys)))
}

// Shutdown stops the listener, waits for background work and closes storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	done := make(chan struct{})
	go func() {
		g.orchestrator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("background tasks still running at shutdown")
	}

	if err := g.store.Close(); err != nil {
		g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if g.configProvider != nil {
		if err := g.configProvider.Close(); err != nil {
			g.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}
