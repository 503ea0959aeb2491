// Package notify alerts the operator when vendors run out of quota or the
// whole provider chain is down.
package notify

import (
	"context"
	"log/slog"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

// Result describes one delivery attempt.
type Result struct {
	Success  bool   `json:"success"`
	ID       string `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
	Provider string `json:"provider"`
}

// Notifier delivers operator alerts. Implementations never return errors;
// failures are reported in the Result.
type Notifier interface {
	SendQuotaExhausted(ctx context.Context, provider domain.ProviderID, message string) Result
	SendAllProvidersDown(ctx context.Context) Result
}

// Noop logs alerts instead of sending them.
type Noop struct {
	Logger *slog.Logger
}

var _ Notifier = Noop{}

func (n Noop) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n Noop) SendQuotaExhausted(ctx context.Context, provider domain.ProviderID, message string) Result {
	n.logger().Warn("quota exhausted alert not sent, notifications disabled",
		slog.String("provider", provider.String()),
		slog.String("message", message))
	return Result{Provider: "none", Error: "notifications not configured"}
}

func (n Noop) SendAllProvidersDown(ctx context.Context) Result {
	n.logger().Error("all providers down alert not sent, notifications disabled")
	return Result{Provider: "none", Error: "notifications not configured"}
}
