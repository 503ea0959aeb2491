// Package quota enforces the daily chat entitlement of each caller.
package quota

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kamesh6592-cell/v0-clone/internal/config"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

// ExceededMessage is returned to callers over their daily limit.
const ExceededMessage = "You have exceeded your maximum number of messages for the day. Please try again later."

// Counter is the subset of storage.OwnershipStore the limiter reads.
type Counter interface {
	ChatCountByUserID(ctx context.Context, userID string, hours int) (int, error)
	ChatCountByIP(ctx context.Context, ip string, hours int) (int, error)
}

// Entitlements maps user types to their daily chat allowance.
type Entitlements struct {
	WindowHours int
	Anonymous   int
	ByType      map[domain.UserType]int
}

// FromConfig builds Entitlements from the quota section.
func FromConfig(cfg config.QuotaConfig) Entitlements {
	e := Entitlements{
		WindowHours: cfg.WindowHours,
		Anonymous:   cfg.Anonymous,
		ByType:      make(map[domain.UserType]int, len(cfg.Entitlements)),
	}
	for k, v := range cfg.Entitlements {
		e.ByType[domain.UserType(k)] = v
	}
	return e
}

// Limit returns the allowance for owner. Unknown user types get the regular allowance.
func (e Entitlements) Limit(owner domain.Owner) int {
	if owner.Anonymous() {
		return e.Anonymous
	}
	if n, ok := e.ByType[owner.User.Type]; ok {
		return n
	}
	return e.ByType[domain.UserTypeRegular]
}

// Usage is the caller's standing after a check.
type Usage struct {
	Limit     int
	Used      int
	Remaining int
}

// Limiter checks chat counts against entitlements.
type Limiter struct {
	counter      Counter
	logger       *slog.Logger
	entitlements atomic.Pointer[Entitlements]
}

func NewLimiter(counter Counter, e Entitlements, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{counter: counter, logger: logger}
	l.entitlements.Store(&e)
	return l
}

// Update swaps the entitlements. Safe for concurrent use with Check.
func (l *Limiter) Update(e Entitlements) {
	l.entitlements.Store(&e)
	l.logger.Info("quota entitlements updated",
		slog.Int("anonymous", e.Anonymous),
		slog.Int("window_hours", e.WindowHours))
}

// Check returns a rate_limit:chat APIError when owner has used up the window.
// Count failures are logged and the request is allowed.
func (l *Limiter) Check(ctx context.Context, owner domain.Owner) (*Usage, error) {
	e := l.entitlements.Load()
	limit := e.Limit(owner)

	var (
		used int
		err  error
	)
	if owner.Anonymous() {
		used, err = l.counter.ChatCountByIP(ctx, owner.IP, e.WindowHours)
	} else {
		used, err = l.counter.ChatCountByUserID(ctx, owner.User.ID, e.WindowHours)
	}
	if err != nil {
		l.logger.Error("failed to count chats, allowing request",
			slog.String("owner", owner.String()),
			slog.String("error", err.Error()))
		return &Usage{Limit: limit, Remaining: limit}, nil
	}

	u := &Usage{Limit: limit, Used: used, Remaining: max(limit-used, 0)}
	if used >= limit {
		return u, domain.ErrRateLimit(ExceededMessage)
	}
	return u, nil
}
