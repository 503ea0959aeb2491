// Package health reports which providers can currently serve requests.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"

	ProviderAvailable   = "available"
	ProviderUnavailable = "unavailable"
	ProviderError       = "error"
)

// Reported lists the providers included in the report.
var Reported = []domain.ProviderID{domain.ProviderV0, domain.ProviderClaude, domain.ProviderGrok}

// ProviderStatus is one provider's entry.
type ProviderStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report is the /api/health body.
type Report struct {
	Status    string                               `json:"status"`
	Providers map[domain.ProviderID]ProviderStatus `json:"providers"`
	Timestamp time.Time                            `json:"timestamp"`
}

// Checker runs the provider checks.
type Checker struct {
	registry *provider.Registry
	now      func() time.Time
}

func NewChecker(registry *provider.Registry) *Checker {
	return &Checker{registry: registry, now: time.Now}
}

// Check runs every provider check concurrently. The report is healthy when
// at least one provider is available.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:    StatusDegraded,
		Providers: make(map[domain.ProviderID]ProviderStatus, len(Reported)),
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range Reported {
		g.Go(func() error {
			st := c.check(ctx, id)
			mu.Lock()
			report.Providers[id] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, st := range report.Providers {
		if st.Status == ProviderAvailable {
			report.Status = StatusHealthy
			break
		}
	}
	report.Timestamp = c.now().UTC()
	return report
}

func (c *Checker) check(ctx context.Context, id domain.ProviderID) ProviderStatus {
	if err := ctx.Err(); err != nil {
		return ProviderStatus{Status: ProviderError, Error: err.Error()}
	}
	if _, ok := c.registry.Get(id); !ok {
		return ProviderStatus{Status: ProviderUnavailable, Error: "provider not registered"}
	}
	if !c.registry.Configured(id) {
		return ProviderStatus{Status: ProviderUnavailable, Error: "API key not configured"}
	}
	return ProviderStatus{Status: ProviderAvailable}
}
