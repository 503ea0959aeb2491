// Package provider defines the adapter contract every LLM vendor implements
// and the ordered registry the failover orchestrator walks.
package provider

import (
	"context"
	"fmt"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

// Adapter turns a ChatRequest into a vendor call.
//
// Complete and Stream fail with *domain.ProviderFailure. An adapter without
// credentials fails immediately with a MissingCredentials failure and makes
// no network call.
type Adapter interface {
	ID() domain.ProviderID
	// Configured reports whether the vendor credential is present.
	Configured() bool
	// KeyName is the configuration variable that holds the credential.
	KeyName() string
	// SupportsStreaming reports whether Stream yields token-level chunks.
	SupportsStreaming() bool
	Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResult, error)
	Stream(ctx context.Context, req *domain.ChatRequest) (domain.Stream, error)
}

// Registry holds one adapter per provider, looked up in priority order.
type Registry struct {
	adapters map[domain.ProviderID]Adapter
}

// NewRegistry creates a registry. Registering two adapters for one provider is an error.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.ProviderID]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.ID()]; dup {
			return nil, fmt.Errorf("provider %s registered twice", a.ID())
		}
		r.adapters[a.ID()] = a
	}
	return r, nil
}

// Get returns the adapter for id.
func (r *Registry) Get(id domain.ProviderID) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Configured reports whether id is registered and has credentials.
func (r *Registry) Configured(id domain.ProviderID) bool {
	a, ok := r.adapters[id]
	return ok && a.Configured()
}

// Ordered returns the registered adapters in domain.PriorityOrder.
func (r *Registry) Ordered() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, id := range domain.PriorityOrder {
		if a, ok := r.adapters[id]; ok {
			out = append(out, a)
		}
	}
	return out
}
