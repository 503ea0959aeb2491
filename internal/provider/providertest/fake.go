// Package providertest provides scripted adapters for tests.
package providertest

import (
	"context"
	"io"
	"sync"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
)

// Fake is a scripted provider.Adapter. The zero value is unconfigured.
type Fake struct {
	Provider  domain.ProviderID
	HasKey    bool
	Streaming bool

	// Err fails every call. Result and Chunks are used otherwise.
	Err    error
	Result *domain.ChatResult
	Chunks []domain.Chunk
	// StreamErr is returned by Recv after Chunks are exhausted, instead of io.EOF.
	StreamErr error
	// Block makes calls wait for ctx to be done.
	Block bool

	mu    sync.Mutex
	calls int
	last  *domain.ChatRequest
}

var _ provider.Adapter = (*Fake)(nil)

func (f *Fake) ID() domain.ProviderID   { return f.Provider }
func (f *Fake) Configured() bool        { return f.HasKey }
func (f *Fake) KeyName() string         { return "TEST_KEY" }
func (f *Fake) SupportsStreaming() bool { return f.Streaming }

// Calls returns how many times Complete or Stream ran past the credential check.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// LastRequest returns a copy of the last request seen.
func (f *Fake) LastRequest() *domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *Fake) begin(ctx context.Context, req *domain.ChatRequest) error {
	if !f.HasKey {
		return domain.MissingCredentials(f.Provider, f.KeyName())
	}
	f.mu.Lock()
	f.calls++
	cp := *req
	f.last = &cp
	f.mu.Unlock()

	if f.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.Err
}

func (f *Fake) Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResult, error) {
	if err := f.begin(ctx, req); err != nil {
		return nil, err
	}
	if f.Result != nil {
		r := *f.Result
		return &r, nil
	}
	return provider.NewResult(f.Provider, req, provider.ChatID(f.Provider, req), "ok"), nil
}

func (f *Fake) Stream(ctx context.Context, req *domain.ChatRequest) (domain.Stream, error) {
	if err := f.begin(ctx, req); err != nil {
		return nil, err
	}
	return &SliceStream{Chunks: f.Chunks, Err: f.StreamErr, Raw: f.Provider == domain.ProviderV0}, nil
}

// SliceStream replays Chunks then returns Err or io.EOF.
type SliceStream struct {
	Chunks []domain.Chunk
	Err    error
	Raw    bool
	Closed bool
	pos    int
}

func (s *SliceStream) Recv() (domain.Chunk, error) {
	if s.pos < len(s.Chunks) {
		c := s.Chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.Err != nil {
		return domain.Chunk{}, s.Err
	}
	return domain.Chunk{}, io.EOF
}

func (s *SliceStream) Close() error {
	s.Closed = true
	return nil
}

// Passthrough marks v0-style raw streams.
func (s *SliceStream) Passthrough() bool { return s.Raw }
