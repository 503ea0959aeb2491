// Package grok adapts the xAI chat API.
package grok

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	xai "github.com/roelfdiedericks/xai-go"

	"github.com/kamesh6592-cell/v0-clone/internal/classify"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
)

const (
	KeyName = "XAI_API_KEY"

	defaultModel     = "grok-2-latest"
	defaultMaxTokens = 4096
	defaultTimeout   = 2 * time.Minute
)

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.maxTokens = n
		}
	}
}

// WithTimeout bounds each gRPC call.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Provider implements provider.Adapter using xai-go.
type Provider struct {
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration

	mu     sync.Mutex
	client *xai.Client
}

var _ provider.Adapter = (*Provider)(nil)

// New creates a Grok provider. The gRPC client is created on first use.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() domain.ProviderID {
	return domain.ProviderGrok
}

func (p *Provider) KeyName() string {
	return KeyName
}

func (p *Provider) Configured() bool {
	return p.apiKey != ""
}

func (p *Provider) SupportsStreaming() bool {
	return true
}

func (p *Provider) getClient() (*xai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := xai.New(xai.Config{
		APIKey:  xai.NewSecureString(p.apiKey),
		Timeout: p.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create xai client: %w", err)
	}
	p.client = client
	return client, nil
}

// requestParams is the provider-neutral content of one xAI chat call.
type requestParams struct {
	model     string
	maxTokens int32
	system    string
	user      string
}

func (p *Provider) params(req *domain.ChatRequest) requestParams {
	return requestParams{
		model:     p.model,
		maxTokens: int32(p.maxTokens),
		system:    provider.SystemPrompt,
		user:      provider.UserPrompt(req),
	}
}

func (p *Provider) request(req *domain.ChatRequest) *xai.ChatRequest {
	rp := p.params(req)
	r := xai.NewChatRequest().
		WithModel(rp.model).
		WithMaxTokens(rp.maxTokens)
	r.SystemMessage(xai.SystemContent{Text: rp.system})
	r.UserMessage(xai.UserContent{Text: rp.user})
	return r
}

func (p *Provider) Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResult, error) {
	if !p.Configured() {
		return nil, domain.MissingCredentials(domain.ProviderGrok, KeyName)
	}

	client, err := p.getClient()
	if err != nil {
		return nil, mapError(ctx, err)
	}

	resp, err := client.CompleteChat(ctx, p.request(req))
	if err != nil {
		return nil, mapError(ctx, err)
	}

	return provider.NewResult(domain.ProviderGrok, req, provider.ChatID(domain.ProviderGrok, req), resp.Content), nil
}

func (p *Provider) Stream(ctx context.Context, req *domain.ChatRequest) (domain.Stream, error) {
	if !p.Configured() {
		return nil, domain.MissingCredentials(domain.ProviderGrok, KeyName)
	}

	client, err := p.getClient()
	if err != nil {
		return nil, mapError(ctx, err)
	}

	cs, err := client.StreamChat(ctx, p.request(req))
	if err != nil {
		return nil, mapError(ctx, err)
	}

	return &stream{ctx: ctx, chatID: provider.ChatID(domain.ProviderGrok, req), deltas: chunkDeltas{cs}}, nil
}

// deltaSource yields the text delta of each upstream chunk in order.
type deltaSource interface {
	next() (string, error)
	close()
}

type chunkDeltas struct {
	cs *xai.ChunkStream
}

func (c chunkDeltas) next() (string, error) {
	chunk, err := c.cs.Next()
	if err != nil {
		return "", err
	}
	return chunk.Delta, nil
}

func (c chunkDeltas) close() { c.cs.Close() }

type stream struct {
	ctx    context.Context
	chatID string
	deltas deltaSource
}

// Recv skips chunks without text, such as reasoning or usage updates.
func (s *stream) Recv() (domain.Chunk, error) {
	for {
		delta, err := s.deltas.next()
		if err == io.EOF {
			return domain.Chunk{}, io.EOF
		}
		if err != nil {
			return domain.Chunk{}, mapError(s.ctx, err)
		}
		if delta != "" {
			return domain.Chunk{ChatID: s.chatID, Text: delta}, nil
		}
	}
}

func (s *stream) Close() error {
	s.deltas.close()
	return nil
}

// httpStatus maps gRPC-style xAI error codes onto the HTTP statuses the
// classifier understands.
func httpStatus(code string) int {
	c := strings.ToLower(code)
	switch {
	case strings.Contains(c, "resource_exhausted"), strings.Contains(c, "resourceexhausted"), strings.Contains(c, "rate_limit"):
		return http.StatusTooManyRequests
	case strings.Contains(c, "unavailable"):
		return http.StatusServiceUnavailable
	case strings.Contains(c, "internal"), strings.Contains(c, "rst_stream"):
		return http.StatusInternalServerError
	}
	return 0
}

func mapError(ctx context.Context, err error) *domain.ProviderFailure {
	var xaiErr *xai.Error
	if errors.As(err, &xaiErr) {
		return classify.Failure(ctx, domain.ProviderGrok, httpStatus(fmt.Sprint(xaiErr.Code)), xaiErr.Error(), err)
	}
	return classify.Failure(ctx, domain.ProviderGrok, httpStatus(err.Error()), err.Error(), err)
}
