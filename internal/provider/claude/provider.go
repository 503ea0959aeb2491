// Package claude adapts the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/kamesh6592-cell/v0-clone/internal/classify"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
)

const (
	KeyName = "ANTHROPIC_API_KEY"

	defaultModel       = "claude-3-5-sonnet-20241022"
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

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

func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = t
	}
}

// Provider implements provider.Adapter using anthropic-sdk-go.
type Provider struct {
	client      *anthropic.Client
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	model       string
	maxTokens   int
	temperature float64
}

var _ provider.Adapter = (*Provider)(nil)

// New creates a Claude provider. An empty apiKey yields an unconfigured adapter.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		model:       defaultModel,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(p)
	}

	// Failover replaces the SDK's own retries.
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(p.httpClient))
	}
	client := anthropic.NewClient(clientOpts...)
	p.client = &client
	return p
}

func (p *Provider) ID() domain.ProviderID {
	return domain.ProviderClaude
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

func (p *Provider) params(req *domain.ChatRequest) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		System:    []anthropic.TextBlockParam{{Text: provider.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(provider.UserPrompt(req))),
		},
		Temperature: anthropic.Float(p.temperature),
	}
}

func (p *Provider) Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResult, error) {
	if !p.Configured() {
		return nil, domain.MissingCredentials(domain.ProviderClaude, KeyName)
	}

	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, mapError(ctx, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return provider.NewResult(domain.ProviderClaude, req, provider.ChatID(domain.ProviderClaude, req), text.String()), nil
}

// Stream opens a streaming message. The SDK defers the HTTP error until the
// first Next, so the first event is read here to surface vendor failures
// before the caller commits.
func (p *Provider) Stream(ctx context.Context, req *domain.ChatRequest) (domain.Stream, error) {
	if !p.Configured() {
		return nil, domain.MissingCredentials(domain.ProviderClaude, KeyName)
	}

	s := &stream{
		ctx:    ctx,
		chatID: provider.ChatID(domain.ProviderClaude, req),
		sse:    p.client.Messages.NewStreaming(ctx, p.params(req)),
	}
	if !s.sse.Next() {
		err := s.sse.Err()
		s.sse.Close()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, mapError(ctx, err)
	}
	s.primed = true
	return s, nil
}

type stream struct {
	ctx    context.Context
	chatID string
	sse    *ssestream.Stream[anthropic.MessageStreamEventUnion]
	primed bool
}

func (s *stream) Recv() (domain.Chunk, error) {
	for {
		if s.primed {
			s.primed = false
		} else if !s.sse.Next() {
			if err := s.sse.Err(); err != nil {
				return domain.Chunk{}, mapError(s.ctx, err)
			}
			return domain.Chunk{}, io.EOF
		}

		event := s.sse.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return domain.Chunk{ChatID: s.chatID, Text: delta.Text}, nil
			}
		case anthropic.MessageStopEvent:
			return domain.Chunk{}, io.EOF
		}
	}
}

func (s *stream) Close() error {
	return s.sse.Close()
}

func mapError(ctx context.Context, err error) *domain.ProviderFailure {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classify.Failure(ctx, domain.ProviderClaude, apiErr.StatusCode, apiErr.Error(), err)
	}
	return classify.Failure(ctx, domain.ProviderClaude, 0, err.Error(), err)
}
