// Package deepseek adapts DeepSeek served through Azure AI or any
// OpenAI-compatible endpoint.
package deepseek

import (
	"context"
	"errors"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kamesh6592-cell/v0-clone/internal/classify"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
)

const (
	KeyName = "AZURE_DEEPSEEK_API_KEY"

	defaultModel      = "DeepSeek-R1"
	defaultMaxTokens  = 4096
	defaultAPIVersion = "2024-05-01-preview"
)

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithAzureEndpoint switches the client to Azure mode against endpoint.
func WithAzureEndpoint(endpoint, apiVersion string) ProviderOption {
	return func(p *Provider) {
		p.endpoint = endpoint
		if apiVersion != "" {
			p.apiVersion = apiVersion
		}
	}
}

// WithBaseURL points the client at a plain OpenAI-compatible endpoint.
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

// Provider implements provider.Adapter using go-openai.
type Provider struct {
	client     *openai.Client
	apiKey     string
	endpoint   string
	apiVersion string
	baseURL    string
	httpClient *http.Client
	model      string
	maxTokens  int
}

var _ provider.Adapter = (*Provider)(nil)

// New creates a DeepSeek provider. An empty apiKey yields an unconfigured adapter.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		apiVersion: defaultAPIVersion,
		model:      defaultModel,
		maxTokens:  defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}

	var cfg openai.ClientConfig
	if p.endpoint != "" {
		cfg = openai.DefaultAzureConfig(apiKey, p.endpoint)
		cfg.APIVersion = p.apiVersion
	} else {
		cfg = openai.DefaultConfig(apiKey)
		if p.baseURL != "" {
			cfg.BaseURL = p.baseURL
		}
	}
	if p.httpClient != nil {
		cfg.HTTPClient = p.httpClient
	}
	p.client = openai.NewClientWithConfig(cfg)
	return p
}

func (p *Provider) ID() domain.ProviderID {
	return domain.ProviderDeepSeek
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

func (p *Provider) request(req *domain.ChatRequest, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Stream:    stream,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: provider.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: provider.UserPrompt(req)},
		},
	}
}

func (p *Provider) Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResult, error) {
	if !p.Configured() {
		return nil, domain.MissingCredentials(domain.ProviderDeepSeek, KeyName)
	}

	resp, err := p.client.CreateChatCompletion(ctx, p.request(req, false))
	if err != nil {
		return nil, mapError(ctx, err)
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return provider.NewResult(domain.ProviderDeepSeek, req, provider.ChatID(domain.ProviderDeepSeek, req), text), nil
}

func (p *Provider) Stream(ctx context.Context, req *domain.ChatRequest) (domain.Stream, error) {
	if !p.Configured() {
		return nil, domain.MissingCredentials(domain.ProviderDeepSeek, KeyName)
	}

	cs, err := p.client.CreateChatCompletionStream(ctx, p.request(req, true))
	if err != nil {
		return nil, mapError(ctx, err)
	}

	return &stream{ctx: ctx, chatID: provider.ChatID(domain.ProviderDeepSeek, req), sse: cs}, nil
}

type stream struct {
	ctx    context.Context
	chatID string
	sse    *openai.ChatCompletionStream
}

func (s *stream) Recv() (domain.Chunk, error) {
	for {
		chunk, err := s.sse.Recv()
		if errors.Is(err, io.EOF) {
			return domain.Chunk{}, io.EOF
		}
		if err != nil {
			return domain.Chunk{}, mapError(s.ctx, err)
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return domain.Chunk{ChatID: s.chatID, Text: chunk.Choices[0].Delta.Content}, nil
		}
	}
}

func (s *stream) Close() error {
	return s.sse.Close()
}

func mapError(ctx context.Context, err error) *domain.ProviderFailure {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		return classify.Failure(ctx, domain.ProviderDeepSeek, apiErr.HTTPStatusCode, apiErr.Error(), err)
	case errors.As(err, &reqErr):
		return classify.Failure(ctx, domain.ProviderDeepSeek, reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	return classify.Failure(ctx, domain.ProviderDeepSeek, 0, err.Error(), err)
}
