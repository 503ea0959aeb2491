// Package v0 adapts the v0 Platform API, the primary provider.
package v0

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	v0api "github.com/kamesh6592-cell/v0-clone/internal/api/v0"
	"github.com/kamesh6592-cell/v0-clone/internal/classify"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
)

// KeyName is the configuration variable holding the credential.
const KeyName = "V0_API_KEY"

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL overrides the API base URL.
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

// Provider implements provider.Adapter for v0.
type Provider struct {
	client     *v0api.Client
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ provider.Adapter = (*Provider)(nil)

// New creates a v0 provider. An empty apiKey yields an unconfigured adapter.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{apiKey: apiKey}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []v0api.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, v0api.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, v0api.WithHTTPClient(p.httpClient))
	}
	p.client = v0api.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) ID() domain.ProviderID {
	return domain.ProviderV0
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

// Complete sends the message in sync mode.
func (p *Provider) Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResult, error) {
	if !p.Configured() {
		return nil, domain.MissingCredentials(domain.ProviderV0, KeyName)
	}

	opts := &v0api.RequestOptions{UserAgent: req.UserAgent}

	var (
		chat *v0api.ChatDetail
		err  error
	)
	if req.ChatID != "" {
		chat, err = p.client.SendMessage(ctx, req.ChatID, &v0api.SendMessageRequest{
			Message:     req.Message,
			Attachments: attachments(req),
		}, opts)
	} else {
		chat, err = p.client.CreateChat(ctx, &v0api.CreateChatRequest{
			Message:     req.Message,
			Attachments: attachments(req),
			ProjectID:   req.ProjectID,
			System:      provider.SystemPrompt,
		}, opts)
	}
	if err != nil {
		return nil, mapError(ctx, err)
	}

	return toResult(chat, req), nil
}

// Stream opens an experimental_stream response. Frames are passed through verbatim.
func (p *Provider) Stream(ctx context.Context, req *domain.ChatRequest) (domain.Stream, error) {
	if !p.Configured() {
		return nil, domain.MissingCredentials(domain.ProviderV0, KeyName)
	}

	opts := &v0api.RequestOptions{UserAgent: req.UserAgent}

	var (
		es  *v0api.EventStream
		err error
	)
	if req.ChatID != "" {
		es, err = p.client.SendMessageStream(ctx, req.ChatID, &v0api.SendMessageRequest{
			Message:     req.Message,
			Attachments: attachments(req),
		}, opts)
	} else {
		es, err = p.client.CreateChatStream(ctx, &v0api.CreateChatRequest{
			Message:     req.Message,
			Attachments: attachments(req),
			ProjectID:   req.ProjectID,
			System:      provider.SystemPrompt,
		}, opts)
	}
	if err != nil {
		return nil, mapError(ctx, err)
	}

	return &stream{ctx: ctx, events: es}, nil
}

type stream struct {
	ctx    context.Context
	events *v0api.EventStream
}

func (s *stream) Recv() (domain.Chunk, error) {
	f, err := s.events.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Chunk{}, err
		}
		return domain.Chunk{}, mapError(s.ctx, err)
	}
	return domain.Chunk{Raw: f.Data, Frame: f.Raw}, nil
}

func (s *stream) Close() error {
	return s.events.Close()
}

func (s *stream) Passthrough() bool {
	return true
}

func attachments(req *domain.ChatRequest) []v0api.Attachment {
	if len(req.Attachments) == 0 {
		return nil
	}
	out := make([]v0api.Attachment, len(req.Attachments))
	for i, a := range req.Attachments {
		out[i] = v0api.Attachment{URL: a.URL}
	}
	return out
}

func mapError(ctx context.Context, err error) *domain.ProviderFailure {
	var apiErr *v0api.APIError
	if errors.As(err, &apiErr) {
		return classify.Failure(ctx, domain.ProviderV0, apiErr.StatusCode, apiErr.Error(), err)
	}
	return classify.Failure(ctx, domain.ProviderV0, 0, err.Error(), err)
}

// toResult keeps the last user message and the assistant reply that follows
// it. Continuing a chat returns the whole history from v0.
func toResult(chat *v0api.ChatDetail, req *domain.ChatRequest) *domain.ChatResult {
	res := &domain.ChatResult{
		ID:       chat.ID,
		Demo:     chat.Demo,
		Provider: domain.ProviderV0,
	}

	userIdx := -1
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		if chat.Messages[i].Role == string(domain.RoleUser) {
			userIdx = i
			break
		}
	}

	var user, assistant *v0api.Message
	if userIdx >= 0 {
		user = &chat.Messages[userIdx]
	}
	for i := userIdx + 1; i < len(chat.Messages); i++ {
		if chat.Messages[i].Role == string(domain.RoleAssistant) {
			assistant = &chat.Messages[i]
		}
	}

	now := time.Now().UTC()
	if user != nil {
		res.Messages = append(res.Messages, toMessage(user, domain.RoleUser, now))
	} else {
		res.Messages = append(res.Messages, domain.ChatMessage{
			ID:        "msg-user",
			Role:      domain.RoleUser,
			Content:   req.Message,
			Timestamp: now,
		})
	}
	if assistant != nil {
		res.Messages = append(res.Messages, toMessage(assistant, domain.RoleAssistant, now))
	} else {
		res.Messages = append(res.Messages, domain.ChatMessage{
			ID:        "msg-assistant",
			Role:      domain.RoleAssistant,
			Timestamp: now,
		})
	}
	return res
}

func toMessage(m *v0api.Message, role domain.Role, fallback time.Time) domain.ChatMessage {
	ts, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
	if err != nil {
		ts = fallback
	}
	out := domain.ChatMessage{
		ID:        m.ID,
		Role:      role,
		Content:   m.Content,
		Timestamp: ts,
	}
	if len(m.ExperimentalContent) > 0 {
		var parts []domain.ContentPart
		if json.Unmarshal(m.ExperimentalContent, &parts) == nil {
			out.ExperimentalContent = parts
		}
	}
	return out
}
