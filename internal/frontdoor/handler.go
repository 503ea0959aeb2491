// Package frontdoor serves the public /api routes.
package frontdoor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kamesh6592-cell/v0-clone/internal/auth"
	"github.com/kamesh6592-cell/v0-clone/internal/codec"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/failover"
	"github.com/kamesh6592-cell/v0-clone/internal/health"
	"github.com/kamesh6592-cell/v0-clone/internal/normalize"
	"github.com/kamesh6592-cell/v0-clone/internal/notify"
	"github.com/kamesh6592-cell/v0-clone/internal/preview"
	"github.com/kamesh6592-cell/v0-clone/internal/quota"
	"github.com/kamesh6592-cell/v0-clone/internal/server"
)

// maxBodySize caps the /api/chat request body.
const maxBodySize = 1 << 20

// ChatService runs a chat request through the provider chain.
type ChatService interface {
	Complete(ctx context.Context, req *domain.ChatRequest, owner domain.Owner) (*domain.ChatResult, failover.Outcome, error)
	Stream(ctx context.Context, req *domain.ChatRequest, owner domain.Owner, w *normalize.Writer) (failover.Outcome, error)
}

// QuotaChecker enforces daily entitlements.
type QuotaChecker interface {
	Check(ctx context.Context, owner domain.Owner) (*quota.Usage, error)
}

// HealthChecker reports provider availability.
type HealthChecker interface {
	Check(ctx context.Context) *health.Report
}

// PreviewFetcher loads preview pages.
type PreviewFetcher interface {
	Fetch(ctx context.Context, id, userAgent string) (*preview.Page, error)
}

// Config wires the handler's collaborators. Notifier is only needed when
// EnableTestEmail is set.
type Config struct {
	Chat            ChatService
	Quota           QuotaChecker
	Health          HealthChecker
	Preview         PreviewFetcher
	Notifier        notify.Notifier
	EnableTestEmail bool
	Logger          *slog.Logger
}

type Handler struct {
	chat            ChatService
	quota           QuotaChecker
	health          HealthChecker
	preview         PreviewFetcher
	notifier        notify.Notifier
	enableTestEmail bool
	logger          *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:            cfg.Chat,
		quota:           cfg.Quota,
		health:          cfg.Health,
		preview:         cfg.Preview,
		notifier:        cfg.Notifier,
		enableTestEmail: cfg.EnableTestEmail && cfg.Notifier != nil,
		logger:          logger,
	}
}

// Mount registers the routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/health", h.HandleHealth)
		r.Get("/preview/{id}", h.HandlePreview)
		if h.enableTestEmail {
			r.Get("/test-email", h.HandleTestEmail)
		}
	})
}

// chatBody is the POST /api/chat payload.
type chatBody struct {
	Message     string              `json:"message"`
	ChatID      string              `json:"chatId"`
	Streaming   bool                `json:"streaming"`
	Attachments []domain.Attachment `json:"attachments"`
	ProjectID   string              `json:"projectId"`
	Provider    string              `json:"provider"`
}

func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeChat(r)
	if err != nil {
		server.AddError(ctx, err)
		codec.WriteError(w, err)
		return
	}

	owner := domain.Owner{User: auth.UserFrom(ctx), IP: server.ClientIP(r)}
	server.AddLogField(ctx, "owner", owner.String())
	server.AddLogField(ctx, "requested_provider", req.Provider.String())

	if h.quota != nil {
		usage, err := h.quota.Check(ctx, owner)
		if usage != nil {
			server.SetRateLimits(ctx, &server.RateLimitInfo{Limit: usage.Limit, Remaining: usage.Remaining})
		}
		if err != nil {
			server.AddError(ctx, err)
			codec.WriteError(w, err)
			return
		}
	}

	if req.Streaming {
		h.stream(w, r, req, owner)
		return
	}

	result, out, err := h.chat.Complete(ctx, req, owner)
	logOutcome(ctx, out)
	if err != nil {
		h.writeChatError(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, req *domain.ChatRequest, owner domain.Owner) {
	ctx := r.Context()
	sse := &eventStream{w: w}

	out, err := h.chat.Stream(ctx, req, owner, normalize.NewWriter(sse))
	logOutcome(ctx, out)
	if err == nil {
		return
	}
	if out.Committed {
		// The stream already carries the error frame.
		server.AddError(ctx, err)
		return
	}
	h.writeChatError(w, r, err)
}

func (h *Handler) writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)
	if r.Context().Err() != nil {
		// Caller went away; nothing to write to.
		return
	}
	codec.WriteError(w, err)
}

func logOutcome(ctx context.Context, out failover.Outcome) {
	server.AddLogField(ctx, "provider", out.Provider.String())
	server.AddLogField(ctx, "chat_id", out.ChatID)
	if len(out.Attempted) > 1 {
		names := make([]string, len(out.Attempted))
		for i, p := range out.Attempted {
			names[i] = p.String()
		}
		server.AddLogField(ctx, "attempted", strings.Join(names, ","))
	}
}

func decodeChat(r *http.Request) (*domain.ChatRequest, error) {
	var body chatBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(&body); err != nil {
		return nil, domain.ErrInvalidRequest("Invalid request body").WithDetails(err.Error())
	}

	if strings.TrimSpace(body.Message) == "" {
		return nil, domain.ErrInvalidRequest("Message is required")
	}

	p, err := domain.ParseProviderID(body.Provider)
	if err != nil {
		return nil, domain.ErrInvalidRequest("Invalid provider").WithDetails(err.Error())
	}

	return &domain.ChatRequest{
		Message:     body.Message,
		ChatID:      body.ChatID,
		Streaming:   body.Streaming,
		Attachments: body.Attachments,
		ProjectID:   body.ProjectID,
		Provider:    p,
		UserAgent:   r.UserAgent(),
	}, nil
}

// eventStream sets the SSE headers on the first write so that failures
// before the first frame can still be sent as JSON errors.
type eventStream struct {
	w       http.ResponseWriter
	started bool
}

func (s *eventStream) Write(b []byte) (int, error) {
	if !s.started {
		s.started = true
		normalize.SetHeaders(s.w.Header())
		s.w.WriteHeader(http.StatusOK)
	}
	return s.w.Write(b)
}

func (s *eventStream) Flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, h.health.Check(r.Context()))
}

func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	server.AddLogField(ctx, "preview_id", id)

	page, err := h.preview.Fetch(ctx, id, r.UserAgent())
	if err != nil {
		server.AddError(ctx, err)

		var statusErr *preview.UpstreamStatusError
		switch {
		case errors.Is(err, preview.ErrInvalidID):
			codec.WriteError(w, domain.ErrInvalidRequest("Invalid preview id"))
		case errors.As(err, &statusErr):
			codec.WriteError(w, domain.ErrNotFound("Preview not found").WithStatusCode(statusErr.StatusCode))
		default:
			h.logger.Error("preview proxy error", slog.String("id", id), slog.String("error", err.Error()))
			codec.WriteError(w, domain.ErrServer("Failed to load preview"))
		}
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(page.Body)
}

type testEmailResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
	EmailID      string `json:"emailId,omitempty"`
	Type         string `json:"type,omitempty"`
	ProviderUsed string `json:"providerUsed"`
}

func (h *Handler) HandleTestEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "quota"
	}

	var res notify.Result
	switch kind {
	case "quota":
		res = h.notifier.SendQuotaExhausted(ctx, domain.ProviderV0,
			"This is a test email to verify the notification system is working correctly.")
	case "alldown":
		res = h.notifier.SendAllProvidersDown(ctx)
	default:
		codec.WriteJSON(w, http.StatusBadRequest, testEmailResponse{
			Error:        "Invalid type. Use ?type=quota or ?type=alldown",
			ProviderUsed: "none",
		})
		return
	}

	if !res.Success {
		codec.WriteJSON(w, http.StatusInternalServerError, testEmailResponse{
			Error:        res.Error,
			Type:         kind,
			ProviderUsed: res.Provider,
		})
		return
	}
	codec.WriteJSON(w, http.StatusOK, testEmailResponse{
		Success:      true,
		Message:      "Test email sent successfully",
		EmailID:      res.ID,
		Type:         kind,
		ProviderUsed: res.Provider,
	})
}
