// Package ownership records who created each chat so quota counts can be
// computed per user or per IP.
package ownership

import (
	"context"
	"log/slog"
	"time"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/storage"
)

const defaultTimeout = 5 * time.Second

// TokenCounter counts prompt tokens.
type TokenCounter interface {
	Count(text string) int
}

// Record is one successful new chat.
type Record struct {
	ChatID   string
	Owner    domain.Owner
	Provider domain.ProviderID
	Prompt   string
}

// Recorder writes ownership records. Failures are logged, never returned to callers.
type Recorder struct {
	store   storage.OwnershipStore
	counter TokenCounter
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*Recorder)

// WithTimeout bounds each write.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithTokenCounter enables prompt token accounting.
func WithTokenCounter(c TokenCounter) Option {
	return func(r *Recorder) {
		r.counter = c
	}
}

func NewRecorder(store storage.OwnershipStore, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{store: store, logger: logger, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes rec on a context detached from ctx's cancellation, so it
// completes after the response has been sent. It blocks until the write ends.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	if rec.ChatID == "" {
		r.logger.Warn("skipping ownership record without chat id",
			slog.String("owner", rec.Owner.String()),
			slog.String("provider", rec.Provider.String()))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	tokens := 0
	if r.counter != nil {
		tokens = r.counter.Count(rec.Prompt)
	}

	var err error
	if rec.Owner.Anonymous() {
		err = r.store.CreateAnonymousChatLog(ctx, &storage.AnonymousChatLog{
			IPAddress:    rec.Owner.IP,
			ChatID:       rec.ChatID,
			Provider:     rec.Provider.String(),
			PromptTokens: tokens,
		})
	} else {
		err = r.store.CreateChatOwnership(ctx, &storage.ChatOwnership{
			ChatID:       rec.ChatID,
			UserID:       rec.Owner.User.ID,
			Provider:     rec.Provider.String(),
			PromptTokens: tokens,
		})
	}

	if err != nil {
		r.logger.Error("failed to record chat ownership",
			slog.String("chat_id", rec.ChatID),
			slog.String("owner", rec.Owner.String()),
			slog.String("error", err.Error()))
		return
	}

	r.logger.Debug("chat ownership recorded",
		slog.String("chat_id", rec.ChatID),
		slog.String("owner", rec.Owner.String()),
		slog.String("provider", rec.Provider.String()),
		slog.Int("prompt_tokens", tokens))
}
