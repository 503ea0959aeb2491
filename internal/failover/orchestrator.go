// Package failover dispatches a chat request to the selected provider and,
// when the vendor reports a quota or transient failure, re-dispatches it to
// the next provider in priority order.
package failover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kamesh6592-cell/v0-clone/internal/classify"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/normalize"
	"github.com/kamesh6592-cell/v0-clone/internal/notify"
	"github.com/kamesh6592-cell/v0-clone/internal/ownership"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
)

// ExhaustedMessage is returned with 503 when no provider is left.
const ExhaustedMessage = "All AI providers are currently unavailable. Please try again later."

const (
	defaultFirstResponseTimeout = 60 * time.Second
	defaultNotifyTimeout        = 10 * time.Second
)

// Recorder persists chat ownership.
type Recorder interface {
	Record(ctx context.Context, rec ownership.Record)
}

// Outcome describes how a request was served.
type Outcome struct {
	Provider  domain.ProviderID
	Attempted []domain.ProviderID
	ChatID    string
	// Committed is set once the first byte of a streaming response was written.
	Committed bool
}

// Orchestrator walks the provider chain for one request at a time. It is
// safe for concurrent use; no state is shared between requests.
type Orchestrator struct {
	registry   *provider.Registry
	normalizer *normalize.Normalizer
	notifier   notify.Notifier
	recorder   Recorder
	logger     *slog.Logger
	tracer     trace.Tracer

	firstResponseTimeout time.Duration
	notifyTimeout        time.Duration

	background sync.WaitGroup
}

type Option func(*Orchestrator)

// WithFirstResponseTimeout bounds the wait for a vendor's first chunk (or
// the whole response for non-streaming calls).
func WithFirstResponseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.firstResponseTimeout = d
		}
	}
}

// WithNotifyTimeout bounds each operator notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.notifyTimeout = d
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

func New(registry *provider.Registry, normalizer *normalize.Normalizer, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		registry:             registry,
		normalizer:           normalizer,
		notifier:             notify.Noop{Logger: logger},
		logger:               logger,
		tracer:               otel.Tracer("github.com/kamesh6592-cell/v0-clone/internal/failover"),
		firstResponseTimeout: defaultFirstResponseTimeout,
		notifyTimeout:        defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NextProvider returns the first provider in priority order that is
// configured and not in attempted.
func (o *Orchestrator) NextProvider(attempted domain.ProviderSet) (domain.ProviderID, bool) {
	for _, id := range domain.PriorityOrder {
		if attempted.Has(id) {
			continue
		}
		if o.registry.Configured(id) {
			return id, true
		}
	}
	return "", false
}

// Wait blocks until background notifications and ownership writes finish.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// attemptFunc runs one provider attempt. A nil error means the request was served.
type attemptFunc func(ctx context.Context, a provider.Adapter) error

// Complete serves a non-streaming request.
func (o *Orchestrator) Complete(ctx context.Context, req *domain.ChatRequest, owner domain.Owner) (*domain.ChatResult, Outcome, error) {
	var result *domain.ChatResult
	out, err := o.run(ctx, req, func(ctx context.Context, a provider.Adapter) error {
		actx, cancel := context.WithTimeoutCause(ctx, o.firstResponseTimeout, classify.ErrFirstResponseTimeout)
		defer cancel()

		res, err := a.Complete(actx, req)
		if err != nil {
			return timeout(ctx, actx, a.ID(), err)
		}
		result = o.normalizer.Result(res)
		return nil
	})
	if err != nil {
		return nil, out, err
	}

	out.ChatID = result.ID
	o.recordOwnership(ctx, req, owner, out)
	return result, out, nil
}

// Stream serves a streaming request into w. Errors returned before
// Outcome.Committed is set have written nothing and can be reported as a
// normal HTTP error; after that the stream has already been terminated.
func (o *Orchestrator) Stream(ctx context.Context, req *domain.ChatRequest, owner domain.Owner, w *normalize.Writer) (Outcome, error) {
	var (
		committed bool
		chatID    string
		streamErr error
	)
	out, err := o.run(ctx, req, func(ctx context.Context, a provider.Adapter) error {
		if !a.SupportsStreaming() {
			return o.streamBuffered(ctx, a, req, w, &committed, &chatID)
		}

		s, first, cancel, err := o.open(ctx, a, req)
		if err != nil {
			return err
		}
		defer cancel(nil)
		defer s.Close()

		committed = true
		sum, err := o.normalizer.Forward(ctx, w, a.ID(), s, first)
		chatID = sum.ChatID
		if err != nil {
			streamErr = err
			o.logger.Warn("stream failed after commit",
				slog.String("provider", a.ID().String()),
				slog.Int("frames", sum.Frames),
				slog.String("error", err.Error()))
		}
		return nil
	})
	out.Committed = committed
	if err != nil {
		return out, err
	}

	if chatID == "" {
		chatID = req.ChatID
	}
	out.ChatID = chatID
	o.recordOwnership(ctx, req, owner, out)
	return out, streamErr
}

// streamBuffered serves a streaming request from a provider without token streaming.
func (o *Orchestrator) streamBuffered(ctx context.Context, a provider.Adapter, req *domain.ChatRequest, w *normalize.Writer, committed *bool, chatID *string) error {
	actx, cancel := context.WithTimeoutCause(ctx, o.firstResponseTimeout, classify.ErrFirstResponseTimeout)
	defer cancel()

	res, err := a.Complete(actx, req)
	if err != nil {
		return timeout(ctx, actx, a.ID(), err)
	}
	*committed = true
	sum, err := o.normalizer.WriteResult(w, res)
	*chatID = sum.ChatID
	if err != nil {
		o.logger.Warn("failed to write buffered result",
			slog.String("provider", a.ID().String()),
			slog.String("error", err.Error()))
	}
	return nil
}

// open starts a stream and reads its first chunk under the first-response timeout.
// The returned cancel must be called once the stream is done.
func (o *Orchestrator) open(ctx context.Context, a provider.Adapter, req *domain.ChatRequest) (domain.Stream, domain.Chunk, context.CancelCauseFunc, error) {
	actx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(o.firstResponseTimeout, func() {
		cancel(classify.ErrFirstResponseTimeout)
	})

	s, err := a.Stream(actx, req)
	var first domain.Chunk
	if err == nil {
		first, err = s.Recv()
		if err != nil {
			s.Close()
		}
	}
	timer.Stop()

	if err != nil {
		err = timeout(ctx, actx, a.ID(), err)
		cancel(nil)
		if errors.Is(err, io.EOF) {
			err = &domain.ProviderFailure{
				Provider:       a.ID(),
				Message:        "upstream closed the stream before sending data",
				Classification: domain.ClassTransient,
				Err:            err,
			}
		}
		return nil, domain.Chunk{}, nil, err
	}
	return s, first, cancel, nil
}

// run is the bounded dispatch loop shared by Complete and Stream.
func (o *Orchestrator) run(ctx context.Context, req *domain.ChatRequest, attempt attemptFunc) (Outcome, error) {
	req.Attempted = domain.ProviderSet{}
	current := req.Provider
	if current == "" {
		current = domain.ProviderV0
	}

	var out Outcome
	a, ok := o.registry.Get(current)
	if !ok || !a.Configured() {
		keyName := ""
		if ok {
			keyName = a.KeyName()
		}
		f := domain.MissingCredentials(current, keyName)
		o.logger.Error("selected provider is not configured",
			slog.String("provider", current.String()),
			slog.String("error", f.Message))
		return out, domain.ErrServer(f.Message).WithCode(domain.ErrorCodeMissingAPIKey)
	}

	for hop := 0; hop < len(domain.PriorityOrder); hop++ {
		req.Provider = current
		req.Attempted.Add(current)
		out.Provider = current
		out.Attempted = req.Attempted.List()

		err := o.dispatch(ctx, a, req, hop+1, attempt)
		if err == nil {
			return out, nil
		}

		f := o.failure(ctx, current, err)
		switch {
		case f.Classification == domain.ClassIgnore:
			return out, err
		case f.MissingCredentials:
			return out, domain.ErrServer(f.Message).WithCode(domain.ErrorCodeMissingAPIKey)
		case !f.Classification.Failover():
			return out, domain.ErrServer(fmt.Sprintf("Failed to process request with %s", current.DisplayName())).
				WithCode(domain.ErrorCodeProviderFailed).
				WithDetails(f.Message)
		}

		if f.Classification == domain.ClassQuota {
			o.notifyQuota(ctx, current, f.Message)
		}

		next, ok := o.NextProvider(req.Attempted)
		if !ok {
			o.logger.Error("all providers exhausted",
				slog.Any("attempted", out.Attempted))
			o.notifyAllDown(ctx)
			return out, domain.ErrUnavailable(ExhaustedMessage).WithDetails(f.Message)
		}

		o.logger.Warn("failing over to next provider",
			slog.String("from", current.String()),
			slog.String("to", next.String()),
			slog.String("classification", string(f.Classification)))
		current = next
		a, _ = o.registry.Get(next)
	}

	o.notifyAllDown(ctx)
	return out, domain.ErrUnavailable(ExhaustedMessage)
}

func (o *Orchestrator) dispatch(ctx context.Context, a provider.Adapter, req *domain.ChatRequest, n int, attempt attemptFunc) error {
	ctx, span := o.tracer.Start(ctx, "provider.attempt", trace.WithAttributes(
		attribute.String("provider", a.ID().String()),
		attribute.Int("attempt", n),
		attribute.Bool("streaming", req.Streaming),
	))
	defer span.End()

	start := time.Now()
	err := attempt(ctx, a)
	if err == nil {
		o.logger.Info("provider attempt succeeded",
			slog.String("provider", a.ID().String()),
			slog.Int("attempt", n),
			slog.Duration("duration", time.Since(start)))
		return nil
	}

	f := o.failure(ctx, a.ID(), err)
	span.SetAttributes(attribute.String("classification", string(f.Classification)))
	span.RecordError(err)
	span.SetStatus(codes.Error, f.Message)

	o.logger.Warn("provider attempt failed",
		slog.String("provider", a.ID().String()),
		slog.Int("attempt", n),
		slog.String("classification", string(f.Classification)),
		slog.Int("status", f.HTTPStatus),
		slog.Duration("duration", time.Since(start)),
		slog.String("error", f.Message))
	return f
}

// failure normalizes err into a ProviderFailure. An adapter that saw its
// attempt context cancelled while the caller is still connected hit the
// first-response timeout.
func (o *Orchestrator) failure(ctx context.Context, p domain.ProviderID, err error) *domain.ProviderFailure {
	f, ok := domain.AsProviderFailure(err)
	if !ok {
		f = classify.Failure(ctx, p, 0, "", err)
	}
	if f.Classification == domain.ClassIgnore && ctx.Err() == nil {
		return classify.Failure(ctx, p, 0, "", fmt.Errorf("%w: %w", classify.ErrFirstResponseTimeout, err))
	}
	return f
}

// timeout marks err as a first-response timeout when the attempt context
// expired while the caller is still connected.
func timeout(ctx, actx context.Context, p domain.ProviderID, err error) error {
	if ctx.Err() != nil || !errors.Is(context.Cause(actx), classify.ErrFirstResponseTimeout) {
		return err
	}
	return classify.Failure(ctx, p, 0, "", fmt.Errorf("%w: %w", classify.ErrFirstResponseTimeout, err))
}

func (o *Orchestrator) notifyQuota(ctx context.Context, p domain.ProviderID, msg string) {
	o.goDetached(ctx, o.notifyTimeout, func(ctx context.Context) {
		o.notifier.SendQuotaExhausted(ctx, p, msg)
	})
}

func (o *Orchestrator) notifyAllDown(ctx context.Context) {
	o.goDetached(ctx, o.notifyTimeout, func(ctx context.Context) {
		o.notifier.SendAllProvidersDown(ctx)
	})
}

func (o *Orchestrator) recordOwnership(ctx context.Context, req *domain.ChatRequest, owner domain.Owner, out Outcome) {
	if o.recorder == nil || !req.IsNewChat() {
		return
	}
	rec := ownership.Record{
		ChatID:   out.ChatID,
		Owner:    owner,
		Provider: out.Provider,
		Prompt:   req.Message,
	}
	o.goDetached(ctx, 0, func(ctx context.Context) {
		o.recorder.Record(ctx, rec)
	})
}

// goDetached runs fn after the request returns. A zero timeout leaves the
// deadline to fn.
func (o *Orchestrator) goDetached(ctx context.Context, timeout time.Duration, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		fn(ctx)
	}()
}
