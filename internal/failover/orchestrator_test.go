package failover

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/normalize"
	"github.com/kamesh6592-cell/v0-clone/internal/notify"
	"github.com/kamesh6592-cell/v0-clone/internal/ownership"
	"github.com/kamesh6592-cell/v0-clone/internal/preview"
	"github.com/kamesh6592-cell/v0-clone/internal/provider"
	"github.com/kamesh6592-cell/v0-clone/internal/provider/providertest"
)

type recordingNotifier struct {
	mu      sync.Mutex
	quota   []domain.ProviderID
	allDown int
}

func (n *recordingNotifier) SendQuotaExhausted(ctx context.Context, p domain.ProviderID, msg string) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.quota = append(n.quota, p)
	return notify.Result{Success: true, Provider: "test"}
}

func (n *recordingNotifier) SendAllProvidersDown(ctx context.Context) notify.Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.allDown++
	return notify.Result{Success: true, Provider: "test"}
}

type recordingRecorder struct {
	mu      sync.Mutex
	records []ownership.Record
}

func (r *recordingRecorder) Record(ctx context.Context, rec ownership.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func quota(p domain.ProviderID) error {
	return &domain.ProviderFailure{Provider: p, HTTPStatus: 429, Message: "quota exceeded", Classification: domain.ClassQuota}
}

func transient(p domain.ProviderID) error {
	return &domain.ProviderFailure{Provider: p, HTTPStatus: 503, Message: "HTTP 503", Classification: domain.ClassTransient}
}

func userError(p domain.ProviderID) error {
	return &domain.ProviderFailure{Provider: p, HTTPStatus: 400, Message: "invalid prompt", Classification: domain.ClassUserError}
}

type harness struct {
	orch     *Orchestrator
	notifier *recordingNotifier
	recorder *recordingRecorder
	fakes    map[domain.ProviderID]*providertest.Fake
}

func newHarness(t *testing.T, fakes ...*providertest.Fake) *harness {
	t.Helper()
	adapters := make([]provider.Adapter, len(fakes))
	byID := make(map[domain.ProviderID]*providertest.Fake)
	for i, f := range fakes {
		adapters[i] = f
		byID[f.Provider] = f
	}
	reg, err := provider.NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	h := &harness{notifier: &recordingNotifier{}, recorder: &recordingRecorder{}, fakes: byID}
	h.orch = New(reg,
		normalize.New(preview.NewRewriter("studio.example.com", "vusercontent.net")),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithNotifier(h.notifier),
		WithRecorder(h.recorder),
		WithFirstResponseTimeout(200*time.Millisecond),
	)
	return h
}

func allConfigured() []*providertest.Fake {
	return []*providertest.Fake{
		{Provider: domain.ProviderV0, HasKey: true, Streaming: true},
		{Provider: domain.ProviderClaude, HasKey: true, Streaming: true},
		{Provider: domain.ProviderGrok, HasKey: true, Streaming: true},
		{Provider: domain.ProviderDeepSeek, HasKey: true, Streaming: true},
	}
}

func apiError(t *testing.T, err error) *domain.APIError {
	t.Helper()
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *domain.APIError", err)
	}
	return apiErr
}

func TestComplete_PrimarySucceeds(t *testing.T) {
	h := newHarness(t, allConfigured()...)
	owner := domain.Owner{IP: "203.0.113.1"}

	res, out, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "build a card"}, owner)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	h.orch.Wait()

	if res.Provider != domain.ProviderV0 || out.Provider != domain.ProviderV0 {
		t.Errorf("served by %s / %s, want v0", res.Provider, out.Provider)
	}
	if len(out.Attempted) != 1 {
		t.Errorf("Attempted = %v, want [v0]", out.Attempted)
	}
	if h.fakes[domain.ProviderClaude].Calls() != 0 {
		t.Error("claude must not be called when v0 succeeds")
	}
	if len(h.recorder.records) != 1 || h.recorder.records[0].ChatID != res.ID {
		t.Errorf("records = %+v", h.recorder.records)
	}
	if len(h.notifier.quota) != 0 || h.notifier.allDown != 0 {
		t.Error("no notifications expected on success")
	}
}

func TestComplete_QuotaFailsOverAndNotifies(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Err = quota(domain.ProviderV0)
	h := newHarness(t, fakes...)

	res, out, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "hi"}, domain.Owner{IP: "ip"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	h.orch.Wait()

	if res.Provider != domain.ProviderClaude {
		t.Errorf("Provider = %s, want claude", res.Provider)
	}
	if got := h.fakes[domain.ProviderClaude].LastRequest().Provider; got != domain.ProviderClaude {
		t.Errorf("re-dispatched request Provider = %s", got)
	}
	if len(out.Attempted) != 2 {
		t.Errorf("Attempted = %v", out.Attempted)
	}
	if len(h.notifier.quota) != 1 || h.notifier.quota[0] != domain.ProviderV0 {
		t.Errorf("quota notifications = %v", h.notifier.quota)
	}
	if !strings.HasPrefix(res.ID, "claude-") {
		t.Errorf("ID = %q, want claude- prefix", res.ID)
	}
}

func TestComplete_TransientDoesNotNotify(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Err = transient(domain.ProviderV0)
	fakes[1].Err = transient(domain.ProviderClaude)
	h := newHarness(t, fakes...)

	res, _, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "hi"}, domain.Owner{IP: "ip"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	h.orch.Wait()

	if res.Provider != domain.ProviderGrok {
		t.Errorf("Provider = %s, want grok", res.Provider)
	}
	if len(h.notifier.quota) != 0 {
		t.Errorf("quota notifications = %v, want none", h.notifier.quota)
	}
}

func TestComplete_UserErrorIsTerminal(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Err = userError(domain.ProviderV0)
	h := newHarness(t, fakes...)

	_, out, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "hi"}, domain.Owner{IP: "ip"})
	apiErr := apiError(t, err)
	if apiErr.HTTPStatusCode() != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", apiErr.HTTPStatusCode())
	}
	if apiErr.Message != "Failed to process request with v0" || apiErr.Details != "invalid prompt" {
		t.Errorf("error = %+v", apiErr)
	}
	if len(out.Attempted) != 1 || h.fakes[domain.ProviderClaude].Calls() != 0 {
		t.Error("user errors must not fail over")
	}
}

func TestComplete_AllExhausted(t *testing.T) {
	fakes := allConfigured()
	for _, f := range fakes {
		f.Err = quota(f.Provider)
	}
	h := newHarness(t, fakes...)

	_, out, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "hi"}, domain.Owner{IP: "ip"})
	h.orch.Wait()

	apiErr := apiError(t, err)
	if apiErr.HTTPStatusCode() != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", apiErr.HTTPStatusCode())
	}
	if len(out.Attempted) != 4 {
		t.Errorf("Attempted = %v, want all four", out.Attempted)
	}
	for _, f := range fakes {
		if f.Calls() != 1 {
			t.Errorf("%s called %d times, want exactly 1", f.Provider, f.Calls())
		}
	}
	if h.notifier.allDown != 1 {
		t.Errorf("allDown = %d, want 1", h.notifier.allDown)
	}
	if len(h.notifier.quota) != 4 {
		t.Errorf("quota notifications = %d, want 4", len(h.notifier.quota))
	}
	if len(h.recorder.records) != 0 {
		t.Error("no ownership on failure")
	}
}

func TestComplete_SelectedProviderMissingKey(t *testing.T) {
	fakes := allConfigured()
	fakes[1].HasKey = false
	h := newHarness(t, fakes...)

	req := &domain.ChatRequest{Message: "hi", Provider: domain.ProviderClaude}
	_, out, err := h.orch.Complete(context.Background(), req, domain.Owner{IP: "ip"})

	apiErr := apiError(t, err)
	if apiErr.HTTPStatusCode() != http.StatusInternalServerError || apiErr.Code != domain.ErrorCodeMissingAPIKey {
		t.Errorf("error = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Message, "Claude API key not configured (TEST_KEY)") {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if len(out.Attempted) != 0 || len(req.Attempted) != 0 {
		t.Errorf("Attempted = %v, want empty", out.Attempted)
	}
	if h.fakes[domain.ProviderV0].Calls() != 0 {
		t.Error("missing credentials must not fail over")
	}
}

func TestComplete_HopSkipsUnconfigured(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Err = transient(domain.ProviderV0)
	fakes[1].HasKey = false
	h := newHarness(t, fakes...)

	res, out, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "hi"}, domain.Owner{IP: "ip"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Provider != domain.ProviderGrok {
		t.Errorf("Provider = %s, want grok", res.Provider)
	}
	if len(out.Attempted) != 2 {
		t.Errorf("Attempted = %v, want [v0 grok]", out.Attempted)
	}
}

func TestComplete_StartsFromSelectedProvider(t *testing.T) {
	fakes := allConfigured()
	fakes[2].Err = quota(domain.ProviderGrok)
	h := newHarness(t, fakes...)

	res, out, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "hi", Provider: domain.ProviderGrok}, domain.Owner{IP: "ip"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	// v0 is first in priority order and was never attempted.
	if res.Provider != domain.ProviderV0 {
		t.Errorf("Provider = %s, want v0", res.Provider)
	}
	if len(out.Attempted) != 2 {
		t.Errorf("Attempted = %v", out.Attempted)
	}
}

func TestComplete_FirstResponseTimeoutFailsOver(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Block = true
	h := newHarness(t, fakes...)

	res, _, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "hi"}, domain.Owner{IP: "ip"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Provider != domain.ProviderClaude {
		t.Errorf("Provider = %s, want claude", res.Provider)
	}
}

func TestComplete_CallerCancelled(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Block = true
	h := newHarness(t, fakes...)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, out, err := h.orch.Complete(ctx, &domain.ChatRequest{Message: "hi"}, domain.Owner{IP: "ip"})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(out.Attempted) != 1 || h.fakes[domain.ProviderClaude].Calls() != 0 {
		t.Error("caller cancellation must not fail over")
	}
	h.orch.Wait()
	if h.notifier.allDown != 0 || len(h.notifier.quota) != 0 {
		t.Error("caller cancellation must not notify")
	}
}

func TestComplete_ContinuedChatNotRecorded(t *testing.T) {
	h := newHarness(t, allConfigured()...)

	_, _, err := h.orch.Complete(context.Background(), &domain.ChatRequest{Message: "more", ChatID: "chat_1"}, domain.Owner{IP: "ip"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	h.orch.Wait()
	if len(h.recorder.records) != 0 {
		t.Errorf("records = %+v, want none for continued chats", h.recorder.records)
	}
}

func TestNextProvider(t *testing.T) {
	fakes := allConfigured()
	fakes[2].HasKey = false
	h := newHarness(t, fakes...)

	tests := []struct {
		name      string
		attempted []domain.ProviderID
		want      domain.ProviderID
		ok        bool
	}{
		{"none attempted", nil, domain.ProviderV0, true},
		{"v0 attempted", []domain.ProviderID{domain.ProviderV0}, domain.ProviderClaude, true},
		{"skips unconfigured", []domain.ProviderID{domain.ProviderV0, domain.ProviderClaude}, domain.ProviderDeepSeek, true},
		{"out of order", []domain.ProviderID{domain.ProviderClaude}, domain.ProviderV0, true},
		{"exhausted", []domain.ProviderID{domain.ProviderV0, domain.ProviderClaude, domain.ProviderDeepSeek}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := domain.ProviderSet{}
			for _, p := range tt.attempted {
				set.Add(p)
			}
			got, ok := h.orch.NextProvider(set)
			if got != tt.want || ok != tt.ok {
				t.Errorf("NextProvider() = %q, %v, want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStream_TokensFromFallback(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Err = quota(domain.ProviderV0)
	fakes[1].Chunks = []domain.Chunk{
		{ChatID: "claude-abc", Text: "Hel"},
		{ChatID: "claude-abc", Text: "lo"},
	}
	h := newHarness(t, fakes...)

	rec := httptest.NewRecorder()
	out, err := h.orch.Stream(context.Background(), &domain.ChatRequest{Message: "hi", Streaming: true}, domain.Owner{IP: "ip"}, normalize.NewWriter(rec))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	h.orch.Wait()

	if !out.Committed || out.Provider != domain.ProviderClaude || out.ChatID != "claude-abc" {
		t.Errorf("Outcome = %+v", out)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"chat"`) || !strings.Contains(body, `"fullText":"Hello"`) {
		t.Errorf("body = %s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("body must end with [DONE]: %s", body)
	}
	if len(h.recorder.records) != 1 || h.recorder.records[0].Provider != domain.ProviderClaude {
		t.Errorf("records = %+v", h.recorder.records)
	}
}

func TestStream_FailureBeforeFirstChunkFailsOver(t *testing.T) {
	fakes := allConfigured()
	fakes[0].StreamErr = transient(domain.ProviderV0)
	fakes[1].Chunks = []domain.Chunk{{ChatID: "claude-1", Text: "ok"}}
	h := newHarness(t, fakes...)

	rec := httptest.NewRecorder()
	out, err := h.orch.Stream(context.Background(), &domain.ChatRequest{Message: "hi", Streaming: true}, domain.Owner{IP: "ip"}, normalize.NewWriter(rec))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if out.Provider != domain.ProviderClaude {
		t.Errorf("Provider = %s, want claude", out.Provider)
	}
	if strings.Contains(rec.Body.String(), `"provider":"v0"`) {
		t.Error("nothing from v0 may reach the caller")
	}
}

func TestStream_EmptyUpstreamFailsOver(t *testing.T) {
	fakes := allConfigured()
	fakes[1].Chunks = []domain.Chunk{{ChatID: "claude-1", Text: "ok"}}
	h := newHarness(t, fakes...)

	rec := httptest.NewRecorder()
	out, err := h.orch.Stream(context.Background(), &domain.ChatRequest{Message: "hi", Streaming: true}, domain.Owner{IP: "ip"}, normalize.NewWriter(rec))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if out.Provider != domain.ProviderClaude {
		t.Errorf("Provider = %s, want claude", out.Provider)
	}
}

func TestStream_MidStreamFailureLocksProvider(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Chunks = []domain.Chunk{{Raw: []byte(`{"id":"chat_9","demo":"https://demo-x1.vusercontent.net"}`)}}
	fakes[0].StreamErr = transient(domain.ProviderV0)
	h := newHarness(t, fakes...)

	rec := httptest.NewRecorder()
	out, err := h.orch.Stream(context.Background(), &domain.ChatRequest{Message: "hi", Streaming: true}, domain.Owner{IP: "ip"}, normalize.NewWriter(rec))
	if err == nil {
		t.Fatal("expected the mid-stream error to be returned")
	}
	if !out.Committed || out.Provider != domain.ProviderV0 {
		t.Errorf("Outcome = %+v", out)
	}
	if h.fakes[domain.ProviderClaude].Calls() != 0 {
		t.Error("no failover after commit")
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"error"`) || !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("body = %s", body)
	}
	if !strings.Contains(body, "https://studio.example.com/api/preview/x1") {
		t.Errorf("preview URL not rewritten: %s", body)
	}
}

func TestStream_AllExhaustedWritesNothing(t *testing.T) {
	fakes := allConfigured()
	for _, f := range fakes {
		f.Err = transient(f.Provider)
	}
	h := newHarness(t, fakes...)

	rec := httptest.NewRecorder()
	out, err := h.orch.Stream(context.Background(), &domain.ChatRequest{Message: "hi", Streaming: true}, domain.Owner{IP: "ip"}, normalize.NewWriter(rec))
	h.orch.Wait()

	if apiError(t, err).HTTPStatusCode() != http.StatusServiceUnavailable {
		t.Errorf("error = %v", err)
	}
	if out.Committed || rec.Body.Len() != 0 {
		t.Errorf("nothing may be written before commit, got %q", rec.Body.String())
	}
	if h.notifier.allDown != 1 {
		t.Errorf("allDown = %d", h.notifier.allDown)
	}
}

func TestStream_BufferedProvider(t *testing.T) {
	fakes := allConfigured()
	fakes[0].Streaming = false
	h := newHarness(t, fakes...)

	rec := httptest.NewRecorder()
	out, err := h.orch.Stream(context.Background(), &domain.ChatRequest{Message: "hi", Streaming: true}, domain.Owner{IP: "ip"}, normalize.NewWriter(rec))
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if !out.Committed || !strings.HasPrefix(out.ChatID, "v0-") {
		t.Errorf("Outcome = %+v", out)
	}
	if !strings.Contains(rec.Body.String(), `"fullText":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

// unreachableAdapter fails the test if the orchestrator calls into it.
type unreachableAdapter struct {
	*providertest.Fake
	t *testing.T
}

func (a unreachableAdapter) Complete(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResult, error) {
	a.t.Errorf("Complete called on unconfigured %s", a.ID())
	return nil, errors.New("unexpected call")
}

func (a unreachableAdapter) Stream(ctx context.Context, req *domain.ChatRequest) (domain.Stream, error) {
	a.t.Errorf("Stream called on unconfigured %s", a.ID())
	return nil, errors.New("unexpected call")
}

func TestRun_MissingKeyDoesNotCallAdapter(t *testing.T) {
	reg, err := provider.NewRegistry(
		&providertest.Fake{Provider: domain.ProviderV0, HasKey: true},
		unreachableAdapter{Fake: &providertest.Fake{Provider: domain.ProviderGrok}, t: t},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	orch := New(reg, normalize.New(preview.NewRewriter("studio.example.com", "vusercontent.net")),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, streaming := range []bool{false, true} {
		req := &domain.ChatRequest{Message: "hi", Provider: domain.ProviderGrok, Streaming: streaming}
		if streaming {
			_, err = orch.Stream(context.Background(), req, domain.Owner{IP: "ip"}, normalize.NewWriter(io.Discard))
		} else {
			_, _, err = orch.Complete(context.Background(), req, domain.Owner{IP: "ip"})
		}
		apiErr := apiError(t, err)
		if apiErr.Code != domain.ErrorCodeMissingAPIKey || !strings.Contains(apiErr.Message, "TEST_KEY") {
			t.Errorf("streaming=%v error = %+v", streaming, apiErr)
		}
	}
}

func TestRun_UnregisteredSelectedProvider(t *testing.T) {
	h := newHarness(t, &providertest.Fake{Provider: domain.ProviderV0, HasKey: true})

	_, _, err := h.orch.Complete(context.Background(),
		&domain.ChatRequest{Message: "hi", Provider: domain.ProviderDeepSeek}, domain.Owner{IP: "ip"})
	apiErr := apiError(t, err)
	if apiErr.Message != "DeepSeek API key not configured" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}
