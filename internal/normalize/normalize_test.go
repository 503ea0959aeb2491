package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/preview"
	"github.com/kamesh6592-cell/v0-clone/internal/provider/providertest"
)

func newNormalizer() *Normalizer {
	return New(preview.NewRewriter("studio.example.com", "vusercontent.net"))
}

// frames splits an SSE body into data payloads.
func frames(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	for _, block := range strings.Split(body, "\n\n") {
		if block == "" {
			continue
		}
		data, ok := strings.CutPrefix(block, "data: ")
		if !ok {
			t.Fatalf("malformed frame %q", block)
		}
		out = append(out, data)
	}
	return out
}

func decode(t *testing.T, frame string) domain.Event {
	t.Helper()
	var ev domain.Event
	if err := json.Unmarshal([]byte(frame), &ev); err != nil {
		t.Fatalf("decode %q: %v", frame, err)
	}
	return ev
}

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	if rec.Header().Get("Content-Type") != "text/event-stream" ||
		rec.Header().Get("Cache-Control") != "no-cache" ||
		rec.Header().Get("Connection") != "keep-alive" {
		t.Errorf("headers = %v", rec.Header())
	}
}

func TestForward_Tokens(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	s := &providertest.SliceStream{Chunks: []domain.Chunk{{Text: "lo "}, {Text: ""}, {Text: "world"}}}

	sum, err := newNormalizer().Forward(context.Background(), w, domain.ProviderClaude, s,
		domain.Chunk{ChatID: "claude-1", Text: "Hel"})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	got := frames(t, rec.Body.String())
	if len(got) != 6 {
		t.Fatalf("got %d frames: %v", len(got), got)
	}

	chat := decode(t, got[0])
	if chat.Type != domain.EventChatStarted || chat.ID != "claude-1" || chat.Provider != domain.ProviderClaude {
		t.Errorf("chat frame = %+v", chat)
	}
	if chat.DemoURL != "https://studio.example.com/api/preview/claude-1" {
		t.Errorf("demoUrl = %q", chat.DemoURL)
	}

	var joined strings.Builder
	for _, f := range got[1:4] {
		ev := decode(t, f)
		if ev.Type != domain.EventMessageDelta {
			t.Errorf("expected delta, got %+v", ev)
		}
		joined.WriteString(ev.Text)
	}

	done := decode(t, got[4])
	if done.Type != domain.EventMessageCompleted || done.Role != domain.RoleAssistant {
		t.Errorf("completed frame = %+v", done)
	}
	if done.FullText != joined.String() || done.FullText != "Hello world" {
		t.Errorf("fullText = %q, deltas = %q", done.FullText, joined.String())
	}
	if got[5] != "[DONE]" {
		t.Errorf("last frame = %q", got[5])
	}
	if sum.ChatID != "claude-1" || sum.Text != "Hello world" || sum.Frames != 6 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestForward_MidStreamError(t *testing.T) {
	rec := httptest.NewRecorder()
	failure := &domain.ProviderFailure{Provider: domain.ProviderGrok, Message: "stream reset", Classification: domain.ClassTransient}
	s := &providertest.SliceStream{Err: failure}

	_, err := newNormalizer().Forward(context.Background(), NewWriter(rec), domain.ProviderGrok, s,
		domain.Chunk{ChatID: "grok-1", Text: "partial"})
	if !errors.Is(err, failure) {
		t.Fatalf("Forward() error = %v, want the upstream failure", err)
	}

	got := frames(t, rec.Body.String())
	if len(got) != 4 {
		t.Fatalf("frames = %v", got)
	}
	ev := decode(t, got[2])
	if ev.Type != domain.EventError || ev.Message != "stream reset" || ev.Provider != domain.ProviderGrok {
		t.Errorf("error frame = %+v", ev)
	}
	if got[3] != "[DONE]" {
		t.Errorf("last frame = %q", got[3])
	}
}

func TestForward_CancelledWritesNothingMore(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &providertest.SliceStream{Chunks: []domain.Chunk{{Text: "never"}}}
	_, err := newNormalizer().Forward(ctx, NewWriter(rec), domain.ProviderDeepSeek, s,
		domain.Chunk{ChatID: "deepseek-1", Text: "a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Forward() error = %v", err)
	}
	if strings.Contains(rec.Body.String(), "[DONE]") || strings.Contains(rec.Body.String(), "never") {
		t.Errorf("body after cancel = %q", rec.Body.String())
	}
}

func TestForward_Passthrough(t *testing.T) {
	rec := httptest.NewRecorder()
	first := `{"object":"chat","id":"chat_c9Lm4","demo":"https://demo-c9Lm4.vusercontent.net","files":[{"url":"https://cdn.vusercontent.net/a.js"}]}`
	later := `{"delta":[[0,"<div>"]],"weird":  "spacing"}`
	s := &providertest.SliceStream{Raw: true, Chunks: []domain.Chunk{{Raw: []byte(later)}}}

	sum, err := newNormalizer().Forward(context.Background(), NewWriter(rec), domain.ProviderV0, s,
		domain.Chunk{Raw: []byte(first)})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	got := frames(t, rec.Body.String())
	if len(got) != 3 {
		t.Fatalf("frames = %v", got)
	}

	var env struct {
		domain.Event
		Upstream map[string]any `json:"upstream"`
	}
	if err := json.Unmarshal([]byte(got[0]), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != domain.EventChatStarted || env.ID != "chat_c9Lm4" || env.Provider != domain.ProviderV0 {
		t.Errorf("envelope = %+v", env.Event)
	}
	if env.DemoURL != "https://studio.example.com/api/preview/c9Lm4" {
		t.Errorf("demoUrl = %q", env.DemoURL)
	}
	if strings.Contains(got[0], "vusercontent.net") {
		t.Errorf("internal host leaked: %s", got[0])
	}

	if got[1] != later {
		t.Errorf("later frame modified: %q", got[1])
	}
	if got[2] != "[DONE]" {
		t.Errorf("missing appended [DONE]: %v", got)
	}
	if sum.ChatID != "chat_c9Lm4" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestForward_PassthroughUnparseableFirstFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	s := &providertest.SliceStream{Raw: true, Chunks: []domain.Chunk{{Raw: []byte("[DONE]")}}}

	_, err := newNormalizer().Forward(context.Background(), NewWriter(rec), domain.ProviderV0, s,
		domain.Chunk{Raw: []byte("not json")})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	got := frames(t, rec.Body.String())
	if len(got) != 2 || got[0] != "not json" || got[1] != "[DONE]" {
		t.Errorf("frames = %v", got)
	}
}

func TestWriteResult(t *testing.T) {
	rec := httptest.NewRecorder()
	demo := "https://demo-b7Xq2.vusercontent.net"
	res := &domain.ChatResult{
		ID:       "chat_b7Xq2",
		Demo:     &demo,
		Provider: domain.ProviderV0,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "done"},
		},
	}

	if _, err := newNormalizer().WriteResult(NewWriter(rec), res); err != nil {
		t.Fatalf("WriteResult() error = %v", err)
	}
	got := frames(t, rec.Body.String())
	if len(got) != 4 {
		t.Fatalf("frames = %v", got)
	}
	if ev := decode(t, got[0]); ev.DemoURL != "https://studio.example.com/api/preview/b7Xq2" {
		t.Errorf("chat frame = %+v", ev)
	}
	if ev := decode(t, got[2]); ev.FullText != "done" {
		t.Errorf("completed frame = %+v", ev)
	}
}

func TestResult_RewritesDemo(t *testing.T) {
	demo := "https://demo-abc.vusercontent.net"
	in := &domain.ChatResult{ID: "chat_abc", Demo: &demo, Provider: domain.ProviderV0}
	out := newNormalizer().Result(in)

	if out.DemoURL() != "https://studio.example.com/api/preview/abc" {
		t.Errorf("demo = %q", out.DemoURL())
	}
	if *in.Demo != demo {
		t.Error("input result was mutated")
	}

	other := newNormalizer().Result(&domain.ChatResult{ID: "claude-1", Provider: domain.ProviderClaude})
	if other.Demo != nil {
		t.Error("non-v0 demo should stay nil")
	}
}

// stallStream returns its chunks, then blocks until ctx is done.
type stallStream struct {
	ctx    context.Context
	chunks []domain.Chunk
	raw    bool
}

func (s *stallStream) Recv() (domain.Chunk, error) {
	if len(s.chunks) > 0 {
		c := s.chunks[0]
		s.chunks = s.chunks[1:]
		return c, nil
	}
	<-s.ctx.Done()
	return domain.Chunk{}, s.ctx.Err()
}

func (s *stallStream) Close() error      { return nil }
func (s *stallStream) Passthrough() bool { return s.raw }

func TestForward_DeadlineEndsStreamInBand(t *testing.T) {
	tests := []struct {
		name  string
		p     domain.ProviderID
		raw   bool
		first domain.Chunk
	}{
		{"tokens", domain.ProviderClaude, false, domain.Chunk{ChatID: "claude-1", Text: "partial"}},
		{"passthrough", domain.ProviderV0, true, domain.Chunk{Raw: []byte(`{"object":"chat","id":"chat_1"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			rec := httptest.NewRecorder()
			s := &stallStream{ctx: ctx, raw: tt.raw}
			_, err := newNormalizer().Forward(ctx, NewWriter(rec), tt.p, s, tt.first)
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("Forward() error = %v, want deadline exceeded", err)
			}

			got := frames(t, rec.Body.String())
			if len(got) < 3 {
				t.Fatalf("frames = %v", got)
			}
			ev := decode(t, got[len(got)-2])
			if ev.Type != domain.EventError || ev.Message != TimeoutMessage || ev.Provider != tt.p {
				t.Errorf("error frame = %+v", ev)
			}
			if got[len(got)-1] != "[DONE]" {
				t.Errorf("last frame = %q", got[len(got)-1])
			}
		})
	}
}

func TestForward_PassthroughKeepsFrameBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	frame := "event: message\nid: 7\ndata: {\"object\":\"message.delta\",\ndata: \"delta\":\"hi\"}\n\n"
	s := &providertest.SliceStream{Raw: true, Chunks: []domain.Chunk{{
		Raw:   []byte("{\"object\":\"message.delta\",\n\"delta\":\"hi\"}"),
		Frame: []byte(frame),
	}}}

	_, err := newNormalizer().Forward(context.Background(), NewWriter(rec), domain.ProviderV0, s,
		domain.Chunk{Raw: []byte(`{"object":"chat","id":"chat_1"}`)})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	body := rec.Body.String()
	first, rest, ok := strings.Cut(body, "\n\n")
	if !ok || !strings.HasPrefix(first, "data: {") {
		t.Fatalf("body = %q", body)
	}
	if rest != frame+"data: [DONE]\n\n" {
		t.Errorf("rest = %q", rest)
	}
}
