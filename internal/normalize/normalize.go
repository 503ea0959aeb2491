// Package normalize turns every vendor's output into one event sequence:
// a chat frame, message deltas, a completed frame and the [DONE] marker.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
	"github.com/kamesh6592-cell/v0-clone/internal/preview"
)

// Summary describes a forwarded stream.
type Summary struct {
	ChatID string
	Text   string
	Frames int
}

// Normalizer rewrites preview URLs and frames vendor output.
type Normalizer struct {
	rewriter *preview.Rewriter
}

func New(rw *preview.Rewriter) *Normalizer {
	return &Normalizer{rewriter: rw}
}

// Result prepares a non-streaming result for the caller. v0 preview URLs are
// rewritten; other vendors have no preview and keep demo null.
func (n *Normalizer) Result(res *domain.ChatResult) *domain.ChatResult {
	out := *res
	if out.Demo != nil {
		demo := n.rewriter.Rewrite(*out.Demo)
		out.Demo = &demo
	}
	return &out
}

// WriteResult emits a complete result as a single-delta event sequence.
func (n *Normalizer) WriteResult(w *Writer, res *domain.ChatResult) (Summary, error) {
	text := res.AssistantText()
	sum := Summary{ChatID: res.ID, Text: text}

	if err := w.Event(n.chatEvent(res.Provider, res.ID, res.DemoURL())); err != nil {
		return sum, err
	}
	if text != "" {
		if err := w.Event(domain.Event{Type: domain.EventMessageDelta, Text: text}); err != nil {
			return sum, err
		}
	}
	if err := w.Event(completed(text)); err != nil {
		return sum, err
	}
	err := w.Done()
	sum.Frames = w.Frames()
	return sum, err
}

// Forward copies s to w. first is the chunk already read from s by the caller.
//
// After the first frame is written the provider is locked in: an upstream
// error or an expired ctx deadline becomes an in-band error frame followed
// by [DONE], and is returned. A cancelled ctx stops forwarding without
// writing anything further.
func (n *Normalizer) Forward(ctx context.Context, w *Writer, p domain.ProviderID, s domain.Stream, first domain.Chunk) (Summary, error) {
	if pt, ok := s.(domain.Passthrough); ok && pt.Passthrough() {
		return n.passthrough(ctx, w, p, s, first)
	}
	return n.tokens(ctx, w, p, s, first)
}

func (n *Normalizer) tokens(ctx context.Context, w *Writer, p domain.ProviderID, s domain.Stream, first domain.Chunk) (Summary, error) {
	sum := Summary{ChatID: first.ChatID}
	var text strings.Builder
	defer func() {
		sum.Text = text.String()
		sum.Frames = w.Frames()
	}()

	if err := w.Event(n.chatEvent(p, first.ChatID, first.DemoURL)); err != nil {
		return sum, err
	}

	chunk := first
	for {
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if err := w.Event(domain.Event{Type: domain.EventMessageDelta, Text: chunk.Text}); err != nil {
				return sum, err
			}
		}

		if err := ctx.Err(); err != nil {
			return sum, n.fail(ctx, w, p, err)
		}

		var err error
		chunk, err = s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, n.fail(ctx, w, p, err)
		}
	}

	if err := w.Event(completed(text.String())); err != nil {
		return sum, err
	}
	return sum, w.Done()
}

func (n *Normalizer) passthrough(ctx context.Context, w *Writer, p domain.ProviderID, s domain.Stream, first domain.Chunk) (Summary, error) {
	var sum Summary
	defer func() {
		sum.Frames = w.Frames()
	}()

	frame, chatID, ok := n.envelope(p, first.Raw)
	sum.ChatID = chatID
	var err error
	if ok {
		err = w.Data(frame)
	} else {
		err = writeVerbatim(w, first)
	}
	if err != nil {
		return sum, err
	}
	if bytes.Equal(first.Raw, doneFrame) {
		return sum, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return sum, n.fail(ctx, w, p, err)
		}

		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sum, w.Done()
		}
		if err != nil {
			return sum, n.fail(ctx, w, p, err)
		}

		if err := writeVerbatim(w, chunk); err != nil {
			return sum, err
		}
		if bytes.Equal(chunk.Raw, doneFrame) {
			return sum, nil
		}
	}
}

// writeVerbatim copies an upstream frame as received. Streams that only
// expose the data payload are re-framed.
func writeVerbatim(w *Writer, c domain.Chunk) error {
	if len(c.Frame) > 0 {
		return w.Frame(c.Frame)
	}
	return w.Data(c.Raw)
}

// envelope rebuilds the first v0 frame as a typed chat event carrying the
// original payload. ok is false for frames that are not JSON objects.
func (n *Normalizer) envelope(p domain.ProviderID, raw []byte) ([]byte, string, bool) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return nil, "", false
	}
	n.rewriteURLs(payload)

	id, _ := payload["id"].(string)
	demo, _ := payload["demo"].(string)
	if demo == "" {
		demo, _ = payload["demoUrl"].(string)
	}

	out, err := json.Marshal(struct {
		domain.Event
		Upstream map[string]any `json:"upstream"`
	}{
		Event:    domain.Event{Type: domain.EventChatStarted, ID: id, DemoURL: demo, Provider: p},
		Upstream: payload,
	})
	if err != nil {
		return nil, id, false
	}
	return out, id, true
}

// rewriteURLs rewrites every string value in v that is a preview URL.
func (n *Normalizer) rewriteURLs(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if s, ok := val.(string); ok {
				t[k] = n.rewriteString(s)
				continue
			}
			n.rewriteURLs(val)
		}
	case []any:
		for i, val := range t {
			if s, ok := val.(string); ok {
				t[i] = n.rewriteString(s)
				continue
			}
			n.rewriteURLs(val)
		}
	}
}

func (n *Normalizer) rewriteString(s string) string {
	if !strings.HasPrefix(s, "https://") && !strings.HasPrefix(s, "http://") {
		return s
	}
	return n.rewriter.Rewrite(s)
}

func (n *Normalizer) chatEvent(p domain.ProviderID, chatID, demoURL string) domain.Event {
	switch {
	case demoURL != "":
		demoURL = n.rewriter.Rewrite(demoURL)
	case p != domain.ProviderV0 && chatID != "":
		demoURL = n.rewriter.PreviewURL(chatID)
	}
	return domain.Event{
		Type:     domain.EventChatStarted,
		ID:       chatID,
		DemoURL:  demoURL,
		Provider: p,
	}
}

// TimeoutMessage is sent in-band when the request deadline ends a stream.
const TimeoutMessage = "Request timed out before the response completed"

// fail reports a post-commit upstream error in-band and terminates the
// stream. Only a cancelled ctx, meaning the caller went away, writes nothing;
// a deadline still leaves the connection open.
func (n *Normalizer) fail(ctx context.Context, w *Writer, p domain.ProviderID, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	msg := err.Error()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = TimeoutMessage
	} else if f, ok := domain.AsProviderFailure(err); ok {
		msg = f.Message
	}
	if werr := w.Event(ErrorEvent(p, msg)); werr != nil {
		return errors.Join(err, werr)
	}
	if werr := w.Done(); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

func completed(text string) domain.Event {
	return domain.Event{
		Type:     domain.EventMessageCompleted,
		ID:       "msg-" + uuid.NewString(),
		Role:     domain.RoleAssistant,
		FullText: text,
	}
}
