package normalize

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

var doneFrame = []byte("[DONE]")

// SetHeaders sets the event-stream response headers.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// Writer writes `data: <payload>\n\n` frames and flushes after each one.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	frames  int
}

func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// Data writes one frame.
func (w *Writer) Data(payload []byte) error {
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.frames++
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Frame writes an already framed event unchanged. raw must end with the
// blank line that terminates an SSE frame.
func (w *Writer) Frame(raw []byte) error {
	if _, err := w.w.Write(raw); err != nil {
		return err
	}
	w.frames++
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Event writes ev as a JSON frame.
func (w *Writer) Event(ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return w.Data(data)
}

// Done writes the stream-end marker.
func (w *Writer) Done() error {
	return w.Data(doneFrame)
}

// Frames is the number of frames written so far. Zero means nothing is committed.
func (w *Writer) Frames() int {
	return w.frames
}

// ErrorEvent builds the in-band failure frame sent after the stream is committed.
func ErrorEvent(p domain.ProviderID, msg string) domain.Event {
	return domain.Event{Type: domain.EventError, Provider: p, Message: msg}
}
