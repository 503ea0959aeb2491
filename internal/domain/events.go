package domain

// EventType discriminates NormalizedChatEvent frames.
type EventType string

const (
	EventChatStarted      EventType = "chat"
	EventMessageDelta     EventType = "message.delta"
	EventMessageCompleted EventType = "message.completed"
	EventError            EventType = "error"
)

// Event is a normalized chat event as written to the SSE stream.
// The stream-end marker is not an Event; it is the literal [DONE] frame.
type Event struct {
	Type     EventType  `json:"type"`
	ID       string     `json:"id,omitempty"`
	DemoURL  string     `json:"demoUrl,omitempty"`
	Provider ProviderID `json:"provider,omitempty"`
	Role     Role       `json:"role,omitempty"`
	Text     string     `json:"text,omitempty"`
	FullText string     `json:"fullText,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// Chunk is one unit read from an upstream stream.
//
// Token-streaming vendors fill Text. Pass-through vendors fill Raw with the
// data payload of one SSE frame and Frame with the whole frame (every field
// line and the terminating blank line) exactly as received.
type Chunk struct {
	ChatID  string
	DemoURL string
	Text    string
	Raw     []byte
	Frame   []byte
}

// Stream is an open upstream response. Recv returns io.EOF after the last chunk.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Passthrough is implemented by streams whose frames are forwarded verbatim.
type Passthrough interface {
	Passthrough() bool
}
