// Package domain holds the request, result and event types shared by the
// provider adapters, the normalizer and the failover orchestrator.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProviderID names an upstream LLM vendor.
type ProviderID string

const (
	ProviderV0       ProviderID = "v0"
	ProviderClaude   ProviderID = "claude"
	ProviderGrok     ProviderID = "grok"
	ProviderDeepSeek ProviderID = "deepseek"
)

// PriorityOrder is the fixed failover order. v0 is primary; the rest are overflow capacity.
var PriorityOrder = []ProviderID{ProviderV0, ProviderClaude, ProviderGrok, ProviderDeepSeek}

// ParseProviderID validates a provider name. An empty name selects v0.
func ParseProviderID(s string) (ProviderID, error) {
	if s == "" {
		return ProviderV0, nil
	}
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, p := range PriorityOrder {
		if p == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

func (p ProviderID) String() string {
	return string(p)
}

// ProviderSet is the set of providers already dispatched within one request chain.
type ProviderSet map[ProviderID]struct{}

// Add marks p as attempted.
func (s ProviderSet) Add(p ProviderID) {
	s[p] = struct{}{}
}

// Has reports whether p was attempted.
func (s ProviderSet) Has(p ProviderID) bool {
	_, ok := s[p]
	return ok
}

// List returns the attempted providers in priority order.
func (s ProviderSet) List() []ProviderID {
	out := make([]ProviderID, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return priorityIndex(out[i]) < priorityIndex(out[j])
	})
	return out
}

func priorityIndex(p ProviderID) int {
	for i, id := range PriorityOrder {
		if id == p {
			return i
		}
	}
	return len(PriorityOrder)
}

// Attachment is a file reference sent alongside the prompt.
type Attachment struct {
	URL string `json:"url"`
}

// ChatRequest is the per-call request. Only Provider and Attempted change,
// and only when the orchestrator re-dispatches.
type ChatRequest struct {
	Message     string       `json:"message"`
	ChatID      string       `json:"chatId,omitempty"`
	Streaming   bool         `json:"streaming,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ProjectID   string       `json:"projectId,omitempty"`
	Provider    ProviderID   `json:"provider,omitempty"`

	// Attempted is internal state; it is never read from the wire.
	Attempted ProviderSet `json:"-"`

	// UserAgent is forwarded to vendors that accept it.
	UserAgent string `json:"-"`
}

// IsNewChat reports whether the request starts a conversation rather than continuing one.
func (r *ChatRequest) IsNewChat() bool {
	return r.ChatID == ""
}

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart mirrors v0's experimental_content blocks.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ChatMessage is one entry in a ChatResult.
type ChatMessage struct {
	ID                  string        `json:"id"`
	Role                Role          `json:"role"`
	Content             string        `json:"content"`
	Timestamp           time.Time     `json:"timestamp"`
	ExperimentalContent []ContentPart `json:"experimental_content,omitempty"`
}

// ChatResult is the non-streaming response shape.
type ChatResult struct {
	ID       string        `json:"id"`
	Demo     *string       `json:"demo"`
	Messages []ChatMessage `json:"messages"`
	Provider ProviderID    `json:"provider"`
}

// DemoURL returns the preview URL or "" when absent.
func (r *ChatResult) DemoURL() string {
	if r.Demo == nil {
		return ""
	}
	return *r.Demo
}

// AssistantText returns the content of the last assistant message.
func (r *ChatResult) AssistantText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleAssistant {
			return r.Messages[i].Content
		}
	}
	return ""
}
