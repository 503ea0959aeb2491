// Package v0 is a small client for the v0 Platform API chat endpoints.
package v0

import (
	"encoding/json"
	"fmt"
)

// Response modes accepted by the chat endpoints.
const (
	ResponseModeSync   = "sync"
	ResponseModeStream = "experimental_stream"
)

// Attachment references a file by URL.
type Attachment struct {
	URL string `json:"url"`
}

// CreateChatRequest starts a new chat.
type CreateChatRequest struct {
	Message      string       `json:"message"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	ResponseMode string       `json:"responseMode,omitempty"`
	ProjectID    string       `json:"projectId,omitempty"`
	System       string       `json:"system,omitempty"`
}

// SendMessageRequest continues an existing chat.
type SendMessageRequest struct {
	Message      string       `json:"message"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	ResponseMode string       `json:"responseMode,omitempty"`
}

// ChatDetail is the sync response for both endpoints.
type ChatDetail struct {
	ID       string    `json:"id"`
	Object   string    `json:"object,omitempty"`
	WebURL   string    `json:"webUrl,omitempty"`
	Demo     *string   `json:"demo,omitempty"`
	Messages []Message `json:"messages"`
}

// Message is a chat message as returned by v0.
type Message struct {
	ID                  string          `json:"id"`
	Object              string          `json:"object,omitempty"`
	Role                string          `json:"role"`
	Content             string          `json:"content"`
	CreatedAt           string          `json:"createdAt,omitempty"`
	ExperimentalContent json.RawMessage `json:"experimental_content,omitempty"`
}

// ErrorResponse wraps an error payload.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError is a non-2xx response from v0.
type APIError struct {
	Type       string `json:"type,omitempty"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("v0 API error (HTTP %d, %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("v0 API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// ParseErrorResponse builds an APIError from a response body. Bodies that are
// not the JSON error envelope become the message verbatim.
func ParseErrorResponse(status int, data []byte) *APIError {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != nil {
		errResp.Error.StatusCode = status
		return errResp.Error
	}
	return &APIError{Message: string(data), StatusCode: status}
}
