package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

// SystemPrompt instructs every vendor to behave as a React code generator.
const SystemPrompt = "You are an expert React developer. Generate React components and applications " +
	"based on user requests. Focus on creating clean, modern, and functional code using React " +
	"best practices, TypeScript, and Tailwind CSS."

// UserPrompt renders the user turn for vendors without native attachment
// support. Attachments are listed by URL after the message.
func UserPrompt(req *domain.ChatRequest) string {
	if len(req.Attachments) == 0 {
		return req.Message
	}

	var b strings.Builder
	b.WriteString(req.Message)
	b.WriteString("\n\nAttachments:")
	for _, a := range req.Attachments {
		fmt.Fprintf(&b, "\n- %s", a.URL)
	}
	return b.String()
}

// ChatID returns the id for a non-v0 chat: the caller's chatId when
// continuing, otherwise "<provider>-<uuid>".
func ChatID(p domain.ProviderID, req *domain.ChatRequest) string {
	if req.ChatID != "" {
		return req.ChatID
	}
	return fmt.Sprintf("%s-%s", p, uuid.NewString())
}

// NewResult builds the two-message result for vendors that only return text.
func NewResult(p domain.ProviderID, req *domain.ChatRequest, chatID, text string) *domain.ChatResult {
	now := time.Now().UTC()
	return &domain.ChatResult{
		ID:       chatID,
		Provider: p,
		Messages: []domain.ChatMessage{
			{
				ID:        "msg-" + uuid.NewString(),
				Role:      domain.RoleUser,
				Content:   req.Message,
				Timestamp: now,
			},
			{
				ID:                  "msg-" + uuid.NewString(),
				Role:                domain.RoleAssistant,
				Content:             text,
				Timestamp:           now,
				ExperimentalContent: []domain.ContentPart{{Type: "text", Text: text}},
			},
		},
	}
}
