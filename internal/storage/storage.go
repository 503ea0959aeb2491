// Package storage defines the chat ownership records used for quota
// accounting, with SQL and in-memory implementations.
package storage

import (
	"context"
	"time"
)

// ChatOwnership maps a chat to the authenticated user who created it.
type ChatOwnership struct {
	ChatID       string    `db:"chat_id"`
	UserID       string    `db:"user_id"`
	Provider     string    `db:"provider"`
	PromptTokens int       `db:"prompt_tokens"`
	CreatedAt    time.Time `db:"created_at"`
}

// AnonymousChatLog records a chat created by an anonymous caller.
type AnonymousChatLog struct {
	ID           int64     `db:"id"`
	IPAddress    string    `db:"ip_address"`
	ChatID       string    `db:"chat_id"`
	Provider     string    `db:"provider"`
	PromptTokens int       `db:"prompt_tokens"`
	CreatedAt    time.Time `db:"created_at"`
}

// OwnershipStore persists ownership records and counts them over a window.
// A zero CreatedAt is set to the current time on insert.
type OwnershipStore interface {
	CreateChatOwnership(ctx context.Context, rec *ChatOwnership) error
	CreateAnonymousChatLog(ctx context.Context, rec *AnonymousChatLog) error

	// ChatCountByUserID counts chats created by userID in the last hours.
	ChatCountByUserID(ctx context.Context, userID string, hours int) (int, error)
	// ChatCountByIP counts anonymous chats from ip in the last hours.
	ChatCountByIP(ctx context.Context, ip string, hours int) (int, error)

	Close() error
}

// Since returns the start of a window of hours ending at now.
func Since(now time.Time, hours int) time.Time {
	return now.Add(-time.Duration(hours) * time.Hour)
}
