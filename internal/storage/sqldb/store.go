// Package sqldb implements storage.OwnershipStore on SQLite via sqlx.
package sqldb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/kamesh6592-cell/v0-clone/internal/storage"
)

// Store is a SQL implementation of storage.OwnershipStore.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.OwnershipStore = (*Store)(nil)

// NewSQLite opens (and creates, if needed) the database at dsn.
func NewSQLite(dsn string) (*Store, error) {
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chat_ownerships (
			chat_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS anonymous_chat_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ip_address TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_ownerships_user ON chat_ownerships(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anonymous_chat_logs_ip ON anonymous_chat_logs(ip_address, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateChatOwnership(ctx context.Context, rec *storage.ChatOwnership) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO chat_ownerships (chat_id, user_id, provider, prompt_tokens, created_at)
		VALUES (:chat_id, :user_id, :provider, :prompt_tokens, :created_at)
		ON CONFLICT(chat_id) DO NOTHING`, rec)
	if err != nil {
		return fmt.Errorf("failed to create chat ownership: %w", err)
	}
	return nil
}

func (s *Store) CreateAnonymousChatLog(ctx context.Context, rec *storage.AnonymousChatLog) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	res, err := s.db.NamedExecContext(ctx, `INSERT INTO anonymous_chat_logs (ip_address, chat_id, provider, prompt_tokens, created_at)
		VALUES (:ip_address, :chat_id, :provider, :prompt_tokens, :created_at)`, rec)
	if err != nil {
		return fmt.Errorf("failed to create anonymous chat log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *Store) ChatCountByUserID(ctx context.Context, userID string, hours int) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM chat_ownerships WHERE user_id = ? AND created_at >= ?`,
		userID, storage.Since(s.now(), hours).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count chats for user: %w", err)
	}
	return count, nil
}

func (s *Store) ChatCountByIP(ctx context.Context, ip string, hours int) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM anonymous_chat_logs WHERE ip_address = ? AND created_at >= ?`,
		ip, storage.Since(s.now(), hours).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count chats for ip: %w", err)
	}
	return count, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
