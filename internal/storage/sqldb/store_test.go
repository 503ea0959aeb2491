package sqldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kamesh6592-cell/v0-clone/internal/storage"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	store, err := NewSQLite("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_ChatOwnershipCount(t *testing.T) {
	store := newTestStore(t, "ownership1")
	ctx := context.Background()
	now := time.Now().UTC()

	records := []*storage.ChatOwnership{
		{ChatID: "chat-1", UserID: "user-1", Provider: "v0", PromptTokens: 12},
		{ChatID: "chat-2", UserID: "user-1", Provider: "claude"},
		{ChatID: "chat-3", UserID: "user-1", Provider: "v0", CreatedAt: now.Add(-30 * time.Hour)},
		{ChatID: "chat-4", UserID: "user-2", Provider: "grok"},
	}
	for _, rec := range records {
		if err := store.CreateChatOwnership(ctx, rec); err != nil {
			t.Fatalf("CreateChatOwnership() error = %v", err)
		}
	}

	count, err := store.ChatCountByUserID(ctx, "user-1", 24)
	if err != nil {
		t.Fatalf("ChatCountByUserID() error = %v", err)
	}
	if count != 2 {
		t.Errorf("ChatCountByUserID(user-1, 24) = %d, want 2", count)
	}

	count, _ = store.ChatCountByUserID(ctx, "user-1", 48)
	if count != 3 {
		t.Errorf("ChatCountByUserID(user-1, 48) = %d, want 3", count)
	}

	count, _ = store.ChatCountByUserID(ctx, "nobody", 24)
	if count != 0 {
		t.Errorf("ChatCountByUserID(nobody) = %d, want 0", count)
	}
}

func TestStore_ChatOwnershipDuplicateIgnored(t *testing.T) {
	store := newTestStore(t, "ownership2")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.CreateChatOwnership(ctx, &storage.ChatOwnership{ChatID: "chat-1", UserID: "user-1"}); err != nil {
			t.Fatalf("CreateChatOwnership() #%d error = %v", i, err)
		}
	}

	count, _ := store.ChatCountByUserID(ctx, "user-1", 24)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestStore_AnonymousChatLog(t *testing.T) {
	store := newTestStore(t, "anon1")
	ctx := context.Background()

	rec := &storage.AnonymousChatLog{IPAddress: "203.0.113.7", ChatID: "chat-1", Provider: "v0"}
	if err := store.CreateAnonymousChatLog(ctx, rec); err != nil {
		t.Fatalf("CreateAnonymousChatLog() error = %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected generated id")
	}
	// Anonymous logs are not unique per chat.
	if err := store.CreateAnonymousChatLog(ctx, &storage.AnonymousChatLog{IPAddress: "203.0.113.7", ChatID: "chat-1"}); err != nil {
		t.Fatalf("CreateAnonymousChatLog() error = %v", err)
	}
	if err := store.CreateAnonymousChatLog(ctx, &storage.AnonymousChatLog{
		IPAddress: "203.0.113.7",
		ChatID:    "chat-old",
		CreatedAt: time.Now().UTC().Add(-25 * time.Hour),
	}); err != nil {
		t.Fatalf("CreateAnonymousChatLog() error = %v", err)
	}

	count, err := store.ChatCountByIP(ctx, "203.0.113.7", 24)
	if err != nil {
		t.Fatalf("ChatCountByIP() error = %v", err)
	}
	if count != 2 {
		t.Errorf("ChatCountByIP() = %d, want 2", count)
	}

	count, _ = store.ChatCountByIP(ctx, "198.51.100.1", 24)
	if count != 0 {
		t.Errorf("ChatCountByIP(other) = %d, want 0", count)
	}
}

func TestNewSQLite_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "studioz.db")
	store, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	if err := store.CreateChatOwnership(context.Background(), &storage.ChatOwnership{ChatID: "c", UserID: "u"}); err != nil {
		t.Errorf("CreateChatOwnership() error = %v", err)
	}
}
