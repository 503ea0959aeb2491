// Package memory is an in-process storage.OwnershipStore for tests and
// single-instance deployments that do not need persistence.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kamesh6592-cell/v0-clone/internal/storage"
)

// Store is an in-memory implementation of storage.OwnershipStore.
type Store struct {
	mu         sync.RWMutex
	ownerships map[string]storage.ChatOwnership
	anonymous  []storage.AnonymousChatLog
	nextID     int64
}

var _ storage.OwnershipStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		ownerships: make(map[string]storage.ChatOwnership),
	}
}

func (s *Store) CreateChatOwnership(ctx context.Context, rec *storage.ChatOwnership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.ownerships[rec.ChatID]; !exists {
		s.ownerships[rec.ChatID] = *rec
	}
	return nil
}

func (s *Store) CreateAnonymousChatLog(ctx context.Context, rec *storage.AnonymousChatLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.nextID++
	rec.ID = s.nextID
	s.anonymous = append(s.anonymous, *rec)
	return nil
}

func (s *Store) ChatCountByUserID(ctx context.Context, userID string, hours int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := storage.Since(time.Now(), hours)
	count := 0
	for _, rec := range s.ownerships {
		if rec.UserID == userID && !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) ChatCountByIP(ctx context.Context, ip string, hours int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := storage.Since(time.Now(), hours)
	count := 0
	for _, rec := range s.anonymous {
		if rec.IPAddress == ip && !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) Close() error {
	return nil
}
