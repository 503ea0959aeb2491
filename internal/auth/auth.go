// Package auth maps API keys to users. Callers without a key are anonymous.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/kamesh6592-cell/v0-clone/internal/config"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrMalformedAuth = errors.New("invalid Authorization header format")
)

type keyEntry struct {
	hash string
	user *domain.User
}

// Authenticator validates API keys against configured SHA-256 hashes.
type Authenticator struct {
	mu   sync.RWMutex
	keys map[string]keyEntry // keyhash -> user
}

// NewAuthenticator creates an authenticator for keys.
func NewAuthenticator(keys []config.APIKeyConfig) *Authenticator {
	a := &Authenticator{}
	a.Update(keys)
	return a
}

// Update replaces the key set. Safe to call while serving.
func (a *Authenticator) Update(keys []config.APIKeyConfig) {
	m := make(map[string]keyEntry, len(keys))
	for _, k := range keys {
		userType := domain.UserType(k.UserType)
		if userType == "" {
			userType = domain.UserTypeRegular
		}
		hash := strings.ToLower(k.KeyHash)
		m[hash] = keyEntry{hash: hash, user: &domain.User{ID: k.UserID, Type: userType}}
	}

	a.mu.Lock()
	a.keys = m
	a.mu.Unlock()
}

// ValidateAPIKey returns the user owning apiKey.
func (a *Authenticator) ValidateAPIKey(apiKey string) (*domain.User, error) {
	keyHash := HashAPIKey(apiKey)

	a.mu.RLock()
	entry, ok := a.keys[keyHash]
	a.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(entry.hash)) != 1 {
		return nil, ErrInvalidAPIKey
	}
	return entry.user, nil
}

// ExtractAPIKey returns the bearer token, or "" when no Authorization header is present.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}

	scheme, key, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(key) == "" {
		return "", ErrMalformedAuth
	}
	return strings.TrimSpace(key), nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}

type userKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the authenticated user, or nil for anonymous callers.
func UserFrom(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey{}).(*domain.User)
	return u
}
