package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/kamesh6592-cell/v0-clone/internal/config"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

func TestHashAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		expected string
	}{
		{
			name:     "simple key",
			apiKey:   "test-key-123",
			expected: "625faa3fbbc3d2bd9d6ee7678d04cc5339cb33dc68d9b58451853d60046e226a",
		},
		{
			name:     "empty key",
			apiKey:   "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if hash := HashAPIKey(tt.apiKey); hash != tt.expected {
				t.Errorf("HashAPIKey() = %v, want %v", hash, tt.expected)
			}
		})
	}
}

func TestAuthenticator_ValidateAPIKey(t *testing.T) {
	a := NewAuthenticator([]config.APIKeyConfig{
		{KeyHash: HashAPIKey("valid-key-1"), UserID: "user-1", UserType: "guest"},
		{KeyHash: HashAPIKey("valid-key-2"), UserID: "user-2"},
	})

	tests := []struct {
		name     string
		key      string
		wantID   string
		wantType domain.UserType
		wantErr  bool
	}{
		{"guest key", "valid-key-1", "user-1", domain.UserTypeGuest, false},
		{"default type", "valid-key-2", "user-2", domain.UserTypeRegular, false},
		{"unknown key", "nope", "", "", true},
		{"empty key", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := a.ValidateAPIKey(tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAPIKey) {
					t.Errorf("ValidateAPIKey() error = %v, want ErrInvalidAPIKey", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateAPIKey() error = %v", err)
			}
			if u.ID != tt.wantID || u.Type != tt.wantType {
				t.Errorf("user = %+v", u)
			}
		})
	}
}

func TestAuthenticator_Update(t *testing.T) {
	a := NewAuthenticator(nil)
	if _, err := a.ValidateAPIKey("k"); err == nil {
		t.Fatal("expected error before update")
	}

	a.Update([]config.APIKeyConfig{{KeyHash: HashAPIKey("k"), UserID: "u"}})
	if _, err := a.ValidateAPIKey("k"); err != nil {
		t.Errorf("ValidateAPIKey() after update error = %v", err)
	}
}

func TestExtractAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"missing", "", "", false},
		{"bearer", "Bearer abc", "abc", false},
		{"lowercase scheme", "bearer abc", "abc", false},
		{"basic", "Basic abc", "", true},
		{"no token", "Bearer ", "", true},
		{"no scheme", "abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodPost, "/api/chat", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractAPIKey(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUserContext(t *testing.T) {
	if UserFrom(context.Background()) != nil {
		t.Error("expected nil user")
	}
	u := &domain.User{ID: "u1"}
	if got := UserFrom(WithUser(context.Background(), u)); got != u {
		t.Errorf("UserFrom() = %v", got)
	}
}
