package server

import (
	"net/http"

	"github.com/kamesh6592-cell/v0-clone/internal/auth"
	"github.com/kamesh6592-cell/v0-clone/internal/codec"
	"github.com/kamesh6592-cell/v0-clone/internal/domain"
)

// AuthMiddleware resolves a bearer API key to a user. Requests without an
// Authorization header continue anonymously; a malformed or unknown key is
// rejected with 401. A nil authenticator disables the check.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if authenticator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, err := auth.ExtractAPIKey(r)
			if err != nil {
				AddError(r.Context(), err)
				codec.WriteError(w, domain.ErrAuthentication("Malformed Authorization header"))
				return
			}
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := authenticator.ValidateAPIKey(apiKey)
			if err != nil {
				AddError(r.Context(), err)
				codec.WriteError(w, domain.ErrAuthentication("Invalid API key"))
				return
			}

			AddLogField(r.Context(), "user_id", user.ID)
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	}
}
