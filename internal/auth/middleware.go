// Package auth guards the admin API with a single bearer credential.
package auth

import (
	"context"
	"net/http"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// ContextKeyActor is the context key for the authenticated principal.
const ContextKeyActor contextKey = "actor"

// ActorAdmin identifies requests authenticated with the admin credential.
const ActorAdmin = "admin"

// Authenticator checks bearer tokens against the configured admin credential.
// When a bcrypt hash is configured it is used instead of the plain key.
type Authenticator struct {
	adminKey     string
	adminKeyHash string
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(adminKey, adminKeyHash string) *Authenticator {
	return &Authenticator{adminKey: adminKey, adminKeyHash: adminKeyHash}
}

// AuthResult contains the result of an authentication attempt
type AuthResult struct {
	Authenticated bool
	Status        int // HTTP status to answer with when not authenticated
	Error         string
}

// Authenticate checks the Authorization header value.
// A missing token yields 401, a wrong one 403.
func (a *Authenticator) Authenticate(authHeader string) AuthResult {
	token := ExtractBearerToken(authHeader)
	if token == "" {
		return AuthResult{Status: http.StatusUnauthorized, Error: "missing bearer token"}
	}

	var ok bool
	switch {
	case a.adminKeyHash != "":
		ok = VerifyAPIKey(token, a.adminKeyHash)
	case a.adminKey != "":
		ok = VerifyAPIKeyConstantTime(token, a.adminKey)
	}
	if !ok {
		return AuthResult{Status: http.StatusForbidden, Error: "invalid token"}
	}
	return AuthResult{Authenticated: true, Status: http.StatusOK}
}

// ErrorWriter renders an authentication failure.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, status int, message string)

// RequireAdmin is a middleware that rejects requests without the admin
// credential. Failures are rendered by onError, or http.Error when nil.
func (a *Authenticator) RequireAdmin(onError ErrorWriter) func(http.Handler) http.Handler {
	if onError == nil {
		onError = func(w http.ResponseWriter, _ *http.Request, status int, message string) {
			http.Error(w, message, status)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := a.Authenticate(r.Header.Get("Authorization"))
			if !result.Authenticated {
				onError(w, r, result.Status, result.Error)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyActor, ActorAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns the authenticated principal, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(string)
	return actor, ok
}
