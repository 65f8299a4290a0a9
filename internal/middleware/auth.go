package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/opina/server/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// TokenVerifier parses a bearer credential
type TokenVerifier interface {
	VerifyToken(token string) (*auth.JWTClaims, error)
}

// Authenticate rejects requests without a valid bearer token and attaches
// the caller identity to the context
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "Token manquant")
				return
			}

			claims, err := verifier.VerifyToken(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "Token invalide")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Identity())))
		})
	}
}

// OptionalAuthenticate attaches the caller identity when a valid token is
// present and never blocks the request
func OptionalAuthenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenString, ok := bearerToken(r); ok {
				if claims, err := verifier.VerifyToken(tokenString); err == nil {
					r = r.WithContext(WithIdentity(r.Context(), claims.Identity()))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin only lets administrators through. Must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r.Context())
		if !ok || !id.IsAdmin {
			respondWithError(w, http.StatusForbidden, "Accès refusé. Droits administrateur requis.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSuperAdmin only lets super administrators through. Must run after Authenticate.
func RequireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r.Context())
		if !ok || !id.IsSuperAdmin {
			respondWithError(w, http.StatusForbidden, "Accès refusé. Droits super administrateur requis.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithIdentity returns a context carrying the caller identity
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller identity attached by the auth middlewares
func GetIdentity(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"erreur": message}
	_ = json.NewEncoder(w).Encode(response)
}
