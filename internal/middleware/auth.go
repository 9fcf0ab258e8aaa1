package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const (
	EditorKey  contextKey = "editor"
	AuditorKey contextKey = "auditor"
)

// Credential maps an API key to the editor identity it authenticates and
// whether that editor holds the auditor role. Auditor-only endpoints are
// the modification ledger writes.
type Credential struct {
	EditorID string
	Auditor  bool
}

// APIKeyAuth validates API key from Authorization header
func APIKeyAuth(keys map[string]Credential) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health check
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			// Support both "Bearer <key>" and "<key>" formats
			apiKey := strings.TrimPrefix(auth, "Bearer ")
			apiKey = strings.TrimSpace(apiKey)

			if apiKey == "" {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			// Constant-time comparison to prevent timing attacks
			var cred Credential
			valid := false
			for key, c := range keys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					valid = true
					cred = c
					break
				}
			}

			if !valid {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), EditorKey, cred.EditorID)
			ctx = context.WithValue(ctx, AuditorKey, cred.Auditor)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetEditorFromContext extracts the authenticated editor id from context
func GetEditorFromContext(ctx context.Context) string {
	if editor, ok := ctx.Value(EditorKey).(string); ok {
		return editor
	}
	return ""
}

// IsAuditor reports whether the authenticated editor holds the auditor role
func IsAuditor(ctx context.Context) bool {
	auditor, ok := ctx.Value(AuditorKey).(bool)
	return ok && auditor
}

// RequireAuditor rejects requests whose credential lacks the auditor role
func RequireAuditor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAuditor(r.Context()) {
			http.Error(w, "auditor role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
