package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/tandem/pkg/models"
)

// TokenQueryParam carries the handshake token of browser WebSocket clients,
// which cannot set an Authorization header.
const TokenQueryParam = "token"

// TokenFromRequest extracts a bearer credential from the handshake query,
// the Authorization header or an API key header, in that order.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); token != "" {
		return token
	}
	if token := extractBearer(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return extractAPIKey(r.Header)
}

// HTTPMiddleware enforces JWT/API key auth for REST handlers and attaches the
// authenticated user to the request context. When auth is disabled requests
// pass through untouched.
func HTTPMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			token := TokenFromRequest(r)
			if token == "" {
				writeUnauthorized(w, "missing credentials")
				return
			}
			user, err := service.Authenticate(token)
			if err != nil {
				logger.Warn("http auth failed", "path", r.URL.Path, "error", err)
				writeUnauthorized(w, "invalid credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

type userContextKey struct{}

// WithUser attaches the authenticated user to ctx. REST handlers read it to
// stamp updated_by on saves.
func WithUser(ctx context.Context, user *models.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user attached by HTTPMiddleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*models.User)
	return user, ok && user != nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tandem"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`)) //nolint:errcheck
}

func extractBearer(value string) string {
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}

func extractAPIKey(header http.Header) string {
	for _, key := range []string{"X-API-Key", "Api-Key"} {
		if trimmed := strings.TrimSpace(header.Get(key)); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
