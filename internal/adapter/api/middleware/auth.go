package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/auth"
)

const APIKeyHeader = "X-API-Key"

type contextKey string

const (
	organizationKey contextKey = "organization_id"
	serviceKey      contextKey = "service"
)

// OrganizationFromContext returns the organization a service token pinned the request to.
func OrganizationFromContext(ctx context.Context) (string, bool) {
	org, ok := ctx.Value(organizationKey).(string)
	return org, ok && org != ""
}

// ServiceFromContext returns the producer service named in the request's token.
func ServiceFromContext(ctx context.Context) (string, bool) {
	svc, ok := ctx.Value(serviceKey).(string)
	return svc, ok && svc != ""
}

// Auth is a middleware factory that authenticates producers with either an
// X-API-Key header checked against repo, or an "Authorization: Bearer" service
// token signed with jwtSecret. Either mechanism is disabled when its
// dependency is nil or empty.
func Auth(repo domain.APIKeyRepository, jwtSecret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := bearerToken(r); ok {
				if jwtSecret == "" {
					http.Error(w, "Unauthorized: service tokens are not accepted", http.StatusUnauthorized)
					return
				}
				claims, err := auth.ValidateToken(token, jwtSecret)
				if err != nil {
					logger.Warn("invalid service token", "remote_addr", r.RemoteAddr, "error", err)
					http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
					return
				}
				ctx := context.WithValue(r.Context(), serviceKey, claims.Service)
				ctx = context.WithValue(ctx, organizationKey, claims.OrganizationID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				logger.Warn("credentials missing from request", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: API key or service token required", http.StatusUnauthorized)
				return
			}
			if repo == nil {
				http.Error(w, "Unauthorized: API keys are not accepted", http.StatusUnauthorized)
				return
			}

			isValid, err := repo.IsValid(r.Context(), apiKey)
			if err != nil {
				logger.Error("failed to validate API key", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if !isValid {
				logger.Warn("invalid API key provided", "remote_addr", r.RemoteAddr)
				http.Error(w, "Unauthorized: Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
