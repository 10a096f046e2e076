package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/domain/mocks"
	"github.com/V4T54L/siem-forwarder/internal/pkg/auth"
)

func TestAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &mocks.MockAPIKeyRepository{Valid: map[string]bool{"good": true}}
	pinned, _ := auth.GenerateToken("dlp-scanner", "org-7", "jwt-secret", time.Hour)
	unpinned, _ := auth.GenerateToken("dlp-scanner", "", "jwt-secret", time.Hour)

	tests := []struct {
		name       string
		repo       *mocks.MockAPIKeyRepository
		secret     string
		headers    map[string]string
		wantStatus int
		wantOrg    string
	}{
		{"valid API key", repo, "jwt-secret", map[string]string{APIKeyHeader: "good"}, http.StatusOK, ""},
		{"invalid API key", repo, "jwt-secret", map[string]string{APIKeyHeader: "bad"}, http.StatusUnauthorized, ""},
		{"missing credentials", repo, "jwt-secret", nil, http.StatusUnauthorized, ""},
		{"repository error", &mocks.MockAPIKeyRepository{Err: errors.New("db down")}, "", map[string]string{APIKeyHeader: "good"}, http.StatusInternalServerError, ""},
		{"API keys disabled", nil, "jwt-secret", map[string]string{APIKeyHeader: "good"}, http.StatusUnauthorized, ""},
		{"token pins organization", repo, "jwt-secret", map[string]string{"Authorization": "Bearer " + pinned}, http.StatusOK, "org-7"},
		{"token without organization", repo, "jwt-secret", map[string]string{"Authorization": "bearer " + unpinned}, http.StatusOK, ""},
		{"token wrong secret", repo, "other", map[string]string{"Authorization": "Bearer " + pinned}, http.StatusUnauthorized, ""},
		{"tokens disabled", repo, "", map[string]string{"Authorization": "Bearer " + pinned}, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOrg string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotOrg, _ = OrganizationFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			var h http.Handler
			if tt.repo == nil {
				h = Auth(nil, tt.secret, logger)(next)
			} else {
				h = Auth(tt.repo, tt.secret, logger)(next)
			}

			req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if gotOrg != tt.wantOrg {
				t.Errorf("organization = %q, want %q", gotOrg, tt.wantOrg)
			}
		})
	}
}

func TestOrganizationFromContext_Empty(t *testing.T) {
	if _, ok := OrganizationFromContext(context.Background()); ok {
		t.Error("expected no organization on a bare context")
	}
}

func TestLogging_PreservesStatusAndFlusher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var flushable bool
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusTeapot)
	}
	if !flushable {
		t.Error("wrapped writer must still implement http.Flusher")
	}
}
