package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pysugar/antigravity-proxy/internal/config"
)

func protected(cfg *config.Store) http.Handler {
	return DashboardAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNoTokenConfiguredPassesThrough(t *testing.T) {
	cfg := config.NewStore(t.TempDir())
	rec := httptest.NewRecorder()
	protected(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestMissingOrWrongTokenRejected(t *testing.T) {
	cfg := config.NewStore(t.TempDir())
	if err := cfg.SetString("dashboardToken", "secret"); err != nil {
		t.Fatal(err)
	}
	h := protected(cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "authentication_error") {
		t.Errorf("body = %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token code = %d", rec.Code)
	}
}

func TestTokenCarriers(t *testing.T) {
	cfg := config.NewStore(t.TempDir())
	if err := cfg.SetString("dashboardToken", "secret"); err != nil {
		t.Fatal(err)
	}
	h := protected(cfg)

	build := []func() *http.Request{
		func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
			req.Header.Set("Authorization", "Bearer secret")
			return req
		},
		func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
			req.Header.Set("X-Dashboard-Token", "secret")
			return req
		},
		func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/api/events/stream?token=secret", nil)
		},
	}
	for i, mk := range build {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, mk())
		if rec.Code != http.StatusOK {
			t.Errorf("carrier %d: code = %d", i, rec.Code)
		}
	}
}

func TestRotation(t *testing.T) {
	cfg := config.NewStore(t.TempDir())
	if err := cfg.SetString("dashboardToken", "secret"); err != nil {
		t.Fatal(err)
	}
	h := protected(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Auth-Rotate", "1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	rotated := rec.Header().Get("X-Auth-Rotate")
	if len(rotated) != 48 {
		t.Fatalf("rotated token = %q", rotated)
	}

	// The old token is dead, the new one works.
	req = httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old token still accepted: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer "+rotated)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotated token rejected: %d", rec.Code)
	}
}
