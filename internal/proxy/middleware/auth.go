// Package middleware carries the HTTP middlewares shared by the API
// routes.
package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net/http"
	"strings"

	"github.com/pysugar/antigravity-proxy/internal/config"
)

const dashboardTokenKey = "dashboardToken"

// DashboardAuth guards the operator API with the token stored in the
// config store. With no token configured every request passes (first-run
// scenario). A request carrying the X-Auth-Rotate header rotates the
// token after authenticating; the new value is returned in the same
// header of the response.
func DashboardAuth(cfg *config.Store) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := cfg.GetString(dashboardTokenKey)
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !tokenMatches(r, expected) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": {"message": "Invalid dashboard token", "type": "authentication_error"}}`))
				return
			}

			if r.Header.Get("X-Auth-Rotate") != "" {
				if rotated, err := rotateToken(cfg); err != nil {
					log.Printf("⚠️ [Auth] rotate dashboard token: %v", err)
				} else {
					w.Header().Set("X-Auth-Rotate", rotated)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenMatches(r *http.Request, expected string) bool {
	candidates := make([]string, 0, 3)
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		candidates = append(candidates, strings.TrimPrefix(auth, "Bearer "))
	}
	if v := r.Header.Get("X-Dashboard-Token"); v != "" {
		candidates = append(candidates, v)
	}
	if v := r.URL.Query().Get("token"); v != "" {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		if subtle.ConstantTimeCompare([]byte(c), []byte(expected)) == 1 {
			return true
		}
	}
	return false
}

func rotateToken(cfg *config.Store) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	if err := cfg.SetString(dashboardTokenKey, token); err != nil {
		return "", err
	}
	log.Printf("[Auth] dashboard token rotated")
	return token, nil
}
