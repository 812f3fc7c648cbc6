// Package token keeps account access tokens fresh. Refresh goes
// through the standard OAuth2 token source; permanent grant failures
// disable the account so routing stops offering it.
package token

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/auth/google"
)

// expirySlack is how early a token counts as expiring.
const expirySlack = time.Minute

// EventSink is the slice of the event recorder the manager emits
// through.
type EventSink interface {
	RecordAuthFailure(account, requestID, reason string)
	RecordSystem(message string, details map[string]any)
}

// Manager refreshes account tokens on demand and on a background
// sweep. Per-account refreshes are single-flighted so a burst of
// requests against one expiring account triggers one upstream call.
type Manager struct {
	registry *accounts.Registry
	events   EventSink

	mu       sync.Mutex
	inflight map[string]*sync.Mutex

	now func() time.Time
}

// NewManager wires the manager to the registry.
func NewManager(registry *accounts.Registry, events EventSink) *Manager {
	return &Manager{
		registry: registry,
		events:   events,
		inflight: make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// AccessToken returns a valid access token for the account, refreshing
// first when the cached one is missing or expiring.
func (m *Manager) AccessToken(ctx context.Context, a *accounts.Account) (string, error) {
	if a.AccessToken != "" && a.ExpiresAt.After(m.now().Add(expirySlack)) {
		return a.AccessToken, nil
	}
	if err := m.Refresh(ctx, a); err != nil {
		return "", err
	}
	return a.AccessToken, nil
}

// Refresh exchanges the refresh token for a new access token and
// persists the result. Rotated refresh tokens replace the stored one.
func (m *Manager) Refresh(ctx context.Context, a *accounts.Account) error {
	lock := m.lockFor(a.Email)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited.
	if a.AccessToken != "" && a.ExpiresAt.After(m.now().Add(expirySlack)) {
		return nil
	}
	if a.RefreshToken == "" {
		return fmt.Errorf("account %s has no refresh token", a.Email)
	}

	cfg := google.GetOAuthConfig("")
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: a.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		if isPermanentRefreshError(err) {
			log.Printf("🚨 [Token] refresh for %s permanently failed: %v", a.Email, err)
			m.events.RecordAuthFailure(a.Email, "", err.Error())
			m.registry.SetEnabled(a.Email, false)
			return fmt.Errorf("refresh token revoked for %s: %w", a.Email, err)
		}
		log.Printf("⚠️ [Token] transient refresh failure for %s: %v", a.Email, err)
		return fmt.Errorf("refresh token for %s: %w", a.Email, err)
	}

	a.AccessToken = fresh.AccessToken
	a.ExpiresAt = fresh.Expiry
	if fresh.RefreshToken != "" && fresh.RefreshToken != a.RefreshToken {
		log.Printf("[Token] rotating refresh token for %s", a.Email)
		a.RefreshToken = fresh.RefreshToken
	}
	if err := m.registry.Save(); err != nil {
		log.Printf("⚠️ [Token] persist after refresh failed: %v", err)
	}
	log.Printf("[Token] refreshed %s (expires %s)", a.Email, fresh.Expiry.Format(time.RFC3339))
	return nil
}

// RefreshExpiring refreshes every enabled account whose token expires
// within the window. Cron calls this every 15 minutes.
func (m *Manager) RefreshExpiring(ctx context.Context, window time.Duration) {
	threshold := m.now().Add(window)
	for _, a := range m.registry.List() {
		if !a.Enabled || a.RefreshToken == "" {
			continue
		}
		if a.ExpiresAt.After(threshold) {
			continue
		}
		if err := m.Refresh(ctx, a); err != nil {
			log.Printf("⚠️ [Token] background refresh %s: %v", a.Email, err)
		}
	}
}

func (m *Manager) lockFor(email string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.inflight[email]
	if !ok {
		lock = &sync.Mutex{}
		m.inflight[email] = lock
	}
	return lock
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
