package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
)

const (
	// AntigravityCallbackPort matches the port the Antigravity IDE
	// registers with Google, so its OAuth client accepts the redirect.
	AntigravityCallbackPort = 51121
	// CallbackTimeout is how long the temporary server waits.
	CallbackTimeout = 5 * time.Minute
)

// OAuthCallbackResult is delivered once the flow finishes or times out.
type OAuthCallbackResult struct {
	Success bool
	Email   string
	Error   error
}

// StartOAuthCallbackServer starts a temporary loopback server for the
// CLI login flow. Port 51121 is tried first, then a random high port.
// Returns the bound port, the result channel, and a cleanup function.
func StartOAuthCallbackServer(registry *accounts.Registry) (actualPort int, resultChan <-chan OAuthCallbackResult, cleanup func(), err error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", AntigravityCallbackPort))
	if err != nil {
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			return 0, nil, nil, fmt.Errorf("start callback server: %w", err)
		}
		log.Printf("[OAuth] port %d in use, using random port", AntigravityCallbackPort)
	}

	actualPort = listener.Addr().(*net.TCPAddr).Port
	log.Printf("[OAuth] callback server listening on port %d", actualPort)

	resultChannel := make(chan OAuthCallbackResult, 1)
	mux := http.NewServeMux()
	srv := &http.Server{Handler: mux}
	callbackReceived := false

	mux.HandleFunc("/oauth-callback", func(w http.ResponseWriter, r *http.Request) {
		if callbackReceived {
			http.Error(w, "Callback already processed", http.StatusBadRequest)
			return
		}
		callbackReceived = true

		fail := func(status int, err error) {
			resultChannel <- OAuthCallbackResult{Success: false, Error: err}
			http.Error(w, err.Error(), status)
		}

		if state := r.URL.Query().Get("state"); state != GetStateToken() {
			fail(http.StatusBadRequest, fmt.Errorf("invalid state token"))
			return
		}

		code := r.URL.Query().Get("code")
		redirectURL := fmt.Sprintf("http://localhost:%d/oauth-callback", actualPort)
		config := GetOAuthConfig(redirectURL)

		token, err := config.Exchange(context.Background(), code)
		if err != nil {
			fail(http.StatusInternalServerError, fmt.Errorf("token exchange failed: %w", err))
			return
		}

		client := config.Client(context.Background(), token)
		resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
		if err != nil {
			fail(http.StatusInternalServerError, fmt.Errorf("get user info: %w", err))
			return
		}
		defer resp.Body.Close()

		var userInfo struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
			fail(http.StatusInternalServerError, fmt.Errorf("decode user info: %w", err))
			return
		}

		projectID, tier := fetchProjectInfo(client)

		if existing := registry.Get(userInfo.Email); existing != nil {
			existing.AccessToken = token.AccessToken
			existing.RefreshToken = token.RefreshToken
			existing.ExpiresAt = token.Expiry
			existing.ProjectID = projectID
			existing.Enabled = true
			if err := registry.Save(); err != nil {
				fail(http.StatusInternalServerError, fmt.Errorf("update account: %w", err))
				return
			}
			log.Printf("[OAuth] updated account %s", userInfo.Email)
		} else {
			account := &accounts.Account{
				Email:        userInfo.Email,
				Enabled:      true,
				ProjectID:    projectID,
				Source:       "oauth",
				Limits:       map[string]any{"tier": tier, "name": userInfo.Name},
				AccessToken:  token.AccessToken,
				RefreshToken: token.RefreshToken,
				ExpiresAt:    token.Expiry,
			}
			if err := registry.Add(account); err != nil {
				fail(http.StatusConflict, fmt.Errorf("save account: %w", err))
				return
			}
			log.Printf("[OAuth] added account %s", userInfo.Email)
		}

		dashboardPort := os.Getenv("AGPROXY_PORT")
		if dashboardPort == "" {
			dashboardPort = "8080"
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>Login Successful</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; text-align: center; }
		.success { color: #4ade80; font-size: 24px; margin-bottom: 10px; }
		code { background: #374151; padding: 2px 6px; border-radius: 4px; color: #fbbf24; }
		.btn { display: inline-block; margin-top: 20px; padding: 10px 20px; background: #3b82f6; color: white; text-decoration: none; border-radius: 6px; }
	</style>
</head>
<body>
	<div class="success">✅ Login Successful</div>
	<p>Account <strong>%s</strong> has been added.</p>
	<p>Project ID: <code>%s</code></p>
	<p>Subscription: <strong>%s</strong></p>
	<a href="http://localhost:%s/" class="btn">Go to Dashboard</a>
</body>
</html>`, userInfo.Email, projectID, tier, dashboardPort)

		resultChannel <- OAuthCallbackResult{Success: true, Email: userInfo.Email}
	})

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[OAuth] callback server error: %v", err)
		}
	}()

	var once sync.Once
	cleanup = func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Printf("[OAuth] shutdown callback server: %v", err)
			}
			close(resultChannel)
		})
	}

	go func() {
		time.Sleep(CallbackTimeout)
		if !callbackReceived {
			select {
			case resultChannel <- OAuthCallbackResult{Success: false, Error: fmt.Errorf("oauth callback timeout")}:
			default:
			}
		}
		cleanup()
	}()

	return actualPort, resultChannel, cleanup, nil
}
