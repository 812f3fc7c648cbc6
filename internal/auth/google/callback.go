package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
)

// HandleCallback processes the OAuth callback from Google and stores
// the account in the registry. Re-login for a known email replaces its
// tokens and keeps its health records.
func HandleCallback(registry *accounts.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		if state != GetStateToken() {
			http.Error(w, "Invalid state token", http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		redirectURL := fmt.Sprintf("%s://%s/auth/google/callback", scheme, r.Host)
		config := GetOAuthConfig(redirectURL)

		token, err := config.Exchange(context.Background(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}

		client := config.Client(context.Background(), token)
		resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to get user info: %v", err), http.StatusInternalServerError)
			return
		}
		defer resp.Body.Close()

		var userInfo struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
			http.Error(w, fmt.Sprintf("Failed to decode user info: %v", err), http.StatusInternalServerError)
			return
		}

		projectID, tier := fetchProjectInfo(client)

		if existing := registry.Get(userInfo.Email); existing != nil {
			existing.AccessToken = token.AccessToken
			existing.RefreshToken = token.RefreshToken
			existing.ExpiresAt = token.Expiry
			existing.ProjectID = projectID
			existing.Enabled = true
			if existing.Limits == nil {
				existing.Limits = map[string]any{}
			}
			existing.Limits["tier"] = tier
			if err := registry.Save(); err != nil {
				http.Error(w, fmt.Sprintf("Failed to save account: %v", err), http.StatusInternalServerError)
				return
			}
			log.Printf("[Auth] re-login for %s", userInfo.Email)
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
				http.Error(w, fmt.Sprintf("Failed to save account: %v", err), http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<meta http-equiv="refresh" content="3;url=/">
	<title>Login Successful</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; }
		.success { color: #4ade80; }
		code { background: #374151; padding: 2px 6px; border-radius: 4px; color: #fbbf24; }
		.redirect { color: #9ca3af; margin-top: 20px; }
	</style>
</head>
<body>
	<h1 class="success">✅ Login Successful!</h1>
	<p><strong>Email:</strong> %s</p>
	<p><strong>Project ID:</strong> <code>%s</code></p>
	<p class="redirect">Redirecting to dashboard in 3 seconds...</p>
</body>
</html>`, userInfo.Email, projectID)
	}
}

// fetchProjectInfo resolves the project id and subscription tier for a
// freshly authorized account via loadCodeAssist.
func fetchProjectInfo(client *http.Client) (projectID, tier string) {
	reqBody := strings.NewReader(`{"metadata": {"ideType": "ANTIGRAVITY"}}`)
	req, err := http.NewRequest(http.MethodPost, "https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist", reqBody)
	if err != nil {
		return "", "FREE"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "antigravity/1.11.9 windows/amd64")

	client.Timeout = 30 * time.Second
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("⚠️ [Auth] loadCodeAssist failed: %v", err)
		return "", "FREE"
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "FREE"
	}

	var result struct {
		CloudaicompanionProject string `json:"cloudaicompanionProject"`
		PaidTier                *struct {
			ID string `json:"id"`
		} `json:"paidTier"`
		CurrentTier *struct {
			ID string `json:"id"`
		} `json:"currentTier"`
		Config struct {
			ProjectID string `json:"projectId"`
		} `json:"codeAssistConfig"`
		ManageSubscriptionUri string `json:"manageSubscriptionUri"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		log.Printf("⚠️ [Auth] parse loadCodeAssist response: %v", err)
		return "", "FREE"
	}

	projectID = result.CloudaicompanionProject
	if projectID == "" {
		projectID = result.Config.ProjectID
	}

	switch {
	case result.PaidTier != nil && result.PaidTier.ID != "":
		tier = result.PaidTier.ID
	case result.CurrentTier != nil && result.CurrentTier.ID != "":
		tier = result.CurrentTier.ID
	case result.ManageSubscriptionUri != "":
		tier = "PRO"
	default:
		tier = "FREE"
	}
	return projectID, tier
}
