// Package google holds the OAuth flow against Google's Cloud Code
// identity: the oauth2 config, the browser login redirect and the
// callback that lands tokens in the account registry.
package google

import (
	"os"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// Built-in client credentials matching the Antigravity desktop app.
// GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET override them.
const (
	defaultClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	defaultClientSecret = "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"
)

// Scopes the Cloud Code Gemini API requires.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetOAuthConfig builds the oauth2 config used for both the login flow
// and token refresh. redirectURL may be empty for refresh-only use.
func GetOAuthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     envOr("GOOGLE_CLIENT_ID", defaultClientID),
		ClientSecret: envOr("GOOGLE_CLIENT_SECRET", defaultClientSecret),
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     googleoauth.Endpoint,
	}
}
