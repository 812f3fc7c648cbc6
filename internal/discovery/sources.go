// Package discovery finds Google OAuth credentials left on disk by
// local AI tooling so operators can import them as proxy accounts
// without redoing the consent flow.
package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Credential is one refresh-token credential found on disk. Tokens are
// masked before they leave the API.
type Credential struct {
	Source       string    `json:"source"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	ProjectID    string    `json:"projectId,omitempty"`
	ConfigPath   string    `json:"configPath"`
}

// Source is one known on-disk credential location.
type Source struct {
	Name        string
	ConfigPaths []string
	Parser      func(path string) (*Credential, error)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Sources lists every location the scanner visits.
var Sources = []Source{
	{
		Name: "antigravity",
		ConfigPaths: []string{
			"~/.gemini/antigravity/google_ai_credentials.json",
			"~/.antigravity_tools/accounts/*.json",
		},
		Parser: parseAntigravityCredentials,
	},
	{
		Name: "gemini-cli",
		ConfigPaths: []string{
			"~/.gemini/oauth_creds.json",
		},
		Parser: parseGeminiCLICredentials,
	},
}

type antigravityCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiryTs     int64  `json:"expiry_ts"`
	Email        string `json:"email"`
	ProjectID    string `json:"project_id"`
}

func parseAntigravityCredentials(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds antigravityCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	expiry := creds.ExpiresAt
	if expiry == 0 {
		expiry = creds.ExpiryTs
	}
	c := &Credential{
		Source:       "antigravity",
		Email:        creds.Email,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ProjectID:    creds.ProjectID,
		ConfigPath:   path,
	}
	if expiry > 0 {
		c.ExpiresAt = time.Unix(expiry, 0)
	}
	return c, nil
}

func parseGeminiCLICredentials(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var creds struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiryDate   int64  `json:"expiry_date"`
		Email        string `json:"email"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	c := &Credential{
		Source:       "gemini-cli",
		Email:        creds.Email,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ConfigPath:   path,
	}
	if creds.ExpiryDate > 0 {
		c.ExpiresAt = time.UnixMilli(creds.ExpiryDate)
	}
	return c, nil
}
