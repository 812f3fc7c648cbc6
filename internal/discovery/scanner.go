package discovery

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
)

// ScanResult is everything one pass over the sources found.
type ScanResult struct {
	Credentials []Credential `json:"credentials"`
	Errors      []ScanError  `json:"errors,omitempty"`
}

// ScanError is one unreadable or unparsable candidate file.
type ScanError struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// ScanAll visits every known source. Files that do not exist are
// skipped silently; files that exist but fail to parse are reported.
func ScanAll() *ScanResult {
	result := &ScanResult{
		Credentials: make([]Credential, 0),
		Errors:      make([]ScanError, 0),
	}
	for _, source := range Sources {
		creds, errs := scanSource(source)
		result.Credentials = append(result.Credentials, creds...)
		result.Errors = append(result.Errors, errs...)
	}
	log.Printf("🔍 [Discovery] found %d credentials from %d sources", len(result.Credentials), len(Sources))
	return result
}

func scanSource(source Source) ([]Credential, []ScanError) {
	var credentials []Credential
	var errors []ScanError

	for _, pattern := range source.ConfigPaths {
		matches, err := filepath.Glob(expandPath(pattern))
		if err != nil {
			errors = append(errors, ScanError{Source: source.Name, Path: pattern, Error: err.Error()})
			continue
		}
		for _, path := range matches {
			cred, err := source.Parser(path)
			if err != nil {
				errors = append(errors, ScanError{Source: source.Name, Path: path, Error: err.Error()})
				continue
			}
			if cred != nil && cred.RefreshToken != "" {
				log.Printf("🔍 [Discovery] %s credential at %s", source.Name, path)
				credentials = append(credentials, *cred)
			}
		}
	}
	return credentials, errors
}

// Import registers one discovered credential as a proxy account. An
// existing account only gains tokens it is missing; a credential
// without an email cannot be keyed and is rejected.
func Import(registry *accounts.Registry, cred Credential) error {
	if cred.Email == "" {
		return fmt.Errorf("credential from %s has no email", cred.ConfigPath)
	}
	if cred.RefreshToken == "" {
		return fmt.Errorf("credential for %s has no refresh token", cred.Email)
	}

	if existing := registry.Get(cred.Email); existing != nil {
		if existing.RefreshToken != "" {
			return fmt.Errorf("account %s already has credentials", cred.Email)
		}
		existing.RefreshToken = cred.RefreshToken
		existing.AccessToken = cred.AccessToken
		existing.ExpiresAt = cred.ExpiresAt
		if existing.ProjectID == "" {
			existing.ProjectID = cred.ProjectID
		}
		return registry.Save()
	}

	return registry.Add(&accounts.Account{
		Email:        cred.Email,
		Enabled:      true,
		ProjectID:    cred.ProjectID,
		Source:       "discovery:" + cred.Source,
		RefreshToken: cred.RefreshToken,
		AccessToken:  cred.AccessToken,
		ExpiresAt:    cred.ExpiresAt,
	})
}

// MaskToken shortens a token for display.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// Masked returns a display copy with tokens shortened.
func Masked(cred Credential) Credential {
	masked := cred
	masked.AccessToken = MaskToken(cred.AccessToken)
	masked.RefreshToken = MaskToken(cred.RefreshToken)
	return masked
}
