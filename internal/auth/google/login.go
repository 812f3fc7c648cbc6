package google

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// stateToken guards the callback against CSRF; minted once per process.
var stateToken = randomHex(16)

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GetStateToken returns the state value the callback must echo.
func GetStateToken() string {
	return stateToken
}

// needsDeviceParams reports whether the consent URL must carry device_id
// and device_name. Google demands them when the redirect host is a
// private LAN address; localhost is exempt.
func needsDeviceParams(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	if host == "localhost" || host == "127.0.0.1" {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsPrivate()
}

// HandleLogin redirects the browser to Google's consent page. The
// callback URL is derived from the incoming request so the flow works on
// whatever host and port the proxy is reachable at.
func HandleLogin(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	redirectURL := fmt.Sprintf("%s://%s/auth/google/callback", scheme, r.Host)

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
	}
	if needsDeviceParams(r.Host) {
		opts = append(opts,
			oauth2.SetAuthURLParam("device_id", randomHex(16)),
			oauth2.SetAuthURLParam("device_name", "antigravity-proxy"),
		)
	}

	url := GetOAuthConfig(redirectURL).AuthCodeURL(stateToken, opts...)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}
