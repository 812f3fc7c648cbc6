// Package upstream speaks the Cloud Code private API: generateContent
// and streamGenerateContent with endpoint fallback, plus the project
// discovery call new accounts need.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/util"
)

// BaseURLs in fallback order: daily first, prod, then sandbox-daily.
var BaseURLs = []string{
	"https://daily-cloudcode-pa.googleapis.com/v1internal",
	"https://cloudcode-pa.googleapis.com/v1internal",
	"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal",
}

// UserAgent must report windows/amd64; other platforms get rejected.
const UserAgent = "antigravity/1.11.9 windows/amd64"

var clientMetadata = map[string]string{
	"ideType":    "IDE_UNSPECIFIED",
	"platform":   "PLATFORM_UNSPECIFIED",
	"pluginType": "GEMINI",
}

// Client is the upstream HTTP client. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client with a streaming-friendly timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// GenerateContent calls :generateContent with endpoint fallback.
func (c *Client) GenerateContent(ctx context.Context, accessToken string, payload map[string]any) (*http.Response, error) {
	ensureRequestFormat(payload)
	return c.doWithFallback(ctx, "generateContent", "", accessToken, payload)
}

// StreamGenerateContent calls :streamGenerateContent (SSE) with
// endpoint fallback.
func (c *Client) StreamGenerateContent(ctx context.Context, accessToken string, payload map[string]any) (*http.Response, error) {
	ensureRequestFormat(payload)
	return c.doWithFallback(ctx, "streamGenerateContent", "alt=sse", accessToken, payload)
}

// FetchAvailableModels lists models visible to the token.
func (c *Client) FetchAvailableModels(ctx context.Context, accessToken string) (*http.Response, error) {
	url := fmt.Sprintf("%s:fetchAvailableModels", BaseURLs[0])
	return c.do(ctx, url, accessToken, map[string]any{})
}

// LoadCodeAssist resolves the project id for an account. Falls back to
// GOOGLE_CLOUD_PROJECT when the call yields nothing.
func (c *Client) LoadCodeAssist(ctx context.Context, accessToken string) (string, error) {
	url := fmt.Sprintf("%s:loadCodeAssist", BaseURLs[0])
	resp, err := c.do(ctx, url, accessToken, map[string]any{
		"metadata": map[string]string{"ideType": "ANTIGRAVITY"},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		Config struct {
			ProjectID string `json:"projectId"`
		} `json:"codeAssistConfig"`
	}
	fallback := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fallback, nil
	}
	if result.Config.ProjectID != "" {
		return result.Config.ProjectID, nil
	}
	return fallback, nil
}

// ensureRequestFormat fills the envelope fields every Cloud Code call
// needs. toolConfig is only forced when the request carries tools;
// adding it tool-less trips 429s on gemini-3 models.
func ensureRequestFormat(payload map[string]any) {
	if _, ok := payload["userAgent"]; !ok {
		payload["userAgent"] = "antigravity"
	}
	if _, ok := payload["requestType"]; !ok {
		payload["requestType"] = "agent"
	}
	req, ok := payload["request"].(map[string]any)
	if !ok {
		return
	}
	tools, _ := req["tools"].([]any)
	if len(tools) == 0 {
		return
	}
	tc, ok := req["toolConfig"].(map[string]any)
	if !ok {
		req["toolConfig"] = map[string]any{
			"functionCallingConfig": map[string]any{"mode": "VALIDATED"},
		}
		return
	}
	if fcc, ok := tc["functionCallingConfig"].(map[string]any); ok {
		fcc["mode"] = "VALIDATED"
	} else {
		tc["functionCallingConfig"] = map[string]any{"mode": "VALIDATED"}
	}
}

// retriable reports whether the next endpoint should be tried. 403 is
// included: some endpoints demand a subscription the others do not.
func retriable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusForbidden ||
		status >= 500
}

// doWithFallback walks BaseURLs until one answers non-retriably. The
// last retriable response is returned when everything fails so the
// caller can surface the upstream error body.
func (c *Client) doWithFallback(ctx context.Context, method, query, accessToken string, payload map[string]any) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for i, baseURL := range BaseURLs {
		url := fmt.Sprintf("%s:%s", baseURL, method)
		if query != "" {
			url += "?" + query
		}

		resp, err := c.do(ctx, url, accessToken, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			log.Printf("⚠️ [Upstream] endpoint %d (%s) failed: %v", i+1, baseURL, err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			if i > 0 {
				log.Printf("[Upstream] fallback to endpoint %d succeeded", i+1)
			}
			return resp, nil
		}
		if retriable(resp.StatusCode) {
			log.Printf("⚠️ [Upstream] endpoint %d returned %d, trying next", i+1, resp.StatusCode)
			if lastResp != nil {
				lastResp.Body.Close()
			}
			lastResp = resp
			lastErr = fmt.Errorf("endpoint %d returned %d", i+1, resp.StatusCode)
			continue
		}
		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, url, accessToken string, payload map[string]any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if util.IsVerbose() {
		pretty, _ := json.MarshalIndent(payload, "", "  ")
		log.Printf("[Upstream] request payload:\n%s", pretty)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Goog-Api-Client", "google-cloud-sdk vscode_cloudshelleditor/0.1")
	meta, _ := json.Marshal(clientMetadata)
	req.Header.Set("Client-Metadata", string(meta))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// ReadErrorBody drains up to 8 KiB of an error response for event
// details without holding the connection.
func ReadErrorBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	resp.Body.Close()
	return string(data)
}
