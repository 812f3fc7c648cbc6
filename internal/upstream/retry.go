package upstream

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string            `json:"@type"`
			Reason     string            `json:"reason"`
			Metadata   map[string]string `json:"metadata"`
			RetryDelay string            `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

// ParseRetryDelay extracts the retry hint from a 429 response: the
// Retry-After header first, then the retryDelay detail Google puts in
// the error body. The body is restored so callers can still forward
// it. Zero means no hint.
func ParseRetryDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(ra); err == nil {
			return time.Until(t)
		}
	}

	if resp.Body == nil {
		return 0
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0
	}
	resp.Body = io.NopCloser(strings.NewReader(string(body)))

	var ge googleError
	if err := json.Unmarshal(body, &ge); err != nil {
		return 0
	}
	for _, detail := range ge.Error.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil {
				return d
			}
		}
	}
	return 0
}
