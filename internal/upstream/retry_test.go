package upstream

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func respWith(header http.Header, body string) *http.Response {
	resp := &http.Response{StatusCode: 429, Header: header}
	if body != "" {
		resp.Body = io.NopCloser(strings.NewReader(body))
	}
	return resp
}

func TestParseRetryDelaySeconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	if got := ParseRetryDelay(respWith(h, "")); got != 30*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestParseRetryDelayHTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
	got := ParseRetryDelay(respWith(h, ""))
	if got < 80*time.Second || got > 91*time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestParseRetryDelayBodyDetail(t *testing.T) {
	body := `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[
		{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"17s"}]}}`
	resp := respWith(http.Header{}, body)

	if got := ParseRetryDelay(resp); got != 17*time.Second {
		t.Fatalf("got %v", got)
	}

	// The body must still be readable by the caller afterwards.
	restored, err := io.ReadAll(resp.Body)
	if err != nil || string(restored) != body {
		t.Fatalf("body not restored: %v %q", err, restored)
	}
}

func TestParseRetryDelayMetadataDetail(t *testing.T) {
	body := `{"error":{"details":[{"@type":"t","metadata":{"retryDelay":"2.5s"}}]}}`
	if got := ParseRetryDelay(respWith(http.Header{}, body)); got != 2500*time.Millisecond {
		t.Fatalf("got %v", got)
	}
}

func TestParseRetryDelayNoHint(t *testing.T) {
	if got := ParseRetryDelay(respWith(http.Header{}, `{"error":{"message":"quota"}}`)); got != 0 {
		t.Fatalf("got %v", got)
	}
	if got := ParseRetryDelay(respWith(http.Header{}, "not json")); got != 0 {
		t.Fatalf("got %v", got)
	}
	if got := ParseRetryDelay(nil); got != 0 {
		t.Fatalf("nil response got %v", got)
	}
	if got := ParseRetryDelay(&http.Response{Header: http.Header{}}); got != 0 {
		t.Fatalf("nil body got %v", got)
	}
}
