package monitor

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/db"
	"github.com/pysugar/antigravity-proxy/internal/db/models"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "requests.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return New(gdb)
}

// waitForStored polls until the async db writes land.
func waitForStored(t *testing.T, m *Monitor, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if logs := m.Recent(want+10, 0); len(logs) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("db never reached %d stored logs", want)
}

func TestLogDisabledByDefault(t *testing.T) {
	m := newTestMonitor(t)
	if m.IsEnabled() {
		t.Fatal("logging should default to off")
	}
	m.Log(models.RequestLog{Path: "/v1/messages", Status: 200})
	if got := m.Stats().TotalRequests; got != 0 {
		t.Fatalf("disabled monitor counted %d requests", got)
	}
}

func TestLogStoresAndCounts(t *testing.T) {
	m := newTestMonitor(t)
	m.SetEnabled(true)

	m.Log(models.RequestLog{Path: "/v1/messages", Status: 200, Model: "claude-sonnet-4-5"})
	m.Log(models.RequestLog{Path: "/v1/messages", Status: 503, Error: "no usable account"})

	stats := m.Stats()
	if stats.TotalRequests != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	waitForStored(t, m, 2)
	logs := m.Recent(10, 0)
	if len(logs) != 2 {
		t.Fatalf("recent = %d", len(logs))
	}
	for _, l := range logs {
		if l.ID == "" || l.Timestamp == 0 {
			t.Fatalf("log not stamped: %+v", l)
		}
	}
}

func TestLogTruncatesBodies(t *testing.T) {
	m := newTestMonitor(t)
	m.SetEnabled(true)

	m.Log(models.RequestLog{
		Status:       200,
		RequestBody:  strings.Repeat("a", MaxRequestBodySize+10),
		ResponseBody: strings.Repeat("b", MaxResponseBodySize+10),
	})
	waitForStored(t, m, 1)
	l := m.Recent(1, 0)[0]
	if !strings.HasSuffix(l.RequestBody, "...[truncated]") {
		t.Error("request body not truncated")
	}
	if len(l.RequestBody) > MaxRequestBodySize+20 {
		t.Errorf("request body len = %d", len(l.RequestBody))
	}
	if !strings.HasSuffix(l.ResponseBody, "...[truncated]") {
		t.Error("response body not truncated")
	}
}

func TestPageWithSearch(t *testing.T) {
	m := newTestMonitor(t)
	m.SetEnabled(true)

	m.Log(models.RequestLog{Status: 200, Model: "claude-sonnet-4-5", AccountEmail: "a@example.com"})
	m.Log(models.RequestLog{Status: 200, Model: "claude-haiku-4-5", AccountEmail: "b@example.com"})
	m.Log(models.RequestLog{Status: 500, Model: "claude-haiku-4-5", Error: "upstream exploded"})
	waitForStored(t, m, 3)

	logs, total := m.Page(1, 10, "")
	if total != 3 || len(logs) != 3 {
		t.Fatalf("page all: total=%d len=%d", total, len(logs))
	}

	logs, total = m.Page(1, 10, "haiku")
	if total != 2 {
		t.Fatalf("model search total = %d", total)
	}

	logs, total = m.Page(1, 10, "exploded")
	if total != 1 || logs[0].Status != 500 {
		t.Fatalf("error search: total=%d logs=%+v", total, logs)
	}

	logs, total = m.Page(2, 2, "")
	if total != 3 || len(logs) != 1 {
		t.Fatalf("pagination: total=%d len=%d", total, len(logs))
	}
}

func TestClear(t *testing.T) {
	m := newTestMonitor(t)
	m.SetEnabled(true)
	m.Log(models.RequestLog{Status: 200})
	waitForStored(t, m, 1)

	if err := m.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := m.Stats().TotalRequests; got != 0 {
		t.Fatalf("stats after clear = %d", got)
	}
	if logs := m.Recent(10, 0); len(logs) != 0 {
		t.Fatalf("logs after clear = %d", len(logs))
	}
}

func TestStatsReloadFromDB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.db")
	gdb, err := db.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	m := New(gdb)
	m.SetEnabled(true)
	m.Log(models.RequestLog{Status: 200})
	m.Log(models.RequestLog{Status: 429})
	waitForStored(t, m, 2)

	gdb2, err := db.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	m2 := New(gdb2)
	stats := m2.Stats()
	if stats.TotalRequests != 2 || stats.SuccessCount != 1 || stats.ErrorCount != 1 {
		t.Fatalf("reloaded stats = %+v", stats)
	}
}
