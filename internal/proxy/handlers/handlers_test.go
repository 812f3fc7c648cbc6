package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/auth/token"
	"github.com/pysugar/antigravity-proxy/internal/catalog"
	"github.com/pysugar/antigravity-proxy/internal/config"
	"github.com/pysugar/antigravity-proxy/internal/db"
	"github.com/pysugar/antigravity-proxy/internal/events"
	"github.com/pysugar/antigravity-proxy/internal/health"
	"github.com/pysugar/antigravity-proxy/internal/issues"
	"github.com/pysugar/antigravity-proxy/internal/proxy/monitor"
	"github.com/pysugar/antigravity-proxy/internal/routing"
	"github.com/pysugar/antigravity-proxy/internal/upstream"
)

// newTestDeps wires a full dependency set over temp storage. No
// dashboard token is configured, so /api routes pass auth.
func newTestDeps(t *testing.T) Deps {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewStore(dir)
	recorder := events.NewRecorder(cfg, dir)
	registry := accounts.NewRegistry(dir, recorder.Sink())
	tracker := health.New(cfg, recorder.Sink())
	cat, err := catalog.Load(dir)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	gdb, err := db.Open(filepath.Join(dir, "requests.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return Deps{
		MessagesDeps: MessagesDeps{
			Registry: registry,
			Tracker:  tracker,
			Router:   routing.NewRouter(registry, tracker),
			Catalog:  cat,
			Tokens:   token.NewManager(registry, recorder.Sink()),
			Upstream: upstream.NewClient(),
			Events:   recorder,
			Monitor:  monitor.New(gdb),
		},
		Config: cfg,
		Issues: issues.NewAggregator(cfg, dir),
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, rd))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestMessagesRejectsBadRequests(t *testing.T) {
	h := NewRouter(newTestDeps(t))

	rec := do(t, h, http.MethodPost, "/v1/messages", `{nope`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["type"] != "error" {
		t.Fatalf("body = %v", body)
	}
	inner, _ := body["error"].(map[string]any)
	if inner["type"] != "api_error" || inner["message"] != "invalid JSON body" {
		t.Fatalf("error = %v", inner)
	}

	rec = do(t, h, http.MethodPost, "/v1/messages", `{"messages":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	inner = decode(t, rec)["error"].(map[string]any)
	if inner["message"] != "model is required" {
		t.Fatalf("error = %v", inner)
	}
}

func TestMessagesNoUsableAccount(t *testing.T) {
	deps := newTestDeps(t)
	h := NewRouter(deps)

	rec := do(t, h, http.MethodPost, "/v1/messages",
		`{"model":"claude-haiku-4-5","messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	if decode(t, rec)["reason"] != "no_usable_account" {
		t.Fatalf("body = %s", rec.Body.String())
	}

	// The route table demotion was attempted before giving up.
	page, total := deps.Events.GetEvents(events.Filter{Type: string(events.TypeFallback)})
	if total != 1 || page[0].Model != "gemini-2.5-flash" {
		t.Fatalf("fallback events: total=%d page=%+v", total, page)
	}
}

func TestListModels(t *testing.T) {
	h := NewRouter(newTestDeps(t))
	rec := do(t, h, http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	data, _ := decode(t, rec)["data"].([]any)
	if len(data) == 0 {
		t.Fatal("empty model list")
	}
	found := false
	for _, d := range data {
		m := d.(map[string]any)
		if m["id"] == "claude-sonnet-4-5" {
			found = true
			if m["type"] != "model" || m["upstream"] != "gemini-2.5-pro" || m["fallback"] != "gemini-2.5-flash" {
				t.Fatalf("entry = %v", m)
			}
		}
	}
	if !found {
		t.Fatal("claude-sonnet-4-5 missing from list")
	}
}

func TestVersionEndpoint(t *testing.T) {
	rec := do(t, NewRouter(newTestDeps(t)), http.MethodGet, "/api/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decode(t, rec)
	for _, key := range []string{"version", "commit", "buildTime"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing %q in %v", key, body)
		}
	}
}

func TestHealthConfigEndpoints(t *testing.T) {
	h := NewRouter(newTestDeps(t))

	rec := do(t, h, http.MethodGet, "/api/health/config", "")
	cfg, _ := decode(t, rec)["config"].(map[string]any)
	if cfg["consecutiveFailureThreshold"] != float64(5) {
		t.Fatalf("config = %v", cfg)
	}

	// Cross-field violation rejects the whole patch.
	rec = do(t, h, http.MethodPost, "/api/health/config", `{"warningThreshold": 20}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "error" {
		t.Fatalf("body = %v", body)
	}
	errs, _ := body["errors"].([]any)
	if len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
	fe := errs[0].(map[string]any)
	if fe["field"] != "warningThreshold" || fe["rule"] != "gtefield" {
		t.Fatalf("field error = %v", fe)
	}

	rec = do(t, h, http.MethodPost, "/api/health/config", `{"bogus": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown key code = %d", rec.Code)
	}
	fe = decode(t, rec)["errors"].([]any)[0].(map[string]any)
	if fe["rule"] != "unknown" {
		t.Fatalf("field error = %v", fe)
	}

	rec = do(t, h, http.MethodPost, "/api/health/config", `{"warningThreshold": 80}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	body = decode(t, rec)
	updated, _ := body["config"].(map[string]any)
	if body["status"] != "ok" || updated["warningThreshold"] != float64(80) {
		t.Fatalf("body = %v", body)
	}
}

func TestHealthMatrixAndSummary(t *testing.T) {
	deps := newTestDeps(t)
	if err := deps.Registry.Add(&accounts.Account{Email: "a@example.com", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	h := NewRouter(deps)

	rec := do(t, h, http.MethodGet, "/api/health/matrix?models=gemini-2.5-pro", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	matrix, _ := decode(t, rec)["matrix"].(map[string]any)
	rows, _ := matrix["accounts"].([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	models, _ := rows[0].(map[string]any)["models"].(map[string]any)
	if len(models) != 1 {
		t.Fatalf("cells = %v", models)
	}
	cell, _ := models["gemini-2.5-pro"].(map[string]any)
	if cell["healthScore"] != float64(100) {
		t.Fatalf("fresh cell = %v", cell)
	}

	rec = do(t, h, http.MethodGet, "/api/health/summary", "")
	if _, ok := decode(t, rec)["summary"].(map[string]any); !ok {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAccountListMasksTokens(t *testing.T) {
	deps := newTestDeps(t)
	err := deps.Registry.Add(&accounts.Account{
		Email: "a@example.com", Enabled: true,
		RefreshToken: "rt-secret", AccessToken: "at-secret",
	})
	if err != nil {
		t.Fatal(err)
	}
	h := NewRouter(deps)

	rec := do(t, h, http.MethodGet, "/api/accounts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("credentials leaked: %s", rec.Body.String())
	}
	list, _ := decode(t, rec)["accounts"].([]any)
	if len(list) != 1 {
		t.Fatalf("accounts = %v", list)
	}
	view := list[0].(map[string]any)
	if view["email"] != "a@example.com" || view["hasToken"] != true {
		t.Fatalf("view = %v", view)
	}
}

func TestAccountEnableAndRemove(t *testing.T) {
	deps := newTestDeps(t)
	if err := deps.Registry.Add(&accounts.Account{Email: "a@example.com", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	h := NewRouter(deps)

	rec := do(t, h, http.MethodPost, "/api/accounts/a@example.com/enabled", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing enabled code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/accounts/a@example.com/enabled", `{"enabled": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	view, _ := decode(t, rec)["account"].(map[string]any)
	if view["enabled"] != false {
		t.Fatalf("account = %v", view)
	}

	rec = do(t, h, http.MethodPost, "/api/accounts/nobody@example.com/enabled", `{"enabled": true}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/accounts/nobody@example.com", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("remove unknown code = %d", rec.Code)
	}
	if decode(t, rec)["error"] != "account not found: nobody@example.com" {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/api/accounts/a@example.com", "")
	if rec.Code != http.StatusOK || decode(t, rec)["success"] != true {
		t.Fatalf("remove: %d %s", rec.Code, rec.Body.String())
	}
	if deps.Registry.Get("a@example.com") != nil {
		t.Fatal("account still registered")
	}
}

func TestAccountHealthToggleAndReset(t *testing.T) {
	deps := newTestDeps(t)
	if err := deps.Registry.Add(&accounts.Account{Email: "a@example.com", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	h := NewRouter(deps)

	rec := do(t, h, http.MethodGet, "/api/accounts/nobody@example.com/health", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/accounts/a@example.com/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if _, ok := decode(t, rec)["health"].(map[string]any); !ok {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/accounts/a@example.com/models/gemini-2.5-pro/toggle", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing enabled code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/accounts/a@example.com/models/gemini-2.5-pro/toggle", `{"enabled": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	toggled, _ := decode(t, rec)["health"].(map[string]any)
	if toggled["manualDisabled"] != true {
		t.Fatalf("health = %v", toggled)
	}

	rec = do(t, h, http.MethodPost, "/api/accounts/a@example.com/health/reset", "")
	if rec.Code != http.StatusOK || decode(t, rec)["success"] != true {
		t.Fatalf("reset: %d %s", rec.Code, rec.Body.String())
	}
}

func TestIssueEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	h := NewRouter(deps)

	rec := do(t, h, http.MethodGet, "/api/issues?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	if decode(t, rec)["error"] != "unknown status: bogus" {
		t.Fatalf("body = %s", rec.Body.String())
	}

	deps.Issues.Observe(deps.Events.RecordAuthFailure("a@example.com", "req-1", "invalid_grant"))

	rec = do(t, h, http.MethodGet, "/api/issues/active", "")
	open, _ := decode(t, rec)["issues"].([]any)
	if len(open) != 1 {
		t.Fatalf("active issues = %v", open)
	}
	issue := open[0].(map[string]any)
	id, _ := issue["id"].(string)
	if issue["type"] != issues.TypeAuthFailure || id == "" {
		t.Fatalf("issue = %v", issue)
	}

	rec = do(t, h, http.MethodPost, "/api/issues/"+id+"/acknowledge", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ack code = %d", rec.Code)
	}
	acked, _ := decode(t, rec)["issue"].(map[string]any)
	if acked["status"] != string(issues.StatusAcknowledged) {
		t.Fatalf("issue = %v", acked)
	}

	rec = do(t, h, http.MethodPost, "/api/issues/"+id+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve code = %d", rec.Code)
	}

	// Acknowledging a resolved issue conflicts instead of flipping it back.
	rec = do(t, h, http.MethodPost, "/api/issues/"+id+"/acknowledge", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("ack resolved code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/issues/nope/resolve", "")
	if rec.Code != http.StatusNotFound || decode(t, rec)["error"] != "issue not found: nope" {
		t.Fatalf("unknown issue: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/api/issues/stats", "")
	if _, ok := decode(t, rec)["stats"].(map[string]any); !ok {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestEventEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	h := NewRouter(deps)

	deps.Events.RecordRateLimit("a@example.com", "gemini-2.5-pro", "req-1", 0)
	deps.Events.RecordSystem("started", nil)

	rec := do(t, h, http.MethodGet, "/api/events?type=rate_limit", "")
	body := decode(t, rec)
	page, _ := body["events"].([]any)
	if body["total"] != float64(1) || len(page) != 1 {
		t.Fatalf("filtered events = %v", body)
	}

	rec = do(t, h, http.MethodGet, "/api/events/stats", "")
	if _, ok := decode(t, rec)["stats"].(map[string]any); !ok {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/api/events", "")
	body = decode(t, rec)
	if body["success"] != true || body["cleared"] != float64(2) {
		t.Fatalf("clear = %v", body)
	}
}

func TestLogEndpoints(t *testing.T) {
	h := NewRouter(newTestDeps(t))

	rec := do(t, h, http.MethodPost, "/api/logs/toggle", `{"on": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad toggle code = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/logs/toggle", `{"enabled": true}`)
	body := decode(t, rec)
	if rec.Code != http.StatusOK || body["enabled"] != true {
		t.Fatalf("toggle = %d %v", rec.Code, body)
	}

	rec = do(t, h, http.MethodGet, "/api/logs", "")
	body = decode(t, rec)
	if body["enabled"] != true || body["count"] != float64(0) {
		t.Fatalf("recent = %v", body)
	}

	rec = do(t, h, http.MethodGet, "/api/logs/history?page=1&pageSize=10", "")
	body = decode(t, rec)
	if body["page"] != float64(1) || body["pageSize"] != float64(10) || body["total"] != float64(0) {
		t.Fatalf("history = %v", body)
	}

	rec = do(t, h, http.MethodGet, "/api/logs/stats", "")
	if _, ok := decode(t, rec)["stats"].(map[string]any); !ok {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/api/logs", "")
	if rec.Code != http.StatusOK || decode(t, rec)["success"] != true {
		t.Fatalf("clear: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRoutingPinsEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	if err := deps.Registry.Add(&accounts.Account{Email: "a@example.com", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := deps.Router.PickAccount("gemini-2.5-pro"); err != nil {
		t.Fatal(err)
	}
	h := NewRouter(deps)

	rec := do(t, h, http.MethodGet, "/api/routing/pins", "")
	pins, _ := decode(t, rec)["pins"].(map[string]any)
	if pins["gemini-2.5-pro"] != "a@example.com" {
		t.Fatalf("pins = %v", pins)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("X-Request-Id", "client-id")
	if got := GetOrGenerateRequestID(req); got != "client-id" {
		t.Fatalf("got %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	if got := GetOrGenerateRequestID(req); !strings.HasPrefix(got, "agent-") {
		t.Fatalf("got %q", got)
	}
}
