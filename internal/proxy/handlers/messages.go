package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pysugar/antigravity-proxy/internal/accounts"
	"github.com/pysugar/antigravity-proxy/internal/auth/token"
	"github.com/pysugar/antigravity-proxy/internal/catalog"
	"github.com/pysugar/antigravity-proxy/internal/db/models"
	"github.com/pysugar/antigravity-proxy/internal/events"
	"github.com/pysugar/antigravity-proxy/internal/health"
	"github.com/pysugar/antigravity-proxy/internal/metrics"
	"github.com/pysugar/antigravity-proxy/internal/proxy/mappers"
	"github.com/pysugar/antigravity-proxy/internal/proxy/monitor"
	"github.com/pysugar/antigravity-proxy/internal/routing"
	"github.com/pysugar/antigravity-proxy/internal/upstream"
	"github.com/pysugar/antigravity-proxy/internal/util"
)

// maxAccountAttempts bounds how many accounts one request may burn
// through before giving up.
const maxAccountAttempts = 3

// MessagesDeps bundles everything the messages endpoint touches.
type MessagesDeps struct {
	Registry *accounts.Registry
	Tracker  *health.Tracker
	Router   *routing.Router
	Catalog  *catalog.Catalog
	Tokens   *token.Manager
	Upstream *upstream.Client
	Events   *events.Recorder
	Monitor  *monitor.Monitor
}

// ClaudeMessagesHandler serves POST /v1/messages. The Anthropic request
// is translated to the Gemini wire format, routed to a healthy account,
// and the response translated back. Rate limits and auth failures
// trigger an in-request switch to the next usable account; when no
// account can serve the upstream model the route table's fallback model
// is tried before giving up.
func ClaudeMessagesHandler(deps MessagesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GetOrGenerateRequestID(r)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeClaudeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		var req map[string]any
		if err := json.Unmarshal(body, &req); err != nil {
			writeClaudeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		clientModel, _ := req["model"].(string)
		if clientModel == "" {
			writeClaudeError(w, http.StatusBadRequest, "model is required")
			return
		}
		stream, _ := req["stream"].(bool)
		upstreamModel := deps.Catalog.Resolve(clientModel)

		if util.IsVerbose() {
			log.Printf("[Messages] %s client=%s upstream=%s stream=%v", requestID, clientModel, upstreamModel, stream)
		}

		messages, _ := req["messages"].([]any)
		request := map[string]any{
			"contents":  mappers.BuildGeminiContents(req["system"], messages),
			"sessionId": fmt.Sprintf("-%d", time.Now().UnixNano()),
		}
		if gc := buildGenerationConfig(req); gc != nil {
			request["generationConfig"] = gc
		}
		if tools := buildGeminiTools(req["tools"]); len(tools) > 0 {
			request["tools"] = tools
		}

		outcome := proxyOutcome{model: upstreamModel}
		defer func() {
			logRequest(deps.Monitor, r, requestID, clientModel, outcome, string(body), start)
			metrics.RequestsTotal.WithLabelValues(clientModel, outcome.label()).Inc()
		}()

		exclude := map[string]bool{}
		var lastAccount *accounts.Account
		triedFallback := false

		for attempt := 0; attempt < maxAccountAttempts; attempt++ {
			account, pickErr := pickAccount(deps.Router, outcome.model, exclude, attempt)
			if pickErr != nil {
				fb := deps.Catalog.Fallback(outcome.model)
				if fb != "" && !triedFallback {
					triedFallback = true
					email := ""
					if lastAccount != nil {
						email = lastAccount.Email
					}
					deps.Events.RecordFallback(email, outcome.model, fb, requestID, "no usable account")
					log.Printf("[Messages] %s falling back %s -> %s", requestID, outcome.model, fb)
					outcome.model = fb
					exclude = map[string]bool{}
					attempt = -1
					continue
				}
				outcome.status = http.StatusServiceUnavailable
				outcome.err = "no_usable_account"
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"reason": "no_usable_account"})
				return
			}
			if lastAccount != nil && lastAccount.Email != account.Email {
				deps.Events.RecordAccountSwitch(lastAccount.Email, account.Email, outcome.model, requestID, outcome.err)
			}
			lastAccount = account
			outcome.account = account.Email

			accessToken, tokErr := deps.Tokens.AccessToken(r.Context(), account)
			if tokErr != nil {
				outcome.err = tokErr.Error()
				exclude[account.Email] = true
				continue
			}

			payload := map[string]any{
				"project":   account.ProjectID,
				"requestId": requestID,
				"model":     outcome.model,
				"request":   request,
			}

			var resp *http.Response
			var callErr error
			if stream {
				resp, callErr = deps.Upstream.StreamGenerateContent(r.Context(), accessToken, payload)
			} else {
				resp, callErr = deps.Upstream.GenerateContent(r.Context(), accessToken, payload)
			}
			if callErr != nil {
				outcome.err = callErr.Error()
				deps.Tracker.RecordResult(account, outcome.model, false, &accounts.HealthError{
					Time: time.Now(), Message: callErr.Error(),
				})
				exclude[account.Email] = true
				continue
			}

			if resp.StatusCode == http.StatusOK {
				deps.Tracker.RecordResult(account, outcome.model, true, nil)
				if stream {
					streamResponse(w, resp, clientModel, requestID, &outcome)
				} else {
					forwardResponse(w, resp, clientModel, &outcome)
				}
				deps.Events.RecordRequest(account.Email, outcome.model, requestID, outcome.status == http.StatusOK,
					time.Since(start), map[string]any{"clientModel": clientModel})
				return
			}

			errBody := upstream.ReadErrorBody(resp)
			outcome.status = resp.StatusCode
			outcome.err = util.TruncateLog(errBody, util.DefaultLogMaxLen)
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				retryAfter := upstream.ParseRetryDelay(resp)
				deps.Events.RecordRateLimit(account.Email, outcome.model, requestID, retryAfter)
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				deps.Events.RecordAuthFailure(account.Email, requestID, outcome.err)
			default:
				deps.Events.RecordAPIError(account.Email, outcome.model, requestID, resp.StatusCode, outcome.err)
			}
			deps.Tracker.RecordResult(account, outcome.model, false, &accounts.HealthError{
				Time: time.Now(), Message: outcome.err, Code: resp.StatusCode,
			})
			exclude[account.Email] = true
		}

		deps.Events.RecordRequest(outcome.account, outcome.model, requestID, false,
			time.Since(start), map[string]any{"clientModel": clientModel, "status": outcome.status})
		status := outcome.status
		if status == 0 || status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		writeClaudeError(w, status, "upstream request failed: "+outcome.err)
	}
}

func pickAccount(router *routing.Router, modelID string, exclude map[string]bool, attempt int) (*accounts.Account, error) {
	if attempt == 0 && len(exclude) == 0 {
		return router.PickAccount(modelID)
	}
	return router.NextAccount(modelID, exclude)
}

// proxyOutcome accumulates what the deferred request log needs.
type proxyOutcome struct {
	model        string
	account      string
	status       int
	err          string
	responseBody string
	inputTokens  int
	outputTokens int
}

func (o proxyOutcome) label() string {
	if o.status == http.StatusOK {
		return "success"
	}
	return "error"
}

func logRequest(m *monitor.Monitor, r *http.Request, requestID, clientModel string, o proxyOutcome, body string, start time.Time) {
	m.Log(models.RequestLog{
		RequestID:     requestID,
		Method:        r.Method,
		Path:          r.URL.Path,
		Status:        o.status,
		DurationMs:    time.Since(start).Milliseconds(),
		Model:         clientModel,
		UpstreamModel: o.model,
		AccountEmail:  o.account,
		Error:         o.err,
		RequestBody:   body,
		ResponseBody:  o.responseBody,
		InputTokens:   o.inputTokens,
		OutputTokens:  o.outputTokens,
	})
}

func buildGenerationConfig(req map[string]any) map[string]any {
	gc := map[string]any{}
	if v, ok := req["temperature"].(float64); ok {
		gc["temperature"] = v
	}
	if v, ok := req["top_p"].(float64); ok {
		gc["topP"] = v
	}
	if v, ok := req["max_tokens"].(float64); ok {
		gc["maxOutputTokens"] = int(v)
	}
	if len(gc) == 0 {
		return nil
	}
	return gc
}

// buildGeminiTools maps Anthropic tool declarations onto Gemini function
// declarations. The result stays []any so the upstream envelope logic
// can see it.
func buildGeminiTools(raw any) []any {
	tools, ok := raw.([]any)
	if !ok || len(tools) == 0 {
		return nil
	}
	decls := make([]any, 0, len(tools))
	for _, t := range tools {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			continue
		}
		decl := map[string]any{"name": name}
		if desc, ok := tool["description"].(string); ok && desc != "" {
			decl["description"] = desc
		}
		if schema, ok := tool["input_schema"].(map[string]any); ok {
			decl["parameters"] = sanitizeSchema(schema)
		}
		decls = append(decls, decl)
	}
	if len(decls) == 0 {
		return nil
	}
	return []any{map[string]any{"functionDeclarations": decls}}
}

// sanitizeSchema strips JSON Schema keywords the Gemini API rejects.
func sanitizeSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "$schema", "additionalProperties", "minLength", "maxLength", "format", "default":
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = sanitizeSchema(nested)
			continue
		}
		if list, ok := v.([]any); ok {
			cleaned := make([]any, 0, len(list))
			for _, item := range list {
				if m, ok := item.(map[string]any); ok {
					cleaned = append(cleaned, sanitizeSchema(m))
				} else {
					cleaned = append(cleaned, item)
				}
			}
			out[k] = cleaned
			continue
		}
		out[k] = v
	}
	return out
}

func forwardResponse(w http.ResponseWriter, resp *http.Response, clientModel string, o *proxyOutcome) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		o.status = http.StatusBadGateway
		o.err = err.Error()
		writeClaudeError(w, http.StatusBadGateway, "failed to read upstream response")
		return
	}

	var gemini map[string]any
	if err := json.Unmarshal(raw, &gemini); err != nil {
		o.status = http.StatusBadGateway
		o.err = err.Error()
		writeClaudeError(w, http.StatusBadGateway, "invalid upstream response")
		return
	}
	// Cloud Code wraps the generate payload in a response field.
	if inner, ok := gemini["response"].(map[string]any); ok {
		gemini = inner
	}

	out, err := mappers.GeminiToClaude(gemini, clientModel)
	if err != nil {
		o.status = http.StatusInternalServerError
		o.err = err.Error()
		writeClaudeError(w, http.StatusInternalServerError, "response translation failed")
		return
	}

	o.status = http.StatusOK
	o.responseBody = string(out)
	if meta, ok := gemini["usageMetadata"].(map[string]any); ok {
		if v, ok := meta["promptTokenCount"].(float64); ok {
			o.inputTokens = int(v)
		}
		if v, ok := meta["candidatesTokenCount"].(float64); ok {
			o.outputTokens = int(v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// streamResponse re-frames the upstream SSE stream as the Anthropic
// streaming protocol. The safety checker aborts streams stuck repeating
// the same chunk.
func streamResponse(w http.ResponseWriter, resp *http.Response, clientModel, requestID string, o *proxyOutcome) {
	defer resp.Body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		o.status = http.StatusInternalServerError
		o.err = "streaming unsupported"
		writeClaudeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	o.status = http.StatusOK

	emit := func(eventType string, data any) {
		payload, err := mappers.CreateClaudeStreamEvent(eventType, data)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
		flusher.Flush()
	}

	emit("message_start", mappers.NewStreamMessageStart(clientModel))
	fmt.Fprintf(w, "event: content_block_start\ndata: %s\n\n",
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
	flusher.Flush()

	safety := NewStreamSafetyChecker(requestID)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	stopReason := "end_turn"

	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 6 || line[:6] != "data: " {
			continue
		}
		var chunk map[string]any
		if err := json.Unmarshal([]byte(line[6:]), &chunk); err != nil {
			continue
		}
		if inner, ok := chunk["response"].(map[string]any); ok {
			chunk = inner
		}

		if meta, ok := chunk["usageMetadata"].(map[string]any); ok {
			if v, ok := meta["promptTokenCount"].(float64); ok {
				o.inputTokens = int(v)
			}
			if v, ok := meta["candidatesTokenCount"].(float64); ok {
				o.outputTokens = int(v)
			}
		}

		candidates, _ := chunk["candidates"].([]any)
		if len(candidates) == 0 {
			continue
		}
		candidate, _ := candidates[0].(map[string]any)
		if fr, ok := candidate["finishReason"].(string); ok && fr == "MAX_TOKENS" {
			stopReason = "max_tokens"
		}
		content, _ := candidate["content"].(map[string]any)
		parts, _ := content["parts"].([]any)
		for _, p := range parts {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if thought, _ := part["thought"].(bool); thought {
				continue
			}
			text, _ := part["text"].(string)
			if text == "" {
				continue
			}
			if !safety.Check(text) {
				o.err = "stream aborted: repeated chunk loop"
				log.Printf("🚨 [Messages] %s %s", requestID, o.err)
				emit("message_delta", nil)
				emitRaw(w, flusher, "message_stop", `{"type":"message_stop"}`)
				return
			}
			emit("content_block_delta", &mappers.ClaudeDelta{Type: "text_delta", Text: text})
		}
	}
	if err := scanner.Err(); err != nil {
		o.err = err.Error()
		log.Printf("⚠️ [Messages] %s stream read: %v", requestID, err)
	}

	emitRaw(w, flusher, "content_block_stop", `{"type":"content_block_stop","index":0}`)
	fmt.Fprintf(w, "event: message_delta\ndata: %s\n\n",
		fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":%q},"usage":{"output_tokens":%d}}`, stopReason, o.outputTokens))
	flusher.Flush()
	emitRaw(w, flusher, "message_stop", `{"type":"message_stop"}`)
}

func emitRaw(w http.ResponseWriter, flusher http.Flusher, eventType, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}

func writeClaudeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "api_error",
			"message": message,
		},
	})
}
