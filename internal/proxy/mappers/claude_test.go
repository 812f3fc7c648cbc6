package mappers

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildGeminiContentsSystemString(t *testing.T) {
	contents := BuildGeminiContents("be brief", []any{
		map[string]any{"role": "user", "content": "hello"},
	})
	if len(contents) != 2 {
		t.Fatalf("contents = %+v", contents)
	}
	if contents[0].Role != "user" || contents[0].Parts[0].Text != "[System]: be brief" {
		t.Errorf("system content = %+v", contents[0])
	}
	if contents[1].Parts[0].Text != "hello" {
		t.Errorf("user content = %+v", contents[1])
	}
}

func TestBuildGeminiContentsSystemBlocks(t *testing.T) {
	system := []any{
		map[string]any{"type": "text", "text": "one"},
		map[string]any{"type": "text", "text": "two"},
	}
	contents := BuildGeminiContents(system, nil)
	if len(contents) != 1 {
		t.Fatalf("contents = %+v", contents)
	}
	text := contents[0].Parts[0].Text
	if !strings.Contains(text, "one") || !strings.Contains(text, "two") {
		t.Errorf("system text = %q", text)
	}
}

func TestBuildGeminiContentsAssistantBecomesModel(t *testing.T) {
	contents := BuildGeminiContents(nil, []any{
		map[string]any{"role": "assistant", "content": "earlier reply"},
	})
	if len(contents) != 1 || contents[0].Role != "model" {
		t.Fatalf("contents = %+v", contents)
	}
}

func TestBuildGeminiContentsBlocks(t *testing.T) {
	messages := []any{
		map[string]any{"role": "assistant", "content": []any{
			map[string]any{"type": "text", "text": "calling a tool"},
			map[string]any{"type": "thinking", "thinking": "let me check"},
			map[string]any{"type": "tool_use", "id": "toolu_1", "name": "get_weather",
				"input": map[string]any{"city": "Berlin"}},
		}},
		map[string]any{"role": "user", "content": []any{
			map[string]any{"type": "tool_result", "tool_use_id": "toolu_1", "content": "22C"},
			map[string]any{"type": "mystery"},
		}},
	}

	contents := BuildGeminiContents(nil, messages)
	if len(contents) != 2 {
		t.Fatalf("contents = %+v", contents)
	}

	parts := contents[0].Parts
	if len(parts) != 3 {
		t.Fatalf("assistant parts = %+v", parts)
	}
	if parts[0].Text != "calling a tool" {
		t.Errorf("text part = %+v", parts[0])
	}
	if !parts[1].Thought || parts[1].Text != "let me check" {
		t.Errorf("thinking part = %+v", parts[1])
	}
	fc := parts[2].FunctionCall
	if fc["name"] != "get_weather" {
		t.Errorf("functionCall = %+v", fc)
	}

	parts = contents[1].Parts
	if len(parts) != 1 {
		t.Fatalf("unknown block should be dropped: %+v", parts)
	}
	fr := parts[0].FunctionResponse
	if fr["name"] != "toolu_1" || fr["response"] != "22C" {
		t.Errorf("functionResponse = %+v", fr)
	}
}

func TestBuildGeminiContentsSkipsEmptyMessages(t *testing.T) {
	contents := BuildGeminiContents(nil, []any{
		map[string]any{"role": "user", "content": []any{}},
		"not a map",
	})
	if len(contents) != 0 {
		t.Fatalf("contents = %+v", contents)
	}
}

func decodeClaude(t *testing.T, raw []byte) ClaudeResponse {
	t.Helper()
	var resp ClaudeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return resp
}

func TestGeminiToClaudeText(t *testing.T) {
	gemini := map[string]any{
		"candidates": []any{map[string]any{
			"finishReason": "STOP",
			"content": map[string]any{"parts": []any{
				map[string]any{"text": "hi there"},
			}},
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     float64(12),
			"candidatesTokenCount": float64(5),
		},
	}
	raw, err := GeminiToClaude(gemini, "claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	resp := decodeClaude(t, raw)
	if resp.Type != "message" || resp.Role != "assistant" || resp.Model != "claude-sonnet-4-5" {
		t.Errorf("envelope = %+v", resp)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stopReason = %q", resp.StopReason)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hi there" {
		t.Errorf("content = %+v", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if !strings.HasPrefix(resp.ID, "msg_") {
		t.Errorf("id = %q", resp.ID)
	}
}

func TestGeminiToClaudeFunctionCall(t *testing.T) {
	gemini := map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{
				map[string]any{"functionCall": map[string]any{
					"name": "get_weather",
					"args": map[string]any{"city": "Berlin"},
				}},
			}},
		}},
	}
	resp := decodeClaude(t, mustMap(t, gemini))
	if resp.StopReason != "tool_use" {
		t.Errorf("stopReason = %q", resp.StopReason)
	}
	block := resp.Content[0]
	if block.Type != "tool_use" || block.Name != "get_weather" {
		t.Errorf("block = %+v", block)
	}
	if !strings.HasPrefix(block.ID, "toolu_") {
		t.Errorf("tool id = %q", block.ID)
	}
	if block.Input["city"] != "Berlin" {
		t.Errorf("input = %+v", block.Input)
	}
}

func mustMap(t *testing.T, gemini map[string]any) []byte {
	t.Helper()
	raw, err := GeminiToClaude(gemini, "claude-sonnet-4-5")
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestGeminiToClaudeMaxTokens(t *testing.T) {
	gemini := map[string]any{
		"candidates": []any{map[string]any{
			"finishReason": "MAX_TOKENS",
			"content": map[string]any{"parts": []any{
				map[string]any{"text": "truncat"},
			}},
		}},
	}
	resp := decodeClaude(t, mustMap(t, gemini))
	if resp.StopReason != "max_tokens" {
		t.Errorf("stopReason = %q", resp.StopReason)
	}
}

func TestGeminiToClaudeEmptyResponse(t *testing.T) {
	resp := decodeClaude(t, mustMap(t, map[string]any{}))
	if len(resp.Content) != 1 || resp.Content[0].Type != "text" || resp.Content[0].Text != "" {
		t.Fatalf("empty response should yield one empty text block: %+v", resp.Content)
	}
}

func TestCreateClaudeStreamEvent(t *testing.T) {
	raw, err := CreateClaudeStreamEvent("content_block_delta", &ClaudeDelta{Type: "text_delta", Text: "chunk"})
	if err != nil {
		t.Fatal(err)
	}
	var evt map[string]any
	if err := json.Unmarshal(raw, &evt); err != nil {
		t.Fatal(err)
	}
	if evt["type"] != "content_block_delta" {
		t.Errorf("type = %v", evt["type"])
	}
	delta := evt["delta"].(map[string]any)
	if delta["text"] != "chunk" || delta["type"] != "text_delta" {
		t.Errorf("delta = %+v", delta)
	}

	raw, err = CreateClaudeStreamEvent("message_start", NewStreamMessageStart("claude-sonnet-4-5"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"message_start"`) || !strings.Contains(string(raw), `"claude-sonnet-4-5"`) {
		t.Errorf("message_start = %s", raw)
	}
}
