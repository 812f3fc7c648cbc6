package mappers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClaudeResponse is the Anthropic messages response envelope.
type ClaudeResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Content      []ClaudeContentBlock `json:"content"`
	Model        string               `json:"model"`
	StopReason   string               `json:"stop_reason,omitempty"`
	StopSequence *string              `json:"stop_sequence,omitempty"`
	Usage        ClaudeUsage          `json:"usage"`
}

type ClaudeContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ClaudeStreamEvent is one SSE frame of the Anthropic streaming
// protocol.
type ClaudeStreamEvent struct {
	Type         string              `json:"type"`
	Message      *ClaudeResponse     `json:"message,omitempty"`
	Index        int                 `json:"index,omitempty"`
	ContentBlock *ClaudeContentBlock `json:"content_block,omitempty"`
	Delta        *ClaudeDelta        `json:"delta,omitempty"`
}

type ClaudeDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// BuildGeminiContents converts Anthropic system + messages into Gemini
// contents. Content may be a plain string or an array of blocks; text,
// thinking, tool_use, and tool_result blocks are mapped, unknown block
// types are dropped.
func BuildGeminiContents(system any, messages []any) []GeminiContent {
	contents := make([]GeminiContent, 0, len(messages)+1)

	if systemText := flattenSystem(system); systemText != "" {
		contents = append(contents, GeminiContent{
			Role:  "user",
			Parts: []GeminiPart{{Text: "[System]: " + systemText}},
		})
	}

	for _, msg := range messages {
		m, ok := msg.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		if role == "assistant" {
			role = "model"
		}
		parts := convertContent(m["content"])
		if len(parts) > 0 {
			contents = append(contents, GeminiContent{Role: role, Parts: parts})
		}
	}
	return contents
}

func flattenSystem(system any) string {
	switch s := system.(type) {
	case string:
		return s
	case []any:
		var out string
		for _, block := range s {
			if b, ok := block.(map[string]any); ok {
				if text, ok := b["text"].(string); ok {
					out += text + "\n"
				}
			}
		}
		return out
	}
	return ""
}

func convertContent(content any) []GeminiPart {
	switch c := content.(type) {
	case string:
		return []GeminiPart{{Text: c}}
	case []any:
		var parts []GeminiPart
		for _, block := range c {
			b, ok := block.(map[string]any)
			if !ok {
				continue
			}
			switch b["type"] {
			case "text":
				if text, ok := b["text"].(string); ok {
					parts = append(parts, GeminiPart{Text: text})
				}
			case "thinking":
				if thinking, ok := b["thinking"].(string); ok {
					parts = append(parts, GeminiPart{Text: thinking, Thought: true})
				}
			case "tool_use":
				name, _ := b["name"].(string)
				parts = append(parts, GeminiPart{
					FunctionCall: map[string]any{"name": name, "args": b["input"]},
				})
			case "tool_result":
				toolUseID, _ := b["tool_use_id"].(string)
				parts = append(parts, GeminiPart{
					FunctionResponse: map[string]any{"name": toolUseID, "response": b["content"]},
				})
			}
		}
		return parts
	}
	return nil
}

// GeminiToClaude converts a full (non-streaming) Gemini response into
// an Anthropic messages response.
func GeminiToClaude(geminiResp map[string]any, model string) ([]byte, error) {
	var blocks []ClaudeContentBlock
	stopReason := "end_turn"
	usage := ClaudeUsage{}

	if candidates, ok := geminiResp["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if fr, ok := candidate["finishReason"].(string); ok && fr == "MAX_TOKENS" {
				stopReason = "max_tokens"
			}
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok {
					for _, p := range parts {
						part, ok := p.(map[string]any)
						if !ok {
							continue
						}
						if fc, ok := part["functionCall"].(map[string]any); ok {
							name, _ := fc["name"].(string)
							input, _ := fc["args"].(map[string]any)
							blocks = append(blocks, ClaudeContentBlock{
								Type:  "tool_use",
								ID:    "toolu_" + uuid.New().String(),
								Name:  name,
								Input: input,
							})
							stopReason = "tool_use"
							continue
						}
						if text, ok := part["text"].(string); ok && text != "" {
							blocks = append(blocks, ClaudeContentBlock{Type: "text", Text: text})
						}
					}
				}
			}
		}
	}
	if meta, ok := geminiResp["usageMetadata"].(map[string]any); ok {
		if v, ok := meta["promptTokenCount"].(float64); ok {
			usage.InputTokens = int(v)
		}
		if v, ok := meta["candidatesTokenCount"].(float64); ok {
			usage.OutputTokens = int(v)
		}
	}
	if len(blocks) == 0 {
		blocks = []ClaudeContentBlock{{Type: "text", Text: ""}}
	}

	resp := ClaudeResponse{
		ID:         fmt.Sprintf("msg_%s", uuid.New().String()),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: stopReason,
		Content:    blocks,
		Usage:      usage,
	}
	return json.Marshal(resp)
}

// CreateClaudeStreamEvent encodes one streaming event of the given
// type.
func CreateClaudeStreamEvent(eventType string, data any) ([]byte, error) {
	event := ClaudeStreamEvent{Type: eventType}
	switch eventType {
	case "message_start":
		if msg, ok := data.(*ClaudeResponse); ok {
			event.Message = msg
		}
	case "content_block_delta":
		if delta, ok := data.(*ClaudeDelta); ok {
			event.Index = 0
			event.Delta = delta
		}
	case "message_delta":
		event.Delta = &ClaudeDelta{StopReason: "end_turn"}
	}
	return json.Marshal(event)
}

// NewStreamMessageStart builds the message_start payload for a model.
func NewStreamMessageStart(model string) *ClaudeResponse {
	return &ClaudeResponse{
		ID:      fmt.Sprintf("msg_%d", time.Now().UnixNano()),
		Type:    "message",
		Role:    "assistant",
		Model:   model,
		Content: []ClaudeContentBlock{},
	}
}
