// Package mappers converts between the Anthropic wire format clients
// speak and the Gemini format the upstream serves.
package mappers

// GeminiRequest is the Cloud Code envelope around one generate call.
type GeminiRequest struct {
	Project     string               `json:"project,omitempty"`
	RequestID   string               `json:"requestId,omitempty"`
	Model       string               `json:"model"`
	UserAgent   string               `json:"userAgent,omitempty"`
	RequestType string               `json:"requestType,omitempty"`
	Request     GeminiRequestPayload `json:"request"`
}

type GeminiRequestPayload struct {
	Contents         []GeminiContent         `json:"contents"`
	SessionID        string                  `json:"sessionId,omitempty"`
	GenerationConfig *GeminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools            []GeminiTool            `json:"tools,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text             string         `json:"text,omitempty"`
	Thought          bool           `json:"thought,omitempty"`
	FunctionCall     map[string]any `json:"functionCall,omitempty"`
	FunctionResponse map[string]any `json:"functionResponse,omitempty"`
}

type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type GeminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}
