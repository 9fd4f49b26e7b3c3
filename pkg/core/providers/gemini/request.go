package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// geminiRequest is the Gemini generateContent request body.
// The Gemini API uses camelCase field names.
type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig *geminiFunctionCallingConfig `json:"functionCallingConfig,omitempty"`
}

type geminiFunctionCallingConfig struct {
	Mode string `json:"mode,omitempty"` // AUTO, ANY, NONE
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// buildRequest converts an engine request to a Gemini request.
func buildRequest(req *types.MessageRequest) *geminiRequest {
	out := &geminiRequest{}

	if req.System != "" {
		out.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.System}},
		}
	}

	out.Contents = make([]geminiContent, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := string(msg.Role)
		if msg.Role == types.RoleAssistant {
			role = "model"
		}
		if msg.Role == types.RoleSystem {
			// Gemini carries system text in systemInstruction only.
			continue
		}
		out.Contents = append(out.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Text}},
		})
	}

	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decls = append(decls, geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  sanitizeSchema(tool.InputSchema),
			})
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	switch req.ToolChoice {
	case "":
	case "auto":
		out.ToolConfig = &geminiToolConfig{FunctionCallingConfig: &geminiFunctionCallingConfig{Mode: "AUTO"}}
	case "none":
		out.ToolConfig = &geminiToolConfig{FunctionCallingConfig: &geminiFunctionCallingConfig{Mode: "NONE"}}
	default:
		out.ToolConfig = &geminiToolConfig{FunctionCallingConfig: &geminiFunctionCallingConfig{Mode: "ANY"}}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	out.GenerationConfig = &geminiGenConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: maxTokens,
	}

	return out
}

// sanitizeSchema removes JSON Schema fields Gemini rejects, recursively.
func sanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "$schema", "$id", "$ref", "definitions", "$defs":
			continue
		}
		out[k] = v
	}
	if props, ok := out["properties"].(map[string]any); ok {
		clean := make(map[string]any, len(props))
		for name, v := range props {
			if sub, ok := v.(map[string]any); ok {
				clean[name] = sanitizeSchema(sub)
			} else {
				clean[name] = v
			}
		}
		out["properties"] = clean
	}
	if items, ok := out["items"].(map[string]any); ok {
		out["items"] = sanitizeSchema(items)
	}
	return out
}

// geminiResponse is the Gemini generateContent response body.
type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsage struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

func (u *geminiUsage) toUsage() types.Usage {
	if u == nil {
		return types.Usage{}
	}
	return types.Usage{
		PromptTokens:       u.PromptTokenCount,
		PromptCachedTokens: u.CachedContentTokenCount,
		CompletionTokens:   u.CandidatesTokenCount,
		TotalTokens:        u.TotalTokenCount,
	}
}

// parseResponse converts a Gemini response body to an engine response.
func parseResponse(body []byte) (*types.MessageResponse, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}

	return &types.MessageResponse{
		Text:       text.String(),
		StopReason: mapFinishReason(candidate.FinishReason),
		Usage:      resp.UsageMetadata.toUsage(),
	}, nil
}

// mapFinishReason converts a Gemini finish reason to an engine stop reason.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP", "SAFETY", "RECITATION", "":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	case "TOOL_USE", "FUNCTION_CALL":
		return "tool_use"
	default:
		return "end_turn"
	}
}
