package gemini

import (
	"testing"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

func TestBuildRequest_SystemAndRoles(t *testing.T) {
	req := &types.MessageRequest{
		Model:  "gemini-2.0-flash",
		System: "You are a telecaller.",
		Messages: []types.Message{
			{Role: types.RoleUser, Text: "hello"},
			{Role: types.RoleAssistant, Text: "hi there"},
		},
	}

	out := buildRequest(req)

	if out.SystemInstruction == nil || out.SystemInstruction.Parts[0].Text != "You are a telecaller." {
		t.Fatalf("systemInstruction = %+v, want system text", out.SystemInstruction)
	}
	if len(out.Contents) != 2 {
		t.Fatalf("contents len = %d, want 2", len(out.Contents))
	}
	if out.Contents[0].Role != "user" || out.Contents[1].Role != "model" {
		t.Fatalf("roles = %q, %q; want user, model", out.Contents[0].Role, out.Contents[1].Role)
	}
	if out.GenerationConfig.MaxOutputTokens != DefaultMaxTokens {
		t.Fatalf("maxOutputTokens = %d, want default %d", out.GenerationConfig.MaxOutputTokens, DefaultMaxTokens)
	}
}

func TestSanitizeSchema_RemovesUnsupportedFields(t *testing.T) {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"city": map[string]any{
				"type":    "string",
				"$schema": "http://json-schema.org/draft-07/schema#",
			},
		},
	}

	out := sanitizeSchema(schema)

	if _, ok := out["additionalProperties"]; ok {
		t.Fatal("additionalProperties should be removed")
	}
	props := out["properties"].(map[string]any)
	city := props["city"].(map[string]any)
	if _, ok := city["$schema"]; ok {
		t.Fatal("nested $schema should be removed")
	}
	if city["type"] != "string" {
		t.Fatalf("city type = %v, want string", city["type"])
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]string{
		"STOP":       "end_turn",
		"MAX_TOKENS": "max_tokens",
		"":           "end_turn",
		"OTHER":      "end_turn",
	}
	for in, want := range cases {
		if got := mapFinishReason(in); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}
