package types

// Usage holds token counts reported by an LLM provider.
type Usage struct {
	PromptTokens       int `json:"prompt_tokens"`
	PromptCachedTokens int `json:"prompt_cached_tokens"`
	CompletionTokens   int `json:"completion_tokens"`
	TotalTokens        int `json:"total_tokens"`
}

// Add combines two Usage values (for session aggregation).
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:       u.PromptTokens + other.PromptTokens,
		PromptCachedTokens: u.PromptCachedTokens + other.PromptCachedTokens,
		CompletionTokens:   u.CompletionTokens + other.CompletionTokens,
		TotalTokens:        u.TotalTokens + other.TotalTokens,
	}
}

// IsEmpty reports whether no tokens were recorded.
func (u Usage) IsEmpty() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}
