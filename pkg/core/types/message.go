package types

import (
	"strings"
	"sync"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`

	// Interrupted marks an assistant message that was cut off by barge-in.
	Interrupted bool `json:"interrupted,omitempty"`
}

// MessageRequest is a request to an LLM provider.
type MessageRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ChatContext holds the ordered conversation for one session.
// The system message is pinned; user/assistant turns form a sliding window
// truncated from the oldest end, never from the middle.
type ChatContext struct {
	mu       sync.Mutex
	system   string
	turns    []Message
	maxPairs int
	maxChars int
}

const (
	// DefaultMaxPairs is the default number of user/assistant pairs retained.
	DefaultMaxPairs = 20

	// DefaultMaxChars caps the total characters across retained turns.
	DefaultMaxChars = 32 * 1024
)

// NewChatContext creates a context with the given system instructions.
func NewChatContext(system string) *ChatContext {
	return &ChatContext{
		system:   system,
		maxPairs: DefaultMaxPairs,
		maxChars: DefaultMaxChars,
	}
}

// SetLimits overrides the truncation window. Zero values keep the defaults.
func (c *ChatContext) SetLimits(maxPairs, maxChars int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if maxPairs > 0 {
		c.maxPairs = maxPairs
	}
	if maxChars > 0 {
		c.maxChars = maxChars
	}
}

// System returns the pinned system instructions.
func (c *ChatContext) System() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.system
}

// AppendUser appends a finalized user transcript.
func (c *ChatContext) AppendUser(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Message{Role: RoleUser, Text: text})
	c.truncateLocked()
}

// AppendAssistant appends an assistant reply. interrupted marks a reply that
// was cut off by barge-in; the partial text is still part of the history.
func (c *ChatContext) AppendAssistant(text string, interrupted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, Message{Role: RoleAssistant, Text: text, Interrupted: interrupted})
	c.truncateLocked()
}

// Messages returns a copy of the current window, system message first.
func (c *ChatContext) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, 0, len(c.turns)+1)
	if c.system != "" {
		out = append(out, Message{Role: RoleSystem, Text: c.system})
	}
	out = append(out, c.turns...)
	return out
}

// Turns returns a copy of the user/assistant turns without the system message.
func (c *ChatContext) Turns() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of retained turns (excluding the system message).
func (c *ChatContext) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// truncateLocked drops the oldest turns until both the pair window and the
// character cap hold. Caller holds c.mu.
func (c *ChatContext) truncateLocked() {
	maxTurns := c.maxPairs * 2
	for len(c.turns) > maxTurns {
		c.turns = c.turns[1:]
	}
	for c.charCountLocked() > c.maxChars && len(c.turns) > 2 {
		c.turns = c.turns[1:]
	}
}

func (c *ChatContext) charCountLocked() int {
	n := 0
	for _, m := range c.turns {
		n += len(m.Text)
	}
	return n
}

// TranscriptText renders the turns as a plain-text transcript, one line per
// message, for the summary generator.
func (c *ChatContext) TranscriptText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, m := range c.turns {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}
