package types

// StreamEvent is one event from a streaming LLM response.
type StreamEvent interface {
	// StreamEventType returns the event type string for serialization.
	StreamEventType() string
}

// TextDeltaEvent carries an incremental text chunk.
type TextDeltaEvent struct {
	Text string `json:"text"`
}

func (e TextDeltaEvent) StreamEventType() string { return "text_delta" }

// ToolCallEvent carries a fully assembled tool invocation.
type ToolCallEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON
}

func (e ToolCallEvent) StreamEventType() string { return "tool_call" }

// MessageResponse is the result of a non-streaming LLM request.
type MessageResponse struct {
	Text       string `json:"text"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

// CompletionEvent terminates a stream, carrying the stop reason and usage.
// Providers emit it immediately before io.EOF.
type CompletionEvent struct {
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

func (e CompletionEvent) StreamEventType() string { return "completion" }
