package openai

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// eventStream implements EventStream over an OpenAI SSE response body.
type eventStream struct {
	reader   *bufio.Reader
	closer   io.Closer
	err      error
	finished bool
	pending  []types.StreamEvent

	usage        types.Usage
	finishReason string
	toolCalls    map[int]*toolCallAccumulator
	toolOrder    []int
}

// toolCallAccumulator assembles one streamed tool call.
type toolCallAccumulator struct {
	ID            string
	Name          string
	ArgumentsJSON strings.Builder
}

// chatChunk is the OpenAI streaming chunk format.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content,omitempty"`
			ToolCalls []toolCallDelta `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		reader:    bufio.NewReader(body),
		closer:    body,
		toolCalls: make(map[int]*toolCallAccumulator),
	}
}

// Next returns the next event. Text deltas are emitted as they arrive; tool
// calls are assembled and emitted at stream end, just before the completion
// event that carries the usage totals.
func (s *eventStream) Next() (types.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.pending) > 0 {
		event := s.pending[0]
		s.pending = s.pending[1:]
		return event, nil
	}
	if s.finished {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return s.finish()
			}
			s.err = err
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return s.finish()
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip unparseable chunks
		}

		// Usage arrives in a trailing chunk when stream_options.include_usage
		// is set.
		if chunk.Usage != nil {
			s.usage = chunk.Usage.toUsage()
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.FinishReason != "" {
			s.finishReason = choice.FinishReason
		}

		for _, tc := range choice.Delta.ToolCalls {
			acc, exists := s.toolCalls[tc.Index]
			if !exists {
				acc = &toolCallAccumulator{}
				s.toolCalls[tc.Index] = acc
				s.toolOrder = append(s.toolOrder, tc.Index)
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.ArgumentsJSON.WriteString(tc.Function.Arguments)
			}
		}

		if choice.Delta.Content != "" {
			return types.TextDeltaEvent{Text: choice.Delta.Content}, nil
		}
	}
}

// finish queues assembled tool calls, then returns the completion event with
// io.EOF per the EventStream contract.
func (s *eventStream) finish() (types.StreamEvent, error) {
	s.finished = true

	for _, idx := range s.toolOrder {
		acc := s.toolCalls[idx]
		s.pending = append(s.pending, types.ToolCallEvent{
			ID:        acc.ID,
			Name:      acc.Name,
			Arguments: acc.ArgumentsJSON.String(),
		})
	}
	s.pending = append(s.pending, types.CompletionEvent{
		StopReason: s.finishReason,
		Usage:      s.usage,
	})

	event := s.pending[0]
	s.pending = s.pending[1:]
	if len(s.pending) == 0 {
		return event, io.EOF
	}
	return event, nil
}

// Close releases the underlying response body.
func (s *eventStream) Close() error {
	return s.closer.Close()
}
