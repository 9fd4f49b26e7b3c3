package gemini

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// eventStream implements core.EventStream over a Gemini SSE response body.
type eventStream struct {
	reader       *bufio.Reader
	closer       io.Closer
	err          error
	finished     bool
	usage        types.Usage
	finishReason string
}

// streamChunk is one SSE data payload from streamGenerateContent.
type streamChunk struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{
		reader: bufio.NewReader(body),
		closer: body,
	}
}

// Next returns the next event. Usage arrives incrementally on chunks; the
// last observed usageMetadata is carried on the final CompletionEvent.
func (s *eventStream) Next() (types.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
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

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.UsageMetadata != nil {
			s.usage = chunk.UsageMetadata.toUsage()
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		candidate := chunk.Candidates[0]
		if candidate.FinishReason != "" {
			s.finishReason = candidate.FinishReason
		}

		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			return types.TextDeltaEvent{Text: text.String()}, nil
		}
	}
}

// finish emits the terminal CompletionEvent; subsequent calls return io.EOF.
func (s *eventStream) finish() (types.StreamEvent, error) {
	s.finished = true
	return types.CompletionEvent{
		StopReason: mapFinishReason(s.finishReason),
		Usage:      s.usage,
	}, nil
}

// Close releases the underlying response body.
func (s *eventStream) Close() error {
	return s.closer.Close()
}
