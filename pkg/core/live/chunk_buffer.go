package live

import (
	"strings"
	"sync"
)

// chunkPunctuation includes the devanagari danda so Hindi clauses flush too.
const chunkPunctuation = ",.!?।॥"

// ChunkBuffer accumulates LLM text deltas and emits clause-sized chunks for
// TTS. A chunk is released on punctuation, or at a word boundary once the
// buffer holds at least minWords words.
type ChunkBuffer struct {
	mu       sync.Mutex
	text     strings.Builder
	minWords int
}

// NewChunkBuffer creates a buffer releasing on punctuation or every minWords
// words. minWords <= 0 uses 5.
func NewChunkBuffer(minWords int) *ChunkBuffer {
	if minWords <= 0 {
		minWords = 5
	}
	return &ChunkBuffer{minWords: minWords}
}

// Add appends a delta and returns a chunk ready for synthesis, or "" if more
// text should accumulate.
func (b *ChunkBuffer) Add(delta string) string {
	if delta == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// A leading space confirms the previous word is complete.
	startsWithSpace := delta[0] == ' ' || delta[0] == '\n'
	prev := b.text.String()
	prevWords := len(strings.Fields(prev))

	b.text.WriteString(delta)
	content := b.text.String()

	if strings.ContainsAny(delta, chunkPunctuation) {
		if last := strings.LastIndexAny(content, chunkPunctuation); last >= 0 {
			// LastIndexAny returns the byte offset of a possibly multi-byte
			// rune; cut after the whole rune.
			cut := last + runeLenAt(content, last)
			toSend := strings.TrimSpace(content[:cut])
			remainder := strings.TrimSpace(content[cut:])
			b.text.Reset()
			if remainder != "" {
				b.text.WriteString(remainder)
			}
			return toSend
		}
	}

	if prevWords >= b.minWords && startsWithSpace {
		b.text.Reset()
		b.text.WriteString(strings.TrimLeft(delta, " \n"))
		return strings.TrimSpace(prev)
	}

	return ""
}

// Flush returns any remaining buffered text and resets the buffer.
func (b *ChunkBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := strings.TrimSpace(b.text.String())
	b.text.Reset()
	return out
}

// Reset clears the buffer without returning content.
func (b *ChunkBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text.Reset()
}

func runeLenAt(s string, i int) int {
	for n := i + 1; n < len(s); n++ {
		// Continuation bytes are 10xxxxxx.
		if s[n]&0xC0 != 0x80 {
			return n - i
		}
	}
	return len(s) - i
}
