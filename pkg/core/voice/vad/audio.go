// Package vad implements energy-based voice activity detection over 16-bit
// PCM frames.
package vad

import (
	"math"
	"sync"
	"time"
)

// AudioConfig specifies audio format parameters.
type AudioConfig struct {
	SampleRate    int `json:"sample_rate"`     // Hz
	Channels      int `json:"channels"`        // 1 for mono
	BitsPerSample int `json:"bits_per_sample"` // 16 for PCM
}

// DefaultAudioConfig returns the standard telephony-adjacent configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// Duration returns the play time of the given byte count.
func (c AudioConfig) Duration(bytes int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// Bytes returns the byte count for the given duration.
func (c AudioConfig) Bytes(d time.Duration) int {
	return int(d * time.Duration(c.BytesPerSecond()) / time.Second)
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to [0.0, 1.0].
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// SpeechBuffer accumulates PCM with a byte cap, discarding from the oldest
// end when full.
type SpeechBuffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	config   AudioConfig
}

// NewSpeechBuffer creates a buffer holding up to maxDuration of audio.
func NewSpeechBuffer(config AudioConfig, maxDuration time.Duration) *SpeechBuffer {
	maxBytes := config.Bytes(maxDuration)
	return &SpeechBuffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		config:   config,
	}
}

// Write appends audio, trimming the oldest data past the cap.
func (b *SpeechBuffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, data...)
	if len(b.data) > b.maxBytes {
		b.data = b.data[len(b.data)-b.maxBytes:]
	}
}

// Read returns a copy of the buffered audio.
func (b *SpeechBuffer) Read() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Duration returns the buffered play time.
func (b *SpeechBuffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.Duration(len(b.data))
}

// Clear empties the buffer.
func (b *SpeechBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// prefixRing is a fixed-size circular buffer holding the most recent audio,
// used for prefix padding ahead of a detected speech onset.
type prefixRing struct {
	data     []byte
	writePos int
	filled   int
}

func newPrefixRing(config AudioConfig, d time.Duration) *prefixRing {
	size := config.Bytes(d)
	if size == 0 {
		size = 1
	}
	return &prefixRing{data: make([]byte, size)}
}

func (r *prefixRing) Write(data []byte) {
	for _, b := range data {
		r.data[r.writePos] = b
		r.writePos = (r.writePos + 1) % len(r.data)
		if r.filled < len(r.data) {
			r.filled++
		}
	}
}

// Read returns the buffered audio in chronological order.
func (r *prefixRing) Read() []byte {
	if r.filled < len(r.data) {
		out := make([]byte, r.filled)
		copy(out, r.data[:r.filled])
		return out
	}
	out := make([]byte, len(r.data))
	n := copy(out, r.data[r.writePos:])
	copy(out[n:], r.data[:r.writePos])
	return out
}

func (r *prefixRing) Clear() {
	r.writePos = 0
	r.filled = 0
}
