package vad

import (
	"time"
)

// Config tunes the detector.
type Config struct {
	// MinSpeechDuration is the sustained speech needed before a speech-start
	// fires. Shorter bursts are treated as noise.
	MinSpeechDuration time.Duration `json:"min_speech_duration"`

	// MinSilenceDuration is the sustained silence needed before a speech-end
	// fires. Short pauses inside an utterance do not end it.
	MinSilenceDuration time.Duration `json:"min_silence_duration"`

	// ActivationThreshold is the RMS energy at or above which a frame counts
	// as speech. Range 0.0 to 1.0.
	ActivationThreshold float64 `json:"activation_threshold"`

	// PrefixPadding is audio retained from before the detected onset, so the
	// first syllable is not clipped.
	PrefixPadding time.Duration `json:"prefix_padding"`

	// MaxBufferedSpeech caps the per-utterance speech buffer; the oldest
	// audio is discarded past it.
	MaxBufferedSpeech time.Duration `json:"max_buffered_speech"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinSpeechDuration:   100 * time.Millisecond,
		MinSilenceDuration:  500 * time.Millisecond,
		ActivationThreshold: 0.02,
		PrefixPadding:       300 * time.Millisecond,
		MaxBufferedSpeech:   30 * time.Second,
	}
}

// Classification is the per-frame verdict.
type Classification struct {
	Speech      bool    // frame energy at or above the activation threshold
	Probability float64 // pseudo-probability derived from energy
	Energy      float64 // raw RMS energy
}

// Decision is an utterance-level transition produced by Push.
type Decision int

const (
	// DecisionNone means no transition on this frame.
	DecisionNone Decision = iota
	// DecisionSpeechStart fires once speech has been sustained for
	// MinSpeechDuration.
	DecisionSpeechStart
	// DecisionSpeechEnd fires once silence has been sustained for
	// MinSilenceDuration after a speech start.
	DecisionSpeechEnd
)

// String returns a human-readable decision name.
func (d Decision) String() string {
	switch d {
	case DecisionSpeechStart:
		return "SPEECH_START"
	case DecisionSpeechEnd:
		return "SPEECH_END"
	default:
		return "NONE"
	}
}

// Detector is a stateful energy VAD. Frames go in via Push in arrival order;
// Detector is not safe for concurrent use.
type Detector struct {
	cfg   Config
	audio AudioConfig

	speaking    bool
	speechRun   time.Duration // consecutive speech while not yet speaking
	silenceRun  time.Duration // consecutive silence while speaking
	speechSince time.Time

	prefix *prefixRing
	onset  []byte // frames seen during the pre-confirmation speech run
	speech *SpeechBuffer
}

// NewDetector creates a detector for the given audio format.
func NewDetector(cfg Config, audio AudioConfig) *Detector {
	return &Detector{
		cfg:    cfg,
		audio:  audio,
		prefix: newPrefixRing(audio, cfg.PrefixPadding),
		speech: NewSpeechBuffer(audio, cfg.MaxBufferedSpeech),
	}
}

// Classify computes the per-frame verdict without advancing detector state.
func (d *Detector) Classify(frame []byte) Classification {
	energy := RMSEnergy(frame)
	prob := 0.0
	if d.cfg.ActivationThreshold > 0 {
		prob = energy / (2 * d.cfg.ActivationThreshold)
		if prob > 1 {
			prob = 1
		}
	}
	return Classification{
		Speech:      energy >= d.cfg.ActivationThreshold,
		Probability: prob,
		Energy:      energy,
	}
}

// Push consumes one frame and returns its classification plus any
// utterance-level transition.
func (d *Detector) Push(frame []byte) (Classification, Decision) {
	c := d.Classify(frame)
	frameDur := d.audio.Duration(len(frame))

	if d.speaking {
		d.speech.Write(frame)
		if c.Speech {
			d.silenceRun = 0
			return c, DecisionNone
		}
		d.silenceRun += frameDur
		if d.silenceRun >= d.cfg.MinSilenceDuration {
			d.speaking = false
			d.silenceRun = 0
			return c, DecisionSpeechEnd
		}
		return c, DecisionNone
	}

	if !c.Speech {
		// A short burst below MinSpeechDuration is a flap; drop it.
		d.speechRun = 0
		d.onset = d.onset[:0]
		d.prefix.Write(frame)
		return c, DecisionNone
	}

	d.speechRun += frameDur
	d.onset = append(d.onset, frame...)
	if d.speechRun < d.cfg.MinSpeechDuration {
		return c, DecisionNone
	}

	d.speaking = true
	d.speechRun = 0
	d.silenceRun = 0
	d.speechSince = time.Now()
	d.speech.Clear()
	d.speech.Write(d.prefix.Read())
	d.speech.Write(d.onset)
	d.onset = d.onset[:0]
	d.prefix.Clear()
	return c, DecisionSpeechStart
}

// Speaking reports whether an utterance is currently open.
func (d *Detector) Speaking() bool { return d.speaking }

// SpeechDuration returns how long the current utterance has been open.
func (d *Detector) SpeechDuration() time.Duration {
	if !d.speaking {
		return 0
	}
	return time.Since(d.speechSince)
}

// SpeechAudio returns the buffered utterance audio, prefix padding included.
func (d *Detector) SpeechAudio() []byte {
	return d.speech.Read()
}

// Reset clears all state for a new utterance.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechRun = 0
	d.silenceRun = 0
	d.onset = d.onset[:0]
	d.prefix.Clear()
	d.speech.Clear()
}
