package voicebridge

import (
	"fmt"
	"math"
	"time"
)

// GateDecision is the outcome of feeding one frame to the Gate.
type GateDecision int

const (
	// GateContinue means the frame was consumed and capture should continue.
	GateContinue GateDecision = iota
	// GateEndOfUtterance means the utterance boundary has been reached:
	// either trailing silence exceeded the threshold or the max-duration
	// deadline passed.
	GateEndOfUtterance
)

// Gate classifies fixed-size audio frames as speech or non-speech and decides
// utterance boundaries. One Gate serves exactly one capture: the utterance
// buffer it accumulates is owned by that capture and never reused across
// starts.
//
// Classification operates on 16-bit PCM at 16 kHz; frames captured at a
// different rate are resampled before classification while the original-rate
// bytes are what accumulate into the utterance.
type Gate struct {
	sampleRate      int
	frameSamples    int
	speechThreshold float64
	silence         time.Duration
	maxDuration     time.Duration
	logger          *Logger

	clock func() time.Time

	started    time.Time
	lastSpeech time.Time
	utterance  []byte
}

// NewGate creates a Gate from the bridge configuration.
func NewGate(cfg Config) *Gate {
	cfg = cfg.withDefaults()
	return &Gate{
		sampleRate:      cfg.SampleRate,
		frameSamples:    cfg.FrameSamples(),
		speechThreshold: cfg.SpeechThreshold,
		silence:         cfg.SilenceThreshold,
		maxDuration:     cfg.MaxUtteranceDuration,
		logger:          cfg.Logger,
		clock:           time.Now,
	}
}

// Classify reports whether a single frame contains speech. The frame must be
// exactly FrameSamples 16-bit samples at the capture rate; anything else is
// an input-validation error.
func (g *Gate) Classify(frame []byte) (bool, error) {
	if len(frame) != 2*g.frameSamples {
		return false, NewAudioError("classify", fmt.Sprintf("frame is %d bytes, want %d", len(frame), 2*g.frameSamples), nil)
	}

	samples, err := PCM16ToFloat(frame)
	if err != nil {
		return false, err
	}
	if g.sampleRate != vadSampleRate {
		samples = Resample(samples, g.sampleRate, vadSampleRate)
	}
	return rms(samples) >= g.speechThreshold, nil
}

// Process feeds one frame through classification and boundary tracking.
// Malformed frames are dropped (logged, not fatal). The max-duration
// deadline fires regardless of whether speech is continuing.
func (g *Gate) Process(frame []byte) GateDecision {
	now := g.clock()
	if g.started.IsZero() {
		g.started = now
		g.lastSpeech = now
	}

	if now.Sub(g.started) >= g.maxDuration {
		return GateEndOfUtterance
	}

	speech, err := g.Classify(frame)
	if err != nil {
		g.logger.Warn("frame_dropped", map[string]any{"error": err})
		return GateContinue
	}

	if speech {
		g.utterance = append(g.utterance, frame...)
		g.lastSpeech = now
		return GateContinue
	}

	if len(g.utterance) > 0 && now.Sub(g.lastSpeech) > g.silence {
		return GateEndOfUtterance
	}
	return GateContinue
}

// Utterance returns the speech frames accumulated so far, at the capture
// sample rate.
func (g *Gate) Utterance() []byte { return g.utterance }

// rms computes the root-mean-square level of normalized samples.
func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
