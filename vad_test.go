package voicebridge

import (
	"errors"
	"testing"
	"time"
)

// testGate builds a gate with a simulated clock that advances one frame
// duration per Process call.
func testGate(cfg Config) (*Gate, *time.Time) {
	cfg = cfg.withDefaults()
	cfg.Logger = NewLogger(LogLevelOff)
	g := NewGate(cfg)
	now := time.Unix(1700000000, 0)
	g.clock = func() time.Time {
		t := now
		now = now.Add(cfg.FrameDuration)
		return t
	}
	return g, &now
}

// frameOf builds one gate-sized frame of constant-amplitude samples.
func frameOf(cfg Config, amplitude float64) []byte {
	cfg = cfg.withDefaults()
	samples := make([]float64, cfg.FrameSamples())
	for i := range samples {
		samples[i] = amplitude
	}
	return FloatTo16BitPCM(samples)
}

func TestClassify(t *testing.T) {
	cfg := Config{}.withDefaults()
	cfg.Logger = NewLogger(LogLevelOff)
	g := NewGate(cfg)

	speech, err := g.Classify(frameOf(cfg, 0.5))
	if err != nil {
		t.Fatalf("Classify(loud): %v", err)
	}
	if !speech {
		t.Error("loud frame classified as non-speech")
	}

	speech, err = g.Classify(frameOf(cfg, 0.0))
	if err != nil {
		t.Fatalf("Classify(silent): %v", err)
	}
	if speech {
		t.Error("silent frame classified as speech")
	}
}

func TestClassifyWrongFrameSize(t *testing.T) {
	cfg := Config{}.withDefaults()
	cfg.Logger = NewLogger(LogLevelOff)
	g := NewGate(cfg)

	_, err := g.Classify([]byte{0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for undersized frame")
	}
	if !errors.Is(err, ErrInvalidAudio) {
		t.Errorf("error = %v, want ErrInvalidAudio match", err)
	}
}

func TestGateSilenceBoundary(t *testing.T) {
	cfg := Config{SilenceThreshold: 300 * time.Millisecond}
	g, _ := testGate(cfg)
	cfg = cfg.withDefaults()

	speech := frameOf(cfg, 0.5)
	silence := frameOf(cfg, 0.0)

	for i := 0; i < 10; i++ {
		if got := g.Process(speech); got != GateContinue {
			t.Fatalf("speech frame %d: decision = %v, want GateContinue", i, got)
		}
	}

	// Trailing silence must exceed the threshold before the boundary fires.
	ended := false
	for i := 0; i < 20; i++ {
		if g.Process(silence) == GateEndOfUtterance {
			elapsed := time.Duration(i+1) * cfg.FrameDuration
			if elapsed <= cfg.SilenceThreshold {
				t.Errorf("boundary fired after %v of silence, threshold %v", elapsed, cfg.SilenceThreshold)
			}
			ended = true
			break
		}
	}
	if !ended {
		t.Fatal("boundary never fired despite sustained silence")
	}

	wantLen := 10 * len(speech)
	if got := len(g.Utterance()); got != wantLen {
		t.Errorf("utterance length = %d, want %d (speech frames only)", got, wantLen)
	}
}

func TestGateSilenceWithEmptyBufferContinues(t *testing.T) {
	cfg := Config{SilenceThreshold: 100 * time.Millisecond}
	g, _ := testGate(cfg)
	cfg = cfg.withDefaults()

	// No speech captured yet: silence alone never ends the utterance.
	silence := frameOf(cfg, 0.0)
	for i := 0; i < 50; i++ {
		if got := g.Process(silence); got != GateContinue {
			t.Fatalf("decision = %v on frame %d with empty buffer, want GateContinue", got, i)
		}
	}
}

func TestGateMaxDuration(t *testing.T) {
	cfg := Config{MaxUtteranceDuration: 900 * time.Millisecond}
	g, _ := testGate(cfg)
	cfg = cfg.withDefaults()

	// Continuous speech: the deadline fires even though speech never pauses.
	speech := frameOf(cfg, 0.5)
	frames := 0
	for ; frames < 100; frames++ {
		if g.Process(speech) == GateEndOfUtterance {
			break
		}
	}
	if frames == 100 {
		t.Fatal("max-duration deadline never fired")
	}

	elapsed := time.Duration(frames) * cfg.FrameDuration
	if elapsed < cfg.MaxUtteranceDuration {
		t.Errorf("deadline fired after %v, want at least %v", elapsed, cfg.MaxUtteranceDuration)
	}
}

func TestGateMalformedFrameDropped(t *testing.T) {
	cfg := Config{}
	g, _ := testGate(cfg)
	cfg = cfg.withDefaults()

	g.Process(frameOf(cfg, 0.5))
	before := len(g.Utterance())

	if got := g.Process([]byte{1, 2, 3}); got != GateContinue {
		t.Errorf("malformed frame decision = %v, want GateContinue", got)
	}
	if got := len(g.Utterance()); got != before {
		t.Errorf("malformed frame changed utterance length: %d -> %d", before, got)
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Errorf("rms(nil) = %v, want 0", got)
	}
	if got := rms([]float64{0.5, -0.5, 0.5, -0.5}); got != 0.5 {
		t.Errorf("rms(constant 0.5) = %v, want 0.5", got)
	}
}
