package voicebridge

import (
	"net/http"
	"testing"
	"time"
)

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", cfg.ConnectTimeout, DefaultConnectTimeout)
	}
	if cfg.ResponseTimeout != DefaultResponseTimeout {
		t.Errorf("ResponseTimeout = %v, want %v", cfg.ResponseTimeout, DefaultResponseTimeout)
	}
	if cfg.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", cfg.SampleRate, DefaultSampleRate)
	}
	if cfg.Channels != 1 {
		t.Errorf("Channels = %d, want 1", cfg.Channels)
	}
	if cfg.FrameDuration != DefaultFrameDuration {
		t.Errorf("FrameDuration = %v, want %v", cfg.FrameDuration, DefaultFrameDuration)
	}
	if cfg.SilenceThreshold != DefaultSilenceThreshold {
		t.Errorf("SilenceThreshold = %v, want %v", cfg.SilenceThreshold, DefaultSilenceThreshold)
	}
	if cfg.MaxUtteranceDuration != DefaultMaxUtteranceDuration {
		t.Errorf("MaxUtteranceDuration = %v, want %v", cfg.MaxUtteranceDuration, DefaultMaxUtteranceDuration)
	}
	if cfg.SpeechThreshold != DefaultSpeechThreshold {
		t.Errorf("SpeechThreshold = %v, want %v", cfg.SpeechThreshold, DefaultSpeechThreshold)
	}
	if cfg.OutputAudioFormat != FormatPCM16 {
		t.Errorf("OutputAudioFormat = %q, want %q", cfg.OutputAudioFormat, FormatPCM16)
	}
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestWithDefaultsPreservesExplicit(t *testing.T) {
	cfg := Config{
		SampleRate:       16000,
		SilenceThreshold: 2 * time.Second,
	}.withDefaults()

	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if cfg.SilenceThreshold != 2*time.Second {
		t.Errorf("SilenceThreshold = %v, want 2s", cfg.SilenceThreshold)
	}
}

func TestFrameSamples(t *testing.T) {
	tests := []struct {
		sampleRate int
		frame      time.Duration
		want       int
	}{
		{24000, 30 * time.Millisecond, 720},
		{16000, 30 * time.Millisecond, 480},
		{24000, 20 * time.Millisecond, 480},
	}
	for _, tt := range tests {
		cfg := Config{SampleRate: tt.sampleRate, FrameDuration: tt.frame}
		if got := cfg.FrameSamples(); got != tt.want {
			t.Errorf("FrameSamples(%d Hz, %v) = %d, want %d", tt.sampleRate, tt.frame, got, tt.want)
		}
	}
}

func TestCredentialHeaders(t *testing.T) {
	h := http.Header{}
	APIKey("secret").apply(h)
	if got := h.Get("api-key"); got != "secret" {
		t.Errorf("api-key header = %q, want %q", got, "secret")
	}

	h = http.Header{}
	Bearer("token").apply(h)
	if got := h.Get("Authorization"); got != "Bearer token" {
		t.Errorf("Authorization header = %q, want %q", got, "Bearer token")
	}

	h = http.Header{}
	APIKey("").apply(h)
	Bearer("").apply(h)
	if len(h) != 0 {
		t.Errorf("empty credentials set headers: %v", h)
	}
}
