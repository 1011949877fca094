package voicebridge

import (
	"net/http"
	"time"
)

// Credential represents an authentication method for the realtime endpoint.
// Implementations apply the appropriate headers to the connection handshake.
type Credential interface{ apply(h http.Header) }

// APIKey implements Credential using Azure OpenAI API key authentication.
type APIKey string

// apply adds the API key to the request headers using the "api-key" header.
func (k APIKey) apply(h http.Header) {
	if k != "" {
		h.Set("api-key", string(k))
	}
}

// Bearer implements Credential using OAuth2 Bearer token authentication.
// Use this when authenticating with Azure AD tokens or other Bearer tokens.
type Bearer string

// apply adds the Bearer token to the Authorization header.
func (b Bearer) apply(h http.Header) {
	if b != "" {
		h.Set("Authorization", "Bearer "+string(b))
	}
}

// Upstream audio formats the bridge understands. The realtime session may be
// configured to emit G.711 audio; deltas are decoded to PCM16 before
// accumulation so the final WAV delivery stays uniform.
const (
	FormatPCM16    = "pcm16"
	FormatG711ULaw = "g711_ulaw"
	FormatG711ALaw = "g711_alaw"
)

// Default values applied by Config.withDefaults.
const (
	// DefaultSampleRate is the capture and playback rate used by the
	// realtime API (24 kHz PCM16).
	DefaultSampleRate = 24000

	// DefaultFrameDuration is the fixed voice-activity frame length.
	DefaultFrameDuration = 30 * time.Millisecond

	// DefaultSilenceThreshold is the trailing silence that ends an utterance.
	DefaultSilenceThreshold = 1 * time.Second

	// DefaultMaxUtteranceDuration bounds a single capture regardless of
	// continuing speech.
	DefaultMaxUtteranceDuration = 30 * time.Second

	// DefaultConnectTimeout bounds the wait for the upstream
	// open-confirmation event.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultResponseTimeout is the watchdog on the response-completion
	// wait, so a lost upstream never leaves a session permanently stuck.
	DefaultResponseTimeout = 2 * time.Minute

	// DefaultSpeechThreshold is the normalized RMS level above which a frame
	// is classified as speech.
	DefaultSpeechThreshold = 0.015

	// vadSampleRate is the rate the classifier operates at. Frames captured
	// at a different rate are resampled before classification.
	vadSampleRate = 16000
)

// Config holds all configuration for the bridge: the upstream realtime
// connection, capture/VAD parameters, and operational knobs. All fields
// marked required must be provided.
type Config struct {
	// ResourceEndpoint is the base URL of the Azure OpenAI resource.
	// Format: https://{resource-name}.openai.azure.com
	// Required: Yes
	ResourceEndpoint string

	// Deployment is the name of the realtime model deployment.
	// Required: Yes
	Deployment string

	// APIVersion specifies the Azure OpenAI API version to use.
	// Required: Yes
	APIVersion string

	// Credential provides authentication for the handshake.
	// Use APIKey for key-based auth or Bearer for token-based auth.
	// Required: Yes
	Credential Credential

	// HandshakeHeaders allows adding custom headers to the WebSocket
	// handshake request (proxy auth, tracing, etc.).
	HandshakeHeaders http.Header

	// ConnectTimeout bounds Connect: the open-confirmation event must be
	// observed within this window. Default: 5s.
	ConnectTimeout time.Duration

	// ResponseTimeout bounds the wait for response completion after an
	// utterance submission. Default: 2m.
	ResponseTimeout time.Duration

	// SampleRate is the capture sample rate in Hz. Default: 24000.
	SampleRate int

	// Channels is the capture channel count. Default: 1 (mono).
	Channels int

	// FrameDuration is the voice-activity frame length. Default: 30ms.
	FrameDuration time.Duration

	// SilenceThreshold is the trailing-silence duration that ends an
	// utterance. Default: 1s.
	SilenceThreshold time.Duration

	// MaxUtteranceDuration forces end-of-utterance from capture start even
	// while speech continues. Default: 30s.
	MaxUtteranceDuration time.Duration

	// SpeechThreshold is the normalized RMS energy above which a frame
	// counts as speech. Default: 0.015.
	SpeechThreshold float64

	// OutputAudioFormat is the audio format the upstream session emits.
	// One of pcm16 (default), g711_ulaw, g711_alaw. Non-PCM deltas are
	// decoded to PCM16 before accumulation.
	OutputAudioFormat string

	// Prompt is optional text submitted alongside every utterance.
	Prompt string

	// Retry configures the upstream connect retry policy used when a
	// session is created. Zero value disables retries.
	Retry RetryConfig

	// Logger receives structured operational events. If nil, a logger is
	// created from the VOICEBRIDGE_LOG_LEVEL environment variable.
	Logger *Logger
}

// withDefaults returns a copy of cfg with zero-value fields filled in.
func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.MaxUtteranceDuration == 0 {
		c.MaxUtteranceDuration = DefaultMaxUtteranceDuration
	}
	if c.SpeechThreshold == 0 {
		c.SpeechThreshold = DefaultSpeechThreshold
	}
	if c.OutputAudioFormat == "" {
		c.OutputAudioFormat = FormatPCM16
	}
	if c.Logger == nil {
		c.Logger = NewLoggerFromEnv()
	}
	return c
}

// FrameSamples returns the exact number of samples a voice-activity frame
// must contain at the configured capture rate.
func (c Config) FrameSamples() int {
	return int(c.SampleRate * int(c.FrameDuration/time.Millisecond) / 1000)
}
