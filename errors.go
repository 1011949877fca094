package voicebridge

import (
	"errors"
	"fmt"
	"net/url"
)

// Common error variables
var (
	// ErrClosed is returned when attempting to use a realtime client that has
	// been closed. Create a new client to resume operations.
	ErrClosed = errors.New("voicebridge: connection is closed")

	// ErrNotConnected is returned for operations that require an established
	// upstream connection.
	ErrNotConnected = errors.New("voicebridge: not connected")

	// ErrInvalidConfig is returned when required configuration fields are missing.
	ErrInvalidConfig = errors.New("voicebridge: invalid configuration")

	// ErrConnectionFailed is returned when the upstream WebSocket connection
	// cannot be established.
	ErrConnectionFailed = errors.New("voicebridge: connection failed")

	// ErrConnectTimeout is returned when the upstream handshake does not
	// produce an open-confirmation event within the configured timeout.
	ErrConnectTimeout = errors.New("voicebridge: connect timeout")

	// ErrSendTimeout is returned when sending a message upstream times out.
	ErrSendTimeout = errors.New("voicebridge: send timeout")

	// ErrInvalidAudio is returned for malformed audio input: bad base64,
	// truncated PCM, or a frame of the wrong size.
	ErrInvalidAudio = errors.New("voicebridge: invalid audio data")

	// ErrCaptureActive is returned when a start_recording command arrives for
	// a session that already has an active capture worker.
	ErrCaptureActive = errors.New("voicebridge: capture already active")

	// ErrResponseInterrupted is the failure reason delivered to AwaitResponse
	// waiters when the connection closes or fails while a response is
	// outstanding.
	ErrResponseInterrupted = errors.New("voicebridge: response interrupted")

	// ErrResponseOutstanding is returned when an utterance is submitted while
	// the previous submission's response has not completed. At most one
	// response may be outstanding per connection.
	ErrResponseOutstanding = errors.New("voicebridge: response outstanding")
)

// ConfigError represents a configuration validation error.
// It provides detailed information about which configuration field is invalid.
type ConfigError struct {
	Field   string // The configuration field that is invalid
	Value   string // The invalid value (if safe to log)
	Message string // Detailed error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("voicebridge: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("voicebridge: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ConnectionError represents an upstream WebSocket connection error.
// It wraps underlying network errors with additional context.
type ConnectionError struct {
	URL       string // The WebSocket URL that failed to connect
	Operation string // The operation that failed (e.g., "dial", "handshake")
	Cause     error  // The underlying error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("voicebridge: %s failed for %q: %v", e.Operation, e.URL, e.Cause)
	}
	return fmt.Sprintf("voicebridge: %s failed for %q", e.Operation, e.URL)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for ConnectionError.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// SendError represents an error that occurred while sending an event upstream.
type SendError struct {
	EventType string // The type of event being sent
	Cause     error  // The underlying error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("voicebridge: failed to send %s event: %v", e.EventType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Cause
}

// IsTimeout returns true if the error was caused by a timeout.
func (e *SendError) IsTimeout() bool {
	return errors.Is(e.Cause, ErrSendTimeout)
}

// AudioError represents an audio input-validation failure. Malformed audio is
// rejected at the boundary and never propagated as corrupted output.
type AudioError struct {
	Op      string // The conversion that failed (e.g., "base64_to_pcm", "pcm_to_wav")
	Message string // Detailed error message
	Cause   error  // The underlying error, if any
}

func (e *AudioError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("voicebridge: %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("voicebridge: %s: %s", e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *AudioError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for AudioError.
func (e *AudioError) Is(target error) bool {
	return target == ErrInvalidAudio
}

// EventError represents a malformed or unexpected upstream protocol event.
// These are logged and skipped; event processing continues.
type EventError struct {
	EventType string // The type of event that caused the error
	Cause     error  // The underlying parsing error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("voicebridge: failed to process %s event: %v", e.EventType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Cause
}

// Helper functions for creating specific errors

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

// NewConnectionError creates a new connection error.
func NewConnectionError(url, operation string, cause error) *ConnectionError {
	return &ConnectionError{URL: url, Operation: operation, Cause: cause}
}

// NewSendError creates a new send error.
func NewSendError(eventType string, cause error) *SendError {
	return &SendError{EventType: eventType, Cause: cause}
}

// NewAudioError creates a new audio input-validation error.
func NewAudioError(op, message string, cause error) *AudioError {
	return &AudioError{Op: op, Message: message, Cause: cause}
}

// NewEventError creates a new event processing error.
func NewEventError(eventType string, cause error) *EventError {
	return &EventError{EventType: eventType, Cause: cause}
}

// ValidateConfig performs comprehensive configuration validation.
func ValidateConfig(cfg Config) error {
	if cfg.ResourceEndpoint == "" {
		return NewConfigError("ResourceEndpoint", "", "cannot be empty")
	}

	if _, err := url.Parse(cfg.ResourceEndpoint); err != nil {
		return NewConfigError("ResourceEndpoint", cfg.ResourceEndpoint, "invalid URL format")
	}

	if cfg.Deployment == "" {
		return NewConfigError("Deployment", "", "cannot be empty")
	}

	if cfg.APIVersion == "" {
		return NewConfigError("APIVersion", "", "cannot be empty")
	}

	if cfg.Credential == nil {
		return NewConfigError("Credential", "", "cannot be nil")
	}

	if cfg.ConnectTimeout < 0 {
		return NewConfigError("ConnectTimeout", cfg.ConnectTimeout.String(), "cannot be negative")
	}

	if cfg.SampleRate < 0 {
		return NewConfigError("SampleRate", fmt.Sprintf("%d", cfg.SampleRate), "cannot be negative")
	}

	if cfg.Channels < 0 || cfg.Channels > 2 {
		return NewConfigError("Channels", fmt.Sprintf("%d", cfg.Channels), "must be 0 (default), 1 or 2")
	}

	if cfg.SilenceThreshold < 0 {
		return NewConfigError("SilenceThreshold", cfg.SilenceThreshold.String(), "cannot be negative")
	}

	if cfg.MaxUtteranceDuration < 0 {
		return NewConfigError("MaxUtteranceDuration", cfg.MaxUtteranceDuration.String(), "cannot be negative")
	}

	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return NewConfigError("SpeechThreshold", fmt.Sprintf("%g", cfg.SpeechThreshold), "must be within [0,1]")
	}

	switch cfg.OutputAudioFormat {
	case "", FormatPCM16, FormatG711ULaw, FormatG711ALaw:
	default:
		return NewConfigError("OutputAudioFormat", cfg.OutputAudioFormat, "must be pcm16, g711_ulaw or g711_alaw")
	}

	return nil
}
