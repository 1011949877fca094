package voicebridge

// Downstream protocol: type-discriminated JSON messages exchanged with
// browser clients over the session WebSocket.

// Inbound command types.
const (
	CommandStartRecording = "start_recording"
	CommandStopRecording  = "stop_recording"
)

// ClientCommand is an inbound message from a browser client.
type ClientCommand struct {
	Type string `json:"type"` // "start_recording" or "stop_recording"
}

// ConnectionStatus reports upstream connectivity for the session.
type ConnectionStatus struct {
	Type    string `json:"type"`              // Always "connection_status"
	Status  string `json:"status"`            // "connected" or "disconnected"
	Message string `json:"message,omitempty"` // Human-readable detail
}

// ErrorMessage carries a structured error to the client. The session stays
// open; the client may retry.
type ErrorMessage struct {
	Type    string `json:"type"`    // Always "error"
	Message string `json:"message"` // Human-readable error description
}

// RecordingStatus reports capture lifecycle changes.
type RecordingStatus struct {
	Type    string `json:"type"`              // Always "recording_status"
	Status  string `json:"status"`            // "started", "stopped", or "error"
	Message string `json:"message,omitempty"` // Human-readable detail
}

// TextResponse carries the display-formatted transcript of an assistant
// response (see FormatText).
type TextResponse struct {
	Type string `json:"type"` // Always "text_response"
	Text string `json:"text"` // HTML-formatted transcript
}

// AudioChunk carries base64 audio: raw PCM16 chunks streamed during a
// response, then one assembled WAV after the response completes.
type AudioChunk struct {
	Type  string `json:"type"`  // Always "audio_chunk"
	Audio string `json:"audio"` // Base64-encoded audio payload
}

// AudioResponseDone signals that the response audio stream is complete and
// the final WAV chunk, if any, has been sent.
type AudioResponseDone struct {
	Type string `json:"type"` // Always "audio_response_done"
}
