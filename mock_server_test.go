package voicebridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// MockServer simulates the realtime speech endpoint for tests: it confirms
// the session on connect and plays a scripted event sequence whenever a
// response is requested.
type MockServer struct {
	server *httptest.Server
	t      *testing.T

	mu             sync.Mutex
	responseScript []interface{}
	received       []string
	silentOnOpen   bool
}

// NewMockServer creates a new mock server for testing.
func NewMockServer(t *testing.T) *MockServer {
	ms := &MockServer{t: t}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handleWebSocket))
	return ms
}

// Close shuts down the mock server.
func (ms *MockServer) Close() {
	ms.server.Close()
}

// ScriptResponse sets the events the server emits after each response.create.
func (ms *MockServer) ScriptResponse(msgs ...interface{}) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responseScript = msgs
}

// SuppressSessionCreated makes the server accept connections without sending
// the open-confirmation event, for handshake-timeout tests.
func (ms *MockServer) SuppressSessionCreated() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.silentOnOpen = true
}

// ReceivedTypes returns the event types the server has read so far.
func (ms *MockServer) ReceivedTypes() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]string, len(ms.received))
	copy(out, ms.received)
	return out
}

// WaitForEvent polls until the server has received an event of the given
// type or the timeout elapses.
func (ms *MockServer) WaitForEvent(eventType string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, typ := range ms.ReceivedTypes() {
			if typ == eventType {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (ms *MockServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("api-key") == "" && r.Header.Get("Authorization") == "" {
		http.Error(w, "Missing authentication", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // For testing only
	})
	if err != nil {
		ms.t.Errorf("failed to upgrade to websocket: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ms.mu.Lock()
	silent := ms.silentOnOpen
	ms.mu.Unlock()

	if !silent {
		sessionCreated := SessionCreated{
			Type:    "session.created",
			EventID: "evt_mock_session_created",
		}
		sessionCreated.Session.ID = "sess_mock_123"
		sessionCreated.Session.Model = "gpt-4o-realtime-preview"
		sessionCreated.Session.Modalities = []string{"text", "audio"}

		data, _ := json.Marshal(sessionCreated)
		if err := conn.Write(r.Context(), websocket.MessageText, data); err != nil {
			ms.t.Errorf("failed to write session created: %v", err)
			return
		}
	}

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return // Connection closed
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		ms.mu.Lock()
		ms.received = append(ms.received, env.Type)
		script := ms.responseScript
		ms.mu.Unlock()

		if env.Type == "response.create" {
			for _, msg := range script {
				out, err := json.Marshal(msg)
				if err != nil {
					ms.t.Errorf("failed to marshal scripted message: %v", err)
					continue
				}
				if err := conn.Write(r.Context(), websocket.MessageText, out); err != nil {
					return
				}
			}
		}
	}
}

// CreateMockConfig creates a valid config pointing to the mock server.
func CreateMockConfig(serverURL string) Config {
	httpURL := strings.Replace(serverURL, "ws://", "http://", 1)
	return Config{
		ResourceEndpoint: httpURL,
		Deployment:       "test-deployment",
		APIVersion:       "2025-04-01-preview",
		Credential:       APIKey("test-key"),
		Logger:           NewLogger(LogLevelOff),
	}
}

// scriptedExchange builds the canonical response sequence: a transcript,
// audio deltas, then completion.
func scriptedExchange(transcript string, deltas ...[]byte) []interface{} {
	msgs := []interface{}{
		ResponseAudioTranscriptDone{
			Type:       "response.audio_transcript.done",
			ResponseID: "resp_mock_123",
			Transcript: transcript,
		},
	}
	for _, d := range deltas {
		msgs = append(msgs, ResponseAudioDelta{
			Type:        "response.audio.delta",
			ResponseID:  "resp_mock_123",
			DeltaBase64: PCMToBase64(d),
		})
	}
	msgs = append(msgs, ResponseAudioDone{
		Type:       "response.audio.done",
		ResponseID: "resp_mock_123",
	})
	return msgs
}
