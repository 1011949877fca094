package voicebridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
)

// DownstreamConn abstracts the client-facing connection so the manager can
// be exercised without a live WebSocket. *websocket.Conn from
// github.com/gorilla/websocket satisfies it.
type DownstreamConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Session holds the per-client bridge state: the downstream connection, the
// upstream realtime client, and the capture worker when recording is active.
//
// All downstream writes go through the session's buffered outbound channel;
// a single delivery goroutine is the sole writer to the connection. The
// response accumulator is touched only on the upstream dispatch goroutine,
// so its appends and reset are naturally serialized.
type Session struct {
	id     string
	cfg    Config // session-scoped copy, drives capture and audio handling
	conn   DownstreamConn
	client *RealtimeClient
	logger *Logger

	send      chan interface{}
	closed    chan struct{}
	closeOnce sync.Once

	workerMu sync.Mutex
	worker   *CaptureWorker

	accumulated []byte // response PCM16, dispatch goroutine only
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// enqueue places a message on the outbound channel. It never blocks past
// session teardown.
func (s *Session) enqueue(msg interface{}) {
	select {
	case s.send <- msg:
	case <-s.closed:
	}
}

// Manager owns all active sessions and bridges each one between its
// downstream client and its upstream realtime connection. All methods are
// safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *Logger

	mu       sync.Mutex
	sessions map[string]*Session

	sourceFactory func(Config) (AudioSource, error)
}

// NewManager creates a session manager. Each session gets its own upstream
// realtime client built from cfg. Capture sources default to the ffmpeg
// microphone path; override with SetSourceFactory for other inputs.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
		sourceFactory: func(c Config) (AudioSource, error) {
			return NewFFmpegSource(c, "", "")
		},
	}
}

// SetSourceFactory overrides how capture sources are created for new
// recordings.
func (m *Manager) SetSourceFactory(fn func(Config) (AudioSource, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceFactory = fn
}

// ActiveSessions returns the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// HandleConnect registers a downstream connection and synchronously
// establishes its upstream realtime session, retrying per the configured
// policy. On upstream failure the client receives a structured error message
// and the session stays registered so a reconnect attempt can follow; on
// success it receives connection_status "connected".
func (m *Manager) HandleConnect(ctx context.Context, sessionID string, conn DownstreamConn) error {
	cfg := m.cfg
	cfg.Logger = m.logger.With(map[string]any{"session_id": sessionID})

	client, err := NewRealtimeClient(cfg)
	if err != nil {
		return err
	}

	s := &Session{
		id:     sessionID,
		cfg:    cfg,
		conn:   conn,
		client: client,
		logger: cfg.Logger,
		send:   make(chan interface{}, 256),
		closed: make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		m.teardown(old)
		m.mu.Lock()
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	go m.deliver(s)
	m.bridge(s)

	s.logger.Info("session_registered", nil)

	err = WithRetry(ctx, cfg.Retry, func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		s.logger.Error("upstream_connect_failed", map[string]any{"error": err})
		s.enqueue(ErrorMessage{Type: "error", Message: fmt.Sprintf("Connection failed: %v", err)})
		return err
	}

	s.enqueue(ConnectionStatus{
		Type:    "connection_status",
		Status:  "connected",
		Message: "Connected to realtime endpoint",
	})
	return nil
}

// bridge wires upstream events to downstream messages. The callbacks run on
// the upstream dispatch goroutine and only enqueue, so they never block the
// read loop.
func (m *Manager) bridge(s *Session) {
	s.client.OnTranscriptDone(func(transcript string) {
		s.enqueue(TextResponse{Type: "text_response", Text: FormatText(transcript)})
	})

	s.client.OnAudioDelta(func(deltaBase64 string) {
		s.enqueue(AudioChunk{Type: "audio_chunk", Audio: deltaBase64})

		raw, err := base64.StdEncoding.DecodeString(deltaBase64)
		if err != nil {
			s.logger.Error("bad_audio_delta", map[string]any{"error": err})
			return
		}
		pcm, err := decodeUpstreamAudio(raw, s.cfg.OutputAudioFormat)
		if err != nil {
			s.logger.Error("bad_audio_delta", map[string]any{"error": err})
			return
		}
		s.accumulated = append(s.accumulated, pcm...)
	})

	s.client.OnAudioDone(func() {
		if len(s.accumulated) > 0 {
			rate := outputSampleRate(s.cfg.OutputAudioFormat, s.cfg.SampleRate)
			wav, err := WAVFromPCM16(s.accumulated, rate, s.cfg.Channels)
			if err != nil {
				s.logger.Error("wav_assembly_failed", map[string]any{"error": err})
			} else {
				s.enqueue(AudioChunk{Type: "audio_chunk", Audio: PCMToBase64(wav)})
			}
		}
		// Reset strictly after the WAV is enqueued so a new response never
		// observes stale audio.
		s.accumulated = nil
		s.enqueue(AudioResponseDone{Type: "audio_response_done"})
	})

	s.client.OnError(func(e ErrorEvent) {
		s.enqueue(ErrorMessage{Type: "error", Message: e.Error.Message})
	})
}

// deliver is the sole writer to the downstream connection. A write failure
// tears the session down.
func (m *Manager) deliver(s *Session) {
	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.send:
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Warn("downstream_write_failed", map[string]any{"error": err})
				m.HandleDisconnect(s.id)
				return
			}
		}
	}
}

// HandleMessage processes one inbound client message for a session. Unknown
// commands are logged and ignored.
func (m *Manager) HandleMessage(ctx context.Context, sessionID string, raw []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("voicebridge: unknown session %q", sessionID)
	}

	var cmd ClientCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.logger.Warn("bad_client_message", map[string]any{"error": err})
		s.enqueue(ErrorMessage{Type: "error", Message: "Malformed message"})
		return nil
	}

	switch cmd.Type {
	case CommandStartRecording:
		return m.startRecording(ctx, s)
	case CommandStopRecording:
		m.stopRecording(s)
		return nil
	default:
		s.logger.Debug("unknown_command", map[string]any{"type": cmd.Type})
		return nil
	}
}

func (m *Manager) startRecording(ctx context.Context, s *Session) error {
	if s.client.State() != StateConnected {
		s.enqueue(ErrorMessage{Type: "error", Message: "Client not connected"})
		return nil
	}

	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	if s.worker != nil {
		select {
		case <-s.worker.Done():
			// previous capture finished on its own
		default:
			s.enqueue(RecordingStatus{
				Type:    "recording_status",
				Status:  "error",
				Message: "Recording already in progress",
			})
			return ErrCaptureActive
		}
	}

	m.mu.Lock()
	factory := m.sourceFactory
	m.mu.Unlock()

	source, err := factory(s.cfg)
	if err != nil {
		s.logger.Error("source_open_failed", map[string]any{"error": err})
		s.enqueue(ErrorMessage{Type: "error", Message: fmt.Sprintf("Failed to start recording: %v", err)})
		return err
	}

	worker := NewCaptureWorker(s.cfg, s.client, source)
	s.worker = worker
	go worker.Run(ctx)

	go func() {
		<-worker.Done()
		if err := worker.Err(); err != nil {
			s.enqueue(ErrorMessage{Type: "error", Message: fmt.Sprintf("Recording error: %v", err)})
		}
	}()

	s.enqueue(RecordingStatus{
		Type:    "recording_status",
		Status:  "started",
		Message: "Recording started with VAD",
	})
	return nil
}

func (m *Manager) stopRecording(s *Session) {
	s.workerMu.Lock()
	worker := s.worker
	s.worker = nil
	s.workerMu.Unlock()

	if worker == nil {
		return
	}
	worker.Stop()

	s.enqueue(RecordingStatus{
		Type:    "recording_status",
		Status:  "stopped",
		Message: "Recording stopped",
	})
}

// HandleDisconnect removes a session: the capture worker is stopped, the
// upstream connection closed, and the delivery goroutine released. Unknown
// ids are a no-op.
func (m *Manager) HandleDisconnect(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.teardown(s)
	s.logger.Info("session_removed", nil)
}

// Close tears down every active session. Used for server shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		m.teardown(s)
	}
}

func (m *Manager) teardown(s *Session) {
	s.workerMu.Lock()
	worker := s.worker
	s.worker = nil
	s.workerMu.Unlock()
	if worker != nil {
		worker.Stop()
	}

	_ = s.client.Close()

	s.closeOnce.Do(func() { close(s.closed) })
	_ = s.conn.Close()
}
