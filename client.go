package voicebridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

// ConnState is the realtime connection lifecycle state.
type ConnState int32

const (
	// StateDisconnected means no connection is established.
	StateDisconnected ConnState = iota
	// StateConnecting means the handshake is in progress.
	StateConnecting
	// StateConnected means the open-confirmation event has been observed.
	StateConnected
	// StateFailed means the connection was lost due to an error.
	StateFailed
)

// String returns the string representation of a ConnState.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// responseWaiter is the single-shot response-completion primitive. Exactly
// one release fires per submitted utterance: normally on the audio-done
// event, otherwise on send failure, connection loss, or Close.
type responseWaiter struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newResponseWaiter() *responseWaiter {
	return &responseWaiter{done: make(chan struct{})}
}

func (w *responseWaiter) release(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.done)
	})
}

// RealtimeClient owns one persistent streaming connection to the realtime
// speech endpoint. Inbound events are parsed on the connection's own read
// goroutine and dispatched to registered handlers, so handlers must not
// block. The client is safe for concurrent use.
type RealtimeClient struct {
	cfg    Config
	logger *Logger

	state atomic.Int32

	writeMu    sync.Mutex // protects conn and writes to it
	conn       *websocket.Conn
	readCancel context.CancelFunc
	closedCh   chan struct{}
	closeOnce  *sync.Once
	closing    atomic.Bool
	ready      chan struct{}
	readyOnce  *sync.Once

	handlerMu        sync.RWMutex
	onTranscriptDone func(transcript string)
	onAudioDelta     func(deltaBase64 string)
	onAudioDone      func()
	onError          func(ErrorEvent)

	respMu sync.Mutex
	resp   *responseWaiter

	audioMu sync.Mutex
	audio   []byte // accumulated PCM16 for the current response
}

// NewRealtimeClient creates a client in the Disconnected state. Call Connect
// to establish the upstream connection.
func NewRealtimeClient(cfg Config) (*RealtimeClient, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &RealtimeClient{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// State returns the current connection state.
func (c *RealtimeClient) State() ConnState {
	return ConnState(c.state.Load())
}

// Connect establishes the WebSocket connection and blocks until the server's
// open-confirmation event (session.created) is observed or the configured
// timeout elapses. On timeout the connection is torn down, the state returns
// to Disconnected, and a ConnectionError wrapping ErrConnectTimeout is
// returned. Connect may be called again after a failure or Close.
func (c *RealtimeClient) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) &&
		!c.state.CompareAndSwap(int32(StateFailed), int32(StateConnecting)) {
		c.logger.Warn("connect_skipped", map[string]any{"state": c.State().String()})
		return nil
	}

	u, err := url.Parse(c.cfg.ResourceEndpoint)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return NewConfigError("ResourceEndpoint", c.cfg.ResourceEndpoint, "invalid URL format")
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws" // for testing against plain-HTTP mock servers
	}
	u.Path = "/openai/realtime"
	q := u.Query()
	q.Set("api-version", c.cfg.APIVersion)
	q.Set("deployment", c.cfg.Deployment)
	u.RawQuery = q.Encode()

	h := http.Header{}
	for k, vals := range c.cfg.HandshakeHeaders {
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	c.cfg.Credential.apply(h)

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		if errors.Is(err, context.DeadlineExceeded) {
			return NewConnectionError(u.String(), "dial", ErrConnectTimeout)
		}
		return NewConnectionError(u.String(), "dial", err)
	}

	closedCh := make(chan struct{})
	ready := make(chan struct{})

	c.writeMu.Lock()
	c.conn = ws
	c.closedCh = closedCh
	c.closeOnce = &sync.Once{}
	c.ready = ready
	c.readyOnce = &sync.Once{}
	c.closing.Store(false)
	rcCtx, rcCancel := context.WithCancel(context.Background())
	c.readCancel = rcCancel
	c.writeMu.Unlock()

	go c.readLoop(rcCtx, ws, closedCh, c.closeOnce)
	go c.pingLoop(closedCh)

	select {
	case <-ready:
		c.state.Store(int32(StateConnected))
		c.logger.Info("ws_connected", map[string]any{"url": u.String()})
		return nil
	case <-closedCh:
		c.state.Store(int32(StateDisconnected))
		return NewConnectionError(u.String(), "handshake", ErrConnectionFailed)
	case <-time.After(time.Until(deadline)):
		c.teardown(ErrConnectTimeout)
		c.state.Store(int32(StateDisconnected))
		c.logger.Error("connect_timeout", map[string]any{"timeout": c.cfg.ConnectTimeout})
		return NewConnectionError(u.String(), "handshake", ErrConnectTimeout)
	case <-ctx.Done():
		c.teardown(ctx.Err())
		c.state.Store(int32(StateDisconnected))
		return NewConnectionError(u.String(), "handshake", ctx.Err())
	}
}

// SubmitUtterance sends a finalized utterance upstream: a conversation item
// carrying the (optional) prompt text and the base64 PCM16 audio, followed by
// a response request naming the output modalities (default text+audio).
//
// The response-completion primitive is reset before sending; AwaitResponse
// blocks until the corresponding response finishes. Submitting while not
// connected is a no-op with a logged warning; submitting while the previous
// response is still outstanding returns ErrResponseOutstanding.
func (c *RealtimeClient) SubmitUtterance(ctx context.Context, prompt, audioBase64 string, modalities []string) error {
	if c.State() != StateConnected {
		c.logger.Warn("submit_skipped", map[string]any{"reason": "not connected", "state": c.State().String()})
		return nil
	}

	content := []map[string]any{}
	if prompt != "" {
		content = append(content, map[string]any{"type": "input_text", "text": prompt})
	}
	content = append(content, map[string]any{"type": "input_audio", "audio": audioBase64})

	return c.submit(ctx, content, modalities)
}

// SubmitText sends a text-only prompt upstream, requesting a response with
// the given modalities. Submitting while not connected is a no-op with a
// logged warning.
func (c *RealtimeClient) SubmitText(ctx context.Context, prompt string, modalities []string) error {
	if c.State() != StateConnected {
		c.logger.Warn("submit_skipped", map[string]any{"reason": "not connected", "state": c.State().String()})
		return nil
	}

	content := []map[string]any{{"type": "input_text", "text": prompt}}
	return c.submit(ctx, content, modalities)
}

func (c *RealtimeClient) submit(ctx context.Context, content []map[string]any, modalities []string) error {
	if len(modalities) == 0 {
		modalities = []string{"text", "audio"}
	}

	// One response outstanding per connection: the previous waiter must have
	// been released before another response.create goes out.
	c.respMu.Lock()
	if c.resp != nil {
		select {
		case <-c.resp.done:
		default:
			c.respMu.Unlock()
			return ErrResponseOutstanding
		}
	}
	w := newResponseWaiter()
	c.resp = w
	c.respMu.Unlock()

	c.audioMu.Lock()
	c.audio = nil
	c.audioMu.Unlock()

	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "message",
			"role":    "user",
			"content": content,
		},
	}
	if err := c.send(ctx, item); err != nil {
		w.release(err)
		return NewSendError("conversation.item.create", err)
	}

	create := map[string]any{
		"type":     "response.create",
		"response": map[string]any{"modalities": modalities},
	}
	if err := c.send(ctx, create); err != nil {
		w.release(err)
		return NewSendError("response.create", err)
	}

	c.logger.Debug("utterance_submitted", map[string]any{"modalities": modalities})
	return nil
}

// AwaitResponse blocks until the response for the most recent submission
// completes. It returns nil on normal completion, ErrResponseInterrupted
// (or the underlying failure) if the connection closed mid-response, and the
// context error if ctx expires first. With no submission outstanding it
// returns immediately.
func (c *RealtimeClient) AwaitResponse(ctx context.Context) error {
	c.respMu.Lock()
	w := c.resp
	c.respMu.Unlock()
	if w == nil {
		return nil
	}

	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AccumulatedAudio returns a copy of the PCM16 audio accumulated for the
// current (or most recently completed) response.
func (c *RealtimeClient) AccumulatedAudio() []byte {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	out := make([]byte, len(c.audio))
	copy(out, c.audio)
	return out
}

// Close gracefully shuts down the client. Safe to call multiple times. Any
// outstanding AwaitResponse waiter is released with ErrResponseInterrupted.
func (c *RealtimeClient) Close() error {
	c.closing.Store(true)
	c.teardown(nil)
	c.releaseResponse(ErrResponseInterrupted)
	c.state.Store(int32(StateDisconnected))
	return nil
}

// Event handler registration. Callbacks run on the connection's read
// goroutine and must not block; hand work off to a channel.

// OnTranscriptDone registers a callback for completed response transcripts.
func (c *RealtimeClient) OnTranscriptDone(fn func(transcript string)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onTranscriptDone = fn
}

// OnAudioDelta registers a callback for streamed audio chunks. The callback
// receives the raw base64 delta as sent by the server.
func (c *RealtimeClient) OnAudioDelta(fn func(deltaBase64 string)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onAudioDelta = fn
}

// OnAudioDone registers a callback for audio-response completion.
func (c *RealtimeClient) OnAudioDone(fn func()) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onAudioDone = fn
}

// OnError registers a callback for API error events.
func (c *RealtimeClient) OnError(fn func(ErrorEvent)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onError = fn
}

// teardown cancels the read loop and closes the connection.
func (c *RealtimeClient) teardown(reason error) {
	c.writeMu.Lock()
	if c.readCancel != nil {
		c.readCancel()
	}
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
		c.conn = nil
	}
	once := c.closeOnce
	ch := c.closedCh
	c.writeMu.Unlock()

	if once != nil {
		once.Do(func() { close(ch) })
	}
	if reason != nil {
		c.logger.Debug("connection_teardown", map[string]any{"reason": reason})
	}
}

// releaseResponse releases the current waiter, if any, with the given reason.
func (c *RealtimeClient) releaseResponse(err error) {
	c.respMu.Lock()
	w := c.resp
	c.respMu.Unlock()
	if w != nil {
		w.release(err)
	}
}

// readLoop continuously reads events from the connection and dispatches
// them. When it exits, any outstanding response waiter is released so
// callers never block indefinitely. Cleanup only runs while this connection
// is still current, so a stale loop cannot disturb a reconnected client.
func (c *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn, closedCh chan struct{}, once *sync.Once) {
	defer func() {
		c.writeMu.Lock()
		current := c.conn == conn
		if current {
			_ = conn.Close(websocket.StatusNormalClosure, "reader_exit")
			c.conn = nil
		}
		c.writeMu.Unlock()

		if current {
			if c.closing.Load() {
				c.state.Store(int32(StateDisconnected))
			} else {
				c.state.Store(int32(StateFailed))
			}
			c.releaseResponse(ErrResponseInterrupted)
		}
		once.Do(func() { close(closedCh) })
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return // connection closed or read error
		}
		if typ != websocket.MessageText {
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Error("bad_event_json", map[string]any{"error": err})
			continue
		}
		c.dispatch(env, data)
	}
}

func (c *RealtimeClient) pingLoop(closedCh chan struct{}) {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-closedCh:
			return
		case <-t.C:
			c.writeMu.Lock()
			conn := c.conn
			c.writeMu.Unlock()
			if conn != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = conn.Ping(ctx)
				cancel()
			}
		}
	}
}

func (c *RealtimeClient) dispatch(env envelope, raw []byte) {
	switch env.Type {
	case "session.created":
		var e SessionCreated
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Error("bad_event", map[string]any{"type": env.Type, "error": NewEventError(env.Type, err)})
			return
		}
		c.logger.Info("session_created", map[string]any{"session_id": e.Session.ID, "model": e.Session.Model})
		if c.readyOnce != nil {
			c.readyOnce.Do(func() { close(c.ready) })
		}

	case "error":
		var e ErrorEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Error("bad_event", map[string]any{"type": env.Type, "error": NewEventError(env.Type, err)})
			return
		}
		c.logger.Error("api_error", map[string]any{"error_type": e.Error.Type, "message": e.Error.Message})
		c.handlerMu.RLock()
		fn := c.onError
		c.handlerMu.RUnlock()
		if fn != nil {
			fn(e)
		}

	case "response.audio_transcript.done":
		var e ResponseAudioTranscriptDone
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Error("bad_event", map[string]any{"type": env.Type, "error": NewEventError(env.Type, err)})
			return
		}
		c.handlerMu.RLock()
		fn := c.onTranscriptDone
		c.handlerMu.RUnlock()
		if fn != nil {
			fn(e.Transcript)
		}

	case "response.audio.delta":
		var e ResponseAudioDelta
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Error("bad_event", map[string]any{"type": env.Type, "error": NewEventError(env.Type, err)})
			return
		}
		if e.DeltaBase64 == "" {
			return
		}
		if err := c.accumulateDelta(e.DeltaBase64); err != nil {
			c.logger.Error("bad_audio_delta", map[string]any{"error": err})
			return
		}
		c.handlerMu.RLock()
		fn := c.onAudioDelta
		c.handlerMu.RUnlock()
		if fn != nil {
			fn(e.DeltaBase64)
		}

	case "response.audio.done":
		c.handlerMu.RLock()
		fn := c.onAudioDone
		c.handlerMu.RUnlock()
		if fn != nil {
			fn()
		}
		c.releaseResponse(nil)

	default:
		// Unrecognized event types are ignored, not errors.
		c.logger.Debug("unknown_event", map[string]any{"type": env.Type})
	}
}

// accumulateDelta decodes a base64 delta in the session's output format and
// appends the PCM16 bytes to the per-connection accumulator.
func (c *RealtimeClient) accumulateDelta(deltaBase64 string) error {
	raw, err := base64.StdEncoding.DecodeString(deltaBase64)
	if err != nil {
		return NewAudioError("decode_delta", "malformed base64 audio delta", err)
	}
	pcm, err := decodeUpstreamAudio(raw, c.cfg.OutputAudioFormat)
	if err != nil {
		return err
	}
	c.audioMu.Lock()
	c.audio = append(c.audio, pcm...)
	c.audioMu.Unlock()
	return nil
}

func (c *RealtimeClient) send(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrSendTimeout
		}
		return err
	}
	return nil
}
