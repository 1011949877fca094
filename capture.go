package voicebridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// AudioSource yields frames of normalized float samples in [-1, 1] at the
// configured capture rate. Implementations must return exactly FrameSamples
// samples per call.
type AudioSource interface {
	// ReadFrame returns the next frame of samples. It blocks until a full
	// frame is available, ctx is cancelled, or the source fails.
	ReadFrame(ctx context.Context) ([]float64, error)

	// Close releases the underlying capture device.
	Close() error
}

// CaptureWorker drives one voice capture: it reads frames from an
// AudioSource, feeds them through a fresh Gate, and on end-of-utterance
// submits the buffered speech upstream and terminates. A worker is
// single-use; the manager creates one per start-recording command and at
// most one runs per session at a time.
type CaptureWorker struct {
	cfg    Config
	client *RealtimeClient
	source AudioSource
	gate   *Gate
	logger *Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	err error
}

// NewCaptureWorker creates a worker with its own Gate. The worker takes
// ownership of the source and closes it when the capture loop exits.
func NewCaptureWorker(cfg Config, client *RealtimeClient, source AudioSource) *CaptureWorker {
	cfg = cfg.withDefaults()
	return &CaptureWorker{
		cfg:    cfg,
		client: client,
		source: source,
		gate:   NewGate(cfg),
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run executes the capture loop until end-of-utterance, Stop, context
// cancellation, or a source failure. It blocks; callers typically run it on
// its own goroutine and watch Done.
func (w *CaptureWorker) Run(ctx context.Context) {
	submitted := false
	defer func() {
		// When an utterance went out the response watchdog owns the done
		// channel, so the worker stays live until the response completes.
		if !submitted {
			close(w.done)
		}
	}()
	defer func() {
		if err := w.source.Close(); err != nil {
			w.logger.Warn("source_close_failed", map[string]any{"error": err})
		}
	}()

	w.logger.Info("capture_started", map[string]any{
		"sample_rate": w.cfg.SampleRate,
		"frame":       w.cfg.FrameDuration,
	})

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("capture_stopped", nil)
			return
		case <-ctx.Done():
			w.err = ctx.Err()
			return
		default:
		}

		samples, err := w.source.ReadFrame(ctx)
		if err != nil {
			w.err = err
			w.logger.Error("capture_read_failed", map[string]any{"error": err})
			return
		}

		frame := FloatTo16BitPCM(samples)
		if w.gate.Process(frame) == GateEndOfUtterance {
			submitted = w.submit(ctx)
			return
		}
	}
}

// Stop interrupts the capture loop. The loop observes the stop within one
// frame duration. Safe to call multiple times and after the loop has exited.
func (w *CaptureWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed when the worker is fully finished: the capture loop has
// exited and, when an utterance was submitted, its response has completed
// (or the watchdog expired). A session must not start another capture while
// Done is open, since the upstream connection admits only one outstanding
// response.
func (w *CaptureWorker) Done() <-chan struct{} { return w.done }

// Err returns the capture failure, if any, once Done is closed.
func (w *CaptureWorker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// submit base64-encodes the gated utterance and sends it upstream. On a
// successful send it hands the done channel to a watchdog goroutine that
// awaits response completion, and reports true; the worker then counts as
// active until the response finishes, which keeps captures serialized
// against the one-outstanding-response rule.
func (w *CaptureWorker) submit(ctx context.Context) bool {
	utterance := w.gate.Utterance()
	if len(utterance) == 0 {
		w.logger.Info("utterance_empty", nil)
		return false
	}

	w.logger.Info("utterance_complete", map[string]any{"bytes": len(utterance)})

	audioBase64 := PCMToBase64(utterance)
	if err := w.client.SubmitUtterance(ctx, w.cfg.Prompt, audioBase64, nil); err != nil {
		w.err = err
		w.logger.Error("submit_failed", map[string]any{"error": err})
		return false
	}

	go func() {
		defer close(w.done)
		waitCtx, cancel := context.WithTimeout(context.Background(), w.cfg.ResponseTimeout)
		defer cancel()
		if err := w.client.AwaitResponse(waitCtx); err != nil {
			w.logger.Error("response_wait_failed", map[string]any{"error": err})
			return
		}
		w.logger.Debug("response_complete", nil)
	}()
	return true
}

// FFmpegSource captures microphone audio by shelling out to ffmpeg and
// reading raw s16le PCM from its stdout. It satisfies AudioSource for the
// server-side capture path.
type FFmpegSource struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	buf    []byte

	closeOnce sync.Once
	closeErr  error
}

// NewFFmpegSource starts an ffmpeg process reading from the given input
// (format defaults to "pulse", device to "default") and producing mono
// s16le PCM at the configured sample rate.
func NewFFmpegSource(cfg Config, inputFormat, inputDevice string) (*FFmpegSource, error) {
	cfg = cfg.withDefaults()
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if inputDevice == "" {
		inputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", inputFormat,
		"-i", inputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	return &FFmpegSource{
		cancel: cancel,
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		buf:    make([]byte, 2*cfg.FrameSamples()),
	}, nil
}

// ReadFrame reads one full frame of s16le bytes from ffmpeg and converts it
// to normalized float samples.
func (s *FFmpegSource) ReadFrame(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(s.stdout, s.buf); err != nil {
		msg := bytes.TrimSpace(s.stderr.Bytes())
		if len(msg) > 0 {
			return nil, fmt.Errorf("ffmpeg read: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg read: %w", err)
	}
	return PCM16ToFloat(s.buf)
}

// Close terminates the ffmpeg process and reaps it. Safe to call multiple
// times.
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.stdout.Close()

		waitErr := make(chan error, 1)
		go func() { waitErr <- s.cmd.Wait() }()
		select {
		case <-waitErr:
		case <-time.After(1200 * time.Millisecond):
			if s.cmd.Process != nil {
				_ = s.cmd.Process.Kill()
			}
			<-waitErr
		}
	})
	return s.closeErr
}
