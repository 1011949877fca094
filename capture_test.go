package voicebridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeSource yields a run of speech frames followed by endless silence, with
// a small pacing delay so boundary timing behaves like a live device.
type fakeSource struct {
	frameSamples int
	speechLeft   int
	pace         time.Duration

	mu     sync.Mutex
	closed bool
}

func newFakeSource(cfg Config, speechFrames int) *fakeSource {
	cfg = cfg.withDefaults()
	return &fakeSource{
		frameSamples: cfg.FrameSamples(),
		speechLeft:   speechFrames,
		pace:         time.Millisecond,
	}
}

func (f *fakeSource) ReadFrame(ctx context.Context) ([]float64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.pace):
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, io.EOF
	}

	amp := 0.0
	if f.speechLeft > 0 {
		amp = 0.5
		f.speechLeft--
	}
	samples := make([]float64, f.frameSamples)
	for i := range samples {
		samples[i] = amp
	}
	return samples, nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type failingSource struct{ err error }

func (s *failingSource) ReadFrame(ctx context.Context) ([]float64, error) { return nil, s.err }
func (s *failingSource) Close() error                                     { return nil }

func captureTestConfig(serverURL string) Config {
	cfg := CreateMockConfig(serverURL)
	cfg.SampleRate = 16000
	cfg.SilenceThreshold = 50 * time.Millisecond
	return cfg
}

func TestCaptureWorkerSubmitsOnEndOfUtterance(t *testing.T) {
	ms := NewMockServer(t)
	defer ms.Close()
	ms.ScriptResponse(scriptedExchange("ok", []byte{1, 0})...)

	cfg := captureTestConfig(ms.server.URL)
	client, err := NewRealtimeClient(cfg)
	if err != nil {
		t.Fatalf("NewRealtimeClient: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	worker := NewCaptureWorker(cfg, client, newFakeSource(cfg, 10))
	go worker.Run(ctx)

	select {
	case <-worker.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached end of utterance")
	}
	if err := worker.Err(); err != nil {
		t.Fatalf("worker error: %v", err)
	}

	if !ms.WaitForEvent("conversation.item.create", time.Second) {
		t.Error("utterance was never submitted upstream")
	}
	if !ms.WaitForEvent("response.create", time.Second) {
		t.Error("response was never requested")
	}
}

func TestCaptureWorkerDoneHeldUntilResponse(t *testing.T) {
	ms := NewMockServer(t)
	defer ms.Close()
	// No scripted completion: the submitted response stays outstanding.

	cfg := captureTestConfig(ms.server.URL)
	client, err := NewRealtimeClient(cfg)
	if err != nil {
		t.Fatalf("NewRealtimeClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	worker := NewCaptureWorker(cfg, client, newFakeSource(cfg, 10))
	go worker.Run(ctx)

	if !ms.WaitForEvent("response.create", 5*time.Second) {
		t.Fatal("utterance never submitted")
	}
	select {
	case <-worker.Done():
		t.Fatal("Done closed while the response was still outstanding")
	case <-time.After(100 * time.Millisecond):
	}

	// Closing the client releases the response wait; only then is the
	// worker finished.
	client.Close()
	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after the response wait ended")
	}
}

func TestCaptureWorkerStop(t *testing.T) {
	ms := NewMockServer(t)
	defer ms.Close()

	cfg := captureTestConfig(ms.server.URL)
	client, err := NewRealtimeClient(cfg)
	if err != nil {
		t.Fatalf("NewRealtimeClient: %v", err)
	}

	// All-silence source: without Stop the loop would run forever.
	worker := NewCaptureWorker(cfg, client, newFakeSource(cfg, 0))
	go worker.Run(context.Background())

	time.Sleep(30 * time.Millisecond)
	worker.Stop()
	worker.Stop() // idempotent

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not observe Stop")
	}
	if err := worker.Err(); err != nil {
		t.Errorf("stopped worker error = %v, want nil", err)
	}
	if got := ms.ReceivedTypes(); len(got) != 0 {
		t.Errorf("stopped worker submitted upstream: %v", got)
	}
}

func TestCaptureWorkerSourceFailure(t *testing.T) {
	ms := NewMockServer(t)
	defer ms.Close()

	cfg := captureTestConfig(ms.server.URL)
	client, err := NewRealtimeClient(cfg)
	if err != nil {
		t.Fatalf("NewRealtimeClient: %v", err)
	}

	readErr := errors.New("device unplugged")
	worker := NewCaptureWorker(cfg, client, &failingSource{err: readErr})
	go worker.Run(context.Background())

	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on source failure")
	}
	if !errors.Is(worker.Err(), readErr) {
		t.Errorf("worker error = %v, want %v", worker.Err(), readErr)
	}
}

func TestCaptureWorkerContextCancel(t *testing.T) {
	ms := NewMockServer(t)
	defer ms.Close()

	cfg := captureTestConfig(ms.server.URL)
	client, err := NewRealtimeClient(cfg)
	if err != nil {
		t.Fatalf("NewRealtimeClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := NewCaptureWorker(cfg, client, newFakeSource(cfg, 0))
	go worker.Run(ctx)

	cancel()
	select {
	case <-worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on context cancellation")
	}
}
