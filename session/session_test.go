package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.nanao.dev/voicekey/audiocapture"
	"go.nanao.dev/voicekey/transcribe"
)

type fakeCapture struct {
	mu       sync.Mutex
	queue    chan audiocapture.Buffer
	startErr error
	starts   int
	stops    int
}

func (f *fakeCapture) Start() (<-chan audiocapture.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.queue = make(chan audiocapture.Buffer, 8)
	return f.queue, nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.queue != nil {
		close(f.queue)
		f.queue = nil
	}
	return nil
}

func (f *fakeCapture) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// fakeTranscriber delivers a scripted result once the queue closes.
type fakeTranscriber struct {
	result transcribe.Result
}

func (f *fakeTranscriber) Start(ctx context.Context, sessionID uint64, queue <-chan audiocapture.Buffer) <-chan transcribe.Result {
	out := make(chan transcribe.Result, 1)
	go func() {
		defer close(out)
		for range queue {
		}
		res := f.result
		res.SessionID = sessionID
		out <- res
	}()
	return out
}

type fakeRewriter struct {
	out   string
	err   error
	calls int
	got   string
}

func (f *fakeRewriter) Rewrite(ctx context.Context, text string) (string, error) {
	f.calls++
	f.got = text
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

type fakePaster struct {
	mu       sync.Mutex
	err      error
	injected []string
}

func (f *fakePaster) Inject(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, text)
	return f.err
}

func (f *fakePaster) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.injected...)
}

type harness struct {
	coord    *Coordinator
	capture  *fakeCapture
	paster   *fakePaster
	outcomes chan Outcome
}

func newHarness(t *testing.T, tr Transcriber, rw Rewriter) *harness {
	t.Helper()
	h := &harness{
		capture:  &fakeCapture{},
		paster:   &fakePaster{},
		outcomes: make(chan Outcome, 4),
	}
	if tr == nil {
		tr = &fakeTranscriber{result: transcribe.Result{Text: "hello world"}}
	}
	coord, err := NewCoordinator(Config{
		Capture:     h.capture,
		Transcriber: tr,
		Rewriter:    rw,
		Injector:    h.paster,
		OnOutcome:   func(o Outcome) { h.outcomes <- o },
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	h.coord = coord
	return h
}

func (h *harness) waitOutcome(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-h.outcomes:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session outcome")
		return Outcome{}
	}
}

func TestSessionCompletes(t *testing.T) {
	h := newHarness(t, nil, nil)

	id, err := h.coord.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if id != 1 {
		t.Errorf("session id = %d, want 1", id)
	}
	if err := h.coord.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	out := h.waitOutcome(t)
	if out.State != StateCompleted {
		t.Fatalf("state = %v, want %v (err: %v)", out.State, StateCompleted, out.Err)
	}
	if out.Text != "hello world" {
		t.Errorf("text = %q, want %q", out.Text, "hello world")
	}
	if got := h.paster.texts(); len(got) != 1 || got[0] != "hello world" {
		t.Errorf("injected = %v, want [hello world]", got)
	}
	if h.coord.Active() {
		t.Error("coordinator still reports an active session after completion")
	}
}

func TestSessionIDsAreMonotonic(t *testing.T) {
	h := newHarness(t, nil, nil)

	for want := uint64(1); want <= 3; want++ {
		id, err := h.coord.Begin(context.Background())
		if err != nil {
			t.Fatalf("Begin() error = %v", err)
		}
		if id != want {
			t.Errorf("session id = %d, want %d", id, want)
		}
		if err := h.coord.End(); err != nil {
			t.Fatalf("End() error = %v", err)
		}
		h.waitOutcome(t)
	}
}

func TestSecondSessionRejected(t *testing.T) {
	h := newHarness(t, nil, nil)

	if _, err := h.coord.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := h.coord.Begin(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Begin() error = %v, want ErrSessionActive", err)
	}
	h.coord.End()
	h.waitOutcome(t)
}

func TestEndWithoutSession(t *testing.T) {
	h := newHarness(t, nil, nil)
	if err := h.coord.End(); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("End() error = %v, want ErrNoActiveSession", err)
	}
}

func TestCaptureFailurePropagates(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.capture.startErr = audiocapture.ErrDeviceUnavailable

	_, err := h.coord.Begin(context.Background())
	if !errors.Is(err, audiocapture.ErrDeviceUnavailable) {
		t.Errorf("Begin() error = %v, want ErrDeviceUnavailable", err)
	}
	if h.coord.Active() {
		t.Error("failed Begin left an active session")
	}
}

func TestTranscriptionFailureIsTerminal(t *testing.T) {
	wantErr := errors.New("model crashed")
	tr := &fakeTranscriber{result: transcribe.Result{Err: wantErr}}
	h := newHarness(t, tr, nil)

	h.coord.Begin(context.Background())
	h.coord.End()

	out := h.waitOutcome(t)
	if out.State != StateFailed {
		t.Fatalf("state = %v, want %v", out.State, StateFailed)
	}
	if !errors.Is(out.Err, wantErr) {
		t.Errorf("err = %v, want %v", out.Err, wantErr)
	}
	if got := h.paster.texts(); len(got) != 0 {
		t.Errorf("injected on failure: %v", got)
	}
}

func TestRewriteApplied(t *testing.T) {
	rw := &fakeRewriter{out: "Hello, world."}
	h := newHarness(t, nil, rw)

	h.coord.Begin(context.Background())
	h.coord.End()

	out := h.waitOutcome(t)
	if out.State != StateCompleted {
		t.Fatalf("state = %v (err: %v)", out.State, out.Err)
	}
	if out.Text != "Hello, world." {
		t.Errorf("text = %q, want rewritten text", out.Text)
	}
	if rw.got != "hello world" {
		t.Errorf("rewriter received %q, want raw transcript", rw.got)
	}
}

func TestRewriteFailureFallsBackToRawText(t *testing.T) {
	rw := &fakeRewriter{err: errors.New("provider down")}
	h := newHarness(t, nil, rw)

	h.coord.Begin(context.Background())
	h.coord.End()

	out := h.waitOutcome(t)
	if out.State != StateCompleted {
		t.Fatalf("state = %v (err: %v)", out.State, out.Err)
	}
	if out.Text != "hello world" {
		t.Errorf("text = %q, want raw transcript", out.Text)
	}
}

func TestEmptyTranscriptSkipsInjection(t *testing.T) {
	tr := &fakeTranscriber{result: transcribe.Result{Text: ""}}
	rw := &fakeRewriter{out: "should not be called"}
	h := newHarness(t, tr, rw)

	h.coord.Begin(context.Background())
	h.coord.End()

	out := h.waitOutcome(t)
	if out.State != StateCompleted {
		t.Fatalf("state = %v (err: %v)", out.State, out.Err)
	}
	if out.Text != "" {
		t.Errorf("text = %q, want empty", out.Text)
	}
	if rw.calls != 0 {
		t.Error("rewriter called for empty transcript")
	}
	if got := h.paster.texts(); len(got) != 0 {
		t.Errorf("injected empty transcript: %v", got)
	}
}

func TestInjectionFailureIsTerminal(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.paster.err = errors.New("paste blocked")

	h.coord.Begin(context.Background())
	h.coord.End()

	out := h.waitOutcome(t)
	if out.State != StateFailed {
		t.Fatalf("state = %v, want %v", out.State, StateFailed)
	}
	if out.Err == nil {
		t.Error("failed outcome carries no error")
	}
}

func TestTerminalFailureReleasesCapture(t *testing.T) {
	// A failure before End must still stop the capture engine.
	wantErr := errors.New("sequence violation")
	tr := &fakeTranscriber{result: transcribe.Result{Err: wantErr}}
	h := newHarness(t, tr, nil)

	h.coord.Begin(context.Background())
	// Close the queue directly so the transcriber finishes while the
	// coordinator still believes capture is running.
	h.capture.mu.Lock()
	close(h.capture.queue)
	h.capture.queue = nil
	h.capture.mu.Unlock()

	out := h.waitOutcome(t)
	if out.State != StateFailed {
		t.Fatalf("state = %v, want %v", out.State, StateFailed)
	}
	if h.capture.stopCount() == 0 {
		t.Error("capture engine not stopped after terminal failure")
	}
}

func TestCancelDeliversOutcome(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.coord.Begin(context.Background())
	h.coord.Cancel()

	out := h.waitOutcome(t)
	if out.State != StateCompleted && out.State != StateFailed {
		t.Fatalf("state = %v, want a terminal state", out.State)
	}
	if h.coord.Active() {
		t.Error("session still active after Cancel")
	}
}

func TestStateTransitionsObserved(t *testing.T) {
	var mu sync.Mutex
	var states []State
	capture := &fakeCapture{}
	paster := &fakePaster{}
	outcomes := make(chan Outcome, 1)

	coord, err := NewCoordinator(Config{
		Capture:     capture,
		Transcriber: &fakeTranscriber{result: transcribe.Result{Text: "hi"}},
		Injector:    paster,
		OnOutcome:   func(o Outcome) { outcomes <- o },
		OnState: func(_ uint64, s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}

	coord.Begin(context.Background())
	coord.End()
	select {
	case <-outcomes:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateCapturing, StateTranscribing, StateInjecting, StateCompleted}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}
