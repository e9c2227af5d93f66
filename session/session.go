// Package session coordinates one recording lifecycle at a time, from
// hotkey press through capture, transcription, optional rewrite, and
// paste injection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.nanao.dev/voicekey/audiocapture"
	"go.nanao.dev/voicekey/hotkey"
	"go.nanao.dev/voicekey/transcribe"
)

// ErrSessionActive is returned when a session is started while another
// one has not yet reached a terminal state.
var ErrSessionActive = errors.New("a recording session is already active")

// ErrNoActiveSession is returned when End or Cancel is called with no
// session in flight.
var ErrNoActiveSession = errors.New("no active recording session")

// State is a recording session's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateTranscribing
	StateInjecting
	StateFailed
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateTranscribing:
		return "transcribing"
	case StateInjecting:
		return "injecting"
	case StateFailed:
		return "failed"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// Outcome is the single terminal result of a session. State is either
// StateCompleted or StateFailed; Err is set only for StateFailed.
type Outcome struct {
	SessionID uint64
	State     State
	Text      string
	Language  string
	Duration  time.Duration
	Err       error
}

// Capturer starts and stops the microphone stream.
type Capturer interface {
	Start() (<-chan audiocapture.Buffer, error)
	Stop() error
}

// Transcriber drains a capture queue and delivers one terminal result.
type Transcriber interface {
	Start(ctx context.Context, sessionID uint64, queue <-chan audiocapture.Buffer) <-chan transcribe.Result
}

// Rewriter post-processes a transcript. The coordinator bounds each
// call with a deadline; a failed rewrite falls back to the raw text.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// Paster injects text at the cursor position.
type Paster interface {
	Inject(ctx context.Context, text string) error
}

// Config assembles a Coordinator's collaborators.
type Config struct {
	Capture     Capturer
	Transcriber Transcriber
	Rewriter    Rewriter // nil disables the rewrite step
	Injector    Paster

	RewriteTimeout time.Duration

	OnOutcome func(Outcome)       // terminal outcome, exactly one per session
	OnState   func(uint64, State) // intermediate transitions, optional
}

// Coordinator owns the single active recording session. It sequences
// the capture, transcription, rewrite, and injection steps and maps
// their results into exactly one Outcome per session.
type Coordinator struct {
	capture   Capturer
	trans     Transcriber
	rewriter  Rewriter
	injector  Paster
	rwTimeout time.Duration

	onOutcome func(Outcome)
	onState   func(uint64, State)

	nextID atomic.Uint64

	mu     sync.Mutex
	active *recording
}

type recording struct {
	id        uint64
	startedAt time.Time
	cancel    context.CancelFunc
	stopped   bool // capture has been stopped
}

// NewCoordinator creates a coordinator. Capture, Transcriber, and
// Injector are required; Rewriter may be nil.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Capture == nil || cfg.Transcriber == nil || cfg.Injector == nil {
		return nil, errors.New("capture, transcriber, and injector are required")
	}
	if cfg.RewriteTimeout <= 0 {
		cfg.RewriteTimeout = 30 * time.Second
	}
	return &Coordinator{
		capture:   cfg.Capture,
		trans:     cfg.Transcriber,
		rewriter:  cfg.Rewriter,
		injector:  cfg.Injector,
		rwTimeout: cfg.RewriteTimeout,
		onOutcome: cfg.OnOutcome,
		onState:   cfg.OnState,
	}, nil
}

// Run consumes hotkey edges until ctx is cancelled or the edge channel
// closes. A press begins a session, the matching release ends it.
func (c *Coordinator) Run(ctx context.Context, edges <-chan hotkey.Edge) error {
	for {
		select {
		case <-ctx.Done():
			c.Cancel()
			return ctx.Err()
		case e, ok := <-edges:
			if !ok {
				c.Cancel()
				return nil
			}
			switch e.Kind {
			case hotkey.Pressed:
				if _, err := c.Begin(ctx); err != nil {
					slog.Warn("cannot start session", "error", err)
				}
			case hotkey.Released:
				if err := c.End(); err != nil && !errors.Is(err, ErrNoActiveSession) {
					slog.Warn("cannot end session", "error", err)
				}
			}
		}
	}
}

// Begin starts a new recording session and returns its id. It fails
// with ErrSessionActive while another session is in flight, and with
// the capture engine's error when the microphone cannot be acquired.
func (c *Coordinator) Begin(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return 0, ErrSessionActive
	}
	queue, err := c.capture.Start()
	if err != nil {
		c.mu.Unlock()
		return 0, fmt.Errorf("start capture: %w", err)
	}
	id := c.nextID.Add(1)
	sctx, cancel := context.WithCancel(ctx)
	rec := &recording{id: id, startedAt: time.Now(), cancel: cancel}
	c.active = rec
	c.mu.Unlock()

	slog.Info("session started", "session", id)
	c.setState(id, StateCapturing)

	results := c.trans.Start(sctx, id, queue)
	go c.finish(sctx, rec, results)
	return id, nil
}

// End stops capture for the active session. The transcription worker
// observes the closed queue and runs inference; the terminal outcome
// is delivered asynchronously through OnOutcome.
func (c *Coordinator) End() error {
	c.mu.Lock()
	rec := c.active
	if rec == nil || rec.stopped {
		c.mu.Unlock()
		return ErrNoActiveSession
	}
	rec.stopped = true
	c.mu.Unlock()

	if err := c.capture.Stop(); err != nil {
		slog.Warn("stop capture", "session", rec.id, "error", err)
	}
	c.setState(rec.id, StateTranscribing)
	return nil
}

// Cancel aborts the active session, if any. The session still delivers
// its terminal outcome (a cancellation failure).
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	rec := c.active
	if rec == nil {
		c.mu.Unlock()
		return
	}
	stopped := rec.stopped
	rec.stopped = true
	c.mu.Unlock()

	rec.cancel()
	if !stopped {
		if err := c.capture.Stop(); err != nil {
			slog.Warn("stop capture", "session", rec.id, "error", err)
		}
	}
}

// Active reports whether a session is currently in flight.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// finish waits for the transcription result and drives the session to
// its terminal state.
func (c *Coordinator) finish(ctx context.Context, rec *recording, results <-chan transcribe.Result) {
	res, ok := <-results
	if !ok {
		res = transcribe.Result{SessionID: rec.id, Err: errors.New("transcription worker exited without a result")}
	}
	if res.Err != nil {
		c.terminate(rec, Outcome{SessionID: rec.id, State: StateFailed, Err: res.Err})
		return
	}

	text := res.Text
	if text == "" {
		c.terminate(rec, Outcome{SessionID: rec.id, State: StateCompleted, Language: res.Language})
		return
	}

	if c.rewriter != nil {
		rctx, cancel := context.WithTimeout(ctx, c.rwTimeout)
		rewritten, err := c.rewriter.Rewrite(rctx, text)
		cancel()
		if err != nil {
			slog.Warn("rewrite failed, using raw transcript", "session", rec.id, "error", err)
		} else {
			text = rewritten
		}
	}

	c.setState(rec.id, StateInjecting)
	if err := c.injector.Inject(ctx, text); err != nil {
		c.terminate(rec, Outcome{SessionID: rec.id, State: StateFailed, Text: text, Language: res.Language, Err: err})
		return
	}
	c.terminate(rec, Outcome{SessionID: rec.id, State: StateCompleted, Text: text, Language: res.Language})
}

func (c *Coordinator) terminate(rec *recording, out Outcome) {
	c.mu.Lock()
	stopped := rec.stopped
	rec.stopped = true
	if c.active == rec {
		c.active = nil
	}
	c.mu.Unlock()

	// Capture may still hold the device when the session failed before
	// End was called (sequence violation, cancelled context).
	if !stopped {
		if err := c.capture.Stop(); err != nil {
			slog.Warn("stop capture", "session", rec.id, "error", err)
		}
	}
	rec.cancel()

	out.Duration = time.Since(rec.startedAt)
	c.setState(rec.id, out.State)
	if out.Err != nil {
		slog.Error("session failed", "session", rec.id, "error", out.Err)
	} else {
		slog.Info("session completed", "session", rec.id, "chars", len(out.Text), "duration", out.Duration)
	}
	if c.onOutcome != nil {
		c.onOutcome(out)
	}
}

func (c *Coordinator) setState(id uint64, s State) {
	if c.onState != nil {
		c.onState(id, s)
	}
}
