// Package transcribe turns a session's audio buffer queue into exactly
// one terminal transcription result.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.nanao.dev/voicekey/audiocapture"
	"go.nanao.dev/voicekey/stt"
)

// ErrSequenceViolation is returned when buffers arrive out of capture order.
var ErrSequenceViolation = errors.New("audio buffer sequence violation")

// ErrCancelled is returned when the session is cancelled before a
// transcription completes.
var ErrCancelled = errors.New("transcription cancelled")

// Error wraps an inference failure so it can travel through the result
// channel instead of being thrown past the component boundary.
type Error struct {
	SessionID uint64
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcription failed (session %d): %v", e.SessionID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the single terminal outcome of a session's transcription.
// Either Text is valid or Err is non-nil, never both.
type Result struct {
	SessionID uint64
	Text      string
	Language  string
	Err       error
}

// Orchestrator drains a capture queue on a dedicated worker, accumulates
// the session's audio, and invokes the inference provider once the queue
// is closed (the end-of-session marker).
type Orchestrator struct {
	provider stt.Provider
	language string // source language hint, empty for auto-detect
}

// New creates an orchestrator backed by the given inference provider.
func New(provider stt.Provider, language string) *Orchestrator {
	return &Orchestrator{provider: provider, language: language}
}

// Start launches the transcription worker for one session and returns
// the channel its single terminal result is delivered on. The channel
// is closed after that result.
//
// Buffers must arrive with strictly increasing sequence numbers; a
// regression or duplicate fails the session with ErrSequenceViolation.
// Forward gaps are tolerated: the capture engine evicts queued buffers
// under backpressure, so an absorbed drop shows up here as a gap, not a
// fault. Cancelling ctx before inference begins discards the
// accumulated audio; cancelling mid-inference is forwarded to the
// provider. Either way a terminal result is still delivered.
func (o *Orchestrator) Start(ctx context.Context, sessionID uint64, queue <-chan audiocapture.Buffer) <-chan Result {
	results := make(chan Result, 1)
	go func() {
		defer close(results)
		results <- o.run(ctx, sessionID, queue)
	}()
	return results
}

func (o *Orchestrator) run(ctx context.Context, sessionID uint64, queue <-chan audiocapture.Buffer) Result {
	var (
		samples []float32
		next    uint64
	)

drain:
	for {
		select {
		case <-ctx.Done():
			return Result{SessionID: sessionID, Err: ErrCancelled}
		case buf, ok := <-queue:
			if !ok {
				break drain
			}
			if buf.Seq < next {
				slog.Error("audio sequence violation",
					"session", sessionID, "got", buf.Seq, "floor", next)
				return Result{
					SessionID: sessionID,
					Err:       fmt.Errorf("%w: got seq %d, want at least %d", ErrSequenceViolation, buf.Seq, next),
				}
			}
			next = buf.Seq + 1
			samples = append(samples, buf.Samples...)
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{SessionID: sessionID, Err: ErrCancelled}
	}

	if len(samples) == 0 {
		return Result{SessionID: sessionID}
	}

	res, err := o.provider.Transcribe(ctx, samples, o.language)
	if err != nil {
		if ctx.Err() != nil {
			return Result{SessionID: sessionID, Err: ErrCancelled}
		}
		return Result{SessionID: sessionID, Err: &Error{SessionID: sessionID, Err: err}}
	}

	return Result{
		SessionID: sessionID,
		Text:      res.Text,
		Language:  res.Language,
	}
}
