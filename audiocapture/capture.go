// Package audiocapture provides microphone capture with a bounded,
// sequence-numbered buffer queue.
package audiocapture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.nanao.dev/voicekey/permission"
)

// ErrAlreadyCapturing is returned when trying to start capture while already capturing.
var ErrAlreadyCapturing = errors.New("already capturing audio")

// ErrDeviceUnavailable is returned when the capture hardware cannot be acquired.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Buffer is an immutable chunk of PCM samples produced by the capture
// callback. Seq is assigned in capture order and consumed exactly once.
type Buffer struct {
	Seq       uint64
	Samples   []float32
	Timestamp time.Time
}

// backend is the platform capture implementation. The callback runs on
// the hardware callback context and must never block. stop must not
// return until the callback has quiesced: no callback may fire after
// stop returns, so the queue can be closed safely.
type backend interface {
	start(sampleRate int, callback func(samples []float32)) error
	stop() error
}

// Config holds configuration for audio capture.
type Config struct {
	SampleRate  int                // default 16000 Hz (what whisper expects)
	QueueSize   int                // buffer queue capacity, default 32
	Permissions permission.Checker // optional; checked before acquiring the device
}

// Engine owns the hardware capture session. Start acquires the device and
// begins pushing Buffers into a bounded queue; Stop releases the device
// before returning and is safe to call from any goroutine, any number of
// times.
type Engine struct {
	sampleRate int
	queueSize  int
	perms      permission.Checker
	impl       backend

	mu        sync.Mutex
	capturing bool
	queue     chan Buffer
	seq       atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a capture engine with the default platform backend.
func New(cfg Config) (*Engine, error) {
	impl, err := newBackend()
	if err != nil {
		return nil, err
	}
	return newEngine(cfg, impl), nil
}

func newEngine(cfg Config, impl backend) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	return &Engine{
		sampleRate: cfg.SampleRate,
		queueSize:  cfg.QueueSize,
		perms:      cfg.Permissions,
		impl:       impl,
	}
}

// Start acquires the capture device and returns the buffer queue for this
// capture session. The queue is closed by Stop.
func (e *Engine) Start() (<-chan Buffer, error) {
	if err := permission.Require(e.perms, permission.Microphone); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.capturing {
		return nil, ErrAlreadyCapturing
	}

	queue := make(chan Buffer, e.queueSize)
	e.seq.Store(0)
	e.dropped.Store(0)

	err := e.impl.start(e.sampleRate, func(samples []float32) {
		e.handleAudio(queue, samples)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	e.queue = queue
	e.capturing = true
	return queue, nil
}

// Stop releases the capture device and closes the buffer queue. The
// hardware session is fully released before Stop returns; there is no
// deferred cleanup. Calling Stop while idle is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.capturing {
		return nil
	}

	err := e.impl.stop()
	e.capturing = false
	close(e.queue)
	e.queue = nil
	return err
}

// IsCapturing returns true if a capture session is active.
func (e *Engine) IsCapturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capturing
}

// Dropped returns the number of buffers discarded under backpressure
// during the current or most recent session.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

// SampleRate returns the configured sample rate.
func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// handleAudio runs on the hardware callback context. It must never block:
// when the queue is full the oldest buffer is dropped and counted.
func (e *Engine) handleAudio(queue chan Buffer, samples []float32) {
	buf := Buffer{
		Seq:       e.seq.Add(1) - 1,
		Samples:   append([]float32(nil), samples...),
		Timestamp: time.Now(),
	}

	for {
		select {
		case queue <- buf:
			return
		default:
		}
		// Queue full: evict the oldest buffer and retry.
		select {
		case <-queue:
			e.dropped.Add(1)
		default:
		}
	}
}
