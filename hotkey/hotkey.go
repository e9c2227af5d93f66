// Package hotkey owns the process-global keyboard hook and its
// self-healing lifecycle.
package hotkey

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.nanao.dev/voicekey/permission"
)

// ErrReArmFailed is surfaced after the re-arm retry bound is exhausted.
var ErrReArmFailed = errors.New("hotkey hook re-arm failed")

// ErrAlreadyStarted is returned by Start when the manager is running.
var ErrAlreadyStarted = errors.New("hotkey manager already started")

// State is the hook lifecycle state.
type State int

const (
	StateActive State = iota
	StateDisabled
	StateReArming
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisabled:
		return "disabled"
	case StateReArming:
		return "re-arming"
	}
	return "unknown"
}

// EdgeKind distinguishes hotkey press and release transitions.
type EdgeKind int

const (
	Pressed EdgeKind = iota
	Released
)

// Edge is one hotkey transition, reported on the manager's edge channel.
type Edge struct {
	Kind EdgeKind
	At   time.Time
}

// keyEvent is a decoded key transition from the hook source.
type keyEvent struct {
	name string
	down bool
}

// hookSource abstracts the global hook machinery. open returns the
// event stream; the stream closing without a prior close() call means
// the OS or another tool revoked the hook.
type hookSource interface {
	open() (<-chan keyEvent, error)
	close()
}

// Config holds hotkey manager configuration.
type Config struct {
	Combo       string             // e.g. "ctrl+shift+space"
	RetryLimit  int                // consecutive re-arm failures tolerated, default 3
	BackoffBase time.Duration      // first re-arm retry delay, default 100ms
	Permissions permission.Checker // optional; checked before installing the hook
}

// Manager registers one global hook and reports press/release edges of
// the configured combination. When the hook is revoked it re-arms
// itself on a bounded backoff; after RetryLimit consecutive failures it
// reports ErrReArmFailed through the failure callback instead of
// retrying forever.
type Manager struct {
	combo       combo
	retryLimit  int
	backoffBase time.Duration
	perms       permission.Checker
	src         hookSource

	edges   chan Edge
	dropped atomic.Uint64
	state   atomic.Int64

	onState   func(State, string)
	onFailure func(error)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewManager creates a hotkey manager using the platform hook backend.
func NewManager(cfg Config) (*Manager, error) {
	return newManager(cfg, newGohookSource())
}

func newManager(cfg Config, src hookSource) (*Manager, error) {
	c, err := parseCombo(cfg.Combo)
	if err != nil {
		return nil, err
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 100 * time.Millisecond
	}
	m := &Manager{
		combo:       c,
		retryLimit:  cfg.RetryLimit,
		backoffBase: cfg.BackoffBase,
		perms:       cfg.Permissions,
		src:         src,
		edges:       make(chan Edge, 8),
	}
	m.state.Store(int64(StateDisabled))
	return m, nil
}

// Edges returns the channel press/release edges are delivered on. The
// channel is bounded; if the consumer stalls, edges are dropped and
// counted rather than blocking the hook context.
func (m *Manager) Edges() <-chan Edge {
	return m.edges
}

// State returns the current hook state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// SetStateFunc registers a callback invoked on state transitions with
// the new state and a reason. Must be called before Start.
func (m *Manager) SetStateFunc(fn func(State, string)) {
	m.onState = fn
}

// SetFailureFunc registers a callback for persistent re-arm failure.
// Must be called before Start.
func (m *Manager) SetFailureFunc(fn func(error)) {
	m.onFailure = fn
}

// Start installs the hook and begins reporting edges.
func (m *Manager) Start() error {
	if err := permission.Require(m.perms, permission.InputMonitoring); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyStarted
	}

	events, err := m.src.open()
	if err != nil {
		return fmt.Errorf("install hook: %w", err)
	}

	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.setState(StateActive, "started")

	go m.run(events, m.stop, m.done)
	return nil
}

// Stop removes the hook. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	m.src.close()
	<-done
	m.setState(StateDisabled, "stopped")
}

func (m *Manager) run(events <-chan keyEvent, stop, done chan struct{}) {
	defer close(done)

	var tracker chordTracker
	tracker.combo = m.combo

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				// Hook revoked out from under us: re-arm in the same
				// invocation, per the self-healing contract.
				select {
				case <-stop:
					return
				default:
				}
				m.setState(StateDisabled, "hook revoked")
				events = m.rearm(stop)
				if events == nil {
					return
				}
				tracker.reset()
				continue
			}
			if edge, ok := tracker.handle(ev); ok {
				m.emit(edge)
			}
		}
	}
}

// rearm reopens the hook source on a bounded backoff. Returns the new
// event stream, or nil when the retry bound is exhausted or the manager
// is stopping.
func (m *Manager) rearm(stop chan struct{}) <-chan keyEvent {
	m.setState(StateReArming, "re-arming")

	backoff := m.backoffBase
	for attempt := 1; ; attempt++ {
		events, err := m.src.open()
		if err == nil {
			slog.Info("hotkey hook re-armed", "attempt", attempt)
			m.setState(StateActive, "re-armed")
			return events
		}

		slog.Warn("hotkey hook re-arm failed", "attempt", attempt, "error", err)
		if attempt >= m.retryLimit {
			m.setState(StateDisabled, "re-arm exhausted")
			if m.onFailure != nil {
				m.onFailure(fmt.Errorf("%w after %d attempts: %w", ErrReArmFailed, attempt, err))
			}
			return nil
		}

		select {
		case <-stop:
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (m *Manager) emit(e Edge) {
	select {
	case m.edges <- e:
	default:
		m.dropped.Add(1)
	}
}

func (m *Manager) setState(s State, reason string) {
	m.state.Store(int64(s))
	if m.onState != nil {
		m.onState(s, reason)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Combo parsing & chord tracking
// ─────────────────────────────────────────────────────────────────────────────

type combo struct {
	modifiers []string
	key       string
}

// parseCombo parses specs like "ctrl+shift+space": zero or more
// modifiers followed by one key, separated by '+'.
func parseCombo(spec string) (combo, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(spec)), "+")
	if len(parts) == 0 || parts[0] == "" {
		return combo{}, fmt.Errorf("empty hotkey spec")
	}

	var c combo
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return combo{}, fmt.Errorf("invalid hotkey spec %q", spec)
		}
		p = normalizeKey(p)
		if i == len(parts)-1 {
			c.key = p
		} else {
			if !isModifier(p) {
				return combo{}, fmt.Errorf("invalid hotkey spec %q: %q is not a modifier", spec, p)
			}
			c.modifiers = append(c.modifiers, p)
		}
	}
	if isModifier(c.key) {
		return combo{}, fmt.Errorf("invalid hotkey spec %q: missing non-modifier key", spec)
	}
	return c, nil
}

func normalizeKey(k string) string {
	switch k {
	case "cmd", "command", "super", "win", "meta":
		return "cmd"
	case "option", "opt":
		return "alt"
	case "control":
		return "ctrl"
	}
	return k
}

func isModifier(k string) bool {
	switch k {
	case "ctrl", "shift", "alt", "cmd":
		return true
	}
	return false
}

// chordTracker turns raw key transitions into hotkey edges. It tracks
// which keys are currently held and fires Pressed when the full chord
// lands, Released when the main key lifts.
type chordTracker struct {
	combo  combo
	held   map[string]bool
	active bool
}

func (t *chordTracker) reset() {
	t.held = nil
	t.active = false
}

func (t *chordTracker) handle(ev keyEvent) (Edge, bool) {
	if t.held == nil {
		t.held = make(map[string]bool)
	}

	name := normalizeKey(strings.ToLower(ev.name))
	if ev.down {
		t.held[name] = true
		if !t.active && name == t.combo.key && t.modifiersHeld() {
			t.active = true
			return Edge{Kind: Pressed, At: time.Now()}, true
		}
		return Edge{}, false
	}

	delete(t.held, name)
	if t.active && name == t.combo.key {
		t.active = false
		return Edge{Kind: Released, At: time.Now()}, true
	}
	return Edge{}, false
}

func (t *chordTracker) modifiersHeld() bool {
	for _, mod := range t.combo.modifiers {
		if !t.held[mod] {
			return false
		}
	}
	return true
}
