// Package inject places text into the focused application through the
// system clipboard, restoring the prior clipboard contents afterwards.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrInjectionFailed is returned when the synthetic paste could not be
// delivered. The clipboard is still restored before this is returned.
var ErrInjectionFailed = errors.New("paste injection failed")

// Clipboard abstracts the system clipboard's plain-text surface. Other
// payload kinds (images, files) are deliberately left untouched.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// Keyboard triggers the platform paste action into the focused input.
type Keyboard interface {
	Paste() error
}

// Injector performs clipboard-safe text injection. Only the injector
// writes the system clipboard; every Inject call restores or clears it
// on all exit paths, including cancellation.
type Injector struct {
	clip   Clipboard
	kb     Keyboard
	settle time.Duration
}

// New creates an injector. settle is the wait between the synthetic
// paste and the clipboard restore, giving the OS time to process the
// paste event before the clipboard changes again.
func New(clip Clipboard, kb Keyboard, settle time.Duration) *Injector {
	if settle <= 0 {
		settle = 500 * time.Millisecond
	}
	return &Injector{clip: clip, kb: kb, settle: settle}
}

// Inject snapshots the clipboard, places text on it, triggers a paste,
// and after the settle delay restores the snapshot. A paste failure
// still restores the original contents before the error is returned.
//
// If the clipboard no longer holds the injected text at restore time,
// the user (or another program) raced the settle window; the restore is
// skipped so their newer content is not clobbered.
func (i *Injector) Inject(ctx context.Context, text string) error {
	snapshot, err := i.clip.ReadText()
	if err != nil {
		// Best effort: an unreadable clipboard restores to empty.
		slog.Warn("read clipboard snapshot", "error", err)
		snapshot = ""
	}

	if err := i.clip.WriteText(text); err != nil {
		// Clipboard unchanged, nothing to restore.
		return fmt.Errorf("%w: write clipboard: %w", ErrInjectionFailed, err)
	}

	pasteErr := i.kb.Paste()

	// The settle wait honors cancellation, but the restore below runs
	// regardless: the snapshot must never leak.
	select {
	case <-time.After(i.settle):
	case <-ctx.Done():
	}

	i.restore(snapshot, text)

	if pasteErr != nil {
		return fmt.Errorf("%w: %w", ErrInjectionFailed, pasteErr)
	}
	// Once the paste chord is out the text was delivered; cancellation
	// during the settle wait only shortened the wait.
	return nil
}

func (i *Injector) restore(snapshot, injected string) {
	current, err := i.clip.ReadText()
	if err == nil && current != injected {
		slog.Info("clipboard changed during settle window, skipping restore")
		return
	}
	if err := i.clip.WriteText(snapshot); err != nil {
		slog.Error("restore clipboard", "error", err)
	}
}
