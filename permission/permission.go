// Package permission exposes capability checks for OS-guarded resources.
package permission

import "fmt"

// Capability identifies an OS-level permission the pipeline depends on.
type Capability string

const (
	Microphone      Capability = "microphone"
	InputMonitoring Capability = "input-monitoring"
	Accessibility   Capability = "accessibility"
)

// Checker reports whether a capability has been granted. Implementations
// wrap the platform permission services; tests substitute fakes.
type Checker interface {
	Granted(c Capability) bool
}

// DeniedError is returned when an operation requires a capability that
// has not been granted. It is a typed failure, never a crash.
type DeniedError struct {
	Capability Capability
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Capability)
}

// Require returns a DeniedError if the capability is not granted.
func Require(ch Checker, c Capability) error {
	if ch == nil || ch.Granted(c) {
		return nil
	}
	return &DeniedError{Capability: c}
}

// Static is a Checker backed by a fixed grant set. The daemon constructs
// one at startup from the platform permission prompts; tests construct
// them directly.
type Static map[Capability]bool

func (s Static) Granted(c Capability) bool { return s[c] }
