package permission

import (
	"errors"
	"testing"
)

func TestRequire(t *testing.T) {
	granted := Static{Microphone: true}

	if err := Require(granted, Microphone); err != nil {
		t.Errorf("Require(granted) = %v, want nil", err)
	}
	if err := Require(nil, Accessibility); err != nil {
		t.Errorf("Require(nil checker) = %v, want nil", err)
	}

	err := Require(granted, InputMonitoring)
	if err == nil {
		t.Fatal("Require(denied) = nil, want DeniedError")
	}
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %T, want *DeniedError", err)
	}
	if denied.Capability != InputMonitoring {
		t.Errorf("Capability = %q, want %q", denied.Capability, InputMonitoring)
	}
}

func TestSystemCheckerAnswersAllCapabilities(t *testing.T) {
	ch := System()
	if ch == nil {
		t.Fatal("System() = nil")
	}
	// Grants depend on the host; the checker just has to answer.
	for _, c := range []Capability{Microphone, InputMonitoring, Accessibility} {
		_ = ch.Granted(c)
	}
}
