package hotkey

import (
	"errors"
	"strings"

	hook "github.com/robotn/gohook"
)

// gohookSource adapts the robotn/gohook global keyboard hook to the
// hookSource interface. gohook is process-global: only one open stream
// may exist at a time, which matches the manager's ownership contract.
type gohookSource struct{}

func newGohookSource() hookSource {
	return &gohookSource{}
}

func (s *gohookSource) open() (<-chan keyEvent, error) {
	raw := hook.Start()
	if raw == nil {
		return nil, errors.New("gohook start returned no event stream")
	}

	out := make(chan keyEvent, 64)
	go func() {
		defer close(out)
		for ev := range raw {
			var down bool
			switch ev.Kind {
			case hook.KeyDown, hook.KeyHold:
				down = true
			case hook.KeyUp:
				down = false
			default:
				continue
			}
			name := keyName(ev)
			if name == "" {
				continue
			}
			// The raw stream is buffered by gohook; a full out channel
			// means the manager is wedged, so dropping here is safe.
			select {
			case out <- keyEvent{name: name, down: down}:
			default:
			}
		}
	}()
	return out, nil
}

func (s *gohookSource) close() {
	hook.End()
}

func keyName(ev hook.Event) string {
	return strings.ToLower(hook.RawcodetoKeychar(ev.Rawcode))
}
