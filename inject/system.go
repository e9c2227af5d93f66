package inject

import (
	"runtime"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// SystemClipboard is the real clipboard backed by the OS.
type SystemClipboard struct{}

func (SystemClipboard) ReadText() (string, error) {
	return clipboard.ReadAll()
}

func (SystemClipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

// SystemKeyboard sends the platform paste chord (Cmd+V on macOS,
// Ctrl+V elsewhere) as a synthetic keystroke.
type SystemKeyboard struct{}

func (SystemKeyboard) Paste() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	return kb.Launching()
}
