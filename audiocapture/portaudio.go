package audiocapture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// framesPerBuffer keeps callback chunks around 64 ms at 16 kHz, small
// enough for responsive drop accounting without hammering the queue.
const framesPerBuffer = 1024

// paBackend captures from the default input device via PortAudio.
type paBackend struct {
	mu     sync.Mutex
	stream *portaudio.Stream
}

func newBackend() (backend, error) {
	return &paBackend{}, nil
}

func (b *paBackend) start(sampleRate int, callback func(samples []float32)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream != nil {
		return ErrAlreadyCapturing
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer,
		func(in []float32) {
			callback(in)
		})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	b.stream = stream
	return nil
}

// stop tears the stream down completely. Stream.Stop blocks until
// pending callbacks have finished, satisfying the backend contract.
func (b *paBackend) stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stream == nil {
		return nil
	}

	stopErr := b.stream.Stop()
	closeErr := b.stream.Close()
	termErr := portaudio.Terminate()
	b.stream = nil

	if stopErr != nil {
		return fmt.Errorf("stop input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close input stream: %w", closeErr)
	}
	if termErr != nil {
		return fmt.Errorf("terminate portaudio: %w", termErr)
	}
	return nil
}
