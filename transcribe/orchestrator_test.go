package transcribe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.nanao.dev/voicekey/audiocapture"
	"go.nanao.dev/voicekey/stt"
)

// recordingProvider captures the audio it is asked to transcribe and
// returns a canned decode.
type recordingProvider struct {
	calls   int
	samples []float32
	err     error
	block   chan struct{} // if set, Transcribe waits for ctx or close
}

func (p *recordingProvider) Name() string        { return "fake" }
func (p *recordingProvider) DisplayName() string { return "fake" }
func (p *recordingProvider) IsLocal() bool       { return true }
func (p *recordingProvider) IsReady() bool       { return true }
func (p *recordingProvider) Close() error        { return nil }

func (p *recordingProvider) Transcribe(ctx context.Context, audio []float32, language string) (*stt.TranscribeResult, error) {
	p.calls++
	p.samples = append([]float32(nil), audio...)
	if p.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.block:
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	parts := make([]string, 0, len(audio))
	for range audio {
		parts = append(parts, "x")
	}
	return &stt.TranscribeResult{Text: strings.Join(parts, " "), Language: language}, nil
}

func feed(bufs ...audiocapture.Buffer) chan audiocapture.Buffer {
	queue := make(chan audiocapture.Buffer, len(bufs))
	for _, b := range bufs {
		queue <- b
	}
	close(queue)
	return queue
}

func TestExactlyOneResult(t *testing.T) {
	p := &recordingProvider{}
	o := New(p, "en")

	queue := feed(
		audiocapture.Buffer{Seq: 0, Samples: []float32{0.1}},
		audiocapture.Buffer{Seq: 1, Samples: []float32{0.2}},
	)

	results := o.Start(context.Background(), 7, queue)

	res, ok := <-results
	if !ok {
		t.Fatal("expected one result before close")
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.SessionID != 7 {
		t.Errorf("SessionID = %d, want 7", res.SessionID)
	}
	if res.Text != "x x" {
		t.Errorf("Text = %q, want concatenated decode of both buffers", res.Text)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want exactly 1", p.calls)
	}
	if len(p.samples) != 2 {
		t.Errorf("provider received %d samples, want 2", len(p.samples))
	}

	if _, ok := <-results; ok {
		t.Fatal("expected channel closed after the terminal result")
	}
}

func TestSequenceViolation(t *testing.T) {
	tests := []struct {
		name string
		seqs []uint64
	}{
		{"out of order", []uint64{1, 0}},
		{"duplicate", []uint64{0, 0}},
		{"regression after gap", []uint64{0, 3, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingProvider{}
			o := New(p, "")

			bufs := make([]audiocapture.Buffer, len(tt.seqs))
			for i, s := range tt.seqs {
				bufs[i] = audiocapture.Buffer{Seq: s, Samples: []float32{0}}
			}

			res := <-o.Start(context.Background(), 1, feed(bufs...))
			if !errors.Is(res.Err, ErrSequenceViolation) {
				t.Fatalf("err = %v, want ErrSequenceViolation", res.Err)
			}
			if p.calls != 0 {
				t.Errorf("provider called %d times, want 0", p.calls)
			}
		})
	}
}

// A full queue makes the capture engine evict queued buffers, so the
// consumer sees gaps in the sequence numbering. A drop must stay a
// counter increment, never a failed session.
func TestDroppedBuffersTolerated(t *testing.T) {
	tests := []struct {
		name string
		seqs []uint64
	}{
		{"first buffer evicted", []uint64{1, 2}},
		{"gap in the middle", []uint64{0, 2, 3}},
		{"several gaps", []uint64{0, 4, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &recordingProvider{}
			o := New(p, "")

			bufs := make([]audiocapture.Buffer, len(tt.seqs))
			for i, s := range tt.seqs {
				bufs[i] = audiocapture.Buffer{Seq: s, Samples: []float32{0}}
			}

			res := <-o.Start(context.Background(), 1, feed(bufs...))
			if res.Err != nil {
				t.Fatalf("unexpected error: %v", res.Err)
			}
			if p.calls != 1 {
				t.Errorf("provider called %d times, want 1", p.calls)
			}
			if len(p.samples) != len(tt.seqs) {
				t.Errorf("provider received %d samples, want %d", len(p.samples), len(tt.seqs))
			}
		})
	}
}

func TestCancelBeforeInference(t *testing.T) {
	p := &recordingProvider{}
	o := New(p, "")

	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan audiocapture.Buffer)

	results := o.Start(ctx, 1, queue)
	cancel()

	select {
	case res := <-results:
		if !errors.Is(res.Err, ErrCancelled) {
			t.Fatalf("err = %v, want ErrCancelled", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no terminal result after cancellation")
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times, want 0", p.calls)
	}
}

func TestCancelMidInference(t *testing.T) {
	p := &recordingProvider{block: make(chan struct{})}
	o := New(p, "")

	ctx, cancel := context.WithCancel(context.Background())
	results := o.Start(ctx, 1, feed(audiocapture.Buffer{Seq: 0, Samples: []float32{0}}))

	// Give the worker time to enter the provider call, then cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case res := <-results:
		if !errors.Is(res.Err, ErrCancelled) {
			t.Fatalf("err = %v, want ErrCancelled", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no terminal result after mid-inference cancellation")
	}
}

func TestInferenceFailureWrapped(t *testing.T) {
	p := &recordingProvider{err: errors.New("model exploded")}
	o := New(p, "")

	res := <-o.Start(context.Background(), 3, feed(audiocapture.Buffer{Seq: 0, Samples: []float32{0}}))

	var terr *Error
	if !errors.As(res.Err, &terr) {
		t.Fatalf("err = %v, want *transcribe.Error", res.Err)
	}
	if terr.SessionID != 3 {
		t.Errorf("SessionID = %d, want 3", terr.SessionID)
	}
}

func TestEmptySessionProducesEmptyText(t *testing.T) {
	p := &recordingProvider{}
	o := New(p, "")

	res := <-o.Start(context.Background(), 1, feed())
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Text != "" {
		t.Errorf("Text = %q, want empty", res.Text)
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times, want 0 for empty session", p.calls)
	}
}
