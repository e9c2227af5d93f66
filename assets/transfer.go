package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transfer failure taxonomy. IO failures additionally wrap the
// underlying error.
var (
	ErrAlreadyInProgress = errors.New("transfer already in progress for destination")
	ErrAlreadyExists     = errors.New("asset already exists for destination")
	ErrIOFailure         = errors.New("transfer i/o failure")
	ErrCancelled         = errors.New("transfer cancelled")
)

// Source is the sandboxed access token granted by the file-picker
// collaborator. Open may be called once per transfer; Release signals
// the collaborator that the token is no longer needed and is always
// called, on every outcome.
type Source interface {
	Open() (reader io.ReadCloser, totalBytes int64, err error)
	Release()
}

// FileSource adapts a plain filesystem path to the Source interface.
type FileSource struct {
	Path string
}

func (f *FileSource) Open() (io.ReadCloser, int64, error) {
	r, err := os.Open(f.Path)
	if err != nil {
		return nil, 0, err
	}
	info, err := r.Stat()
	if err != nil {
		r.Close()
		return nil, 0, err
	}
	return r, info.Size(), nil
}

func (f *FileSource) Release() {}

// Progress is a point-in-time snapshot of a running transfer. Copied is
// monotonically non-decreasing across a transfer's updates.
type Progress struct {
	Copied     int64
	Total      int64
	Throughput float64       // bytes per second since the previous update
	ETA        time.Duration // valid only when ETAValid
	ETAValid   bool
}

// Config holds transfer engine tuning. The defaults balance copy
// throughput against progress-reporting granularity.
type Config struct {
	ChunkSize        int           // default 1 MiB
	ProgressInterval time.Duration // default 500ms of wall time
}

// Manager imports model binaries into the store with single-flight per
// destination name, bounded-rate progress, cooperative cancellation,
// and no partial files left behind on any failure path.
type Manager struct {
	store            *Store
	chunkSize        int
	progressInterval time.Duration

	mu       sync.Mutex
	inflight map[string]*Transfer
}

// NewManager creates a transfer engine over the given store.
func NewManager(store *Store, cfg Config) *Manager {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1 << 20
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	return &Manager{
		store:            store,
		chunkSize:        cfg.ChunkSize,
		progressInterval: cfg.ProgressInterval,
		inflight:         make(map[string]*Transfer),
	}
}

// Transfer is a handle to one running import.
type Transfer struct {
	destName string
	cancel   context.CancelFunc
	done     chan struct{}

	mu    sync.Mutex
	asset Asset
	err   error
}

// Cancel requests cooperative cancellation. The partial destination
// file is removed before Wait returns.
func (t *Transfer) Cancel() { t.cancel() }

// Wait blocks until the transfer reaches its terminal outcome.
func (t *Transfer) Wait() (Asset, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.asset, t.err
}

func (t *Transfer) finish(a Asset, err error) {
	t.mu.Lock()
	t.asset, t.err = a, err
	t.mu.Unlock()
	close(t.done)
}

// Begin starts importing src into the store under destName. It rejects
// a destination that already has a registered asset (before any bytes
// are read) and a destination with a transfer already in flight.
// onProgress, if non-nil, receives rate-limited progress updates on the
// transfer's own goroutine.
func (m *Manager) Begin(ctx context.Context, src Source, destName, displayName string, onProgress func(Progress)) (*Transfer, error) {
	if destName == "" || destName != filepath.Base(destName) || strings.HasPrefix(destName, ".") {
		return nil, fmt.Errorf("invalid destination name %q", destName)
	}
	if displayName == "" {
		displayName = destName
	}

	m.mu.Lock()
	if _, ok := m.inflight[destName]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInProgress, destName)
	}
	if _, ok := m.store.Get(destName); ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, destName)
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Transfer{destName: destName, cancel: cancel, done: make(chan struct{})}
	m.inflight[destName] = t
	m.mu.Unlock()

	go func() {
		asset, err := m.run(ctx, src, destName, displayName, onProgress)
		m.mu.Lock()
		delete(m.inflight, destName)
		m.mu.Unlock()
		cancel()
		t.finish(asset, err)
	}()

	return t, nil
}

// run copies the source in fixed-size chunks. On any failure, including
// cancellation, the partially written destination is removed before the
// error is surfaced; the asset is registered only after the copy
// completed and the on-disk size was read back.
func (m *Manager) run(ctx context.Context, src Source, destName, displayName string, onProgress func(Progress)) (Asset, error) {
	defer src.Release()

	reader, total, err := src.Open()
	if err != nil {
		return Asset{}, fmt.Errorf("%w: open source: %w", ErrIOFailure, err)
	}
	defer reader.Close()

	// The mapping and in-flight checks in Begin already fence this
	// name, so an existing file here is an unregistered orphan (crash
	// between file write and mapping persist) and gets overwritten.
	destPath := m.store.Path(destName)
	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: create destination: %w", ErrIOFailure, err)
	}

	cleanup := func() {
		dest.Close()
		if err := os.Remove(destPath); err != nil {
			slog.Error("remove partial asset", "path", destPath, "error", err)
		}
	}

	var (
		copied     int64
		lastEmit   = time.Now()
		lastCopied int64
	)
	buf := make([]byte, m.chunkSize)

	for {
		// Cancellation is checked once per chunk boundary, never
		// mid-write of a chunk.
		select {
		case <-ctx.Done():
			cleanup()
			return Asset{}, fmt.Errorf("%w: %s", ErrCancelled, destName)
		default:
		}

		n, rerr := io.ReadFull(reader, buf)
		if n > 0 {
			if _, werr := dest.Write(buf[:n]); werr != nil {
				cleanup()
				return Asset{}, fmt.Errorf("%w: write chunk: %w", ErrIOFailure, werr)
			}
			copied += int64(n)
		}

		if onProgress != nil {
			if now := time.Now(); now.Sub(lastEmit) >= m.progressInterval {
				onProgress(makeProgress(copied, lastCopied, total, now.Sub(lastEmit)))
				lastEmit, lastCopied = now, copied
			}
		}

		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			cleanup()
			return Asset{}, fmt.Errorf("%w: read chunk: %w", ErrIOFailure, rerr)
		}
	}

	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return Asset{}, fmt.Errorf("%w: close destination: %w", ErrIOFailure, err)
	}

	// Record the destination's actual on-disk size, not the size the
	// source reported.
	info, err := os.Stat(destPath)
	if err != nil {
		os.Remove(destPath)
		return Asset{}, fmt.Errorf("%w: stat destination: %w", ErrIOFailure, err)
	}

	asset := Asset{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		FileName:    destName,
		ByteSize:    info.Size(),
		ImportedAt:  time.Now(),
		SizeClass:   SizeClass(info.Size()),
	}

	if err := m.store.Add(asset); err != nil {
		// The file is complete but unregistered; keep it as an orphan
		// rather than corrupting the mapping.
		return Asset{}, fmt.Errorf("register asset: %w", err)
	}

	if onProgress != nil {
		onProgress(Progress{Copied: copied, Total: total})
	}
	slog.Info("asset imported", "name", destName, "bytes", info.Size(), "class", asset.SizeClass)
	return asset, nil
}

func makeProgress(copied, lastCopied, total int64, elapsed time.Duration) Progress {
	p := Progress{Copied: copied, Total: total}
	if elapsed > 0 {
		p.Throughput = float64(copied-lastCopied) / elapsed.Seconds()
	}
	if p.Throughput > 0 && copied < total {
		p.ETA = time.Duration(float64(total-copied) / p.Throughput * float64(time.Second))
		p.ETAValid = true
	}
	return p
}
