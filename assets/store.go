// Package assets manages imported speech model binaries: a directory of
// model files plus a sidecar mapping, and the chunked transfer engine
// that imports new ones.
package assets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const sidecarName = "assets.json"

// Asset describes one imported model binary.
type Asset struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	FileName    string    `json:"file_name"`
	ByteSize    int64     `json:"byte_size,omitempty"`
	ImportedAt  time.Time `json:"imported_at"`
	SizeClass   string    `json:"size_class,omitempty"`
}

// sidecar is the on-disk mapping format. Loading tolerates missing and
// unknown fields so mappings written by older versions keep working.
type sidecar struct {
	Assets map[string]Asset `json:"assets"`
}

// Store is the managed model directory and its asset mapping, keyed by
// destination file name. No two assets may share a file name.
type Store struct {
	dir string

	mu     sync.Mutex
	assets map[string]Asset
}

// OpenStore opens (creating if needed) the managed directory and loads
// the sidecar mapping. A model file with no mapping entry (e.g. after a
// crash between file write and mapping persist) is left on disk and
// simply not listed; re-importing under the same name overwrites the
// orphan, since only the mapping guards a name.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}

	s := &Store{dir: dir, assets: make(map[string]Asset)}

	data, err := os.ReadFile(filepath.Join(dir, sidecarName))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read asset mapping: %w", err)
	}

	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("unmarshal asset mapping: %w", err)
	}
	for name, a := range sc.Assets {
		// Older mappings may lack fields added later.
		if a.FileName == "" {
			a.FileName = name
		}
		if a.DisplayName == "" {
			a.DisplayName = name
		}
		if a.SizeClass == "" && a.ByteSize > 0 {
			a.SizeClass = SizeClass(a.ByteSize)
		}
		s.assets[name] = a
	}
	return s, nil
}

// Dir returns the managed directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the full path a given destination file name maps to.
func (s *Store) Path(fileName string) string {
	return filepath.Join(s.dir, fileName)
}

// Get returns the asset registered under fileName.
func (s *Store) Get(fileName string) (Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[fileName]
	return a, ok
}

// List returns all registered assets.
func (s *Store) List() []Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a)
	}
	return out
}

// Add registers an asset and persists the mapping atomically: the
// sidecar is written to a temp file and renamed into place before the
// in-memory mapping is updated. A crash before the rename leaves the
// previous mapping intact (and the model file as an orphan).
func (s *Store) Add(a Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[a.FileName]; ok {
		return fmt.Errorf("asset already registered: %s", a.FileName)
	}

	next := make(map[string]Asset, len(s.assets)+1)
	for k, v := range s.assets {
		next[k] = v
	}
	next[a.FileName] = a

	if err := s.persist(next); err != nil {
		return err
	}
	s.assets = next
	return nil
}

// Remove deletes the asset's mapping entry and its backing file.
func (s *Store) Remove(fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[fileName]; !ok {
		return fmt.Errorf("asset not found: %s", fileName)
	}

	next := make(map[string]Asset, len(s.assets))
	for k, v := range s.assets {
		if k != fileName {
			next[k] = v
		}
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.assets = next

	if err := os.Remove(s.Path(fileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove asset file: %w", err)
	}
	return nil
}

func (s *Store) persist(assets map[string]Asset) error {
	data, err := json.MarshalIndent(sidecar{Assets: assets}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal asset mapping: %w", err)
	}

	path := filepath.Join(s.dir, sidecarName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write asset mapping: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace asset mapping: %w", err)
	}
	return nil
}

// Size-class thresholds follow the ggml whisper model family.
var sizeClasses = []struct {
	name string
	max  int64
}{
	{"tiny", 100 * 1024 * 1024},
	{"base", 250 * 1024 * 1024},
	{"small", 800 * 1024 * 1024},
	{"medium", 2000 * 1024 * 1024},
}

// SizeClass infers the model size class from a byte size.
func SizeClass(bytes int64) string {
	for _, c := range sizeClasses {
		if bytes <= c.max {
			return c.name
		}
	}
	return "large"
}
