package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// WhisperLocal implements the Provider interface using local whisper.cpp.
// It shells out to the whisper-cpp CLI tool for transcription. The model
// file is managed externally (imported through the asset store) and
// passed in by path.
type WhisperLocal struct {
	modelPath string
	binPath   string

	mu        sync.RWMutex
	hasBinary bool
}

// WhisperLocalConfig holds configuration for WhisperLocal.
type WhisperLocalConfig struct {
	ModelPath string // Path to a ggml model file
	BinPath   string // Path to whisper-cpp binary (optional, discovered if not set)
}

// NewWhisperLocal creates a new WhisperLocal provider.
func NewWhisperLocal(cfg WhisperLocalConfig) (*WhisperLocal, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path required")
	}

	w := &WhisperLocal{
		modelPath: cfg.ModelPath,
		binPath:   cfg.BinPath,
	}

	if w.binPath == "" {
		w.binPath = findWhisperBinary()
	}
	w.hasBinary = w.binPath != ""

	return w, nil
}

func (w *WhisperLocal) Name() string { return "whisper-local" }

func (w *WhisperLocal) DisplayName() string {
	name := filepath.Base(w.modelPath)
	if !w.HasBinary() {
		return fmt.Sprintf("Whisper Local (%s) [whisper.cpp not installed]", name)
	}
	return fmt.Sprintf("Whisper Local (%s)", name)
}

func (w *WhisperLocal) IsLocal() bool { return true }

// HasBinary returns true if whisper-cpp binary is available.
func (w *WhisperLocal) HasBinary() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.hasBinary
}

func (w *WhisperLocal) IsReady() bool {
	if !w.HasBinary() {
		return false
	}
	_, err := os.Stat(w.modelPath)
	return err == nil
}

// SetModelPath points the provider at a different model file, e.g. after
// a new model asset has been imported.
func (w *WhisperLocal) SetModelPath(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.modelPath = path
}

// Transcribe converts audio samples to text using local whisper.cpp.
// audio: PCM float32 samples at 16000 Hz
// language: source language code (empty for auto-detect)
func (w *WhisperLocal) Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error) {
	if !w.IsReady() {
		return nil, fmt.Errorf("whisper local not ready: missing binary or model")
	}

	audioPath := filepath.Join(os.TempDir(), fmt.Sprintf("whisper_audio_%d.wav", time.Now().UnixNano()))
	if err := writeWAV(audioPath, audio, 16000); err != nil {
		return nil, fmt.Errorf("write audio file: %w", err)
	}
	defer os.Remove(audioPath)

	w.mu.RLock()
	modelPath, binPath := w.modelPath, w.binPath
	w.mu.RUnlock()

	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-oj", // Output JSON
		"--no-prints",
	}
	if language != "" {
		args = append(args, "-l", language)
	}

	// CommandContext kills the process on cancellation.
	cmd := exec.CommandContext(ctx, binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whisper-cpp failed: %w, stderr: %s", err, stderr.String())
	}

	var out whisperCppOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		// Older whisper.cpp builds print plain text despite -oj.
		return &TranscribeResult{
			Text:     stdout.String(),
			Language: language,
		}, nil
	}

	result := &TranscribeResult{
		Language: out.Result.Language,
		Segments: make([]Segment, 0, len(out.Transcription)),
	}
	for _, seg := range out.Transcription {
		result.Text += seg.Text
		result.Segments = append(result.Segments, Segment{
			Text:  seg.Text,
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
		})
	}

	return result, nil
}

func (w *WhisperLocal) Close() error {
	return nil
}

func findWhisperBinary() string {
	// Common binary names - whisper-cli is the Homebrew name
	names := []string{"whisper-cli", "whisper-cpp", "whisper", "main"}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	homeDir, _ := os.UserHomeDir()
	locations := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(homeDir, ".local", "bin"),
		filepath.Join(homeDir, "whisper.cpp"),
	}

	for _, loc := range locations {
		for _, name := range names {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}

// whisperCppOutput represents the JSON output from whisper.cpp.
type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text    string `json:"text"`
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
	} `json:"transcription"`
}
