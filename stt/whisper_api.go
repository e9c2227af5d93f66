package stt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// WhisperAPI implements the Provider interface using OpenAI's Whisper API.
type WhisperAPI struct {
	client openai.Client
	model  string

	mu    sync.RWMutex
	ready bool
}

// WhisperAPIConfig holds configuration for WhisperAPI.
type WhisperAPIConfig struct {
	APIKey  string
	BaseURL string // Optional, defaults to OpenAI's API
	Model   string // Optional, defaults to "whisper-1"
}

// NewWhisperAPI creates a new WhisperAPI provider.
func NewWhisperAPI(cfg WhisperAPIConfig) *WhisperAPI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}

	return &WhisperAPI{
		client: openai.NewClient(opts...),
		model:  model,
		ready:  cfg.APIKey != "",
	}
}

func (w *WhisperAPI) Name() string        { return "whisper-api" }
func (w *WhisperAPI) DisplayName() string { return "OpenAI Whisper API" }
func (w *WhisperAPI) IsLocal() bool       { return false }

func (w *WhisperAPI) IsReady() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Transcribe sends the audio to the Whisper API as a WAV upload.
func (w *WhisperAPI) Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error) {
	if !w.IsReady() {
		return nil, fmt.Errorf("whisper api not configured: missing api key")
	}

	wavPath, err := tempWAV(audio)
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	wavData, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read wav file: %w", err)
	}

	params := openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(w.model),
		File:  openai.File(bytes.NewReader(wavData), "audio.wav", "audio/wav"),
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transcription request: %w", err)
	}

	return &TranscribeResult{
		Text:     resp.Text,
		Language: language,
	}, nil
}

func (w *WhisperAPI) Close() error {
	return nil
}

func tempWAV(audio []float32) (string, error) {
	f, err := os.CreateTemp("", "whisper_api_*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	f.Close()

	if err := writeWAV(path, audio, 16000); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
