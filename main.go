package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"go.nanao.dev/voicekey/assets"
	"go.nanao.dev/voicekey/audiocapture"
	"go.nanao.dev/voicekey/cache"
	"go.nanao.dev/voicekey/config"
	"go.nanao.dev/voicekey/hotkey"
	"go.nanao.dev/voicekey/inject"
	"go.nanao.dev/voicekey/langdetect"
	"go.nanao.dev/voicekey/llm"
	"go.nanao.dev/voicekey/permission"
	"go.nanao.dev/voicekey/session"
	"go.nanao.dev/voicekey/stt"
	"go.nanao.dev/voicekey/transcribe"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// App wires the dictation pipeline together and owns its lifecycle.
type App struct {
	cfg   *config.Config
	perms permission.Checker

	cache       *cache.Cache
	sttRegistry *stt.Registry
	store       *assets.Store
	hotkey      *hotkey.Manager
	coordinator *session.Coordinator
}

func NewApp(cfg *config.Config, perms permission.Checker) *App {
	return &App{cfg: cfg, perms: perms}
}

// Init constructs every component of the pipeline. It fails only on
// errors that make the daemon useless; degraded components (no cache,
// no rewrite provider) are logged and skipped.
func (a *App) Init() error {
	a.setupCache()
	if err := a.setupAssets(); err != nil {
		return err
	}
	a.setupSTT()
	if err := a.setupPipeline(); err != nil {
		return err
	}
	return nil
}

// Shutdown releases resources in reverse construction order.
func (a *App) Shutdown() {
	if a.hotkey != nil {
		a.hotkey.Stop()
	}
	if a.coordinator != nil {
		a.coordinator.Cancel()
	}
	if a.sttRegistry != nil {
		a.sttRegistry.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("close cache", "error", err)
		}
	}
}

func (a *App) setupCache() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		slog.Error("get config dir for cache", "error", err)
		return
	}

	cachePath := filepath.Join(configDir, "voicekey", "cache")
	c, err := cache.New(cachePath)
	if err != nil {
		slog.Error("init cache", "error", err)
		return
	}
	a.cache = c
	slog.Info("cache initialized", "path", cachePath)
}

func (a *App) setupAssets() error {
	dir, err := a.cfg.ModelDirectory()
	if err != nil {
		return fmt.Errorf("resolve model directory: %w", err)
	}
	store, err := assets.OpenStore(dir)
	if err != nil {
		return fmt.Errorf("open asset store: %w", err)
	}
	a.store = store
	slog.Info("asset store opened", "dir", dir, "assets", len(store.List()))
	return nil
}

func (a *App) setupSTT() {
	a.sttRegistry = stt.NewRegistry()

	if model, ok := a.findModel(); ok {
		local, err := stt.NewWhisperLocal(stt.WhisperLocalConfig{
			ModelPath: a.store.Path(model.FileName),
		})
		if err != nil {
			slog.Error("init whisper local", "error", err)
		} else {
			a.sttRegistry.Register(local)
			if local.HasBinary() {
				slog.Info("registered local whisper provider", "model", model.FileName)
			} else {
				slog.Warn("local whisper registered but whisper.cpp binary not found")
			}
		}
	} else {
		slog.Warn("no speech model imported, local transcription unavailable",
			"hint", "voicekey import <model.bin>")
	}

	if p := a.cfg.GetActiveProvider(); p != nil && p.APIKey != "" {
		a.sttRegistry.Register(stt.NewWhisperAPI(stt.WhisperAPIConfig{
			APIKey: p.APIKey,
		}))
		slog.Info("registered whisper API provider")
	}

	slog.Info("STT providers initialized", "count", len(a.sttRegistry.List()))
}

// findModel picks the imported model matching the configured size
// class, falling back to any imported model.
func (a *App) findModel() (assets.Asset, bool) {
	list := a.store.List()
	for _, m := range list {
		if m.SizeClass == a.cfg.ModelSize {
			return m, true
		}
	}
	if len(list) > 0 {
		return list[0], true
	}
	return assets.Asset{}, false
}

func (a *App) setupPipeline() error {
	provider := a.pickProvider()
	if provider == nil {
		return fmt.Errorf("no usable transcription provider")
	}
	slog.Info("transcription provider selected", "provider", provider.Name())

	capture, err := audiocapture.New(audiocapture.Config{
		SampleRate:  a.cfg.SampleRate,
		QueueSize:   a.cfg.QueueSize,
		Permissions: a.perms,
	})
	if err != nil {
		return fmt.Errorf("init capture engine: %w", err)
	}

	hk, err := hotkey.NewManager(hotkey.Config{
		Combo:       a.cfg.Hotkey,
		RetryLimit:  a.cfg.HookRetryLimit,
		Permissions: a.perms,
	})
	if err != nil {
		return fmt.Errorf("init hotkey manager: %w", err)
	}
	hk.SetStateFunc(func(s hotkey.State, reason string) {
		slog.Info("hotkey state changed", "state", s, "reason", reason)
	})
	a.hotkey = hk

	injector := inject.New(inject.SystemClipboard{}, inject.SystemKeyboard{}, a.cfg.SettleDelay())

	var rewriter session.Rewriter
	if a.cfg.RewriteEnabled {
		if p := a.cfg.GetActiveProvider(); p != nil {
			rewriter = session.NewCachedRewriter(llm.NewCompleter(p), a.cache, p.Model, p.SystemPrompt)
			slog.Info("rewrite enabled", "provider", p.Name, "model", p.Model)
		} else {
			slog.Warn("rewrite enabled but no provider configured")
		}
	}

	coord, err := session.NewCoordinator(session.Config{
		Capture:        capture,
		Transcriber:    transcribe.New(provider, ""),
		Rewriter:       rewriter,
		Injector:       injector,
		RewriteTimeout: a.cfg.RewriteTimeout(),
		OnOutcome:      logOutcome,
	})
	if err != nil {
		return fmt.Errorf("init session coordinator: %w", err)
	}
	a.coordinator = coord
	return nil
}

// pickProvider prefers the local provider when it is ready.
func (a *App) pickProvider() stt.Provider {
	if p := a.sttRegistry.Get("whisper-local"); p != nil && p.IsReady() {
		return p
	}
	for _, p := range a.sttRegistry.List() {
		if p.IsReady() {
			return p
		}
	}
	return nil
}

func logOutcome(o session.Outcome) {
	if o.Err != nil {
		return // already logged by the coordinator
	}
	if o.Text == "" {
		return
	}
	code, name := langdetect.Detect(o.Text)
	slog.Info("dictation delivered",
		"session", o.SessionID, "language", name, "code", code,
		"chars", len(o.Text), "duration", o.Duration)
}

// Run installs the hotkey hook and drives sessions until ctx is done.
func (a *App) Run(ctx context.Context) error {
	hookFailed := make(chan error, 1)
	a.hotkey.SetFailureFunc(func(err error) {
		select {
		case hookFailed <- err:
		default:
		}
	})

	if err := a.hotkey.Start(); err != nil {
		return fmt.Errorf("start hotkey manager: %w", err)
	}
	defer a.hotkey.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.coordinator.Run(gctx, a.hotkey.Edges())
	})
	g.Go(func() error {
		select {
		case err := <-hookFailed:
			return fmt.Errorf("hotkey hook permanently lost: %w", err)
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	slog.Info("ready", "hotkey", a.cfg.Hotkey)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	slog.Info("starting voicekey", "version", version, "commit", commit, "date", date)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		cfg = &config.Config{}
	}

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1], os.Args[2:]); err != nil {
			slog.Error("command failed", "command", os.Args[1], "error", err)
			os.Exit(1)
		}
		return
	}

	perms := permission.System()
	for _, c := range []permission.Capability{permission.Microphone, permission.InputMonitoring, permission.Accessibility} {
		if err := permission.Require(perms, c); err != nil {
			slog.Error("missing permission", "capability", c)
			os.Exit(1)
		}
	}

	app := NewApp(cfg, perms)
	if err := app.Init(); err != nil {
		slog.Error("init", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		slog.Error("run", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
