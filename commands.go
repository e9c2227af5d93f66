package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.nanao.dev/voicekey/assets"
	"go.nanao.dev/voicekey/config"
)

// runCommand dispatches the management subcommands. The bare binary
// runs the dictation daemon.
func runCommand(cfg *config.Config, name string, args []string) error {
	switch name {
	case "import":
		return cmdImport(cfg, args)
	case "assets":
		return cmdAssets(cfg)
	case "remove":
		return cmdRemove(cfg, args)
	case "version":
		fmt.Printf("voicekey %s (%s, %s)\n", version, commit, date)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want import, assets, remove, or version)", name)
	}
}

func openStore(cfg *config.Config) (*assets.Store, error) {
	dir, err := cfg.ModelDirectory()
	if err != nil {
		return nil, fmt.Errorf("resolve model directory: %w", err)
	}
	return assets.OpenStore(dir)
}

// cmdImport copies a model file into the managed store, reporting
// progress to stderr. Ctrl-C cancels and removes the partial file.
func cmdImport(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: voicekey import <path> [display name]")
	}
	srcPath := args[0]
	displayName := filepath.Base(srcPath)
	if len(args) > 1 {
		displayName = args[1]
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	mgr := assets.NewManager(store, assets.Config{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tr, err := mgr.Begin(ctx, &assets.FileSource{Path: srcPath}, filepath.Base(srcPath), displayName, printProgress)
	if err != nil {
		return err
	}

	asset, err := tr.Wait()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\nimported %s (%s, %s)\n", asset.FileName, formatBytes(asset.ByteSize), asset.SizeClass)
	return nil
}

func cmdAssets(cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	list := store.List()
	if len(list) == 0 {
		fmt.Println("no assets imported")
		return nil
	}
	for _, a := range list {
		fmt.Printf("%-30s %10s  %-7s imported %s\n",
			a.FileName, formatBytes(a.ByteSize), a.SizeClass,
			a.ImportedAt.Format("2006-01-02"))
	}
	return nil
}

func cmdRemove(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: voicekey remove <file name>")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if _, ok := store.Get(args[0]); !ok {
		return fmt.Errorf("no such asset: %s", args[0])
	}
	return store.Remove(args[0])
}

func printProgress(p assets.Progress) {
	eta := "--"
	if p.ETAValid {
		eta = p.ETA.Round(time.Second).String()
	}
	fmt.Fprintf(os.Stderr, "\r%s / %s  %s/s  eta %s   ",
		formatBytes(p.Copied), formatBytes(p.Total), formatBytes(int64(p.Throughput)), eta)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
