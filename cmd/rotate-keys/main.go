// Command rotate-keys re-encrypts every stored LLM key under the current
// master key version. Run it after adding a new version to
// VAULT_MASTER_KEYS and bumping VAULT_CURRENT_VERSION; the old version can
// be removed once it reports nothing left to rotate.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nikhilbhutani/docrag/internal/app"
	"github.com/nikhilbhutani/docrag/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	app.SetupLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	result, err := a.Vault.Rotate(ctx)
	if err != nil {
		slog.Error("rotation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("rotation finished",
		"scanned", result.Scanned,
		"rotated", result.Rotated,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	if result.Failed > 0 {
		os.Exit(1)
	}
}
