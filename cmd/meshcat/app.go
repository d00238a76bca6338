package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/exepirit/meshcat/internal/config"
	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/internal/meshcat"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath, opts.Flags)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	zl, err := log.Setup(cfg.Log, os.Stderr)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = zl.Sync() }()
	logger := log.NewZap(zl)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &meshcat.App{
		Config: cfg,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("meshcat failed", "error", err)
		return 1
	}
	return 0
}
