package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run loads config, wires the app, and serves until SIGINT or SIGTERM.
// The error comes back to cmd/vidtube, which owns the exit code; nothing
// in here calls os.Exit, so deferred cleanup always runs.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel)

	a, err := New(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.Run(ctx)
}
