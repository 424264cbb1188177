package main

import (
	"context"
	"log/slog"
	"os"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := shutdownContext(context.Background(), logger)

	err := newRootCmd().ExecuteContext(ctx)
	cancel()

	if err != nil {
		exitOnError(err)
	}
}
