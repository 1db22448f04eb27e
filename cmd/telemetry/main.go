package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand(logger, &logLevel, os.Stdout).ExecuteContext(ctx); err != nil {
		if msg, ok := actionable(err); ok {
			fmt.Fprintln(os.Stderr, msg)
		} else {
			logger.Error(err.Error())
		}

		cancel()
		os.Exit(1)
	}
}
