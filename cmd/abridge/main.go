package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Root context is cancelled on SIGINT/SIGTERM so the server and
	// dispatcher can drain before exit.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
