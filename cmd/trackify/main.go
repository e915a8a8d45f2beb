package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version is stamped by the release build: -ldflags "-X main.Version=v1.2.3".
var Version = "dev"

func main() {
	// SIGINT and SIGTERM cancel the context so serve can drain in-flight
	// requests before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(Run(ctx, os.Args[1:]))
}
