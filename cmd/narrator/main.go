// Package main provides the narrator CLI.
//
// Usage:
//
//	narrator [--config narration.toml] <command> [args]
//
// Commands:
//
//	batch        - narrate documents from a manifest or the command line
//	key          - print the cache key (and optionally the markup) for a document
//	cache evict  - remove cache entries by key
//	health       - probe the configured synthesis backend
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
