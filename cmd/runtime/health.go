package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/latticefact/runtime/internal/config"
	"github.com/latticefact/runtime/internal/httpfetch"
)

// runHealth issues a single round-trip against the configured remote
// node's feed decomposition endpoint and reports whether it responded,
// without standing up the full subscriber stack.
func runHealth(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	httpCfg := httpfetch.DefaultConfig(cfg.RemoteHTTPURL)
	httpCfg.GetTimeout = 5 * time.Second
	httpCfg.PostTimeout = 5 * time.Second
	httpCfg.MaxRetries = 0
	client := httpfetch.NewClient(httpCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Feeds(ctx, ""); err != nil {
		_, _ = fmt.Fprintf(stderr, "unreachable: %s: %v\n", cfg.RemoteHTTPURL, err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "ok: %s\n", cfg.RemoteHTTPURL)
	return 0
}
