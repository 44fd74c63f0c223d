// Command cortex-proxy runs only the OpenAI-compatible proxy, for
// deployments where the brain-owner CLI is not wanted on the serving
// host. It is equivalent to `cortex serve`.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cortexbrain/cortex/pkg/cortexconfig"
	"github.com/cortexbrain/cortex/pkg/proxyserver"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := cortexconfig.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	srv, err := proxyserver.FromConfig(cfg, logger)
	if err != nil {
		logger.Error("build proxy", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("proxy exited", "error", err)
		os.Exit(1)
	}
}
