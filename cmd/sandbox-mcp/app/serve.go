package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omcp/sandbox-mcp/pkg/config"
	"github.com/omcp/sandbox-mcp/pkg/container/docker"
	"github.com/omcp/sandbox-mcp/pkg/guest"
	"github.com/omcp/sandbox-mcp/pkg/logger"
	"github.com/omcp/sandbox-mcp/pkg/mcp"
	"github.com/omcp/sandbox-mcp/pkg/sandbox"
	"github.com/omcp/sandbox-mcp/pkg/telemetry"
)

const (
	// sweepInterval is how often the idle-session sweeper runs.
	sweepInterval = 30 * time.Second

	// shutdownTimeout bounds container teardown on exit.
	shutdownTimeout = 30 * time.Second
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sandbox MCP server on stdio",
		Long: `Start the MCP server on stdin/stdout. Configuration is read from the
environment; see the README for the full list of variables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parentCtx context.Context) error {
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	backend, err := guest.New(cfg.Backend)
	if err != nil {
		return err
	}

	rt, err := docker.NewClient(ctx, cfg.DockerHost)
	if err != nil {
		return fmt.Errorf("failed to connect to container runtime: %w", err)
	}

	metrics := telemetry.NewMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Errorf("Metrics listener failed: %v", err)
			}
		}()
	}

	manager := sandbox.NewManager(rt, backend, cfg, metrics)
	if removed := manager.CleanupOrphans(ctx); removed > 0 {
		logger.Infof("Removed %d orphaned sandbox containers from a previous run", removed)
	}
	manager.StartSweeper(sweepInterval)

	logger.Infow("Starting sandbox-mcp",
		"backend", backend.Name(),
		"max_sandboxes", cfg.MaxSandboxes,
		"sandbox_timeout_secs", cfg.SandboxTimeout)

	srv := mcp.NewServer(manager)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Errorf("MCP server exited: %v", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	return serveErr
}
