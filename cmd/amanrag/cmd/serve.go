package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/bootstrap"
	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/mcp"
)

// metricsShutdownTimeout bounds the graceful stop of the metrics listener.
const metricsShutdownTimeout = 5 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		Long: `Start the Model Context Protocol server on stdin/stdout.

The server exposes the retrieve and retrieval_status tools and the
amanrag://recent_problems resource. Logs go to ~/.amanrag/logs/ because
stdout carries protocol traffic.

With server.watch_config (default on), edits to the user or project config
file update the retrieval defaults without a restart. Other sections need
a restart.`,
		Example: `  amanrag serve
  amanrag serve --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, root, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address (overrides server.metrics_addr)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, root *rootOptions, metricsAddr string) error {
	cfg, err := root.loadConfig(true)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Server.MetricsAddr = metricsAddr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	srv, err := mcp.NewServer(app.Engine,
		mcp.WithChunkCounter(app.Chunks),
		mcp.WithEmbedderInfo(app.Embedder.ModelName(), app.Embedder.Dimensions()),
		mcp.WithMetrics(app.Metrics))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	// The MCP session ends when the client closes stdin; that stops the rest.
	g.Go(func() error {
		defer cancel()
		return srv.Serve(serveCtx, "stdio")
	})

	if cfg.Server.MetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.Server.MetricsAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("metrics listener on %s: %w", cfg.Server.MetricsAddr, err)
		}
		slog.Info("metrics_listening", slog.String("addr", ln.Addr().String()))
		g.Go(func() error { return serveMetrics(serveCtx, ln, app.Metrics.Handler()) })
	}

	if cfg.Server.WatchConfig {
		g.Go(func() error {
			if err := config.Watch(serveCtx, root.configDir, reloadFunc(app)); err != nil {
				// Serving continues without hot reload.
				slog.Warn("config_watch_unavailable", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	return g.Wait()
}

// serveMetrics serves /metrics on ln until ctx is done.
func serveMetrics(ctx context.Context, ln net.Listener, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// reloadFunc applies reloaded retrieval defaults to a running app.
func reloadFunc(app *bootstrap.App) func(*config.Config) {
	return func(cfg *config.Config) {
		if err := app.Reload(cfg); err != nil {
			slog.Warn("config_reload_rejected", slog.String("error", err.Error()))
			return
		}
		d := app.Engine.Defaults()
		slog.Info("retrieval_defaults_updated",
			slog.Int("top_k", d.TopK),
			slog.Int("paths", len(d.Paths)),
			slog.Bool("expand", d.Expand),
			slog.Bool("rerank", d.Rerank))
	}
}
