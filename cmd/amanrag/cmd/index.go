package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/bootstrap"
	"github.com/Aman-CERP/amanrag/internal/chunk"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/preflight"
	"github.com/Aman-CERP/amanrag/internal/profiling"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

type indexFlags struct {
	noTUI   bool
	profile profiling.Options
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var flags indexFlags

	cmd := &cobra.Command{
		Use:   "index <chunks-file>",
		Short: "Index parent and child chunks",
		Long: `Load parent and child chunks and write them to every store retrieval reads:
the chunk store, the three lexical fields and the vector index.

The file is JSONL (one {"type": "parent"|"child", ...} object per line) or
JSON/YAML with top-level "parents" and "children" lists. Chunks with an ID
that is already indexed are replaced.

Only one index run may hold the data directory at a time.

Progress is drawn as a live view on a terminal and as plain lines when
output is piped, in CI or with --no-tui.`,
		Example: `  amanrag index chunks.jsonl
  amanrag index --config-dir ./kb kb/chunks.yaml
  amanrag index chunks.jsonl --no-tui --cpuprofile cpu.prof`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, opts, flags, args[0])
		},
	}

	cmd.Flags().BoolVar(&flags.noTUI, "no-tui", false, "Disable the live progress view, use plain text output")
	cmd.Flags().StringVar(&flags.profile.CPU, "cpuprofile", "", "Write a CPU profile of the load to file")
	cmd.Flags().StringVar(&flags.profile.Heap, "memprofile", "", "Write a heap profile taken after the load to file")
	cmd.Flags().StringVar(&flags.profile.Trace, "trace", "", "Write an execution trace of the load to file")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts *rootOptions, flags indexFlags, path string) error {
	cfg, err := opts.loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.Index.DataDir == "" {
		return amanerrors.ConfigError("index.data_dir is empty; nothing would be persisted", nil).
			WithSuggestion("set index.data_dir or AMANRAG_DATA_DIR")
	}

	out := output.New(cmd.OutOrStdout())

	set, err := chunk.LoadFile(path)
	if err != nil {
		return amanerrors.ValidationError(err.Error(), err)
	}
	out.Statusf("📦", "Loaded %d parents and %d children from %s", len(set.Parents), len(set.Children), path)

	if first, failed := preflight.FirstCritical(preflight.New(cfg).RunLocal()); failed {
		return amanerrors.StorageError(fmt.Sprintf("preflight %s: %s", first.Name, first.Message), nil).
			WithSuggestion("run 'amanrag doctor' for details")
	}

	lock := bootstrap.NewDataDirLock(cfg.Index.DataDir)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("failed to release data dir lock", slog.String("error", err.Error()))
		}
	}()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(flags.noTUI),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithDataDir(cfg.Index.DataDir),
		ui.WithInterrupt(cancel)))
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()
	app.Indexer.OnProgress(renderer.UpdateProgress)

	stats, err := loadProfiled(ctx, app, set, flags.profile)
	if err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return err
	}

	renderer.Complete(ui.CompletionStats{
		Parents:  stats.Parents,
		Children: stats.Children,
		Vectors:  stats.Vectors,
		Duration: stats.Duration,
		Stages:   stats.Stages,
		Embedder: ui.EmbedderInfo{
			Provider:   cfg.Embeddings.Provider,
			Model:      app.Embedder.ModelName(),
			Dimensions: app.Embedder.Dimensions(),
		},
	})
	_ = renderer.Stop()

	out.Successf("Indexed %d parents and %d children (%d vectors) in %s",
		stats.Parents, stats.Children, stats.Vectors, stats.Duration.Round(time.Millisecond))
	out.Statusf("📁", "Data: %s", cfg.Index.DataDir)
	for _, p := range flags.profile.Files() {
		out.Statusf("📈", "Profile: %s", p)
	}
	return nil
}

// loadProfiled runs Indexer.Load inside a profiling session when one is
// requested.
func loadProfiled(ctx context.Context, app *bootstrap.App, set *chunk.Set, prof profiling.Options) (bootstrap.IndexStats, error) {
	if !prof.Enabled() {
		return app.Indexer.Load(ctx, set.Parents, set.Children)
	}

	session, err := profiling.Start(prof)
	if err != nil {
		return bootstrap.IndexStats{}, amanerrors.ValidationError(err.Error(), err).
			WithSuggestion("check the --cpuprofile, --memprofile and --trace paths")
	}
	stats, loadErr := app.Indexer.Load(ctx, set.Parents, set.Children)
	if err := session.Stop(); err != nil {
		slog.Warn("profile_failed", slog.String("error", err.Error()))
		if loadErr == nil {
			loadErr = fmt.Errorf("write profiles: %w", err)
		}
	}
	return stats, loadErr
}
