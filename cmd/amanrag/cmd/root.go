// Package cmd provides the CLI commands for AmanRAG.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/config"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/logging"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	debug     bool
	configDir string

	loggingCleanup func()
}

// NewRootCmd creates the root command for amanrag CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "amanrag",
		Short: "Multi-path fusion retrieval over parent/child chunks",
		Long: `AmanRAG retrieves the passages that best answer a question.

Each query is optionally rewritten against the conversation and expanded
into variants, recalled in parallel over a vector index and three BM25
fields (content, summary, keywords), fused with Reciprocal Rank Fusion,
expanded from matching child chunks to their parent passages and reranked.

Index a chunk file with 'amanrag index', query it with 'amanrag retrieve'
or expose it to AI clients with 'amanrag serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanrag version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.amanrag/logs/")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", ".", "Directory holding the project .amanrag.yaml")

	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		opts.stopLogging()
		return nil
	}

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newRetrieveCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, amanerrors.FormatForCLI(err))
	}
	return err
}

// loadConfig loads configuration for --config-dir and installs the logger.
// serve logs to file only: stdout carries MCP traffic.
func (o *rootOptions) loadConfig(serve bool) (*config.Config, error) {
	cfg, err := config.Load(o.configDir)
	if err != nil {
		return nil, amanerrors.New(amanerrors.ErrCodeConfigInvalid, err.Error(), err).
			WithSuggestion("run 'amanrag config show' to inspect the effective configuration")
	}

	logCfg := cfg.Logging
	if serve {
		filePath := logCfg.FilePath
		logCfg = logging.ServerConfig(logCfg.Level)
		if filePath != "" {
			logCfg.FilePath = filePath
		}
	} else {
		// Command output owns the terminal.
		logCfg.WriteToStderr = o.debug
	}
	if o.debug {
		logCfg.Level = "debug"
		if logCfg.FilePath == "" {
			logCfg.FilePath = logging.DefaultLogPath()
		}
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	o.stopLogging()
	o.loggingCleanup = cleanup

	if o.debug {
		slog.Info("Debug logging enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version))
	}
	return cfg, nil
}

func (o *rootOptions) stopLogging() {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}
