package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/configs"
	"github.com/Aman-CERP/amanrag/internal/config"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/output"
)

const maskedSecret = "********"

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user and project configuration files.

The user file holds machine-level settings (model endpoints, resilience,
logging). The project file (.amanrag.yaml in --config-dir) holds retrieval
defaults and storage for one knowledge base.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/amanrag/config.yaml)
  3. Project config (.amanrag.yaml)
  4. Environment variables (AMANRAG_*)`,
		Example: `  amanrag config init
  amanrag config init --project --config-dir ./kb
  amanrag config show --source project
  amanrag config path`,
	}

	cmd.AddCommand(newConfigInitCmd(root))
	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigPathCmd(root))
	cmd.AddCommand(newConfigRestoreCmd())

	return cmd
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force, project bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file from the template",
		Long: `Create the user configuration file, or with --project the .amanrag.yaml
in --config-dir, from the built-in template.

An existing file is left alone unless --force is given. --force backs the
file up, keeps every setting it has and writes out the full merged config
so new options become visible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, template := config.GetUserConfigPath(), configs.UserConfigTemplate
			if project {
				path, template = filepath.Join(root.configDir, config.ProjectFileName), configs.ProjectConfigTemplate
			}
			return runConfigInit(output.New(cmd.OutOrStdout()), path, template, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Upgrade an existing file (a backup is kept)")
	cmd.Flags().BoolVar(&project, "project", false, "Write .amanrag.yaml in --config-dir instead of the user file")

	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging all sources, or a single source
with --source. Secrets are masked.`,
		Example: `  amanrag config show
  amanrag config show --json
  amanrag config show --source user`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, root.configDir, source, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")

	return cmd
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	var project bool

	cmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if project {
				if path = config.ProjectConfigPath(root.configDir); path == "" {
					path = filepath.Join(root.configDir, config.ProjectFileName)
				}
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	cmd.Flags().BoolVar(&project, "project", false, "Print the project file path")

	return cmd
}

func newConfigRestoreCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the user config from its newest backup",
		Long: `Restore the user configuration file from the newest backup written by
'config init --force'. The current file is backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigRestore(output.New(cmd.OutOrStdout()), config.GetUserConfigPath(), list)
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List backups without restoring")

	return cmd
}

func runConfigInit(out *output.Writer, path, template string, force bool) error {
	if _, err := os.Stat(path); err == nil {
		if !force {
			out.Warning("Configuration already exists")
			out.Statusf("📁", "Location: %s", path)
			out.Status("💡", "Use --force to upgrade it with new defaults (your settings are kept)")
			return nil
		}
		return runConfigUpgrade(out, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(template), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out.Success("Created configuration")
	out.Statusf("📁", "Location: %s", path)
	out.Status("📋", "Run 'amanrag config show' to verify")
	return nil
}

// runConfigUpgrade backs up path and rewrites it as the full merged config.
func runConfigUpgrade(out *output.Writer, path string) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return amanerrors.New(amanerrors.ErrCodeConfigInvalid, err.Error(), err).
			WithSuggestion("fix the file or run 'amanrag config restore'")
	}

	backup, err := config.BackupFile(path)
	if err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}

	out.Success("Configuration upgraded")
	out.Statusf("📁", "Location: %s", path)
	out.Statusf("💾", "Backup: %s", backup)
	return nil
}

func runConfigShow(cmd *cobra.Command, dir, source string, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	var (
		cfg  *config.Config
		desc string
		err  error
	)
	switch source {
	case "merged":
		if cfg, err = config.Load(dir); err != nil {
			return amanerrors.New(amanerrors.ErrCodeConfigInvalid, err.Error(), err)
		}
		desc = "merged (defaults + user + project + env)"
	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("📁", "Expected at: %s", path)
			out.Status("💡", "Run 'amanrag config init' to create one")
			return nil
		}
		if cfg, err = config.LoadFile(path); err != nil {
			return amanerrors.New(amanerrors.ErrCodeConfigInvalid, err.Error(), err)
		}
		desc = fmt.Sprintf("user (%s)", path)
	case "project":
		path := config.ProjectConfigPath(dir)
		if path == "" {
			out.Warning("No project configuration file found")
			out.Statusf("📁", "Expected at: %s", filepath.Join(dir, config.ProjectFileName))
			out.Status("💡", "Run 'amanrag config init --project' to create one")
			return nil
		}
		if cfg, err = config.LoadFile(path); err != nil {
			return amanerrors.New(amanerrors.ErrCodeConfigInvalid, err.Error(), err)
		}
		desc = fmt.Sprintf("project (%s)", path)
	case "defaults":
		cfg = config.NewConfig()
		desc = "defaults (hardcoded)"
	default:
		return amanerrors.ValidationError(fmt.Sprintf("invalid source %q (valid: merged, user, project, defaults)", source), nil)
	}

	if cfg.Rerank.APIKey != "" {
		cfg.Rerank.APIKey = maskedSecret
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	out.Statusf("📋", "Configuration source: %s", desc)
	out.Newline()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigRestore(out *output.Writer, path string, list bool) error {
	backups, err := config.ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		out.Warning("No backups found")
		out.Statusf("📁", "Config: %s", path)
		return nil
	}

	if list {
		for _, b := range backups {
			out.Status("💾", b)
		}
		return nil
	}

	if err := config.RestoreFile(path, backups[0]); err != nil {
		return err
	}
	out.Successf("Restored %s", path)
	out.Statusf("💾", "From: %s", backups[0])
	return nil
}
