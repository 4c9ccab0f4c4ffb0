package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/preflight"
)

func newDoctorCmd(root *rootOptions) *cobra.Command {
	var jsonOutput, verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that amanrag can index and serve",
		Long: `Check the data directory, disk space and file limits, and ping the
embedding, generation and rerank endpoints.

Local failures are errors. An unreachable endpoint is only a warning:
retrieval still runs and reports the affected stage as degraded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig(false)
			if err != nil {
				return err
			}

			results := preflight.New(cfg).RunAll(cmd.Context())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(struct {
					Status string                  `json:"status"`
					Checks []preflight.CheckResult `json:"checks"`
				}{preflight.SummaryStatus(results), results}); err != nil {
					return err
				}
			} else {
				printChecks(output.New(cmd.OutOrStdout()), results, verbose)
			}

			if first, failed := preflight.FirstCritical(results); failed {
				return amanerrors.StorageError(fmt.Sprintf("%s: %s", first.Name, first.Message), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for each check")

	return cmd
}

func printChecks(out *output.Writer, results []preflight.CheckResult, verbose bool) {
	out.Heading("AmanRAG System Check")
	for _, r := range results {
		line := fmt.Sprintf("%s: %s", r.Name, r.Message)
		switch r.Status {
		case preflight.StatusPass:
			out.Success(line)
		case preflight.StatusWarn:
			out.Warning(line)
		default:
			out.Error(line)
		}
		if verbose && r.Details != "" {
			out.Status("", out.Dim(r.Details))
		}
	}
	out.Newline()
	out.Statusf("📋", "Status: %s", strings.ToUpper(preflight.SummaryStatus(results)))
}
