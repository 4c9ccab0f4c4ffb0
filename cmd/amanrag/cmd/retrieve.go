package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/bootstrap"
	"github.com/Aman-CERP/amanrag/internal/chunk"
	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// retrieveOptions holds CLI flags for retrieve.
type retrieveOptions struct {
	history  string
	topK     int
	profile  string
	paths    []string
	noExpand bool
	noRerank bool
	format   string // "text", "json"
}

func newRetrieveCmd(root *rootOptions) *cobra.Command {
	var opts retrieveOptions

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Retrieve the passages that best answer a query",
		Long: `Run the full retrieval pipeline for a query and print the parent passages.

Defaults come from the retrieval section of the configuration; flags
override them for this call only. A history file (YAML or JSON list of
{question, answer}) lets a follow-up question be rewritten into a
standalone query before recall.`,
		Example: `  amanrag retrieve "how long do refunds take"
  amanrag retrieve "and for laptops?" --history turns.yaml
  amanrag retrieve "warranty" --profile fast --no-rerank --format json
  amanrag retrieve "courier" --paths content,keywords --top-k 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrieve(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVar(&opts.history, "history", "", "YAML or JSON file with prior conversation turns")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Maximum number of passages (default from config)")
	cmd.Flags().StringVar(&opts.profile, "profile", "", "Recall profile: full, fast")
	cmd.Flags().StringSliceVar(&opts.paths, "paths", nil, "Recall paths: vector, content, summary, keywords (overrides --profile)")
	cmd.Flags().BoolVar(&opts.noExpand, "no-expand", false, "Skip query expansion")
	cmd.Flags().BoolVar(&opts.noRerank, "no-rerank", false, "Skip reranking and keep fused order")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runRetrieve(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts retrieveOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return amanerrors.ValidationError(fmt.Sprintf("invalid format %q (valid: text, json)", opts.format), nil)
	}

	cfg, err := root.loadConfig(false)
	if err != nil {
		return err
	}

	history, err := readHistory(opts.history)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ropts, err := applyRetrieveFlags(app.Engine.Defaults(), opts)
	if err != nil {
		return err
	}

	resp, err := app.Engine.Retrieve(ctx, query, history, opts.topK, ropts)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	renderResponse(output.New(cmd.OutOrStdout()), resp)
	return nil
}

// applyRetrieveFlags overrides the engine defaults with explicit flags.
func applyRetrieveFlags(defaults search.RetrieveOptions, opts retrieveOptions) (search.RetrieveOptions, error) {
	ro := defaults
	switch {
	case len(opts.paths) > 0:
		ro.Paths = make([]search.Path, 0, len(opts.paths))
		for _, s := range opts.paths {
			p, err := search.ParsePath(s)
			if err != nil {
				return ro, err
			}
			ro.Paths = append(ro.Paths, p)
		}
	case opts.profile != "":
		var err error
		if ro, err = ro.WithProfile(search.Profile(opts.profile)); err != nil {
			return ro, err
		}
	}
	if opts.noExpand {
		ro.Expand = false
	}
	if opts.noRerank {
		ro.Rerank = false
	}
	return ro, nil
}

// readHistory loads conversation turns. YAML is a superset of JSON, so one
// decoder covers both.
func readHistory(path string) ([]chunk.Turn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, amanerrors.ValidationError(fmt.Sprintf("failed to read history file: %v", err), err)
	}
	var turns []chunk.Turn
	if err := yaml.Unmarshal(data, &turns); err != nil {
		return nil, amanerrors.ValidationError(fmt.Sprintf("failed to parse history file %s: %v", path, err), err)
	}
	return turns, nil
}

func renderResponse(out *output.Writer, resp *search.Response) {
	q := resp.Query
	if len(resp.Results) == 0 {
		out.Warningf("No passages found for %q", q.Original)
	} else {
		out.Heading(fmt.Sprintf("Passages for %q", q.Original))
	}
	if q.Rewritten != "" && q.Rewritten != q.Original {
		out.Statusf("✏️ ", "Rewritten: %s", q.Rewritten)
	}
	if len(q.Variants) > 1 {
		out.Statusf("🔀", "Variants: %s", strings.Join(q.Variants, " | "))
	}

	for i, r := range resp.Results {
		out.Newline()
		header := fmt.Sprintf("%d. %s", i+1, r.ParentChunkID)
		if r.DocumentID != "" {
			header += " (" + r.DocumentID + ")"
		}
		out.Status("", out.Bold(header))
		out.Status("", out.Dim(scoreLine(r)))
		out.Code(r.ParentText)
	}

	for _, w := range resp.Warnings {
		out.Warning(w.String())
	}
	out.Status("", out.Dim(fmt.Sprintf("request %s in %s", resp.RequestID, resp.Timings.Total.Round(time.Microsecond))))
}

func scoreLine(r search.RerankedResult) string {
	rerank := "failed"
	if !math.IsInf(r.RerankScore, 0) && !math.IsNaN(r.RerankScore) {
		rerank = fmt.Sprintf("%.4f", r.RerankScore)
	}
	line := fmt.Sprintf("fused %.4f | rerank %s | via %s", r.FusedScore, rerank, r.RepresentativeChildID)
	if r.FromCache {
		line += " | cached"
	}
	return line
}
