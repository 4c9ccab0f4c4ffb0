// Package ui renders indexing progress: a bubbletea view on interactive
// terminals, one line per event everywhere else.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is one step of loading a chunk set.
type Stage int

const (
	// StageStoring writes parents and children to the chunk store.
	StageStoring Stage = iota
	// StageLexical indexes the content, summary and keywords fields.
	StageLexical
	// StageEmbedding embeds children into the vector store.
	StageEmbedding
	// StagePersisting writes the vector store to disk.
	StagePersisting
	// StageComplete marks the end of the run.
	StageComplete
)

// Stages lists the working stages in display order.
var Stages = []Stage{StageStoring, StageLexical, StageEmbedding, StagePersisting}

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageStoring:
		return "Store"
	case StageLexical:
		return "Lexical"
	case StageEmbedding:
		return "Embed"
	case StagePersisting:
		return "Persist"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short tag used by plain output.
func (s Stage) Icon() string {
	switch s {
	case StageStoring:
		return "STORE"
	case StageLexical:
		return "FIELDS"
	case StageEmbedding:
		return "EMBED"
	case StagePersisting:
		return "SAVE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent reports Current of Total units done in Stage.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Message string
}

// ErrorEvent is a failure shown next to the progress.
type ErrorEvent struct {
	Err    error
	IsWarn bool
}

// StageTimings holds wall time per stage. Lexical and Embed overlap.
type StageTimings struct {
	Store   time.Duration
	Lexical time.Duration
	Embed   time.Duration
	Persist time.Duration
}

// EmbedderInfo names the embedding backend used for a run.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished run.
type CompletionStats struct {
	Parents  int
	Children int
	Vectors  int
	Duration time.Duration
	Errors   int
	Warnings int
	Stages   StageTimings
	Embedder EmbedderInfo
}

// Renderer displays indexing progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	DataDir    string
	// OnInterrupt runs when the user presses ctrl+c inside the TUI, which
	// holds the terminal in raw mode and swallows SIGINT.
	OnInterrupt func()
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables color.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithDataDir sets the data directory shown in the header.
func WithDataDir(dir string) ConfigOption {
	return func(c *Config) { c.DataDir = dir }
}

// WithInterrupt sets the ctrl+c callback.
func WithInterrupt(fn func()) ConfigOption {
	return func(c *Config) { c.OnInterrupt = fn }
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for an interactive terminal and plain output
// for pipes, CI and --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether a CI environment variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}
