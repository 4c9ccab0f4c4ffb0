package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for pipes and CI logs.
type PlainRenderer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPlainRenderer creates a plain renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case ev.Total > 0 && ev.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", ev.Stage.Icon(), ev.Current, ev.Total, ev.Message)
	case ev.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d\n", ev.Stage.Icon(), ev.Current, ev.Total)
	case ev.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", ev.Stage.Icon(), ev.Message)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(ev ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if ev.IsWarn {
		prefix = "WARN"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, ev.Err)
}

// Complete implements Renderer. It prints the per-stage breakdown; the
// caller prints the headline.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	round := func(d time.Duration) time.Duration { return d.Round(time.Millisecond) }

	_, _ = fmt.Fprintln(r.out, "Stage breakdown:")
	_, _ = fmt.Fprintf(r.out, "  Store:   %s (%d parents, %d children)\n", round(stats.Stages.Store), stats.Parents, stats.Children)
	_, _ = fmt.Fprintf(r.out, "  Lexical: %s (content, summary, keywords)\n", round(stats.Stages.Lexical))
	if stats.Stages.Embed > 0 && stats.Vectors > 0 {
		_, _ = fmt.Fprintf(r.out, "  Embed:   %s (%d vectors @ %.1f/sec)\n",
			round(stats.Stages.Embed), stats.Vectors, float64(stats.Vectors)/stats.Stages.Embed.Seconds())
	} else {
		_, _ = fmt.Fprintf(r.out, "  Embed:   %s (%d vectors)\n", round(stats.Stages.Embed), stats.Vectors)
	}
	if stats.Stages.Persist > 0 {
		_, _ = fmt.Fprintf(r.out, "  Persist: %s\n", round(stats.Stages.Persist))
	}
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, "  %d errors, %d warnings\n", stats.Errors, stats.Warnings)
	}
	if stats.Embedder.Provider != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

var _ Renderer = (*PlainRenderer)(nil)
