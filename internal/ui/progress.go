package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights a new ETA estimate against the previous one.
const etaSmoothing = 0.3

type stageState struct {
	current int
	total   int
	start   time.Time
	lastETA time.Duration
}

// StageStats is a snapshot of one stage.
type StageStats struct {
	Stage    Stage
	Current  int
	Total    int
	Progress float64
	Rate     float64 // units per second since the stage started
	ETA      time.Duration
	Started  bool
	Done     bool
}

// ProgressTracker keeps per-stage progress. Stages may advance
// concurrently. It is safe for concurrent use.
type ProgressTracker struct {
	mu       sync.Mutex
	start    time.Time
	stages   map[Stage]*stageState
	latest   Stage
	errors   int
	warnings int
	now      func() time.Time
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		start:  time.Now(),
		stages: make(map[Stage]*stageState),
		now:    time.Now,
	}
}

// Update records an event.
func (p *ProgressTracker) Update(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.stages[ev.Stage]
	if !ok {
		st = &stageState{start: p.now()}
		p.stages[ev.Stage] = st
	}
	st.current = ev.Current
	st.total = ev.Total
	p.latest = ev.Stage
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(ev ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Latest returns the most recently updated stage.
func (p *ProgressTracker) Latest() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Counts returns the recorded errors and warnings.
func (p *ProgressTracker) Counts() (errors, warnings int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors, p.warnings
}

// Elapsed returns time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	return p.now().Sub(p.start)
}

// Stage returns a snapshot of s. A stage is done once Current reaches a
// non-zero Total.
func (p *ProgressTracker) Stage(s Stage) StageStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := StageStats{Stage: s}
	st, ok := p.stages[s]
	if !ok {
		return out
	}
	out.Started = true
	out.Current, out.Total = st.current, st.total
	if st.total > 0 {
		out.Progress = min(float64(st.current)/float64(st.total), 1)
		out.Done = st.current >= st.total
	}
	elapsed := p.now().Sub(st.start)
	if elapsed > 0 {
		out.Rate = float64(st.current) / elapsed.Seconds()
	}
	if !out.Done {
		out.ETA = st.eta(elapsed)
	}
	return out
}

// eta extrapolates the remaining time and smooths it against the previous
// estimate so uneven batches do not make it jump.
func (st *stageState) eta(elapsed time.Duration) time.Duration {
	if st.current <= 0 || st.total <= 0 || st.current >= st.total {
		return 0
	}
	progress := float64(st.current) / float64(st.total)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if st.lastETA == 0 {
		st.lastETA = raw
		return raw
	}
	st.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(st.lastETA))
	return st.lastETA
}
