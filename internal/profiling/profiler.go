// Package profiling captures pprof CPU and heap profiles and an execution
// trace around one bounded run, such as loading a chunk set.
package profiling

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the output files. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any output is requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Files lists the requested output paths.
func (o Options) Files() []string {
	var out []string
	for _, p := range []string{o.CPU, o.Heap, o.Trace} {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Session is an active capture. Only one CPU profile or trace may run per
// process.
type Session struct {
	opts  Options
	cpu   *os.File
	trace *os.File
}

// Start begins CPU profiling and tracing as requested. The heap profile is
// written by Stop so it reflects the end of the run.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("create cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("start cpu profile: %w", err)
		}
		s.cpu = f
	}

	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			s.stopCPU()
			return nil, fmt.Errorf("create trace: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return nil, fmt.Errorf("start trace: %w", err)
		}
		s.trace = f
	}

	return s, nil
}

// Stop ends the CPU profile and trace and writes the heap profile. It is
// safe to call more than once.
func (s *Session) Stop() error {
	var errs []error

	s.stopCPU()
	if s.trace != nil {
		trace.Stop()
		if err := s.trace.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close trace: %w", err))
		}
		s.trace = nil
	}

	if s.opts.Heap != "" {
		if err := writeHeap(s.opts.Heap); err != nil {
			errs = append(errs, err)
		}
	}

	for _, p := range s.Files() {
		slog.Info("profile_written", slog.String("path", p))
	}
	return errors.Join(errs...)
}

// Files lists the outputs the session writes.
func (s *Session) Files() []string {
	return s.opts.Files()
}

func (s *Session) stopCPU() {
	if s.cpu == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = s.cpu.Close()
	s.cpu = nil
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create heap profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Collect first so the profile shows live objects only.
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("write heap profile: %w", err)
	}
	return nil
}
