// Package prof enables the Go profilers for one assembly run.
package prof

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the files each profiler writes to. Empty paths leave the
// corresponding profiler off.
type Options struct {
	CPUPath   string
	MemPath   string
	TracePath string
}

// Session holds the profilers started for a run. Stop is safe to call more
// than once and on a nil session.
type Session struct {
	cpuFile   *os.File
	traceFile *os.File
	memPath   string
	stopped   bool
}

// Start opens the requested profilers. При ошибке уже запущенные профили
// останавливаются.
func Start(opts Options) (*Session, error) {
	s := &Session{memPath: opts.MemPath}

	if opts.CPUPath != "" {
		f, err := os.Create(opts.CPUPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start cpu profile: %w", err)
		}
		s.cpuFile = f
	}

	if opts.TracePath != "" {
		f, err := os.Create(opts.TracePath)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to create runtime trace: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.Stop()
			return nil, fmt.Errorf("failed to start runtime trace: %w", err)
		}
		s.traceFile = f
	}

	return s, nil
}

// Stop ends the active profilers and writes the heap profile if one was
// requested.
func (s *Session) Stop() {
	if s == nil || s.stopped {
		return
	}
	s.stopped = true

	if s.traceFile != nil {
		trace.Stop()
		_ = s.traceFile.Close()
		s.traceFile = nil
	}
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		_ = s.cpuFile.Close()
		s.cpuFile = nil
	}
	if s.memPath != "" {
		if err := writeHeap(s.memPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write heap profile: %v\n", err)
		}
	}
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
