// Package observ collects wall-clock timings for the phases of an assembly
// pass. Фазы называет вызывающая сторона; пакет только измеряет.
package observ

import (
	"fmt"
	"io"
	"time"
)

// Phase is one timed stretch of the pass.
type Phase struct {
	Name  string
	Start time.Time
	Dur   time.Duration
}

// Timer accumulates phases in the order they were started. A nil Timer is
// valid and records nothing, so callers can thread one through options
// without checking.
type Timer struct {
	phases []Phase
}

// NewTimer returns an empty Timer.
func NewTimer() *Timer { return &Timer{phases: make([]Phase, 0, 4)} }

// Phase starts a named phase and returns the function that ends it.
func (t *Timer) Phase(name string) func() {
	if t == nil {
		return func() {}
	}
	t.phases = append(t.phases, Phase{Name: name, Start: time.Now()})
	idx := len(t.phases) - 1
	return func() {
		p := &t.phases[idx]
		p.Dur = time.Since(p.Start)
	}
}

// PhaseReport описывает одну фазу в миллисекундах.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
}

// Report aggregates all recorded phases.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

// Report returns the recorded phases and their total in milliseconds.
func (t *Timer) Report() Report {
	if t == nil || len(t.phases) == 0 {
		return Report{}
	}
	rep := Report{Phases: make([]PhaseReport, len(t.phases))}
	var total time.Duration
	for i, p := range t.phases {
		total += p.Dur
		rep.Phases[i] = PhaseReport{
			Name:       p.Name,
			DurationMS: float64(p.Dur) / float64(time.Millisecond),
		}
	}
	rep.TotalMS = float64(total) / float64(time.Millisecond)
	return rep
}

// WriteSummary prints a human-readable timing table.
func (t *Timer) WriteSummary(w io.Writer) {
	rep := t.Report()
	if len(rep.Phases) == 0 {
		return
	}
	fmt.Fprintln(w, "timings:")
	for _, p := range rep.Phases {
		fmt.Fprintf(w, "  %-12s %7.2f ms\n", p.Name, p.DurationMS)
	}
	fmt.Fprintf(w, "  %-12s %7.2f ms\n", "total", rep.TotalMS)
}
