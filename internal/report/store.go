// Package report persists the record of every NCIPlot run so results and
// failures can be inspected after the fact.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/insilichem/tangram-nciplot/internal/parse"
)

// Status is the terminal state of a run.
type Status string

const (
	// Succeeded runs produced a complete parse.Result.
	Succeeded Status = "succeeded"
	// Failed runs exited non-zero, timed out, or printed incomplete output.
	Failed Status = "failed"
	// Cancelled runs were stopped before they finished.
	Cancelled Status = "cancelled"
)

// Store persists and retrieves run records.
type Store interface {
	Save(rec *Record) error
	Load(runID string) (*Record, error)
}

// Record describes one finished run.
type Record struct {
	ID         string    `json:"id"`
	Variant    string    `json:"variant"`
	Status     Status    `json:"status"`
	Geometry   []string  `json:"geometry"`
	InputPath  string    `json:"input_path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ExitCode   int       `json:"exit_code"`

	// Result is set for succeeded runs.
	Result *parse.Result `json:"result,omitempty"`

	// Failure fields.
	FailureKind string   `json:"failure_kind,omitempty"` // process, parse, cancelled
	Failure     string   `json:"failure,omitempty"`
	Missing     []string `json:"missing,omitempty"`   // fields absent from the output (parse failures)
	RawLines    []string `json:"raw_lines,omitempty"` // full output of failed runs
	Stderr      string   `json:"stderr,omitempty"`
}

// Duration returns how long the run took.
func (r *Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Output returns every line the binary printed.
func (r *Record) Output() []string {
	if r.Result != nil {
		return r.Result.RawLines
	}
	return r.RawLines
}

// Expect returns an error if the run did not end with status want.
func (r *Record) Expect(want Status) error {
	if r.Status != want {
		return fmt.Errorf("run %s %s, not %s", r.ID, r.Status, want)
	}
	return nil
}

// Summary renders the record as a short human-readable block.
func Summary(r *Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", r.ID)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	fmt.Fprintf(&b, "Variant: %s\n", r.Variant)
	if d := r.Duration(); d > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", d.Round(time.Millisecond))
	}
	if len(r.Geometry) > 0 {
		fmt.Fprintln(&b, "Geometry:")
		for _, g := range r.Geometry {
			fmt.Fprintf(&b, "  %s\n", g)
		}
	}

	if res := r.Result; res != nil {
		fmt.Fprintf(&b, "RHO: %g\n", res.Rho)
		fmt.Fprintf(&b, "RDG: %g\n", res.RDG)
		fmt.Fprintf(&b, "Gradient cube: %s\n", res.GradCube)
		fmt.Fprintf(&b, "Density cube: %s\n", res.DensCube)
		fmt.Fprintf(&b, "RHO x RDG data: %s\n", res.XYData)
		return b.String()
	}

	if r.FailureKind != "" {
		fmt.Fprintf(&b, "Failure (%s): %s\n", r.FailureKind, r.Failure)
	}
	if len(r.Missing) > 0 {
		fmt.Fprintf(&b, "Missing from output: %s\n", strings.Join(r.Missing, ", "))
	}
	if r.Stderr != "" {
		fmt.Fprintln(&b, "Stderr:")
		for _, line := range strings.Split(strings.TrimRight(r.Stderr, "\n"), "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return b.String()
}
