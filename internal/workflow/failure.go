package workflow

import (
	"errors"
	"fmt"

	"github.com/insilichem/tangram-nciplot/internal/report"
)

// ErrInvalidGeometry is wrapped by Run errors for geometries that are
// missing or do not read as XYZ. No process is started.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Kind classifies why a run produced no result.
type Kind string

const (
	// KindProcess means the binary exited non-zero, was killed by
	// something other than a cancellation, or timed out.
	KindProcess Kind = "process"
	// KindParse means the binary exited cleanly but its output lacked
	// one or more result fields.
	KindParse Kind = "parse"
	// KindCancelled means the run was cancelled. It is not an error in
	// itself but ends the same way: no result.
	KindCancelled Kind = "cancelled"
)

// Failure is delivered to the failure hook for every run that ends
// without a result.
type Failure struct {
	RunID    string
	Kind     Kind
	ExitCode int
	Err      error
	Record   *report.Record
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindCancelled:
		return fmt.Sprintf("run %s was cancelled", f.RunID)
	case KindParse:
		return fmt.Sprintf("run %s finished but its output could not be read: %v", f.RunID, f.Err)
	default:
		return fmt.Sprintf("run %s failed: %v", f.RunID, f.Err)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code   int
	Stderr string // last line of stderr, if any
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("nciplot exited with status %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("nciplot exited with status %d", e.Code)
}
