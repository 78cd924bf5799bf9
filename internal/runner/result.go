package runner

// Outcome is delivered once per spawned run, after the process exits.
type Outcome struct {
	RunID     string // unique identifier for this run
	Cancelled bool   // true if the run was cancelled before it exited on its own
	ExitCode  int    // process exit code; -1 if killed by a signal
	Stdout    []byte // captured stdout (may be truncated); nil when cancelled
	Stderr    []byte // captured stderr (may be truncated)
	Truncated bool   // true if output exceeded the size cap
	Err       error  // set when the process timed out or could not be waited on
}

// Succeeded reports whether the process exited on its own with status 0.
func (o *Outcome) Succeeded() bool {
	return !o.Cancelled && o.Err == nil && o.ExitCode == 0
}
