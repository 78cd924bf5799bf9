package runner

import "fmt"

// ConfigurationError reports an NCIPlot installation that cannot be used.
// It is returned before any process is spawned.
type ConfigurationError struct {
	What   string // "binary" or "dat directory"
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("nciplot %s is not configured", e.What)
	}
	return fmt.Sprintf("nciplot %s %s %s", e.What, e.Path, e.Reason)
}

// TimeoutError reports a run killed because it exceeded Runner.Timeout.
type TimeoutError struct {
	RunID   string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("run %s timed out after %s", e.RunID, e.Timeout)
}
