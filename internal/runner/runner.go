// Package runner launches NCIPlot as a child process without blocking the
// caller, with output size limits, cancellation and an optional timeout.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/insilichem/tangram-nciplot/internal/parse"
)

// HomeEnv tells NCIPlot where to find its dat directory. It must point at
// the directory containing dat/, not at dat/ itself.
const HomeEnv = "NCIPLOT_HOME"

// DefaultMaxOutput caps each captured stream when Runner.MaxOutput is unset.
const DefaultMaxOutput = 16 << 20

// waitDelay bounds how long Wait keeps reading output after the process
// has been killed.
const waitDelay = 5 * time.Second

// Advisory run statuses. They carry no behaviour.
const (
	StatusRunning   = "Running"
	StatusParsing   = "Parsing output"
	StatusDone      = "Done"
	StatusFailed    = "Failed"
	StatusCancelled = "Cancelled"
)

// Runner launches one NCIPlot installation. The output variant and the
// child environment are fixed when the Runner is created.
type Runner struct {
	Timeout   time.Duration // zero means no limit
	MaxOutput int           // bytes per stream
	Logger    *slog.Logger
	// OnStatus, if set, is called whenever a run's status changes.
	OnStatus func(runID, status string)

	binary  string
	datDir  string
	variant parse.Variant
	env     []string
}

// New validates the installation and returns a Runner for it.
func New(binary, datDir string) (*Runner, error) {
	if err := Validate(binary, datDir); err != nil {
		return nil, err
	}
	home := filepath.Dir(filepath.Clean(datDir))
	return &Runner{
		MaxOutput: DefaultMaxOutput,
		binary:    binary,
		datDir:    datDir,
		variant:   parse.DetectVariant(binary),
		env:       append(os.Environ(), HomeEnv+"="+home),
	}, nil
}

// Validate checks that binary is an executable regular file and datDir is
// a directory.
func Validate(binary, datDir string) error {
	if binary == "" {
		return &ConfigurationError{What: "binary"}
	}
	fi, err := os.Stat(binary)
	switch {
	case err != nil:
		return &ConfigurationError{What: "binary", Path: binary, Reason: "does not exist"}
	case !fi.Mode().IsRegular():
		return &ConfigurationError{What: "binary", Path: binary, Reason: "is not a regular file"}
	case fi.Mode().Perm()&0o111 == 0:
		return &ConfigurationError{What: "binary", Path: binary, Reason: "is not executable"}
	}

	if datDir == "" {
		return &ConfigurationError{What: "dat directory"}
	}
	fi, err = os.Stat(datDir)
	switch {
	case err != nil:
		return &ConfigurationError{What: "dat directory", Path: datDir, Reason: "does not exist"}
	case !fi.IsDir():
		return &ConfigurationError{What: "dat directory", Path: datDir, Reason: "is not a directory"}
	}
	return nil
}

// Binary returns the path of the NCIPlot executable.
func (r *Runner) Binary() string { return r.binary }

// DatDir returns the NCIPlot dat directory.
func (r *Runner) DatDir() string { return r.datDir }

// Variant returns the output dialect of the binary.
func (r *Runner) Variant() parse.Variant { return r.variant }

// Start launches the binary on inputPath and returns immediately. The
// child runs in the input file's directory, where NCIPlot writes its
// output files, and is given the absolute input path.
//
// onComplete is called exactly once, from another goroutine, after the
// process has exited. Cancelling ctx cancels the run. If Start returns an
// error no process was spawned and onComplete is never called.
func (r *Runner) Start(ctx context.Context, inputPath string, onComplete func(*Outcome)) (*Handle, error) {
	if err := Validate(r.binary, r.datDir); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		return nil, fmt.Errorf("resolving input %s: %w", inputPath, err)
	}
	inputPath = abs

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(ctx)
	cmdCtx, stopTimer := runCtx, context.CancelFunc(func() {})
	if r.Timeout > 0 {
		cmdCtx, stopTimer = context.WithTimeout(runCtx, r.Timeout)
	}

	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	h := &Handle{
		id:         runID,
		parent:     ctx,
		cmdCtx:     cmdCtx,
		timeout:    r.Timeout,
		maxOutput:  maxOutput,
		onComplete: onComplete,
		onStatus:   r.OnStatus,
		logger:     r.logger().With("run_id", runID),
		exited:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.release = func() {
		stopTimer()
		cancel()
	}

	cmd := exec.CommandContext(cmdCtx, r.binary, inputPath)
	cmd.Dir = filepath.Dir(inputPath)
	cmd.Env = r.env
	cmd.WaitDelay = waitDelay
	cmd.Stdout = &limitWriter{buf: &h.stdout, limit: maxOutput}
	cmd.Stderr = &limitWriter{buf: &h.stderr, limit: maxOutput}
	h.cmd = cmd

	if err := cmd.Start(); err != nil {
		h.release()
		return nil, fmt.Errorf("starting %s: %w", r.binary, err)
	}
	h.logger.Info("nciplot started", "binary", r.binary, "input", inputPath, "pid", cmd.Process.Pid, "variant", r.variant.String())
	h.SetStatus(StatusRunning)

	go h.wait()
	return h, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Handle is one in-flight run.
type Handle struct {
	id         string
	cmd        *exec.Cmd
	parent     context.Context
	cmdCtx     context.Context
	release    func()
	timeout    time.Duration
	maxOutput  int
	onComplete func(*Outcome)
	onStatus   func(runID, status string)
	logger     *slog.Logger

	stdout bytes.Buffer
	stderr bytes.Buffer

	mu           sync.Mutex
	status       string
	cancelled    bool
	processEnded bool

	exited chan struct{}
	done   chan struct{}
}

// ID returns the run's unique identifier.
func (h *Handle) ID() string { return h.id }

// Status returns the latest advisory status.
func (h *Handle) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// SetStatus records an advisory status, e.g. while the caller parses output.
func (h *Handle) SetStatus(status string) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	if h.onStatus != nil {
		h.onStatus(h.id, status)
	}
}

// Cancel kills the process. The completion callback still runs, with
// Outcome.Cancelled set. Calling Cancel again, or after the process has
// exited, does nothing.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.processEnded || h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	h.mu.Unlock()

	h.logger.Info("cancelling nciplot run")
	h.release()
}

// Exited is closed once the process has exited and its output is
// collected, just before the completion callback runs.
func (h *Handle) Exited() <-chan struct{} { return h.exited }

// Done is closed after the completion callback has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the completion callback has returned or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) wait() {
	defer close(h.done)

	waitErr := h.cmd.Wait()

	h.mu.Lock()
	h.processEnded = true
	cancelled := h.cancelled || h.parent.Err() != nil
	timedOut := !cancelled && errors.Is(h.cmdCtx.Err(), context.DeadlineExceeded)
	h.mu.Unlock()
	h.release()

	out := &Outcome{
		RunID:     h.id,
		Cancelled: cancelled,
		Stderr:    h.stderr.Bytes(),
		Truncated: h.stdout.Len() >= h.maxOutput || h.stderr.Len() >= h.maxOutput,
	}
	if !cancelled {
		out.Stdout = h.stdout.Bytes()
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		out.ExitCode = -1
		out.Err = fmt.Errorf("waiting for run %s: %w", h.id, waitErr)
	}
	if timedOut {
		out.Err = &TimeoutError{RunID: h.id, Timeout: h.timeout.String()}
	}

	switch {
	case out.Cancelled:
		h.logger.Info("nciplot cancelled")
		h.SetStatus(StatusCancelled)
	case !out.Succeeded():
		h.logger.Warn("nciplot failed", "exit_code", out.ExitCode, "error", out.Err, "stderr", lastLine(out.Stderr))
		h.SetStatus(StatusFailed)
	default:
		h.logger.Info("nciplot exited", "stdout_bytes", len(out.Stdout), "truncated", out.Truncated)
	}
	close(h.exited)

	if h.onComplete != nil {
		h.onComplete(out)
	}
	if out.Succeeded() && h.Status() == StatusRunning {
		h.SetStatus(StatusDone)
	}
}

// lastLine returns the last non-empty line of b, for log messages.
func lastLine(b []byte) string {
	b = bytes.TrimRight(b, "\r\n\t ")
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
