// Package workflow coordinates NCIPlot runs: it writes the input file,
// launches the binary, parses its output and reports the outcome. It is
// consumed by both the MCP server and the CLI commands.
package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/insilichem/tangram-nciplot/internal/geometry"
	"github.com/insilichem/tangram-nciplot/internal/input"
	"github.com/insilichem/tangram-nciplot/internal/parse"
	"github.com/insilichem/tangram-nciplot/internal/report"
	"github.com/insilichem/tangram-nciplot/internal/runner"
)

// publishTimeout bounds how long a run event may take to publish.
const publishTimeout = 10 * time.Second

// Launcher starts NCIPlot processes.
// Implemented by runner.Runner.
type Launcher interface {
	Start(ctx context.Context, inputPath string, onComplete func(*runner.Outcome)) (*runner.Handle, error)
	Variant() parse.Variant
}

// Publisher receives every finished run.
// Implemented by events.Publisher and events.Nop.
type Publisher interface {
	Publish(ctx context.Context, rec *report.Record) error
}

// Options configures a Controller.
type Options struct {
	Launcher Launcher
	Store    report.Store // optional
	Events   Publisher    // optional
	WorkDir  string       // input and geometry files; default os.TempDir()
	Logger   *slog.Logger

	// OnSuccess and OnFailure are called once per run, from the goroutine
	// that observed the process exit. Cancelled runs go to OnFailure.
	OnSuccess func(*report.Record)
	OnFailure func(*Failure)

	// OnStatus is forwarded to the runner by FromConfig.
	OnStatus func(runID, status string)
}

// Controller runs NCIPlot one job at a time. Starting a run while another
// is in flight cancels the previous one and waits for its process to exit
// before the new process is spawned.
type Controller struct {
	launcher  Launcher
	store     report.Store
	events    Publisher
	workDir   string
	logger    *slog.Logger
	onSuccess func(*report.Record)
	onFailure func(*Failure)

	runMu sync.Mutex // serialises Run

	mu      sync.Mutex
	current *run // in flight, nil when idle
	latest  *run // most recently started
	last    *report.Record
	result  *report.Record // most recent success
}

type run struct {
	handle *runner.Handle
	rec    *report.Record
}

// New returns a Controller. It panics if o.Launcher is nil.
func New(o Options) *Controller {
	if o.Launcher == nil {
		panic("workflow: nil Launcher")
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		launcher:  o.Launcher,
		store:     o.Store,
		events:    o.Events,
		workDir:   o.WorkDir,
		logger:    logger,
		onSuccess: o.OnSuccess,
		onFailure: o.OnFailure,
	}
}

// Run writes an input file for paths and starts NCIPlot on it. It returns
// as soon as the process has been spawned; the outcome is delivered to the
// hooks. A *runner.ConfigurationError means nothing was started, as does an
// error wrapping ErrInvalidGeometry, which leaves any run in flight alone.
//
// Relative paths are resolved against the caller's working directory.
// When opts.Name is empty the output files are named after the input file.
func (c *Controller) Run(ctx context.Context, paths []string, opts input.Options) (string, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if len(paths) == 0 {
		return "", input.ErrNoGeometry
	}
	paths, err := resolveGeometry(paths)
	if err != nil {
		return "", err
	}
	c.cancelAndWait()

	inPath, err := c.writeInput(paths, opts)
	if err != nil {
		return "", err
	}

	r := &run{rec: &report.Record{
		Variant:   c.launcher.Variant().String(),
		Status:    report.Failed,
		Geometry:  append([]string(nil), paths...),
		InputPath: inPath,
		StartedAt: time.Now(),
	}}

	// Hold mu across Start so the completion callback cannot observe the
	// controller before current is set.
	c.mu.Lock()
	h, err := c.launcher.Start(ctx, inPath, func(out *runner.Outcome) { c.complete(r, out) })
	if err != nil {
		c.mu.Unlock()
		_ = os.Remove(inPath)
		return "", err
	}
	r.handle = h
	r.rec.ID = h.ID()
	c.current = r
	c.latest = r
	c.mu.Unlock()

	c.logger.Info("run started", "run_id", h.ID(), "input", inPath, "geometry", len(paths))
	return h.ID(), nil
}

// RunMolecules writes each molecule to an XYZ file in the work directory
// and runs NCIPlot on them in order.
func (c *Controller) RunMolecules(ctx context.Context, mols []geometry.Molecule, opts input.Options) (string, error) {
	prefixes := make([]string, len(mols))
	for i, m := range mols {
		prefixes[i] = m.Name
	}
	return c.runTemp(ctx, mols, prefixes, opts)
}

// RunSelections turns each atom selection into one geometry and runs
// NCIPlot on them in order. A selection's file is named after every
// molecule its atoms come from.
func (c *Controller) RunSelections(ctx context.Context, selections [][]geometry.Atom, opts input.Options) (string, error) {
	mols := make([]geometry.Molecule, len(selections))
	prefixes := make([]string, len(selections))
	for i, atoms := range selections {
		mols[i], prefixes[i] = geometry.FromAtoms(atoms)
	}
	return c.runTemp(ctx, mols, prefixes, opts)
}

// runTemp writes mols to temporary XYZ files and runs them. The files are
// removed again if the run cannot be started.
func (c *Controller) runTemp(ctx context.Context, mols []geometry.Molecule, prefixes []string, opts input.Options) (string, error) {
	if len(mols) == 0 {
		return "", input.ErrNoGeometry
	}
	dir, err := c.ensureWorkDir()
	if err != nil {
		return "", err
	}
	paths := make([]string, 0, len(mols))
	removeAll := func() {
		for _, p := range paths {
			_ = os.Remove(p)
		}
	}
	for i, m := range mols {
		p, err := geometry.WriteTemp(dir, prefixes[i], m)
		if err != nil {
			removeAll()
			return "", fmt.Errorf("%w: molecule %d (%q): %w", ErrInvalidGeometry, i+1, m.Name, err)
		}
		paths = append(paths, p)
	}
	id, err := c.Run(ctx, paths, opts)
	if err != nil {
		removeAll()
		return "", err
	}
	return id, nil
}

// CancelCurrentRun cancels the run in flight, if any. It does not wait.
func (c *Controller) CancelCurrentRun() {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r != nil {
		r.handle.Cancel()
	}
}

// Wait blocks until the most recently started run has been fully
// reported, hooks included.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.latest
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.handle.Wait(ctx)
}

// Active reports whether a run is in flight.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Status returns the ID and advisory status of the most recently started
// run, or empty strings if nothing has run yet.
func (c *Controller) Status() (runID, status string) {
	c.mu.Lock()
	r := c.latest
	c.mu.Unlock()
	if r == nil {
		return "", ""
	}
	return r.handle.ID(), r.handle.Status()
}

// Result returns the record of the most recent successful run. A later
// failed or cancelled run does not clear it.
func (c *Controller) Result() *report.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Last returns the record of the most recently finished run, whatever its
// outcome.
func (c *Controller) Last() *report.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// cancelAndWait cancels the run in flight and blocks until its process has
// exited. The completion hooks may still be running when it returns.
func (c *Controller) cancelAndWait() {
	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()
	if prev == nil {
		return
	}
	c.logger.Info("cancelling previous run", "run_id", prev.handle.ID())
	prev.handle.Cancel()
	<-prev.handle.Exited()
}

// ensureWorkDir returns the absolute work directory, creating it if needed.
func (c *Controller) ensureWorkDir() (string, error) {
	dir := c.workDir
	if dir == "" {
		dir = os.TempDir()
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving work directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}
	return dir, nil
}

// resolveGeometry makes every path absolute, since NCIPlot runs in the
// work directory, and checks that each one reads as an XYZ geometry.
func resolveGeometry(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidGeometry, p, err)
		}
		if _, err := geometry.ReadFile(abs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidGeometry, err)
		}
		out[i] = abs
	}
	return out, nil
}

func (c *Controller) writeInput(paths []string, opts input.Options) (string, error) {
	dir, err := c.ensureWorkDir()
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "nciplot-*.nci")
	if err != nil {
		return "", fmt.Errorf("creating input file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("creating input file: %w", err)
	}

	if opts.Name == "" {
		opts.Name = strings.TrimSuffix(filepath.Base(path), ".nci")
	}
	if err := input.WriteFile(path, paths, opts); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// complete turns an outcome into a record, persists it and calls the hooks.
func (c *Controller) complete(r *run, out *runner.Outcome) {
	// Wait for Run to publish r.
	c.mu.Lock()
	h := r.handle
	rec := r.rec
	c.mu.Unlock()

	rec.FinishedAt = time.Now()
	rec.ExitCode = out.ExitCode
	rec.Stderr = string(out.Stderr)
	logger := c.logger.With("run_id", rec.ID)

	var fail *Failure
	switch {
	case out.Cancelled:
		rec.Status = report.Cancelled
		fail = &Failure{Kind: KindCancelled}
	case !out.Succeeded():
		err := out.Err
		if err == nil {
			err = &ExitError{Code: out.ExitCode, Stderr: lastLine(out.Stderr)}
		}
		rec.RawLines = splitLines(out.Stdout)
		fail = &Failure{Kind: KindProcess, Err: err}
	default:
		h.SetStatus(runner.StatusParsing)
		res, err := parse.Parse(bytes.NewReader(out.Stdout), c.launcher.Variant())
		if err != nil {
			var perr *parse.ParseError
			if errors.As(err, &perr) {
				rec.Missing = perr.Missing
				rec.RawLines = perr.RawLines
			}
			fail = &Failure{Kind: KindParse, Err: err}
			h.SetStatus(runner.StatusFailed)
			break
		}
		rec.Status = report.Succeeded
		rec.Result = res
		h.SetStatus(runner.StatusDone)
	}
	if fail != nil {
		rec.Status = statusFor(fail.Kind)
		rec.FailureKind = string(fail.Kind)
		if fail.Err != nil {
			rec.Failure = fail.Err.Error()
		}
		fail.RunID = rec.ID
		fail.ExitCode = out.ExitCode
		fail.Record = rec
	}

	if c.store != nil {
		if err := c.store.Save(rec); err != nil {
			logger.Warn("saving run record", "error", err)
		}
	}
	if c.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := c.events.Publish(ctx, rec); err != nil {
			logger.Warn("publishing run event", "error", err)
		}
		cancel()
	}

	c.mu.Lock()
	c.last = rec
	if fail == nil {
		c.result = rec
	}
	if c.current == r {
		c.current = nil
	}
	c.mu.Unlock()

	if fail != nil {
		logger.Info("run finished without result", "status", rec.Status, "kind", fail.Kind, "exit_code", out.ExitCode)
		if c.onFailure != nil {
			c.onFailure(fail)
		}
		return
	}
	logger.Info("run succeeded", "rho", rec.Result.Rho, "rdg", rec.Result.RDG, "duration", rec.Duration())
	if c.onSuccess != nil {
		c.onSuccess(rec)
	}
}

func statusFor(k Kind) report.Status {
	if k == KindCancelled {
		return report.Cancelled
	}
	return report.Failed
}

func splitLines(b []byte) []string {
	s := strings.TrimRight(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func lastLine(b []byte) string {
	lines := splitLines(bytes.TrimSpace(b))
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
