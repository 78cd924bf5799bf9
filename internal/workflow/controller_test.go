package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/insilichem/tangram-nciplot/internal/config"
	"github.com/insilichem/tangram-nciplot/internal/geometry"
	"github.com/insilichem/tangram-nciplot/internal/input"
	"github.com/insilichem/tangram-nciplot/internal/parse"
	"github.com/insilichem/tangram-nciplot/internal/report"
	"github.com/insilichem/tangram-nciplot/internal/runner"
)

// fakeNCIPlot behaves according to $NCIPLOT_HOME/mode:
//
//	ok       print a complete CPU summary
//	garbage  exit 0 without any result lines
//	fail     exit 2 with a message on stderr
//	hang     sleep until killed
//
// Every invocation checks that the input file and each geometry it lists
// exist, then writes its pid next to the input file.
const fakeNCIPlot = `#!/bin/sh
test -f "$1" || { echo "no input $1" >&2; exit 3; }
n=$(head -n 1 "$1")
for g in $(sed -n "2,$((n + 1))p" "$1"); do
	test -f "$g" || { echo "no geometry $g" >&2; exit 4; }
done
echo $$ > "$1.pid"
mode=$(cat "$NCIPLOT_HOME/mode" 2>/dev/null)
case "$mode" in
garbage) echo "nothing useful"; exit 0 ;;
fail) echo "segmentation fault" >&2; exit 2 ;;
hang) exec sleep 30 ;;
esac
cat <<'OUT'
 RHO  THRESHOLD   (au):  0.070
 RDG  ISOSURFACE  (au):  0.300
 Gradient cube file   = /tmp/mol-grad.cube
 Density cube file    = /tmp/mol-dens.cube
 LS x RDG data file   = /tmp/mol.dat
OUT
`

type fixture struct {
	t       *testing.T
	home    string
	workDir string
	runner  *runner.Runner

	mu        sync.Mutex
	successes []*report.Record
	failures  []*Failure
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	home := t.TempDir()
	datDir := filepath.Join(home, "dat")
	if err := os.Mkdir(datDir, 0o755); err != nil {
		t.Fatal(err)
	}
	binary := filepath.Join(home, "nciplot")
	if err := os.WriteFile(binary, []byte(fakeNCIPlot), 0o755); err != nil {
		t.Fatal(err)
	}
	r, err := runner.New(binary, datDir)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	return &fixture{t: t, home: home, workDir: filepath.Join(t.TempDir(), "work"), runner: r}
}

func (f *fixture) mode(m string) {
	f.t.Helper()
	if err := os.WriteFile(filepath.Join(f.home, "mode"), []byte(m), 0o644); err != nil {
		f.t.Fatal(err)
	}
}

func (f *fixture) controller(opts Options) *Controller {
	opts.Launcher = f.runner
	opts.WorkDir = f.workDir
	opts.OnSuccess = func(rec *report.Record) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.successes = append(f.successes, rec)
	}
	opts.OnFailure = func(fail *Failure) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.failures = append(f.failures, fail)
	}
	return New(opts)
}

func (f *fixture) results() ([]*report.Record, []*Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*report.Record(nil), f.successes...), append([]*Failure(nil), f.failures...)
}

func geometryFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "water.xyz")
	data := "3\nwater\nO 0 0 0\nH 0.757 0.586 0\nH -0.757 0.586 0\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func wait(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

// waitForPID polls until the fake binary has recorded its pid.
func waitForPID(t *testing.T, inputPath string) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(inputPath + ".pid")
		if err == nil && strings.HasSuffix(string(data), "\n") {
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err == nil {
				return pid
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no pid written for %s", inputPath)
	return 0
}

// memStore is an in-memory report.Store.
type memStore struct {
	mu   sync.Mutex
	recs map[string]*report.Record
}

func (s *memStore) Save(rec *report.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *memStore) Load(id string) (*report.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return rec, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	recs []*report.Record
}

func (p *fakePublisher) Publish(_ context.Context, rec *report.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)
	store := &memStore{recs: map[string]*report.Record{}}
	pub := &fakePublisher{}
	c := f.controller(Options{Store: store, Events: pub})

	geom := geometryFile(t)
	id, err := c.Run(context.Background(), []string{geom}, input.DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)

	successes, failures := f.results()
	if len(successes) != 1 || len(failures) != 0 {
		t.Fatalf("successes=%d failures=%d, want 1/0", len(successes), len(failures))
	}
	rec := successes[0]
	if rec.ID != id {
		t.Errorf("ID = %q, want %q", rec.ID, id)
	}
	want := parse.Result{Rho: 0.07, RDG: 0.3, GradCube: "/tmp/mol-grad.cube", DensCube: "/tmp/mol-dens.cube", XYData: "/tmp/mol.dat"}
	got := *rec.Result
	got.RawLines = nil
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Result = %+v, want %+v", got, want)
	}
	if c.Result() != rec {
		t.Error("Result() is not the successful record")
	}
	if _, status := c.Status(); status != runner.StatusDone {
		t.Errorf("Status = %q, want %q", status, runner.StatusDone)
	}
	if c.Active() {
		t.Error("Active after completion")
	}

	if _, err := store.Load(id); err != nil {
		t.Errorf("record not stored: %v", err)
	}
	if len(pub.recs) != 1 {
		t.Errorf("published %d events, want 1", len(pub.recs))
	}
}

func TestRun_WritesInputFile(t *testing.T) {
	f := newFixture(t)
	c := f.controller(Options{})

	geom := geometryFile(t)
	if _, err := c.Run(context.Background(), []string{geom}, input.Options{OutputLevel: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)

	rec := c.Last()
	if filepath.Dir(rec.InputPath) != f.workDir {
		t.Errorf("InputPath = %q, want inside %q", rec.InputPath, f.workDir)
	}
	data, err := os.ReadFile(rec.InputPath)
	if err != nil {
		t.Fatal(err)
	}
	name := strings.TrimSuffix(filepath.Base(rec.InputPath), ".nci")
	want := "1\n" + geom + "\nOUTPUT 2\nONAME " + name + "\n"
	if string(data) != want {
		t.Errorf("input file =\n%s\nwant\n%s", data, want)
	}
}

func TestRun_ParseFailure(t *testing.T) {
	f := newFixture(t)
	f.mode("garbage")
	c := f.controller(Options{})

	if _, err := c.Run(context.Background(), []string{geometryFile(t)}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)

	successes, failures := f.results()
	if len(successes) != 0 || len(failures) != 1 {
		t.Fatalf("successes=%d failures=%d, want 0/1", len(successes), len(failures))
	}
	fail := failures[0]
	if fail.Kind != KindParse {
		t.Errorf("Kind = %q, want %q", fail.Kind, KindParse)
	}
	var perr *parse.ParseError
	if !errors.As(fail, &perr) {
		t.Fatalf("Failure does not wrap *parse.ParseError: %v", fail)
	}
	if len(perr.Missing) != 5 {
		t.Errorf("Missing = %v, want all five fields", perr.Missing)
	}
	if got := fail.Record.RawLines; len(got) != 1 || got[0] != "nothing useful" {
		t.Errorf("RawLines = %q", got)
	}
	if c.Result() != nil {
		t.Error("Result() set after a parse failure")
	}
	if _, status := c.Status(); status != runner.StatusFailed {
		t.Errorf("Status = %q, want %q", status, runner.StatusFailed)
	}
}

func TestRun_ProcessFailure(t *testing.T) {
	f := newFixture(t)
	f.mode("fail")
	c := f.controller(Options{})

	if _, err := c.Run(context.Background(), []string{geometryFile(t)}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)

	_, failures := f.results()
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	fail := failures[0]
	if fail.Kind != KindProcess || fail.ExitCode != 2 {
		t.Errorf("failure = %+v, want process failure with exit 2", fail)
	}
	var exitErr *ExitError
	if !errors.As(fail, &exitErr) || exitErr.Stderr != "segmentation fault" {
		t.Errorf("Err = %v, want ExitError with stderr", fail.Err)
	}
	if fail.Record.Status != report.Failed {
		t.Errorf("Record.Status = %q, want failed", fail.Record.Status)
	}
}

func TestRun_FailureKeepsPreviousResult(t *testing.T) {
	f := newFixture(t)
	c := f.controller(Options{})
	geom := geometryFile(t)

	if _, err := c.Run(context.Background(), []string{geom}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)
	first := c.Result()
	if first == nil {
		t.Fatal("no result after first run")
	}

	f.mode("garbage")
	if _, err := c.Run(context.Background(), []string{geom}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)
	if c.Result() != first {
		t.Error("failed run replaced the previous result")
	}
	if c.Last() == first {
		t.Error("Last() not updated by the failed run")
	}

	f.mode("ok")
	if _, err := c.Run(context.Background(), []string{geom}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)
	if c.Result() == first {
		t.Error("successful run did not replace the previous result")
	}
}

func TestCancelCurrentRun(t *testing.T) {
	f := newFixture(t)
	f.mode("hang")
	c := f.controller(Options{})

	if _, err := c.Run(context.Background(), []string{geometryFile(t)}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !c.Active() {
		t.Error("not Active while the process runs")
	}
	c.CancelCurrentRun()
	c.CancelCurrentRun()
	wait(t, c)
	c.CancelCurrentRun()

	_, failures := f.results()
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want exactly 1", len(failures))
	}
	if failures[0].Kind != KindCancelled {
		t.Errorf("Kind = %q, want %q", failures[0].Kind, KindCancelled)
	}
	if failures[0].Record.Status != report.Cancelled {
		t.Errorf("Record.Status = %q, want cancelled", failures[0].Record.Status)
	}
	if _, status := c.Status(); status != runner.StatusCancelled {
		t.Errorf("Status = %q, want %q", status, runner.StatusCancelled)
	}
}

func TestCancelCurrentRun_Idle(t *testing.T) {
	f := newFixture(t)
	c := f.controller(Options{})
	c.CancelCurrentRun()
	wait(t, c)
	if id, status := c.Status(); id != "" || status != "" {
		t.Errorf("Status = (%q, %q), want empty", id, status)
	}
}

func TestRun_SingleActiveRun(t *testing.T) {
	f := newFixture(t)
	f.mode("hang")
	c := f.controller(Options{})
	geom := geometryFile(t)

	firstID, err := c.Run(context.Background(), []string{geom}, input.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.mu.Lock()
	firstInput := c.latest.rec.InputPath
	c.mu.Unlock()
	firstPID := waitForPID(t, firstInput)

	secondID, err := c.Run(context.Background(), []string{geom}, input.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if secondID == firstID {
		t.Fatal("second run reused the first run ID")
	}

	// The first process must be gone by the time the second Run returns.
	if err := syscall.Kill(firstPID, 0); err == nil {
		t.Errorf("first run (pid %d) still alive after second Run", firstPID)
	}

	c.CancelCurrentRun()
	wait(t, c)

	deadline := time.Now().Add(5 * time.Second)
	var failures []*Failure
	for time.Now().Before(deadline) {
		if _, failures = f.results(); len(failures) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(failures))
	}
	seen := map[string]Kind{}
	for _, fail := range failures {
		seen[fail.RunID] = fail.Kind
	}
	if seen[firstID] != KindCancelled || seen[secondID] != KindCancelled {
		t.Errorf("failures = %v, want both runs cancelled", seen)
	}
}

func TestRun_RelativePaths(t *testing.T) {
	f := newFixture(t)
	geom := geometryFile(t)
	dir := filepath.Dir(geom)
	t.Chdir(dir)
	c := New(Options{Launcher: f.runner, WorkDir: "work"})

	if _, err := c.Run(context.Background(), []string{"water.xyz"}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)

	rec := c.Last()
	if rec.Status != report.Succeeded {
		t.Fatalf("Status = %q (%s, stderr %q), want succeeded", rec.Status, rec.Failure, rec.Stderr)
	}
	if rec.Geometry[0] != geom {
		t.Errorf("Geometry = %v, want %s", rec.Geometry, geom)
	}
	if want := filepath.Join(dir, "work"); filepath.Dir(rec.InputPath) != want {
		t.Errorf("InputPath = %q, want inside %q", rec.InputPath, want)
	}
}

func TestRun_InvalidGeometry(t *testing.T) {
	f := newFixture(t)
	f.mode("hang")
	c := f.controller(Options{})

	id, err := c.Run(context.Background(), []string{geometryFile(t)}, input.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.xyz")
	if err := os.WriteFile(bad, []byte("3\nwater\nO 0 0 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{bad, filepath.Join(t.TempDir(), "missing.xyz")} {
		if _, err := c.Run(context.Background(), []string{p}, input.Options{}); !errors.Is(err, ErrInvalidGeometry) {
			t.Errorf("Run(%s) err = %v, want ErrInvalidGeometry", filepath.Base(p), err)
		}
	}

	if current, _ := c.Status(); current != id || !c.Active() {
		t.Error("rejected geometry disturbed the run in flight")
	}
	c.CancelCurrentRun()
	wait(t, c)
}

func TestRun_ConfigurationError(t *testing.T) {
	f := newFixture(t)
	c := f.controller(Options{})
	if err := os.Remove(f.runner.Binary()); err != nil {
		t.Fatal(err)
	}

	_, err := c.Run(context.Background(), []string{geometryFile(t)}, input.Options{})
	var cerr *runner.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *runner.ConfigurationError", err)
	}
	if c.Active() {
		t.Error("Active after a configuration error")
	}
	entries, _ := os.ReadDir(f.workDir)
	if len(entries) != 0 {
		t.Errorf("work dir has %d entries, want input file removed", len(entries))
	}
	successes, failures := f.results()
	if len(successes)+len(failures) != 0 {
		t.Error("hooks called for a run that never started")
	}
}

func TestRun_NoGeometry(t *testing.T) {
	f := newFixture(t)
	c := f.controller(Options{})
	if _, err := c.Run(context.Background(), nil, input.Options{}); !errors.Is(err, input.ErrNoGeometry) {
		t.Errorf("err = %v, want ErrNoGeometry", err)
	}
	if _, err := c.RunMolecules(context.Background(), nil, input.Options{}); !errors.Is(err, input.ErrNoGeometry) {
		t.Errorf("RunMolecules err = %v, want ErrNoGeometry", err)
	}
}

func TestRunMolecules_ConfigurationErrorRemovesFiles(t *testing.T) {
	f := newFixture(t)
	c := f.controller(Options{})
	if err := os.Remove(f.runner.Binary()); err != nil {
		t.Fatal(err)
	}

	mols := []geometry.Molecule{{Name: "water", Atoms: []geometry.Atom{{Element: "O"}}}}
	_, err := c.RunMolecules(context.Background(), mols, input.Options{})
	var cerr *runner.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *runner.ConfigurationError", err)
	}
	entries, _ := os.ReadDir(f.workDir)
	if len(entries) != 0 {
		t.Errorf("work dir has %d entries, want geometry and input files removed", len(entries))
	}
}

func TestRunSelections(t *testing.T) {
	f := newFixture(t)
	c := f.controller(Options{})

	selections := [][]geometry.Atom{
		{{Element: "O", Molecule: "water"}, {Element: "C", X: 3, Molecule: "benzene"}},
		{{Element: "Na", Z: 2, Molecule: "ion"}},
	}
	if _, err := c.RunSelections(context.Background(), selections, input.Options{}); err != nil {
		t.Fatalf("RunSelections: %v", err)
	}
	wait(t, c)

	rec := c.Last()
	if rec.Status != report.Succeeded {
		t.Fatalf("Status = %q, want succeeded", rec.Status)
	}
	for i, prefix := range []string{"benzene-water__", "ion__"} {
		if !strings.HasPrefix(filepath.Base(rec.Geometry[i]), prefix) {
			t.Errorf("Geometry[%d] = %q, want %s*.xyz", i, rec.Geometry[i], prefix)
		}
	}
	m, err := geometry.ReadFile(rec.Geometry[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if m.Name != "water" || len(m.Atoms) != 2 {
		t.Errorf("selection file = %+v, want 2 atoms labelled water", m)
	}

	if _, err := c.RunSelections(context.Background(), [][]geometry.Atom{{}}, input.Options{}); !errors.Is(err, geometry.ErrEmpty) {
		t.Errorf("empty selection err = %v, want geometry.ErrEmpty", err)
	}
}

func TestRunMolecules(t *testing.T) {
	f := newFixture(t)
	c := f.controller(Options{})

	mols := []geometry.Molecule{
		{Name: "benzene", Atoms: []geometry.Atom{{Element: "C"}, {Element: "H", X: 1.09}}},
		{Name: "water", Atoms: []geometry.Atom{{Element: "O"}}},
	}
	if _, err := c.RunMolecules(context.Background(), mols, input.Options{}); err != nil {
		t.Fatalf("RunMolecules: %v", err)
	}
	wait(t, c)

	rec := c.Last()
	if len(rec.Geometry) != 2 {
		t.Fatalf("Geometry = %v, want 2 files", rec.Geometry)
	}
	for i, p := range rec.Geometry {
		if !strings.HasPrefix(filepath.Base(p), mols[i].Name+"__") {
			t.Errorf("Geometry[%d] = %q, want %s__*.xyz", i, p, mols[i].Name)
		}
		m, err := geometry.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if len(m.Atoms) != len(mols[i].Atoms) {
			t.Errorf("%s has %d atoms, want %d", p, len(m.Atoms), len(mols[i].Atoms))
		}
	}
}

func TestFailure_Error(t *testing.T) {
	cases := map[Kind]string{
		KindCancelled: "run r1 was cancelled",
		KindParse:     "run r1 finished but its output could not be read: boom",
		KindProcess:   "run r1 failed: boom",
	}
	for kind, want := range cases {
		f := &Failure{RunID: "r1", Kind: kind, Err: errors.New("boom")}
		if kind == KindCancelled {
			f.Err = nil
		}
		if got := f.Error(); got != want {
			t.Errorf("%s: Error() = %q, want %q", kind, got, want)
		}
	}
}

func TestHolder(t *testing.T) {
	f := newFixture(t)
	builds := 0
	fail := true
	h := NewHolder(func() (*Controller, error) {
		builds++
		if fail {
			return nil, &runner.ConfigurationError{What: "binary"}
		}
		return f.controller(Options{}), nil
	})

	if _, err := h.Get(); err == nil {
		t.Fatal("expected factory error")
	}
	if h.Peek() != nil {
		t.Error("failed build was cached")
	}

	fail = false
	c1, err := h.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	c2, _ := h.Get()
	if c1 != c2 {
		t.Error("Get returned different controllers")
	}
	if builds != 2 {
		t.Errorf("builds = %d, want 2", builds)
	}

	f.mode("hang")
	if _, err := c1.Run(context.Background(), []string{geometryFile(t)}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	h.Reset()
	wait(t, c1)
	if _, failures := f.results(); len(failures) != 1 || failures[0].Kind != KindCancelled {
		t.Errorf("Reset did not cancel the run in flight: %v", failures)
	}

	c3, _ := h.Get()
	if c3 == c1 {
		t.Error("Reset did not drop the controller")
	}
}

func TestFromConfig(t *testing.T) {
	f := newFixture(t)
	cfg := &config.Config{
		Binary:     f.runner.Binary(),
		DatDir:     f.runner.DatDir(),
		WorkDir:    f.workDir,
		RawTimeout: "50ms",
	}
	f.mode("hang")

	var mu sync.Mutex
	var statuses []string
	c, err := FromConfig(cfg, Options{OnStatus: func(_, status string) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, status)
	}})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, err := c.Run(context.Background(), []string{geometryFile(t)}, input.Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wait(t, c)

	rec := c.Last()
	if rec.Status != report.Failed || rec.FailureKind != string(KindProcess) {
		t.Errorf("record = %+v, want process failure from timeout", rec)
	}
	if !strings.Contains(rec.Failure, "timed out") {
		t.Errorf("Failure = %q, want timeout", rec.Failure)
	}
	mu.Lock()
	got := strings.Join(statuses, ",")
	mu.Unlock()
	if want := runner.StatusRunning + "," + runner.StatusFailed; got != want {
		t.Errorf("statuses = %s, want %s", got, want)
	}

	_, err = FromConfig(&config.Config{}, Options{})
	var cerr *runner.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Errorf("err = %v, want *runner.ConfigurationError", err)
	}
}
