package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/insilichem/tangram-nciplot/internal/geometry"
	"github.com/insilichem/tangram-nciplot/internal/input"
	"github.com/insilichem/tangram-nciplot/internal/report"
	"github.com/insilichem/tangram-nciplot/internal/runner"
	"github.com/insilichem/tangram-nciplot/internal/workflow"
)

type runParams struct {
	Paths       []string            `json:"paths,omitempty" jsonschema:"XYZ geometry files, in the order NCIPlot should read them"`
	Molecules   []geometry.Molecule `json:"molecules,omitempty" jsonschema:"inline geometries, used when paths is empty"`
	Atoms       [][]geometry.Atom   `json:"atoms,omitempty" jsonschema:"atom selections, one geometry each, used when paths and molecules are empty"`
	OutputLevel int                 `json:"output_level,omitempty" jsonschema:"1, 2 or 3; defaults to the configured level (3)"`
	Name        string              `json:"name,omitempty" jsonschema:"base name of the output files"`
	DatCutoffs  *input.Cutoffs      `json:"dat_cutoffs,omitempty" jsonschema:"density and RDG cutoffs for the RHO x RDG data file"`
	CubeCutoffs *input.Cutoffs      `json:"cube_cutoffs,omitempty" jsonschema:"density and RDG cutoffs for the cube files"`

	Ligand               *ligandParams `json:"ligand,omitempty" jsonschema:"search around one molecule (1-based index into the geometries)"`
	IntermolecularRadius float64       `json:"intermolecular_radius,omitempty" jsonschema:"search only between molecules, within this radius"`
	Sphere               *sphereParams `json:"sphere,omitempty" jsonschema:"search inside a sphere"`
	Cuboid               *cuboidParams `json:"cuboid,omitempty" jsonschema:"search inside a box given by two opposite corners"`
	Increments           []float64     `json:"increments,omitempty" jsonschema:"three grid increments"`

	Wait bool `json:"wait,omitempty" jsonschema:"block until the run finishes and return its result"`
}

type ligandParams struct {
	Index  int     `json:"index"`
	Radius float64 `json:"radius"`
}

type sphereParams struct {
	Center []float64 `json:"center" jsonschema:"x, y, z"`
	Radius float64   `json:"radius"`
}

type cuboidParams struct {
	From []float64 `json:"from" jsonschema:"x, y, z of one corner"`
	To   []float64 `json:"to" jsonschema:"x, y, z of the opposite corner"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if len(params.Paths) == 0 && len(params.Molecules) == 0 && len(params.Atoms) == 0 {
		return errorResult("paths, molecules or atoms is required")
	}
	opts, err := h.runOptions(params)
	if err != nil {
		return errorResult(err.Error())
	}

	ctrl, err := h.holder.Get()
	if err != nil {
		return errorResult(describeStartError(err))
	}

	// The run must outlive this request unless the caller waits for it.
	runCtx := context.WithoutCancel(ctx)
	var runID string
	switch {
	case len(params.Paths) > 0:
		runID, err = ctrl.Run(runCtx, params.Paths, opts)
	case len(params.Molecules) > 0:
		runID, err = ctrl.RunMolecules(runCtx, params.Molecules, opts)
	default:
		runID, err = ctrl.RunSelections(runCtx, params.Atoms, opts)
	}
	if err != nil {
		return errorResult(describeStartError(err))
	}

	if !params.Wait {
		var b strings.Builder
		fmt.Fprintf(&b, "Run: %s\n", runID)
		fmt.Fprintf(&b, "Status: %s\n", runner.StatusRunning)
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Check progress with nci_status, or stop it with nci_cancel.\n")
		return textResult(b.String())
	}

	if err := ctrl.Wait(ctx); err != nil {
		return errorResult(fmt.Sprintf("Stopped waiting for run %s: %v. The run continues; check it with nci_status.", runID, err))
	}
	rec := ctrl.Last()
	if rec == nil || rec.ID != runID {
		rec, err = h.store.Load(runID)
		if err != nil {
			return errorResult(fmt.Sprintf("Run %s finished but its record is unavailable: %v", runID, err))
		}
	}
	return textResult(formatRecord(rec))
}

// runOptions starts from the configured defaults and applies params.
func (h *handler) runOptions(params runParams) (input.Options, error) {
	opts := h.config().RunDefaults()
	if params.OutputLevel != 0 {
		opts.OutputLevel = params.OutputLevel
	}
	opts.Name = params.Name
	if params.DatCutoffs != nil {
		opts.DatCutoffs = params.DatCutoffs
	}
	if params.CubeCutoffs != nil {
		opts.CubeCutoffs = params.CubeCutoffs
	}

	if l := params.Ligand; l != nil {
		opts.Ligand = &input.Ligand{Index: l.Index, Radius: l.Radius}
	}
	if params.IntermolecularRadius > 0 {
		opts.Intermolecular = &input.Intermolecular{Radius: params.IntermolecularRadius}
	}
	if s := params.Sphere; s != nil {
		c, err := vec3("sphere.center", s.Center)
		if err != nil {
			return opts, err
		}
		opts.Sphere = &input.Sphere{Origin: c, Radius: s.Radius}
	}
	if c := params.Cuboid; c != nil {
		from, err := vec3("cuboid.from", c.From)
		if err != nil {
			return opts, err
		}
		to, err := vec3("cuboid.to", c.To)
		if err != nil {
			return opts, err
		}
		opts.Cuboid = &input.Cuboid{A: from, B: to}
	}
	if params.Increments != nil {
		inc, err := vec3("increments", params.Increments)
		if err != nil {
			return opts, err
		}
		i := input.Increments(inc)
		opts.Increments = &i
	}
	return opts, nil
}

func vec3(name string, v []float64) ([3]float64, error) {
	if len(v) != 3 {
		return [3]float64{}, fmt.Errorf("%s needs exactly 3 values, got %d", name, len(v))
	}
	return [3]float64{v[0], v[1], v[2]}, nil
}

// describeStartError explains why a run could not be started.
func describeStartError(err error) string {
	var cerr *runner.ConfigurationError
	if errors.As(err, &cerr) {
		return fmt.Sprintf("Configuration error: %v.\nAction: set a valid binary and dat directory with nci_configure.", err)
	}
	if errors.Is(err, workflow.ErrInvalidGeometry) {
		return fmt.Sprintf("Failed to start run: %v.\nAction: pass XYZ files that exist, or inline molecules with at least one atom.", err)
	}
	return fmt.Sprintf("Failed to start run: %v", err)
}

// formatRecord renders a finished run with a next step for failures.
func formatRecord(rec *report.Record) string {
	var b strings.Builder
	b.WriteString(report.Summary(rec))

	switch workflow.Kind(rec.FailureKind) {
	case workflow.KindParse:
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Action: NCIPlot finished but its output was not recognised. Inspect it with nci_inspect(run_id=%q, raw=true).\n", rec.ID)
	case workflow.KindProcess:
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Action: NCIPlot itself failed. Check the geometry files and the binary, then run again.")
	case workflow.KindCancelled:
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "The run was cancelled; no result was produced.")
	}
	return b.String()
}
