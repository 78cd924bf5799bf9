// Package input writes NCIPlot input files.
//
// An input file lists the geometry files first, then optional directives:
//
//	<N>
//	<path_1>
//	...
//	<path_N>
//	[OUTPUT <1|2|3>]
//	[ONAME <name>]
//	[CUTOFFS <d> <r>]
//	[CUTPLOT <d> <r>]
//	[LIGAND | INTERMOLECULAR | RADIUS | CUBE | INCREMENTS ...]
//
// The binary reads geometries positionally, so path order is preserved.
package input

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrNoGeometry is returned when no geometry file is given.
var ErrNoGeometry = errors.New("at least one geometry file is required")

// Cutoffs is a (density, reduced density gradient) cutoff pair.
type Cutoffs struct {
	Density float64 `json:"density" yaml:"density"`
	RDG     float64 `json:"rdg" yaml:"rdg"`
}

// Options holds the optional directives of one run. Zero values are
// omitted from the written file. Exactly one search region should be
// set; when several are, Region picks one by fixed priority.
type Options struct {
	// OutputLevel is 1, 2 or 3. Any other value is left out and the
	// binary falls back to its own default.
	OutputLevel int
	// Name replaces the output file base name.
	Name        string
	DatCutoffs  *Cutoffs
	CubeCutoffs *Cutoffs

	Ligand         *Ligand
	Intermolecular *Intermolecular
	Sphere         *Sphere
	Cuboid         *Cuboid
	Increments     *Increments
}

// DefaultOptions returns the options the plugin has always run with:
// full output and the cutoffs recommended for promolecular densities.
func DefaultOptions() Options {
	return Options{
		OutputLevel: 3,
		DatCutoffs:  &Cutoffs{Density: 0.2, RDG: 1.0},
		CubeCutoffs: &Cutoffs{Density: 0.07, RDG: 0.3},
	}
}

// SearchRegion restricts the grid NCIPlot explores.
type SearchRegion interface {
	Directive() string
}

// Ligand searches around molecule Index (1-based, as listed in the
// input) within Radius.
type Ligand struct {
	Index  int
	Radius float64
}

func (l Ligand) Directive() string {
	return "LIGAND " + strconv.Itoa(l.Index) + " " + formatFloat(l.Radius)
}

// Intermolecular searches between the input molecules within Radius.
type Intermolecular struct {
	Radius float64
}

func (i Intermolecular) Directive() string {
	return "INTERMOLECULAR " + formatFloat(i.Radius)
}

// Sphere searches a sphere of Radius centered at Origin.
type Sphere struct {
	Origin [3]float64
	Radius float64
}

func (s Sphere) Directive() string {
	return "RADIUS " + formatFloats(s.Origin[:]...) + " " + formatFloat(s.Radius)
}

// Cuboid searches the box spanned by corners A and B.
type Cuboid struct {
	A, B [3]float64
}

func (c Cuboid) Directive() string {
	return "CUBE " + formatFloats(c.A[:]...) + " " + formatFloats(c.B[:]...)
}

// Increments is passed through to the binary as three opaque values.
type Increments [3]float64

func (i Increments) Directive() string {
	return "INCREMENTS " + formatFloats(i[:]...)
}

// Region returns the search region to write, preferring Ligand, then
// Intermolecular, Sphere, Cuboid and Increments. It returns nil when no
// region is set.
func (o *Options) Region() SearchRegion {
	switch {
	case o.Ligand != nil:
		return *o.Ligand
	case o.Intermolecular != nil:
		return *o.Intermolecular
	case o.Sphere != nil:
		return *o.Sphere
	case o.Cuboid != nil:
		return *o.Cuboid
	case o.Increments != nil:
		return *o.Increments
	}
	return nil
}

// Write renders the input file for the given geometry paths.
func Write(paths []string, opts Options) (string, error) {
	if len(paths) == 0 {
		return "", ErrNoGeometry
	}

	var b strings.Builder
	fmt.Fprintln(&b, len(paths))
	for _, p := range paths {
		fmt.Fprintln(&b, p)
	}

	switch opts.OutputLevel {
	case 1, 2, 3:
		fmt.Fprintf(&b, "OUTPUT %d\n", opts.OutputLevel)
	}
	if opts.Name != "" {
		fmt.Fprintf(&b, "ONAME %s\n", opts.Name)
	}
	if c := opts.DatCutoffs; c != nil {
		fmt.Fprintf(&b, "CUTOFFS %s %s\n", formatFloat(c.Density), formatFloat(c.RDG))
	}
	if c := opts.CubeCutoffs; c != nil {
		fmt.Fprintf(&b, "CUTPLOT %s %s\n", formatFloat(c.Density), formatFloat(c.RDG))
	}
	if r := opts.Region(); r != nil {
		fmt.Fprintln(&b, r.Directive())
	}
	return b.String(), nil
}

// WriteFile renders the input file and writes it to path.
func WriteFile(path string, paths []string, opts Options) error {
	text, err := Write(paths, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing input file: %w", err)
	}
	return nil
}

// formatFloat renders f as a plain decimal that parses back to f.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatFloats(fs ...float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = formatFloat(f)
	}
	return strings.Join(parts, " ")
}
