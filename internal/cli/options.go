package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/insilichem/tangram-nciplot/internal/input"
)

// runFlags are the input-file directives shared by run and input.
type runFlags struct {
	outputLevel    int
	name           string
	datCutoffs     []float64
	cubeCutoffs    []float64
	ligand         int
	ligandRadius   float64
	intermolecular float64
	sphere         []float64
	cuboid         []float64
	increments     []float64
}

func (f *runFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVar(&f.outputLevel, "output-level", 0, "OUTPUT level 1, 2 or 3 (default from config, normally 3)")
	fs.StringVar(&f.name, "name", "", "base name of the output files")
	fs.Float64SliceVar(&f.datCutoffs, "dat-cutoffs", nil, "density,rdg cutoffs for the RHO x RDG data file")
	fs.Float64SliceVar(&f.cubeCutoffs, "cube-cutoffs", nil, "density,rdg cutoffs for the cube files")
	fs.IntVar(&f.ligand, "ligand", 0, "search around geometry N (1-based); needs --ligand-radius")
	fs.Float64Var(&f.ligandRadius, "ligand-radius", 0, "radius around the ligand")
	fs.Float64Var(&f.intermolecular, "intermolecular", 0, "search only between molecules, within this radius")
	fs.Float64SliceVar(&f.sphere, "sphere", nil, "x,y,z,r: search inside a sphere")
	fs.Float64SliceVar(&f.cuboid, "cuboid", nil, "x0,y0,z0,x1,y1,z1: search inside a box")
	fs.Float64SliceVar(&f.increments, "increments", nil, "three grid increments")
}

// options applies the flags on top of defaults.
func (f *runFlags) options(defaults input.Options) (input.Options, error) {
	opts := defaults
	if f.outputLevel != 0 {
		opts.OutputLevel = f.outputLevel
	}
	if f.name != "" {
		opts.Name = f.name
	}

	var err error
	if opts.DatCutoffs, err = cutoffs("dat-cutoffs", f.datCutoffs, opts.DatCutoffs); err != nil {
		return opts, err
	}
	if opts.CubeCutoffs, err = cutoffs("cube-cutoffs", f.cubeCutoffs, opts.CubeCutoffs); err != nil {
		return opts, err
	}

	if f.ligand != 0 {
		if f.ligandRadius <= 0 {
			return opts, fmt.Errorf("--ligand needs a positive --ligand-radius")
		}
		opts.Ligand = &input.Ligand{Index: f.ligand, Radius: f.ligandRadius}
	}
	if f.intermolecular > 0 {
		opts.Intermolecular = &input.Intermolecular{Radius: f.intermolecular}
	}
	if f.sphere != nil {
		if len(f.sphere) != 4 {
			return opts, fmt.Errorf("--sphere needs x,y,z,r")
		}
		opts.Sphere = &input.Sphere{Origin: [3]float64{f.sphere[0], f.sphere[1], f.sphere[2]}, Radius: f.sphere[3]}
	}
	if f.cuboid != nil {
		if len(f.cuboid) != 6 {
			return opts, fmt.Errorf("--cuboid needs x0,y0,z0,x1,y1,z1")
		}
		c := f.cuboid
		opts.Cuboid = &input.Cuboid{A: [3]float64{c[0], c[1], c[2]}, B: [3]float64{c[3], c[4], c[5]}}
	}
	if f.increments != nil {
		if len(f.increments) != 3 {
			return opts, fmt.Errorf("--increments needs three values")
		}
		inc := input.Increments{f.increments[0], f.increments[1], f.increments[2]}
		opts.Increments = &inc
	}
	return opts, nil
}

func cutoffs(flag string, v []float64, def *input.Cutoffs) (*input.Cutoffs, error) {
	if v == nil {
		return def, nil
	}
	if len(v) != 2 {
		return nil, fmt.Errorf("--%s needs density,rdg", flag)
	}
	return &input.Cutoffs{Density: v[0], RDG: v[1]}, nil
}
