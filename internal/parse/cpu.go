package parse

import (
	"io"
	"strings"
)

// cpuParser reads the reference binary's summary block, e.g.
//
//	RHO  THRESHOLD   (au):  0.070
//	RDG  ISOSURFACE  (au):  0.300
//	Gradient cube file   = mol-grad.cube
//	Density cube file    = mol-dens.cube
//	LS x RDG data file   = mol.dat
//
// Later lines overwrite earlier ones for the same field.
type cpuParser struct{}

func (cpuParser) Parse(r io.Reader) (*Result, error) {
	var f fields
	err := f.scanLines(r, func(line string) {
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "---") {
			return
		}
		trimmed := strings.TrimSpace(line)
		// A RHO/RDG line whose last token is not a number falls through to
		// the file-name rules ("RDG cube file = x-grad.cube").
		if strings.HasPrefix(trimmed, "RHO") {
			if v, ok := floatField(trimmed, -1); ok {
				f.setRho(v)
				return
			}
		}
		if strings.HasPrefix(trimmed, "RDG") {
			if v, ok := floatField(trimmed, -1); ok {
				f.setRDG(v)
				return
			}
		}
		switch {
		case strings.HasSuffix(trimmed, "-grad.cube"):
			f.setGradCube(afterLast(trimmed, "="))
		case strings.HasSuffix(trimmed, "-dens.cube"):
			f.setDensCube(afterLast(trimmed, "="))
		case strings.Contains(line, "LS x RDG"):
			f.setXYData(afterLast(trimmed, "="))
		}
	})
	if err != nil {
		return nil, err
	}
	return f.result(CPU)
}
