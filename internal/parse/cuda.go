package parse

import (
	"io"
	"path/filepath"
	"strings"
)

// The CUDA port misspells this marker; it must be matched as printed.
const cudaPrefixMarker = "OutPut filenam Prefix"

// cudaParser reads the starred banner lines of the CUDA port, e.g.
//
//	*  MoleculeFile[0]      : /data/mols/benzene.xyz          *
//	*  OutPut filenam Prefix : benzene                        *
//	*  Cutoffs for .cube rho range : 0.0700                   *
//	*  Cutoffs for .dat rdg range  : 0.3000                   *
//
// The port prints bare output names, so the directory is taken from the
// molecule file. A prefix line seen before any MoleculeFile line is ignored.
// A bare molecule file name yields the directory "." and the paths are
// still set, relative to NCIPlot's working directory.
type cudaParser struct{}

func (cudaParser) Parse(r io.Reader) (*Result, error) {
	var (
		f        fields
		basedir  string
		haveBase bool
	)
	err := f.scanLines(r, func(line string) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "*") {
			return
		}
		line = strings.Trim(line, "*")
		switch {
		case strings.Contains(line, "MoleculeFile"):
			toks := strings.Fields(afterFirst(line, ":"))
			if len(toks) == 0 {
				return
			}
			basedir, haveBase = filepath.Dir(toks[0]), true
		case haveBase && strings.Contains(line, cudaPrefixMarker):
			prefix := strings.TrimSpace(afterFirst(line, ":"))
			f.setGradCube(filepath.Join(basedir, prefix+"-RDG.cube"))
			f.setDensCube(filepath.Join(basedir, prefix+"-dens.cube"))
			f.setXYData(filepath.Join(basedir, prefix+".dat"))
		case strings.Contains(line, ".cube rho range"):
			if v, ok := floatField(line, 6); ok {
				f.setRho(v)
			}
		case strings.Contains(line, ".dat rdg range"):
			if v, ok := floatField(line, 6); ok {
				f.setRDG(v)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return f.result(CUDA)
}
