// Package parse turns NCIPlot standard output into a structured Result.
// Two output dialects exist: the reference CPU binary and the CUDA port.
package parse

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// Variant identifies an NCIPlot output dialect.
type Variant int

const (
	// CPU is the reference Fortran implementation.
	CPU Variant = iota
	// CUDA is the GPU-accelerated implementation.
	CUDA
)

func (v Variant) String() string {
	switch v {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// ParseVariant converts a name ("cpu" or "cuda", any case) to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return CPU, nil
	case "cuda":
		return CUDA, nil
	}
	return CPU, fmt.Errorf("unknown variant %q (want cpu or cuda)", s)
}

// DetectVariant picks the dialect from the binary's file name: a name
// containing "cuda" in any case selects CUDA, anything else CPU.
func DetectVariant(binary string) Variant {
	if strings.Contains(strings.ToLower(filepath.Base(binary)), "cuda") {
		return CUDA
	}
	return CPU
}

// Result holds the values extracted from a successful run.
type Result struct {
	Rho      float64  `json:"rho"`
	RDG      float64  `json:"rdg"`
	GradCube string   `json:"grad_cube"`
	DensCube string   `json:"dens_cube"`
	XYData   string   `json:"xy_data"`
	RawLines []string `json:"raw_lines,omitempty"`
}

// Field names reported by ParseError.
const (
	FieldRho      = "rho"
	FieldRDG      = "rdg"
	FieldGradCube = "grad_cube"
	FieldDensCube = "dens_cube"
	FieldXYData   = "xy_data"
)

// ParseError is returned when the output stream ended without reporting
// every field of a Result. RawLines carries the full stream for diagnosis.
type ParseError struct {
	Variant  Variant
	Missing  []string
	RawLines []string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s output is missing %s", e.Variant, strings.Join(e.Missing, ", "))
}

// Parser extracts a Result from one dialect of NCIPlot output.
type Parser interface {
	Parse(r io.Reader) (*Result, error)
}

// ForVariant returns the parser for v.
func ForVariant(v Variant) Parser {
	if v == CUDA {
		return cudaParser{}
	}
	return cpuParser{}
}

// Parse reads r to EOF and extracts a Result using the rules of variant v.
func Parse(r io.Reader, v Variant) (*Result, error) {
	return ForVariant(v).Parse(r)
}

// maxLineSize bounds a single output line. NCIPlot never prints anything
// close to this, but echoed geometry paths can be long.
const maxLineSize = 1 << 20

// fields tracks which Result fields have been seen.
type fields struct {
	res Result

	rho, rdg, gradCube, densCube, xyData bool
}

func (f *fields) setRho(v float64)     { f.res.Rho, f.rho = v, true }
func (f *fields) setRDG(v float64)     { f.res.RDG, f.rdg = v, true }
func (f *fields) setGradCube(p string) { f.res.GradCube, f.gradCube = p, true }
func (f *fields) setDensCube(p string) { f.res.DensCube, f.densCube = p, true }
func (f *fields) setXYData(p string)   { f.res.XYData, f.xyData = p, true }

func (f *fields) result(v Variant) (*Result, error) {
	var missing []string
	if !f.rho {
		missing = append(missing, FieldRho)
	}
	if !f.rdg {
		missing = append(missing, FieldRDG)
	}
	if !f.gradCube {
		missing = append(missing, FieldGradCube)
	}
	if !f.densCube {
		missing = append(missing, FieldDensCube)
	}
	if !f.xyData {
		missing = append(missing, FieldXYData)
	}
	if len(missing) > 0 {
		return nil, &ParseError{Variant: v, Missing: missing, RawLines: f.res.RawLines}
	}
	res := f.res
	return &res, nil
}

// scanLines calls fn for every line of r, recording each one verbatim.
func (f *fields) scanLines(r io.Reader, fn func(line string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		f.res.RawLines = append(f.res.RawLines, line)
		fn(line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading output: %w", err)
	}
	return nil
}

// afterLast returns the trimmed text after the last sep in s.
func afterLast(s, sep string) string {
	return strings.TrimSpace(s[strings.LastIndex(s, sep)+1:])
}

// afterFirst returns the text after the first sep in s, or "" if absent.
func afterFirst(s, sep string) string {
	_, after, ok := strings.Cut(s, sep)
	if !ok {
		return ""
	}
	return after
}

// floatField parses the idx-th whitespace-separated token of s.
// A negative idx counts from the end.
func floatField(s string, idx int) (float64, bool) {
	toks := strings.Fields(s)
	if idx < 0 {
		idx += len(toks)
	}
	if idx < 0 || idx >= len(toks) {
		return 0, false
	}
	v, err := strconv.ParseFloat(toks[idx], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
