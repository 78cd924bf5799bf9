// Package geometry reads and writes molecular geometries in the XYZ
// format consumed by NCIPlot.
package geometry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// ErrEmpty is returned when a geometry has no atoms.
var ErrEmpty = errors.New("geometry has no atoms")

// Atom is one atomic position in Angstrom. Molecule names the molecule the
// atom belongs to and is only used to label atom selections.
type Atom struct {
	Element  string  `json:"element"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Molecule string  `json:"molecule,omitempty"`
}

// Molecule is a labelled set of atoms.
type Molecule struct {
	Name  string `json:"name"`
	Atoms []Atom `json:"atoms"`
}

// FromAtoms builds a Molecule from a free atom selection. The label is
// the first atom's molecule; the name joins every distinct molecule name
// so temporary files stay recognisable.
func FromAtoms(atoms []Atom) (Molecule, string) {
	if len(atoms) == 0 {
		return Molecule{}, ""
	}
	var names []string
	for _, a := range atoms {
		if a.Molecule != "" && !slices.Contains(names, a.Molecule) {
			names = append(names, a.Molecule)
		}
	}
	slices.Sort(names)
	return Molecule{Name: atoms[0].Molecule, Atoms: atoms}, strings.Join(names, "-")
}

// WriteXYZ writes m to w: the atom count, the molecule name, then one
// "<element> <x> <y> <z>" line per atom.
func WriteXYZ(w io.Writer, m Molecule) error {
	if len(m.Atoms) == 0 {
		return ErrEmpty
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n%s\n", len(m.Atoms), m.Name)
	for _, a := range m.Atoms {
		fmt.Fprintf(bw, "%s %s %s %s\n", a.Element, formatCoord(a.X), formatCoord(a.Y), formatCoord(a.Z))
	}
	return bw.Flush()
}

// WriteTemp writes m to a new file in dir (the system temp dir if empty)
// named "<prefix>__*.xyz" and returns its path. An empty prefix falls
// back to the molecule name.
func WriteTemp(dir, prefix string, m Molecule) (string, error) {
	if prefix == "" {
		prefix = m.Name
	}
	f, err := os.CreateTemp(dir, sanitize(prefix)+"__*.xyz")
	if err != nil {
		return "", fmt.Errorf("creating geometry file: %w", err)
	}
	if err := WriteXYZ(f, m); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}

// ReadXYZ parses an XYZ geometry. Lines after the declared atom count
// are ignored.
func ReadXYZ(r io.Reader) (Molecule, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return Molecule{}, err
		}
		return Molecule{}, ErrEmpty
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil {
		return Molecule{}, fmt.Errorf("line 1: invalid atom count %q", sc.Text())
	}
	if n <= 0 {
		return Molecule{}, ErrEmpty
	}

	var m Molecule
	if sc.Scan() {
		m.Name = strings.TrimSpace(sc.Text())
	}
	for line := 3; len(m.Atoms) < n && sc.Scan(); line++ {
		toks := strings.Fields(sc.Text())
		if len(toks) == 0 {
			continue
		}
		if len(toks) < 4 {
			return Molecule{}, fmt.Errorf("line %d: want element and 3 coordinates, got %q", line, sc.Text())
		}
		a := Atom{Element: toks[0], Molecule: m.Name}
		for i, dst := range []*float64{&a.X, &a.Y, &a.Z} {
			v, err := strconv.ParseFloat(toks[i+1], 64)
			if err != nil {
				return Molecule{}, fmt.Errorf("line %d: invalid coordinate %q", line, toks[i+1])
			}
			*dst = v
		}
		m.Atoms = append(m.Atoms, a)
	}
	if err := sc.Err(); err != nil {
		return Molecule{}, err
	}
	if len(m.Atoms) != n {
		return Molecule{}, fmt.Errorf("declared %d atoms, found %d", n, len(m.Atoms))
	}
	return m, nil
}

// ReadFile parses the XYZ geometry at path.
func ReadFile(path string) (Molecule, error) {
	f, err := os.Open(path)
	if err != nil {
		return Molecule{}, err
	}
	defer f.Close()
	m, err := ReadXYZ(f)
	if err != nil {
		return Molecule{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// sanitize makes name usable as a file name prefix.
func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '*', ':', ' ':
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "molecule"
	}
	return name
}
