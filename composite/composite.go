// Package composite stacks harmonized bands into one multi-band raster with
// a fixed band schema. It never alters pixel values.
package composite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prl900/bandstack/band"
)

// Schema is the ordered list of canonical band names a composite exposes.
type Schema []string

// DefaultSchema is the band layout downstream consumers rely on. Names and
// order must not change.
var DefaultSchema = Schema{"Blue", "Green", "Red", "NIR", "SWIR1", "SWIR2", "Thermal", "DEM"}

// Validate rejects empty schemas and repeated or blank names.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.New("empty band schema")
	}
	seen := make(map[string]bool, len(s))
	for _, name := range s {
		if name == "" {
			return errors.New("blank band name in schema")
		}
		if seen[name] {
			return fmt.Errorf("band %q repeated in schema", name)
		}
		seen[name] = true
	}
	return nil
}

// ErrSchemaMismatch is the kind of every SchemaMismatchError.
var ErrSchemaMismatch = errors.New("schema mismatch")

// SchemaMismatchError lists every band that keeps a set of rasters from
// forming a composite.
type SchemaMismatchError struct {
	Missing    []string
	Duplicate  []string
	Extra      []string
	Misaligned []string
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	for _, p := range []struct {
		label string
		names []string
	}{
		{"missing", e.Missing},
		{"duplicate", e.Duplicate},
		{"extra", e.Extra},
		{"misaligned", e.Misaligned},
	} {
		if len(p.names) > 0 {
			parts = append(parts, p.label+" "+strings.Join(p.names, ", "))
		}
	}
	return fmt.Sprintf("%s: %s", ErrSchemaMismatch, strings.Join(parts, "; "))
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

func (e *SchemaMismatchError) empty() bool {
	return len(e.Missing) == 0 && len(e.Duplicate) == 0 && len(e.Extra) == 0 && len(e.Misaligned) == 0
}

// Composite is an ordered stack of bands sharing one grid.
type Composite struct {
	schema Schema
	bands  []*band.Raster
	grid   band.Grid
}

// Compose checks that bands hold every schema name exactly once, nothing
// else, all on one grid, and returns them in schema order.
func Compose(bands []*band.Raster, schema Schema) (*Composite, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	byName := make(map[string][]*band.Raster, len(bands))
	var order []string
	for _, b := range bands {
		if b == nil {
			continue
		}
		if _, ok := byName[b.Name]; !ok {
			order = append(order, b.Name)
		}
		byName[b.Name] = append(byName[b.Name], b)
	}

	mismatch := &SchemaMismatchError{}
	inSchema := make(map[string]bool, len(schema))
	for _, name := range schema {
		inSchema[name] = true
		switch n := len(byName[name]); {
		case n == 0:
			mismatch.Missing = append(mismatch.Missing, name)
		case n > 1:
			mismatch.Duplicate = append(mismatch.Duplicate, name)
		}
	}
	for _, name := range order {
		if !inSchema[name] {
			mismatch.Extra = append(mismatch.Extra, name)
		}
	}

	c := &Composite{schema: append(Schema(nil), schema...)}
	var ref *band.Raster
	for _, name := range schema {
		rs := byName[name]
		if len(rs) != 1 {
			continue
		}
		b := rs[0]
		if ref == nil {
			ref = b
		}
		if b.Check() != nil || !b.Grid.Equal(ref.Grid) {
			mismatch.Misaligned = append(mismatch.Misaligned, name)
		}
		c.bands = append(c.bands, b)
	}

	if !mismatch.empty() {
		return nil, mismatch
	}
	c.grid = ref.Grid
	return c, nil
}

// Names returns the band names in order.
func (c *Composite) Names() []string {
	return append([]string(nil), c.schema...)
}

// Bands returns the rasters in schema order.
func (c *Composite) Bands() []*band.Raster {
	return append([]*band.Raster(nil), c.bands...)
}

// Band looks a raster up by canonical name.
func (c *Composite) Band(name string) (*band.Raster, bool) {
	for _, b := range c.bands {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// Grid is the grid shared by every band.
func (c *Composite) Grid() band.Grid {
	return c.grid
}

// Len is the number of bands.
func (c *Composite) Len() int {
	return len(c.bands)
}
