// Package catalog selects comparable scenes from an external raster catalog.
//
// A Selector validates the request up front and hands back a Collection whose
// catalog query is deferred: nothing is fetched until Size or Scenes is called
// for the first time, and the answer is memoised from then on. Transient
// catalog failures are retried with exponential backoff; an empty filtered
// result is reported as an EmptySelectionError, never as a catalog fault.
package catalog

import (
	"context"
	"time"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/region"
)

// Catalog is the external scene provider. Search returns the scenes of
// CatalogID that intersect the query region, fall within the date range
// (unless the query is static) and satisfy the predicates, carrying only the
// requested bands. Implementations report transport and auth failures as
// CatalogUnavailableError.
type Catalog interface {
	Search(ctx context.Context, q Query) ([]Scene, error)
}

// Query is one request to a Catalog.
type Query struct {
	// Source is the pipeline source name, used in error reports.
	Source     string
	CatalogID  string
	Region     *region.Region
	Dates      region.DateRange
	Static     bool
	Bands      []string
	Predicates []Predicate
}

// Scene is one capture with its metadata and raw pixels.
type Scene struct {
	ID         string
	Date       time.Time
	Properties map[string]float64
	Grid       band.Grid
	// Mask flags valid pixels row-major; nil means every pixel is valid.
	Mask  []bool
	Bands map[string]*BandData
}

// BandData is one raw band array in the scene's native encoding, widened to
// float32. Physical values are Raw*Scale+Offset.
type BandData struct {
	Raw       []float32
	NoData    float32
	HasNoData bool
	Scale     float64
	Offset    float64
}

// Valid reports whether pixel i holds an observation.
func (s *Scene) Valid(b *BandData, i int) bool {
	if s.Mask != nil && !s.Mask[i] {
		return false
	}
	return !b.HasNoData || b.Raw[i] != b.NoData
}

// Physical applies the band's scale and offset to raw value v. A zero scale
// is treated as 1.
func (b *BandData) Physical(v float32) float64 {
	scale := b.Scale
	if scale == 0 {
		scale = 1
	}
	return float64(v)*scale + b.Offset
}

// Restrict returns a shallow copy of s carrying only bands, or an
// UnknownBandError naming the first band the scene lacks.
func (s Scene) Restrict(catalogID string, bands []string) (Scene, error) {
	out := s
	out.Bands = make(map[string]*BandData, len(bands))
	for _, name := range bands {
		b, ok := s.Bands[name]
		if !ok {
			return Scene{}, &UnknownBandError{CatalogID: catalogID, Band: name, Scene: s.ID}
		}
		out.Bands[name] = b
	}
	return out, nil
}

// Intersects reports whether the scene footprint overlaps the query
// polygon, not just its bounding box.
func (s *Scene) Intersects(r *region.Region) (bool, error) {
	fp, err := s.Grid.LonLatBounds()
	if err != nil {
		return false, err
	}
	return r.IntersectsBox(fp), nil
}

// Matches applies the date range and every predicate of q to the scene
// metadata. It returns the name of the first failing filter.
func (q Query) Matches(s *Scene) (bool, string) {
	if !q.Static && !q.Dates.Contains(s.Date) {
		return false, "date " + q.Dates.String()
	}
	for _, p := range q.Predicates {
		if !p.Test(s.Properties) {
			return false, p.Name
		}
	}
	return true, ""
}

// FilterNames lists the predicate names of q.
func (q Query) FilterNames() []string {
	names := make([]string, len(q.Predicates))
	for i, p := range q.Predicates {
		names[i] = p.Name
	}
	return names
}
