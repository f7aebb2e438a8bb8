// Package reduce collapses a scene collection into one raster per band.
//
// All scenes of a collection must share CRS and pixel size. Their footprints
// are merged into a single mosaic grid and every mosaic pixel is reduced over
// the scenes holding a valid observation there. Values are scaled to physical
// units before reduction and sorted before any statistic is taken, so the
// output is identical whatever the scene order.
package reduce

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/terrascope/geometry"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/catalog"
)

// Kind selects the per-pixel statistic.
type Kind string

const (
	Median Kind = "median"
	Mean   Kind = "mean"
	Min    Kind = "min"
	Max    Kind = "max"
	// First keeps the observation of the earliest scene, ties broken by
	// scene ID.
	First Kind = "first"
)

// ErrEmptyCollection is returned when Reduce is handed no scene; callers
// must stop at the selector's EmptySelectionError instead.
var ErrEmptyCollection = errors.New("reduce: empty collection")

// ParseKind accepts the names above; the empty string means Median.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return Median, nil
	case Median, Mean, Min, Max, First:
		return k, nil
	}
	return "", fmt.Errorf("unknown reducer %q", s)
}

// Reduce computes one raster per name in bands, in that order, each named
// after its native band.
func Reduce(ctx context.Context, scenes []catalog.Scene, bands []string, kind Kind) ([]*band.Raster, error) {
	if len(scenes) == 0 {
		return nil, ErrEmptyCollection
	}
	kind, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}

	ordered := make([]catalog.Scene, len(scenes))
	copy(ordered, scenes)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	mosaic, offsets, err := mosaicGrid(ordered)
	if err != nil {
		return nil, err
	}
	for _, sc := range ordered {
		if sc.Mask != nil && len(sc.Mask) != sc.Grid.Width*sc.Grid.Height {
			return nil, fmt.Errorf("scene %s: mask has %d entries for a %dx%d grid", sc.ID, len(sc.Mask), sc.Grid.Width, sc.Grid.Height)
		}
		for _, name := range bands {
			b, ok := sc.Bands[name]
			if !ok {
				return nil, &catalog.UnknownBandError{Band: name, Scene: sc.ID}
			}
			if len(b.Raw) != sc.Grid.Width*sc.Grid.Height {
				return nil, fmt.Errorf("scene %s band %s: %d values for a %dx%d grid", sc.ID, name, len(b.Raw), sc.Grid.Width, sc.Grid.Height)
			}
		}
	}

	out := make([]*band.Raster, len(bands))
	for i, name := range bands {
		r := band.New(name, mosaic)
		if err := reduceBand(ctx, ordered, offsets, name, kind, r); err != nil {
			return nil, err
		}
		r.UpdateRange()
		out[i] = r
	}
	return out, nil
}

type offset struct{ col, row int }

// mosaicGrid merges the scene footprints into one grid on their common
// lattice and returns each scene's top-left position in it.
func mosaicGrid(scenes []catalog.Scene) (band.Grid, []offset, error) {
	ref := scenes[0].Grid
	minX, minY := ref.Bounds.Min.X, ref.Bounds.Min.Y
	maxX, maxY := ref.Bounds.Max.X, ref.Bounds.Max.Y
	for _, sc := range scenes[1:] {
		g := sc.Grid
		if g.CRS != ref.CRS {
			return band.Grid{}, nil, fmt.Errorf("scene %s is in %s, collection is in %s", sc.ID, g.CRS, ref.CRS)
		}
		if math.Abs(g.Res-ref.Res) > 1e-9*ref.Res {
			return band.Grid{}, nil, fmt.Errorf("scene %s has pixel size %g, collection has %g", sc.ID, g.Res, ref.Res)
		}
		if !onLattice(g.Bounds.Min.X-ref.Bounds.Min.X, ref.Res) || !onLattice(ref.Bounds.Max.Y-g.Bounds.Max.Y, ref.Res) {
			return band.Grid{}, nil, fmt.Errorf("scene %s origin (%g, %g) is not a whole number of %g pixels from scene %s origin (%g, %g)",
				sc.ID, g.Bounds.Min.X, g.Bounds.Max.Y, ref.Res, scenes[0].ID, ref.Bounds.Min.X, ref.Bounds.Max.Y)
		}
		minX, minY = math.Min(minX, g.Bounds.Min.X), math.Min(minY, g.Bounds.Min.Y)
		maxX, maxY = math.Max(maxX, g.Bounds.Max.X), math.Max(maxY, g.Bounds.Max.Y)
	}

	res := ref.Res
	w := int(math.Round((maxX - minX) / res))
	h := int(math.Round((maxY - minY) / res))
	mosaic := band.Grid{
		CRS:    ref.CRS,
		Scale:  ref.Scale,
		Res:    res,
		Bounds: geometry.BBox(minX, maxY-float64(h)*res, minX+float64(w)*res, maxY),
		Width:  w,
		Height: h,
	}

	offsets := make([]offset, len(scenes))
	for i, sc := range scenes {
		offsets[i] = offset{
			col: int(math.Round((sc.Grid.Bounds.Min.X - minX) / res)),
			row: int(math.Round((maxY - sc.Grid.Bounds.Max.Y) / res)),
		}
	}
	return mosaic, offsets, nil
}

// latticeEps is the tolerance, in pixels, for two origins to share a lattice.
const latticeEps = 1e-6

func onLattice(d, res float64) bool {
	n := d / res
	return math.Abs(n-math.Round(n)) < latticeEps
}

// reduceBand splits the mosaic rows across workers; pixels are independent.
func reduceBand(ctx context.Context, scenes []catalog.Scene, offsets []offset, name string, kind Kind, out *band.Raster) error {
	h := out.Grid.Height
	workers := min(runtime.NumCPU(), h)
	chunk := (h + workers - 1) / workers

	var wg sync.WaitGroup
	for r0 := 0; r0 < h; r0 += chunk {
		r1 := min(r0+chunk, h)
		wg.Add(1)
		go func(r0, r1 int) {
			defer wg.Done()
			vals := make([]float64, 0, len(scenes))
			for row := r0; row < r1; row++ {
				if ctx.Err() != nil {
					return
				}
				for col := 0; col < out.Grid.Width; col++ {
					vals = vals[:0]
					for i := range scenes {
						sc := &scenes[i]
						c, r := col-offsets[i].col, row-offsets[i].row
						if c < 0 || r < 0 || c >= sc.Grid.Width || r >= sc.Grid.Height {
							continue
						}
						b := sc.Bands[name]
						idx := r*sc.Grid.Width + c
						if !sc.Valid(b, idx) {
							continue
						}
						vals = append(vals, b.Physical(b.Raw[idx]))
						if kind == First {
							break
						}
					}
					if len(vals) > 0 {
						out.Set(col, row, band.Value(statistic(kind, vals)))
					}
				}
			}
		}(r0, r1)
	}
	wg.Wait()
	return ctx.Err()
}

// statistic reduces a non-empty slice; it sorts vals in place.
func statistic(kind Kind, vals []float64) float64 {
	if kind == First {
		return vals[0]
	}
	sort.Float64s(vals)
	n := len(vals)
	switch kind {
	case Min:
		return vals[0]
	case Max:
		return vals[n-1]
	case Mean:
		var s float64
		for _, v := range vals {
			s += v
		}
		return s / float64(n)
	default:
		if n%2 == 1 {
			return vals[n/2]
		}
		return (vals[n/2-1] + vals[n/2]) / 2
	}
}
