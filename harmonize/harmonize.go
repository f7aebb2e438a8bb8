// Package harmonize puts rasters from different sources on one pixel grid.
//
// The target grid is derived once from the region, the target CRS and the
// target scale, and every band of every source is resampled onto it, clipped
// to the region polygon and renamed to its canonical name. Pixels outside the
// region or the source footprint are no-data. The resampling method is an
// explicit per-band policy: nearest for categorical bands, bilinear for
// continuous physical quantities unless configured otherwise.
package harmonize

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/terrascope/geometry"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/crs"
	"github.com/prl900/bandstack/region"
)

// Method is a resampling method.
type Method string

const (
	Nearest  Method = "nearest"
	Bilinear Method = "bilinear"
)

// Kind tells continuous quantities from categorical ones.
type Kind string

const (
	Continuous  Kind = "continuous"
	Categorical Kind = "categorical"
)

// DefaultMethod is the resampling used when a band has no explicit policy.
func DefaultMethod(k Kind) Method {
	if k == Categorical {
		return Nearest
	}
	return Bilinear
}

// ParseMethod accepts "nearest" and "bilinear"; the empty string yields
// the default for kind.
func ParseMethod(s string, kind Kind) (Method, error) {
	switch m := Method(s); m {
	case "":
		return DefaultMethod(kind), nil
	case Nearest, Bilinear:
		return m, nil
	}
	return "", fmt.Errorf("unknown resampling method %q", s)
}

// Policy is the resampling choice for one canonical band.
type Policy struct {
	Kind   Kind
	Method Method
}

// TargetGrid lays a grid of scale metres in code over the region bounds.
func TargetGrid(r *region.Region, code string, scale float64) (band.Grid, error) {
	bounds, err := crs.TransformBounds(crs.WGS84, code, r.Bounds())
	if err != nil {
		return band.Grid{}, err
	}
	return band.NewGrid(code, scale, bounds)
}

// Harmonize resamples src onto target, masks pixels whose centre falls
// outside clip, and names the result name. The source raster is untouched.
func Harmonize(ctx context.Context, src *band.Raster, target band.Grid, clip *region.Region, name string, m Method) (*band.Raster, error) {
	if err := src.Check(); err != nil {
		return nil, err
	}
	var sample func(src *band.Raster, x, y float64) float32
	switch m {
	case Nearest:
		sample = nearest
	case Bilinear:
		sample = bilinear
	default:
		return nil, fmt.Errorf("unknown resampling method %q", m)
	}

	out := band.New(name, target)
	h := target.Height
	workers := min(runtime.NumCPU(), h)
	chunk := (h + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w, r0 := 0, 0; r0 < h; w, r0 = w+1, r0+chunk {
		wg.Add(1)
		go func(w, r0, r1 int) {
			defer wg.Done()
			errs[w] = harmonizeRows(ctx, src, out, clip, sample, r0, r1)
		}(w, r0, min(r0+chunk, h))
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	out.UpdateRange()
	return out, nil
}

func harmonizeRows(ctx context.Context, src, out *band.Raster, clip *region.Region, sample func(*band.Raster, float64, float64) float32, r0, r1 int) error {
	g := out.Grid
	centres := make([]geometry.Point, g.Width)
	lonlat := make([]geometry.Point, g.Width)
	for row := r0; row < r1; row++ {
		if ctx.Err() != nil {
			return nil
		}
		for col := range centres {
			x, y := g.Center(col, row)
			centres[col] = geometry.Point{X: x, Y: y}
		}
		copy(lonlat, centres)
		if err := crs.Transform(g.CRS, crs.WGS84, lonlat); err != nil {
			return err
		}
		if err := crs.Transform(g.CRS, src.Grid.CRS, centres); err != nil {
			return err
		}
		for col, p := range centres {
			if clip != nil && !clip.Contains(lonlat[col].X, lonlat[col].Y) {
				continue
			}
			out.Set(col, row, sample(src, p.X, p.Y))
		}
	}
	return nil
}

func inside(g band.Grid, x, y float64) bool {
	return x >= g.Bounds.Min.X && x < g.Bounds.Max.X && y > g.Bounds.Min.Y && y <= g.Bounds.Max.Y
}

func nearest(src *band.Raster, x, y float64) float32 {
	g := src.Grid
	if !inside(g, x, y) {
		return band.NoData
	}
	col := int(math.Floor((x - g.Bounds.Min.X) / g.Res))
	row := int(math.Floor((g.Bounds.Max.Y - y) / g.Res))
	col = min(max(col, 0), g.Width-1)
	row = min(max(row, 0), g.Height-1)
	return src.At(col, row)
}

// bilinear interpolates between the four surrounding pixel centres, clamped
// at the raster edge. A no-data neighbour with non-zero weight makes the
// result no-data, so values are never invented next to gaps.
func bilinear(src *band.Raster, x, y float64) float32 {
	g := src.Grid
	if !inside(g, x, y) {
		return band.NoData
	}
	fc, fr := g.Locate(x, y)
	c0, r0 := math.Floor(fc), math.Floor(fr)
	tx, ty := fc-c0, fr-r0

	var sum float64
	for _, n := range [4]struct {
		dc, dr int
		w      float64
	}{
		{0, 0, (1 - tx) * (1 - ty)},
		{1, 0, tx * (1 - ty)},
		{0, 1, (1 - tx) * ty},
		{1, 1, tx * ty},
	} {
		if n.w == 0 {
			continue
		}
		col := min(max(int(c0)+n.dc, 0), g.Width-1)
		row := min(max(int(r0)+n.dr, 0), g.Height-1)
		v := src.At(col, row)
		if v == band.NoData {
			return band.NoData
		}
		sum += n.w * float64(v)
	}
	return band.Value(sum)
}
