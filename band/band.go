// Package band defines the single-band float raster that flows between the
// reducer, the harmonizer and the compositor, and the pixel grid it lives on.
package band

import (
	"fmt"
	"image"
	"math"

	"github.com/terrascope/geometry"
	"github.com/terrascope/raster"
	"github.com/terrascope/scimage"

	"github.com/prl900/bandstack/crs"
)

// NoData marks a pixel without any valid observation. The value is
// reserved: a computed pixel equal to it is stored through Value.
const NoData float32 = -9999

// Value narrows a computed pixel value to float32. A result that lands on
// NoData is moved one float32 step towards zero so it stays valid.
func Value(v float64) float32 {
	f := float32(v)
	if f == NoData {
		return math.Nextafter32(f, 0)
	}
	return f
}

// snapEps absorbs floating point noise when a bound is a whole number of
// pixels away from the grid origin.
const snapEps = 1e-9

// Grid is a north-up pixel lattice: CRS, ground sample distance, pixel size
// in CRS units and the snapped footprint. Two rasters can be stacked only
// when their grids are Equal.
type Grid struct {
	CRS    string
	Scale  float64
	Res    float64
	Bounds geometry.BoundingBox
	Width  int
	Height int
}

// NewGrid lays a grid of scale metres over bounds (in CRS units). The grid
// is anchored on the top-left corner and grows right and down to cover
// bounds completely.
func NewGrid(code string, scale float64, bounds geometry.BoundingBox) (Grid, error) {
	if _, err := crs.Proj4(code); err != nil {
		return Grid{}, err
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		return Grid{}, fmt.Errorf("invalid scale %g", scale)
	}
	res := scale * crs.UnitsPerMetre(code)
	w := cells(bounds.Max.X-bounds.Min.X, res)
	h := cells(bounds.Max.Y-bounds.Min.Y, res)
	if w <= 0 || h <= 0 {
		return Grid{}, fmt.Errorf("empty footprint %v", bounds)
	}
	x0, y1 := bounds.Min.X, bounds.Max.Y
	return Grid{
		CRS:    code,
		Scale:  scale,
		Res:    res,
		Bounds: geometry.BBox(x0, y1-float64(h)*res, x0+float64(w)*res, y1),
		Width:  w,
		Height: h,
	}, nil
}

func cells(extent, res float64) int {
	n := extent / res
	if r := math.Round(n); math.Abs(n-r) < snapEps*math.Max(1, r) {
		return int(r)
	}
	return int(math.Ceil(n))
}

// FromGeoTransform builds the grid of a scene from its GDAL-style affine
// geotransform [x0, dx, 0, y0, 0, dy]. Only north-up square pixels are
// supported.
func FromGeoTransform(code string, scale float64, gt []float64, width, height int) (Grid, error) {
	if len(gt) != 6 {
		return Grid{}, fmt.Errorf("geotransform needs 6 coefficients, got %d", len(gt))
	}
	if gt[2] != 0 || gt[4] != 0 {
		return Grid{}, fmt.Errorf("rotated geotransform %v is not supported", gt)
	}
	if !(gt[1] > 0) || !(gt[5] < 0) || math.Abs(gt[1]+gt[5]) > snapEps*gt[1] {
		return Grid{}, fmt.Errorf("geotransform %v does not describe north-up square pixels", gt)
	}
	if width <= 0 || height <= 0 {
		return Grid{}, fmt.Errorf("invalid raster size %dx%d", width, height)
	}
	if _, err := crs.Proj4(code); err != nil {
		return Grid{}, err
	}
	res := gt[1]
	if scale <= 0 {
		scale = res / crs.UnitsPerMetre(code)
	}
	return Grid{
		CRS:    code,
		Scale:  scale,
		Res:    res,
		Bounds: geometry.BBox(gt[0], gt[3]-float64(height)*res, gt[0]+float64(width)*res, gt[3]),
		Width:  width,
		Height: height,
	}, nil
}

// Equal is bit-for-bit equality of every grid parameter.
func (g Grid) Equal(o Grid) bool {
	return g.CRS == o.CRS && g.Scale == o.Scale && g.Res == o.Res &&
		g.Width == o.Width && g.Height == o.Height &&
		g.Bounds.Min == o.Bounds.Min && g.Bounds.Max == o.Bounds.Max
}

// PixelCount is Width*Height.
func (g Grid) PixelCount() int64 {
	return int64(g.Width) * int64(g.Height)
}

// Center returns the CRS coordinates of the centre of pixel (col, row).
func (g Grid) Center(col, row int) (float64, float64) {
	return g.Bounds.Min.X + (float64(col)+0.5)*g.Res, g.Bounds.Max.Y - (float64(row)+0.5)*g.Res
}

// Locate maps CRS coordinates to fractional pixel coordinates, where whole
// numbers fall on pixel centres.
func (g Grid) Locate(x, y float64) (float64, float64) {
	return snap((x-g.Bounds.Min.X)/g.Res - 0.5), snap((g.Bounds.Max.Y-y)/g.Res - 0.5)
}

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEps {
		return r
	}
	return v
}

// LonLatBounds returns the footprint in WGS84 degrees.
func (g Grid) LonLatBounds() (geometry.BoundingBox, error) {
	return crs.TransformBounds(g.CRS, crs.WGS84, g.Bounds)
}

func (g Grid) String() string {
	return fmt.Sprintf("%s %gm %dx%d [%g %g %g %g]", g.CRS, g.Scale, g.Width, g.Height,
		g.Bounds.Min.X, g.Bounds.Min.Y, g.Bounds.Max.X, g.Bounds.Max.Y)
}

// Raster is one named float32 band on a Grid.
type Raster struct {
	Name  string
	Grid  Grid
	Image *scimage.GrayF32
}

// New allocates a raster filled with NoData.
func New(name string, g Grid) *Raster {
	pix := make([]float32, g.Width*g.Height)
	for i := range pix {
		pix[i] = NoData
	}
	return &Raster{
		Name:  name,
		Grid:  g,
		Image: &scimage.GrayF32{Pix: pix, Stride: g.Width, Rect: image.Rect(0, 0, g.Width, g.Height), NoData: NoData},
	}
}

// FromValues wraps pix, which must hold Width*Height values row-major.
func FromValues(name string, g Grid, pix []float32) (*Raster, error) {
	if len(pix) != g.Width*g.Height {
		return nil, fmt.Errorf("band %s: %d values for a %dx%d grid", name, len(pix), g.Width, g.Height)
	}
	r := &Raster{
		Name:  name,
		Grid:  g,
		Image: &scimage.GrayF32{Pix: pix, Stride: g.Width, Rect: image.Rect(0, 0, g.Width, g.Height), NoData: NoData},
	}
	r.UpdateRange()
	return r, nil
}

// At returns the value of pixel (col, row).
func (r *Raster) At(col, row int) float32 {
	return r.Image.Pix[row*r.Image.Stride+col]
}

// Set stores v at pixel (col, row).
func (r *Raster) Set(col, row int, v float32) {
	r.Image.Pix[row*r.Image.Stride+col] = v
}

// Valid counts the pixels holding data.
func (r *Raster) Valid() int {
	n := 0
	for _, v := range r.Image.Pix {
		if v != NoData {
			n++
		}
	}
	return n
}

// UpdateRange sets the image Min/Max to the range of valid values.
func (r *Raster) UpdateRange() {
	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, v := range r.Image.Pix {
		if v == NoData {
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if lo > hi {
		lo, hi = 0, 0
	}
	r.Image.Min, r.Image.Max = lo, hi
}

// Check asserts that the pixel buffer matches the grid.
func (r *Raster) Check() error {
	if r.Image == nil {
		return fmt.Errorf("band %s has no pixels", r.Name)
	}
	if r.Image.Stride != r.Grid.Width || len(r.Image.Pix) != r.Grid.Width*r.Grid.Height {
		return fmt.Errorf("band %s: %d pixels with stride %d do not fit grid %dx%d",
			r.Name, len(r.Image.Pix), r.Image.Stride, r.Grid.Width, r.Grid.Height)
	}
	return nil
}

// Georef exposes the band as a georeferenced terrascope raster.
func (r *Raster) Georef() (*raster.Raster, error) {
	cov, err := crs.Coverage(r.Grid.CRS, r.Grid.Bounds)
	if err != nil {
		return nil, err
	}
	return &raster.Raster{Image: r.Image, Coverage: cov}, nil
}
