package band

import (
	"math"
	"testing"

	"github.com/terrascope/geometry"

	"github.com/prl900/bandstack/crs"
)

func TestNewGridCoversBounds(t *testing.T) {
	g, err := NewGrid("SR-ORG:6974", 30, geometry.BBox(1000, 2000, 1095, 2060))
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	if g.Width != 4 || g.Height != 2 {
		t.Fatalf("expected 4x2, got %dx%d", g.Width, g.Height)
	}
	if g.Bounds.Min.X != 1000 || g.Bounds.Max.Y != 2060 {
		t.Fatalf("grid must be anchored on the top-left corner, got %v", g)
	}
	if g.Bounds.Max.X != 1120 || g.Bounds.Min.Y != 2000 {
		t.Fatalf("unexpected snapped bounds %v", g)
	}
}

func TestNewGridGeographicScale(t *testing.T) {
	g, err := NewGrid(crs.WGS84, 10, geometry.BBox(73.7, 18.4, 74.0, 18.7))
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	if g.Scale != 10 {
		t.Fatalf("scale must be kept in metres, got %g", g.Scale)
	}
	if math.Abs(g.Res-10/crs.MetresPerDegree) > 1e-15 {
		t.Fatalf("unexpected pixel size %g", g.Res)
	}
	if g.Width != 3340 || g.Height != 3340 {
		t.Fatalf("expected 3340x3340, got %dx%d", g.Width, g.Height)
	}
}

func TestNewGridRejectsBadInput(t *testing.T) {
	if _, err := NewGrid("EPSG:9999", 10, geometry.BBox(0, 0, 1, 1)); err == nil {
		t.Fatal("expected unsupported CRS error")
	}
	if _, err := NewGrid(crs.WGS84, 0, geometry.BBox(0, 0, 1, 1)); err == nil {
		t.Fatal("expected invalid scale error")
	}
	if _, err := NewGrid(crs.WGS84, 10, geometry.BBox(0, 0, 0, 1)); err == nil {
		t.Fatal("expected empty footprint error")
	}
}

func TestFromGeoTransform(t *testing.T) {
	g, err := FromGeoTransform("SR-ORG:6974", 0, []float64{500000, 10, 0, 2000000, 0, -10}, 3, 2)
	if err != nil {
		t.Fatalf("FromGeoTransform: %v", err)
	}
	if g.Scale != 10 || g.Res != 10 {
		t.Fatalf("unexpected scale/res %g/%g", g.Scale, g.Res)
	}
	if g.Bounds.Min.X != 500000 || g.Bounds.Max.X != 500030 || g.Bounds.Min.Y != 1999980 || g.Bounds.Max.Y != 2000000 {
		t.Fatalf("unexpected bounds %v", g)
	}

	for _, gt := range [][]float64{
		{0, 10, 0, 0, 0},
		{0, 10, 1, 0, 0, -10},
		{0, 10, 0, 0, 0, 10},
		{0, 10, 0, 0, 0, -20},
	} {
		if _, err := FromGeoTransform("SR-ORG:6974", 0, gt, 3, 2); err == nil {
			t.Errorf("expected error for geotransform %v", gt)
		}
	}
}

func TestCenterLocateRoundTrip(t *testing.T) {
	g, _ := NewGrid(crs.WGS84, 1000, geometry.BBox(73.7, 18.4, 74.0, 18.7))
	for _, p := range [][2]int{{0, 0}, {3, 7}, {g.Width - 1, g.Height - 1}} {
		x, y := g.Center(p[0], p[1])
		c, r := g.Locate(x, y)
		if c != float64(p[0]) || r != float64(p[1]) {
			t.Errorf("Locate(Center(%d, %d)) = (%g, %g)", p[0], p[1], c, r)
		}
	}
}

func TestGridEqual(t *testing.T) {
	a, _ := NewGrid(crs.WGS84, 10, geometry.BBox(73.7, 18.4, 74.0, 18.7))
	b, _ := NewGrid(crs.WGS84, 10, geometry.BBox(73.7, 18.4, 74.0, 18.7))
	if !a.Equal(b) {
		t.Fatal("identical grids must be equal")
	}
	c, _ := NewGrid(crs.WGS84, 20, geometry.BBox(73.7, 18.4, 74.0, 18.7))
	if a.Equal(c) {
		t.Fatal("grids with different scale must differ")
	}
}

func TestNewRasterIsNoData(t *testing.T) {
	g, _ := NewGrid("SR-ORG:6974", 10, geometry.BBox(0, 0, 30, 20))
	r := New("B2", g)
	if err := r.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if r.Valid() != 0 {
		t.Fatalf("fresh raster should be all no-data, %d valid", r.Valid())
	}
	r.Set(2, 1, 7)
	if r.At(2, 1) != 7 || r.Valid() != 1 {
		t.Fatal("Set/At mismatch")
	}
	r.UpdateRange()
	if r.Image.Min != 7 || r.Image.Max != 7 {
		t.Fatalf("unexpected range %g..%g", r.Image.Min, r.Image.Max)
	}
}

func TestFromValuesChecksSize(t *testing.T) {
	g, _ := NewGrid("SR-ORG:6974", 10, geometry.BBox(0, 0, 30, 20))
	if _, err := FromValues("x", g, make([]float32, 5)); err == nil {
		t.Fatal("expected size mismatch error")
	}
	r, err := FromValues("x", g, []float32{1, 2, 3, NoData, 5, 6})
	if err != nil {
		t.Fatalf("FromValues: %v", err)
	}
	if r.Image.Min != 1 || r.Image.Max != 6 {
		t.Fatalf("unexpected range %g..%g", r.Image.Min, r.Image.Max)
	}
}

func TestValueAvoidsNoData(t *testing.T) {
	if v := Value(-9999); v == NoData || v < -9999 || v > -9998.99 {
		t.Fatalf("Value(-9999) = %v", v)
	}
	if v := Value(12.5); v != 12.5 {
		t.Fatalf("Value(12.5) = %v", v)
	}
}
