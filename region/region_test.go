package region

import (
	"errors"
	"testing"
	"time"

	"github.com/terrascope/geometry"
)

func TestRectangle(t *testing.T) {
	r, err := Rectangle(73.7, 18.4, 74.0, 18.7)
	if err != nil {
		t.Fatalf("Rectangle: %v", err)
	}
	b := r.Bounds()
	if b.Min.X != 73.7 || b.Min.Y != 18.4 || b.Max.X != 74.0 || b.Max.Y != 18.7 {
		t.Fatalf("unexpected bounds %+v", b)
	}
	if len(r.Vertices()) != 4 {
		t.Fatalf("expected 4 vertices, got %d", len(r.Vertices()))
	}
	if a := r.Area(); a < 0.0899 || a > 0.0901 {
		t.Fatalf("unexpected area %g", a)
	}
}

func TestNewRejectsMalformedPolygons(t *testing.T) {
	cases := []struct {
		name string
		pts  []geometry.Point
	}{
		{"empty", nil},
		{"two vertices", []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}},
		{"collinear", []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}},
		{"bow tie", []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 1}}},
		{"repeated vertex", []geometry.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}, {X: 0, Y: 1}}},
		{"out of range", []geometry.Point{{X: 0, Y: 0}, {X: 200, Y: 0}, {X: 0, Y: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.pts)
			var ire *InvalidRegionError
			if !errors.As(err, &ire) {
				t.Fatalf("expected InvalidRegionError, got %v", err)
			}
			if !errors.Is(err, ErrInvalidRegion) {
				t.Fatalf("expected ErrInvalidRegion kind, got %v", err)
			}
		})
	}
}

func TestRectangleRejectsEmpty(t *testing.T) {
	if _, err := Rectangle(74.0, 18.4, 73.7, 18.7); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected invalid region, got %v", err)
	}
	if _, err := Rectangle(73.7, 18.4, 74.0, 18.4); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected invalid region, got %v", err)
	}
}

func TestClosedRingAccepted(t *testing.T) {
	r, err := New([]geometry.Point{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 1, Y: 2}, {X: 0, Y: 0}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(r.Vertices()) != 3 {
		t.Fatalf("closing vertex should be dropped, got %d vertices", len(r.Vertices()))
	}
}

func TestVerticesIsACopy(t *testing.T) {
	r, _ := Rectangle(0, 0, 1, 1)
	v := r.Vertices()
	v[0].X = 50
	if r.Vertices()[0].X != 0 {
		t.Fatal("mutating Vertices result changed the region")
	}
}

func TestContains(t *testing.T) {
	// L-shaped polygon
	r, err := New([]geometry.Point{{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 2}, {X: 0, Y: 2}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := []struct {
		x, y float64
		want bool
	}{
		{0.5, 0.5, true},
		{1.5, 0.5, true},
		{0.5, 1.5, true},
		{1.5, 1.5, false},
		{-0.1, 0.5, false},
		{0, 0.5, true},
		{2, 0.5, false},
	}
	for _, tc := range cases {
		if got := r.Contains(tc.x, tc.y); got != tc.want {
			t.Errorf("Contains(%g, %g) = %v, want %v", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestDateRange(t *testing.T) {
	d, err := ParseDateRange("2016-01-01", "2016-12-31")
	if err != nil {
		t.Fatalf("ParseDateRange: %v", err)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	in := time.Date(2016, 6, 1, 10, 0, 0, 0, time.UTC)
	if !d.Contains(in) {
		t.Fatal("mid-year date should be contained")
	}
	if !d.Contains(d.Start) {
		t.Fatal("start is inclusive")
	}
	if d.Contains(d.End) {
		t.Fatal("end is exclusive")
	}
	if d.String() != "2016-01-01..2016-12-31" {
		t.Fatalf("unexpected String %q", d.String())
	}
}

func TestDateRangeRejectsInverted(t *testing.T) {
	for _, tc := range [][2]string{
		{"2016-12-31", "2016-01-01"},
		{"2016-01-01", "2016-01-01"},
		{"2016-13-01", "2016-12-31"},
	} {
		if _, err := ParseDateRange(tc[0], tc[1]); !errors.Is(err, ErrInvalidRegion) {
			t.Errorf("ParseDateRange(%s, %s): expected invalid region, got %v", tc[0], tc[1], err)
		}
	}
	if err := (DateRange{}).Validate(); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("zero range should be invalid, got %v", err)
	}
}

func TestIntersectsBox(t *testing.T) {
	tri, err := New([]geometry.Point{{X: 73.7, Y: 18.4}, {X: 74.0, Y: 18.4}, {X: 73.7, Y: 18.7}})
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		name string
		box  geometry.BoundingBox
		want bool
	}{
		{"holds a vertex", geometry.BBox(73.65, 18.35, 73.75, 18.45), true},
		{"inside the polygon", geometry.BBox(73.75, 18.45, 73.8, 18.5), true},
		{"contains the polygon", geometry.BBox(73, 18, 75, 19), true},
		{"crosses the hypotenuse", geometry.BBox(73.8, 18.55, 74.2, 18.65), true},
		{"opposite corner", geometry.BBox(73.9, 18.6, 74.0, 18.7), false},
		{"outside the bounds", geometry.BBox(74.1, 18.4, 74.2, 18.5), false},
		{"touching the bounds", geometry.BBox(74.0, 18.4, 74.1, 18.5), false},
	} {
		if got := tri.IntersectsBox(tc.box); got != tc.want {
			t.Errorf("%s: IntersectsBox(%v) = %v, want %v", tc.name, tc.box, got, tc.want)
		}
	}
}
