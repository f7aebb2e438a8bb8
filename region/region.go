// Package region holds the area of interest and the date range every source
// is queried with. Both are immutable once built and shared read-only.
package region

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/terrascope/geometry"
)

// ErrInvalidRegion is the kind of every InvalidRegionError.
var ErrInvalidRegion = errors.New("invalid region")

// InvalidRegionError reports a malformed region or date range. It is
// detected before any catalog is queried and is never retried.
type InvalidRegionError struct {
	Field  string
	Reason string
}

func (e *InvalidRegionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidRegion, e.Field, e.Reason)
}

func (e *InvalidRegionError) Unwrap() error { return ErrInvalidRegion }

func invalid(field, format string, args ...any) error {
	return &InvalidRegionError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Region is a simple closed polygon of WGS84 longitude/latitude vertices.
type Region struct {
	ring   []geometry.Point
	bounds geometry.BoundingBox
}

// New validates pts and builds a Region. The ring may be given open or
// closed; a trailing vertex equal to the first is dropped.
func New(pts []geometry.Point) (*Region, error) {
	ring := make([]geometry.Point, len(pts))
	copy(ring, pts)
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		ring = ring[:n-1]
	}
	if len(ring) < 3 {
		return nil, invalid("region", "polygon needs at least 3 vertices, got %d", len(ring))
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, p := range ring {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return nil, invalid("region", "vertex %d is not finite", i)
		}
		if p.X < -180 || p.X > 180 || p.Y < -90 || p.Y > 90 {
			return nil, invalid("region", "vertex %d (%g, %g) is outside WGS84 bounds", i, p.X, p.Y)
		}
		for j := 0; j < i; j++ {
			if ring[j] == p {
				return nil, invalid("region", "vertex %d repeats vertex %d", i, j)
			}
		}
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	if selfIntersects(ring) {
		return nil, invalid("region", "polygon is self-intersecting")
	}
	if signedArea(ring) == 0 {
		return nil, invalid("region", "polygon has zero area")
	}

	return &Region{ring: ring, bounds: geometry.BBox(minX, minY, maxX, maxY)}, nil
}

// Rectangle builds the four-corner region [x0, y0]-[x1, y1].
func Rectangle(x0, y0, x1, y1 float64) (*Region, error) {
	if !(x0 < x1) || !(y0 < y1) {
		return nil, invalid("region", "rectangle [%g, %g, %g, %g] is empty", x0, y0, x1, y1)
	}
	return New([]geometry.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}})
}

// Vertices returns a copy of the open ring.
func (r *Region) Vertices() []geometry.Point {
	out := make([]geometry.Point, len(r.ring))
	copy(out, r.ring)
	return out
}

// Bounds is the lon/lat bounding box of the polygon.
func (r *Region) Bounds() geometry.BoundingBox {
	return r.bounds
}

// Area is the planar polygon area in square degrees.
func (r *Region) Area() float64 {
	return math.Abs(signedArea(r.ring))
}

// Contains reports whether (lon, lat) lies inside the polygon. Points on
// the western or southern edge count as inside, points on the opposite
// edges do not, so adjacent regions never share a pixel.
func (r *Region) Contains(lon, lat float64) bool {
	in := false
	n := len(r.ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := r.ring[i], r.ring[j]
		if (a.Y > lat) != (b.Y > lat) {
			x := (b.X-a.X)*(lat-a.Y)/(b.Y-a.Y) + a.X
			if lon < x {
				in = !in
			}
		}
	}
	return in
}

// IntersectsBox reports whether the polygon overlaps the lon/lat box b.
// Boxes that only touch the polygon's bounding box do not intersect.
func (r *Region) IntersectsBox(b geometry.BoundingBox) bool {
	rb := r.bounds
	if !(b.Min.X < rb.Max.X && rb.Min.X < b.Max.X && b.Min.Y < rb.Max.Y && rb.Min.Y < b.Max.Y) {
		return false
	}
	for _, p := range r.ring {
		if b.Min.X <= p.X && p.X <= b.Max.X && b.Min.Y <= p.Y && p.Y <= b.Max.Y {
			return true
		}
	}
	corners := []geometry.Point{
		{X: b.Min.X, Y: b.Min.Y}, {X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y}, {X: b.Min.X, Y: b.Max.Y},
	}
	for _, c := range corners {
		if r.Contains(c.X, c.Y) {
			return true
		}
	}
	n := len(r.ring)
	for i := range r.ring {
		a1, a2 := r.ring[i], r.ring[(i+1)%n]
		for j := range corners {
			if segmentsIntersect(a1, a2, corners[j], corners[(j+1)%4]) {
				return true
			}
		}
	}
	return false
}

func (r *Region) String() string {
	return fmt.Sprintf("region[%d vertices, bounds %g,%g,%g,%g]", len(r.ring),
		r.bounds.Min.X, r.bounds.Min.Y, r.bounds.Max.X, r.bounds.Max.Y)
}

func signedArea(ring []geometry.Point) float64 {
	var s float64
	for i := range ring {
		a, b := ring[i], ring[(i+1)%len(ring)]
		s += a.X*b.Y - b.X*a.Y
	}
	return s / 2
}

func selfIntersects(ring []geometry.Point) bool {
	n := len(ring)
	for i := 0; i < n; i++ {
		a1, a2 := ring[i], ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// adjacent edges share a vertex by construction
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := ring[j], ring[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func orient(a, b, c geometry.Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func onSegment(a, b, p geometry.Point) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

func segmentsIntersect(p1, p2, q1, q2 geometry.Point) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

// DateLayout is the calendar date format used in configuration and logs.
const DateLayout = "2006-01-02"

// DateRange is the half-open interval [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange checks start < end.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if !start.Before(end) {
		return DateRange{}, invalid("dates", "start %s is not before end %s",
			start.Format(DateLayout), end.Format(DateLayout))
	}
	return DateRange{Start: start, End: end}, nil
}

// ParseDateRange parses two YYYY-MM-DD dates in UTC.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, invalid("dates", "start %q: %v", start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, invalid("dates", "end %q: %v", end, err)
	}
	return NewDateRange(s, e)
}

// Contains reports whether t falls in [Start, End).
func (d DateRange) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Validate rejects the zero value and inverted ranges.
func (d DateRange) Validate() error {
	if d.Start.IsZero() || d.End.IsZero() {
		return invalid("dates", "date range is not set")
	}
	if !d.Start.Before(d.End) {
		return invalid("dates", "start %s is not before end %s",
			d.Start.Format(DateLayout), d.End.Format(DateLayout))
	}
	return nil
}

func (d DateRange) String() string {
	return d.Start.Format(DateLayout) + ".." + d.End.Format(DateLayout)
}
