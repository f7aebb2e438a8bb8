// Package crs maps EPSG-style codes onto the proj4 definitions understood by
// proj4go and moves points and bounding boxes between them.
package crs

import (
	"fmt"

	"github.com/terrascope/geometry"
	"github.com/terrascope/proj4go"
)

const (
	Geographic  = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"
	WebMercator = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext  +no_defs"
	Sinusoidal  = "+proj=sinu +lon_0=0 +x_0=0 +y_0=0 +a=6371007.181 +b=6371007.181 +units=m +no_defs"

	// WGS84 is the code every region is expressed in.
	WGS84 = "EPSG:4326"

	// MetresPerDegree is the length of one degree of longitude at the
	// equator on the WGS84 ellipsoid. Scales in metres are converted to
	// degrees with it when the target CRS is geographic.
	MetresPerDegree = 111319.49079327357
)

var defs = map[string]string{
	WGS84:         Geographic,
	"EPSG:3857":   WebMercator,
	"SR-ORG:6974": Sinusoidal,
}

// Proj4 returns the proj4 definition for code. Only projections proj4go can
// evaluate are listed; transverse Mercator (UTM) is not among them.
func Proj4(code string) (string, error) {
	if def, ok := defs[code]; ok {
		return def, nil
	}
	return "", fmt.Errorf("unsupported coordinate reference system %q", code)
}

// IsGeographic reports whether code is expressed in degrees.
func IsGeographic(code string) bool {
	return code == WGS84
}

// UnitsPerMetre converts a ground distance in metres into CRS units.
func UnitsPerMetre(code string) float64 {
	if IsGeographic(code) {
		return 1 / MetresPerDegree
	}
	return 1
}

// Transform reprojects pts in place from one CRS to another.
func Transform(from, to string, pts []geometry.Point) error {
	if from == to || len(pts) == 0 {
		return nil
	}
	fromProj, err := Proj4(from)
	if err != nil {
		return err
	}
	toProj, err := Proj4(to)
	if err != nil {
		return err
	}
	if !IsGeographic(from) {
		if err := proj4go.Inverse(fromProj, pts); err != nil {
			return fmt.Errorf("Error reprojecting points from %s: %v", from, err)
		}
	}
	if !IsGeographic(to) {
		if err := proj4go.Forwards(toProj, pts); err != nil {
			return fmt.Errorf("Error reprojecting points to %s: %v", to, err)
		}
	}
	return nil
}

// TransformBounds reprojects a bounding box, returning the box that
// encloses its transformed extent.
func TransformBounds(from, to string, bbox geometry.BoundingBox) (geometry.BoundingBox, error) {
	if from == to {
		return bbox, nil
	}
	fromProj, err := Proj4(from)
	if err != nil {
		return bbox, err
	}
	toProj, err := Proj4(to)
	if err != nil {
		return bbox, err
	}
	cov := proj4go.Coverage{Proj4: fromProj, BoundingBox: bbox}
	out, err := cov.Transform(toProj)
	if err != nil {
		return bbox, fmt.Errorf("Error reprojecting bounds from %s to %s: %v", from, to, err)
	}
	return out.BoundingBox, nil
}

// Coverage pairs a bounding box with the proj4 definition of code.
func Coverage(code string, bbox geometry.BoundingBox) (proj4go.Coverage, error) {
	def, err := Proj4(code)
	if err != nil {
		return proj4go.Coverage{}, err
	}
	return proj4go.Coverage{Proj4: def, BoundingBox: bbox}, nil
}
