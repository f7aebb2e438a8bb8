// Package scenetest builds small synthetic scenes for tests.
package scenetest

import (
	"time"

	"github.com/terrascope/geometry"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/catalog"
	"github.com/prl900/bandstack/crs"
)

// Grid returns a WGS84 grid of w x h pixels of res degrees whose top-left
// corner is (x0, y1).
func Grid(x0, y1, res float64, w, h int) band.Grid {
	return band.Grid{
		CRS:    crs.WGS84,
		Scale:  res * crs.MetresPerDegree,
		Res:    res,
		Bounds: geometry.BBox(x0, y1-float64(h)*res, x0+float64(w)*res, y1),
		Width:  w,
		Height: h,
	}
}

// Scene builds a scene on g dated date (YYYY-MM-DD). Every band shares the
// native no-data value nodata.
func Scene(id, date string, g band.Grid, props map[string]float64, nodata float32, bands map[string][]float32) catalog.Scene {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	sc := catalog.Scene{
		ID:         id,
		Date:       t,
		Properties: props,
		Grid:       g,
		Bands:      make(map[string]*catalog.BandData, len(bands)),
	}
	for name, raw := range bands {
		if len(raw) != g.Width*g.Height {
			panic("scenetest: band " + name + " does not match grid")
		}
		sc.Bands[name] = &catalog.BandData{Raw: raw, NoData: nodata, HasNoData: true, Scale: 1}
	}
	return sc
}

// Fill returns n copies of v.
func Fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
