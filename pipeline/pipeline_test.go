package pipeline

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/catalog"
	"github.com/prl900/bandstack/catalog/scenetest"
	"github.com/prl900/bandstack/composite"
	"github.com/prl900/bandstack/export"
	"github.com/prl900/bandstack/harmonize"
	"github.com/prl900/bandstack/reduce"
	"github.com/prl900/bandstack/region"
)

const (
	s2   = "COPERNICUS/S2_SR"
	l8   = "LANDSAT/LC08/C02/T1_TOA"
	srtm = "USGS/SRTMGL1_003"
)

var opticalBands = []string{"B2", "B3", "B4", "B8", "B11", "B12"}

func puneSources() []Source {
	return []Source{
		{
			Name:       "optical",
			CatalogID:  s2,
			Bands:      opticalBands,
			Names:      []string{"Blue", "Green", "Red", "NIR", "SWIR1", "SWIR2"},
			Predicates: []catalog.Predicate{catalog.Lt("CLOUDY_PIXEL_PERCENTAGE", 20)},
			Reducer:    reduce.Median,
		},
		{Name: "thermal", CatalogID: l8, Bands: []string{"B10"}, Names: []string{"Thermal"}, Reducer: reduce.Median},
		{
			Name: "elevation", CatalogID: srtm, Bands: []string{"elevation"}, Names: []string{"DEM"}, Static: true,
			Policies: map[string]harmonize.Policy{"DEM": {Kind: harmonize.Continuous, Method: harmonize.Nearest}},
		},
	}
}

// puneCatalog covers the study area with coarse scenes of constant value.
// Optical scenes a and b pass the cloud filter, c does not and d is out of
// range.
func puneCatalog(opticalCloud float64) *catalog.Memory {
	g := scenetest.Grid(73.6, 18.8, 0.05, 10, 10)
	n := g.Width * g.Height
	fill := func(v float32, names ...string) map[string][]float32 {
		out := make(map[string][]float32, len(names))
		for _, name := range names {
			out[name] = scenetest.Fill(n, v)
		}
		return out
	}
	m := catalog.NewMemory()
	m.Add(s2,
		scenetest.Scene("a", "2016-02-01", g, map[string]float64{"CLOUDY_PIXEL_PERCENTAGE": opticalCloud}, 0, fill(100, opticalBands...)),
		scenetest.Scene("b", "2016-11-20", g, map[string]float64{"CLOUDY_PIXEL_PERCENTAGE": opticalCloud + 5}, 0, fill(300, opticalBands...)),
		scenetest.Scene("c", "2016-06-01", g, map[string]float64{"CLOUDY_PIXEL_PERCENTAGE": 80}, 0, fill(9000, opticalBands...)),
		scenetest.Scene("d", "2017-01-01", g, map[string]float64{"CLOUDY_PIXEL_PERCENTAGE": 0}, 0, fill(9000, opticalBands...)),
	)
	m.Add(l8, scenetest.Scene("lc08", "2016-04-10", g, nil, 0, fill(301.5, "B10")))
	m.Add(srtm, scenetest.Scene("srtm", "2000-02-11", g, nil, -32768, fill(560, "elevation")))
	return m
}

func puneRequest(t *testing.T) Request {
	t.Helper()
	roi, err := region.Rectangle(73.7, 18.4, 74.0, 18.7)
	if err != nil {
		t.Fatal(err)
	}
	dates, err := region.ParseDateRange("2016-01-01", "2016-12-31")
	if err != nil {
		t.Fatal(err)
	}
	return Request{
		Region: roi,
		Dates:  dates,
		Destination: export.Destination{
			Description: "Pune_StudyArea_2016",
			Folder:      "Satellite_Exports",
			Format:      export.GeoTIFF,
			MaxPixels:   1e13,
		},
	}
}

type recordingSink struct {
	mu   sync.Mutex
	jobs []export.Job
}

func (s *recordingSink) Submit(ctx context.Context, job export.Job, c *composite.Composite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func TestRunPune(t *testing.T) {
	sink := &recordingSink{}
	p := New(catalog.NewSelector(puneCatalog(5), nil), puneSources(), 1000, nil)
	p.Sink = sink

	res, err := p.Run(context.Background(), puneRequest(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := res.Composite.Names(); !reflect.DeepEqual(got, []string(composite.DefaultSchema)) {
		t.Fatalf("bands %v, want %v", got, composite.DefaultSchema)
	}
	if want := map[string]int{"optical": 2, "thermal": 1, "elevation": 1}; !reflect.DeepEqual(res.Scenes, want) {
		t.Errorf("scene counts %v, want %v", res.Scenes, want)
	}

	g := res.Composite.Grid()
	if g.CRS != "EPSG:4326" || g.Scale != 1000 {
		t.Errorf("grid %v", g)
	}
	want := map[string]float32{"Blue": 200, "SWIR2": 200, "Thermal": 301.5, "DEM": 560}
	for name, v := range want {
		b, ok := res.Composite.Band(name)
		if !ok {
			t.Fatalf("band %s missing", name)
		}
		if !b.Grid.Equal(g) {
			t.Errorf("band %s on %v, want %v", name, b.Grid, g)
		}
		if got := b.At(g.Width/2, g.Height/2); math.Abs(float64(got-v)) > 1e-3 {
			t.Errorf("band %s centre = %v, want %v", name, got, v)
		}
	}

	job := res.Job
	if job.Scale != 1000 || job.CRS != "EPSG:4326" || job.MaxPixels != 1e13 {
		t.Errorf("job %+v", job)
	}
	if !reflect.DeepEqual(job.Bands, []string(composite.DefaultSchema)) {
		t.Errorf("job bands %v", job.Bands)
	}
	if len(sink.jobs) != 1 || sink.jobs[0].ID != job.ID {
		t.Errorf("sink received %d jobs", len(sink.jobs))
	}
}

func TestPlanPuneAtTenMetres(t *testing.T) {
	m := puneCatalog(5)
	p := New(catalog.NewSelector(m, nil), puneSources(), 10, nil)
	plan, err := p.Plan(puneRequest(t))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Grid.Width != 3340 || plan.Grid.Height != 3340 {
		t.Errorf("grid %v, want 3340x3340", plan.Grid)
	}
	if plan.Job.Scale != 10 || plan.Job.CRS != "EPSG:4326" || plan.Job.MaxPixels != 1e13 {
		t.Errorf("job %+v", plan.Job)
	}
	if !reflect.DeepEqual(plan.Job.Bands, []string(composite.DefaultSchema)) {
		t.Errorf("job bands %v", plan.Job.Bands)
	}
	if len(plan.Queries) != 3 {
		t.Errorf("%d queries planned", len(plan.Queries))
	}
	for _, id := range []string{s2, l8, srtm} {
		if n := m.Queries(id); n != 0 {
			t.Errorf("plan queried %s %d times", id, n)
		}
	}
}

func TestEmptyOpticalSelectionStopsRun(t *testing.T) {
	sink := &recordingSink{}
	p := New(catalog.NewSelector(puneCatalog(50), nil), puneSources(), 1000, nil)
	p.Sink = sink

	var mu sync.Mutex
	var reduced [][]string
	composed := false
	p.reduce = func(ctx context.Context, scenes []catalog.Scene, bands []string, kind reduce.Kind) ([]*band.Raster, error) {
		mu.Lock()
		reduced = append(reduced, bands)
		mu.Unlock()
		return reduce.Reduce(ctx, scenes, bands, kind)
	}
	p.compose = func(bands []*band.Raster, schema composite.Schema) (*composite.Composite, error) {
		composed = true
		return composite.Compose(bands, schema)
	}

	res, err := p.Run(context.Background(), puneRequest(t))
	var empty *catalog.EmptySelectionError
	if !errors.As(err, &empty) {
		t.Fatalf("got %v, want EmptySelectionError", err)
	}
	if empty.Source != "optical" || empty.CatalogID != s2 {
		t.Errorf("error names %s (%s)", empty.Source, empty.CatalogID)
	}
	if !reflect.DeepEqual(empty.Filters, []string{"CLOUDY_PIXEL_PERCENTAGE < 20"}) {
		t.Errorf("filters %v", empty.Filters)
	}
	if res != nil {
		t.Error("result returned with an error")
	}
	for _, bands := range reduced {
		if reflect.DeepEqual(bands, opticalBands) {
			t.Error("optical source reached the reducer")
		}
	}
	if composed {
		t.Error("compositor ran")
	}
	if len(sink.jobs) != 0 {
		t.Error("export submitted")
	}
}

func TestRunMissingSource(t *testing.T) {
	sources := puneSources()[:2]
	p := New(catalog.NewSelector(puneCatalog(5), nil), sources, 1000, nil)
	_, err := p.Run(context.Background(), puneRequest(t))
	var mismatch *composite.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want SchemaMismatchError", err)
	}
	if !reflect.DeepEqual(mismatch.Missing, []string{"DEM"}) {
		t.Errorf("missing %v", mismatch.Missing)
	}
}

func TestRunValidatesBeforeQuerying(t *testing.T) {
	req := puneRequest(t)
	for _, tc := range []struct {
		name  string
		setup func(p *Pipeline, req *Request)
	}{
		{"no region", func(p *Pipeline, req *Request) { req.Region = nil }},
		{"no dates", func(p *Pipeline, req *Request) { req.Dates = region.DateRange{} }},
		{"area ceiling", func(p *Pipeline, req *Request) { p.MaxRegionArea = 0.01 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := puneCatalog(5)
			p := New(catalog.NewSelector(m, nil), puneSources(), 1000, nil)
			r := req
			tc.setup(p, &r)
			_, err := p.Run(context.Background(), r)
			if !errors.Is(err, region.ErrInvalidRegion) {
				t.Fatalf("got %v, want ErrInvalidRegion", err)
			}
			for _, id := range []string{s2, l8, srtm} {
				if n := m.Queries(id); n != 0 {
					t.Errorf("%s queried %d times", id, n)
				}
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	p := New(catalog.NewSelector(puneCatalog(5), nil), puneSources(), 1000, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, puneRequest(t)); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestSourceValidate(t *testing.T) {
	for _, s := range []Source{
		{Name: "x", CatalogID: s2},
		{Name: "x", CatalogID: s2, Bands: []string{"B2"}, Names: []string{"Blue", "Green"}},
		{Name: "x", CatalogID: s2, Bands: []string{"B2"}, Names: []string{"Blue"}, Reducer: "mode"},
		{Name: "x", CatalogID: s2, Bands: []string{"B2"}, Names: []string{"Blue"},
			Policies: map[string]harmonize.Policy{"Blue": {Method: "cubic"}}},
	} {
		if err := s.Validate(); err == nil {
			t.Errorf("%+v accepted", s)
		}
	}
}
