package export

import (
	"errors"
	"reflect"
	"testing"

	"github.com/terrascope/geometry"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/composite"
	"github.com/prl900/bandstack/crs"
)

func puneComposite(t *testing.T) *composite.Composite {
	t.Helper()
	g, err := band.NewGrid(crs.WGS84, 10, geometry.BBox(73.7, 18.4, 74.0, 18.7))
	if err != nil {
		t.Fatal(err)
	}
	// pixels are irrelevant to job construction; share one buffer
	shared := band.New("", g)
	var bands []*band.Raster
	for _, name := range composite.DefaultSchema {
		bands = append(bands, &band.Raster{Name: name, Grid: g, Image: shared.Image})
	}
	c, err := composite.Compose(bands, composite.DefaultSchema)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBuildJob(t *testing.T) {
	c := puneComposite(t)
	job, err := BuildJob(c, Destination{
		Description: "Pune_StudyArea_2016",
		Folder:      "Satellite_Exports",
		MaxPixels:   1e13,
	})
	if err != nil {
		t.Fatalf("BuildJob: %v", err)
	}
	if job.Scale != 10 || job.CRS != "EPSG:4326" || job.MaxPixels != 1e13 {
		t.Fatalf("unexpected job parameters %+v", job)
	}
	if job.Format != GeoTIFF || job.FilePrefix != "Pune_StudyArea_2016" {
		t.Fatalf("unexpected defaults %+v", job)
	}
	if job.ID == "" {
		t.Fatal("job needs an identifier")
	}
	if !reflect.DeepEqual(job.Bands, []string(composite.DefaultSchema)) {
		t.Fatalf("unexpected bands %v", job.Bands)
	}
	if job.PixelCount() != c.Grid().PixelCount() {
		t.Fatalf("pixel count %d does not match the grid", job.PixelCount())
	}
	if err := CheckLimits(job); err != nil {
		t.Fatalf("CheckLimits: %v", err)
	}
}

func TestBuildJobNeverResamples(t *testing.T) {
	c := puneComposite(t)
	for _, dest := range []Destination{
		{Description: "x", MaxPixels: 1e13, Scale: 30},
		{Description: "x", MaxPixels: 1e13, CRS: "EPSG:3857"},
	} {
		_, err := BuildJob(c, dest)
		var jm *JobMismatchError
		if !errors.As(err, &jm) {
			t.Fatalf("expected JobMismatchError for %+v, got %v", dest, err)
		}
	}
	if _, err := BuildJob(c, Destination{Description: "x", MaxPixels: 1e13, Scale: 10, CRS: "EPSG:4326"}); err != nil {
		t.Fatalf("matching scale and CRS must be accepted: %v", err)
	}
}

func TestBuildJobRequiresCeiling(t *testing.T) {
	if _, err := BuildJob(puneComposite(t), Destination{Description: "x"}); err == nil {
		t.Fatal("expected missing max pixels error")
	}
}

func TestCheckLimitsRejects(t *testing.T) {
	job, err := BuildJob(puneComposite(t), Destination{Description: "small", MaxPixels: 1000})
	if err != nil {
		t.Fatal(err)
	}
	err = CheckLimits(job)
	var rej *ExportRejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected ExportRejectedError, got %v", err)
	}
	if rej.Parameter != "max_pixels" || rej.Job.MaxPixels != 1000 {
		t.Fatalf("rejection should carry the violated parameter, got %+v", rej)
	}
}

func TestPlanJobMatchesBuildJob(t *testing.T) {
	c := puneComposite(t)
	dest := Destination{Description: "Pune_StudyArea_2016", Folder: "Satellite_Exports", MaxPixels: 1e13}
	planned, err := PlanJob(c.Grid(), composite.DefaultSchema, dest)
	if err != nil {
		t.Fatal(err)
	}
	built, err := BuildJob(c, dest)
	if err != nil {
		t.Fatal(err)
	}
	planned.ID, built.ID = "", ""
	if !reflect.DeepEqual(planned, built) {
		t.Fatalf("planned %+v, built %+v", planned, built)
	}
}
