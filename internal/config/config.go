// Package config loads the HCL run configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/terrascope/geometry"
	"go.uber.org/zap"

	"github.com/prl900/bandstack/catalog"
	"github.com/prl900/bandstack/composite"
	"github.com/prl900/bandstack/crs"
	"github.com/prl900/bandstack/export"
	"github.com/prl900/bandstack/harmonize"
	"github.com/prl900/bandstack/internal/logging"
	"github.com/prl900/bandstack/pipeline"
	"github.com/prl900/bandstack/rastreader"
	"github.com/prl900/bandstack/reduce"
	"github.com/prl900/bandstack/region"
)

// Config is the top level of a configuration file.
type Config struct {
	Region  RegionConfig    `hcl:"region,block"`
	Dates   *DatesConfig    `hcl:"dates,block"`
	Target  TargetConfig    `hcl:"target,block"`
	Sources []SourceConfig  `hcl:"source,block"`
	Export  *ExportConfig   `hcl:"export,block"`
	Catalog *CatalogConfig  `hcl:"catalog,block"`
	Logging *logging.Config `hcl:"logging,block"`
}

// RegionConfig gives the area of interest either as a bbox
// [west, south, east, north] or as a polygon of [lon, lat] vertices.
type RegionConfig struct {
	BBox    []float64   `hcl:"bbox,optional"`
	Polygon [][]float64 `hcl:"polygon,optional"`
	// MaxArea caps the bounding box area in square degrees.
	MaxArea float64 `hcl:"max_area,optional"`
}

type DatesConfig struct {
	Start string `hcl:"start"`
	End   string `hcl:"end"`
}

type TargetConfig struct {
	CRS   string   `hcl:"crs,optional"`
	Scale float64  `hcl:"scale"`
	Bands []string `hcl:"bands,optional"`
}

type SourceConfig struct {
	Name       string             `hcl:"name,label"`
	Catalog    string             `hcl:"catalog"`
	Bands      []string           `hcl:"bands"`
	Names      []string           `hcl:"names"`
	Static     bool               `hcl:"static,optional"`
	Reducer    string             `hcl:"reducer,optional"`
	Filters    []FilterConfig     `hcl:"filter,block"`
	Resampling []ResamplingConfig `hcl:"resampling,block"`
}

type FilterConfig struct {
	Property string  `hcl:"property"`
	Op       string  `hcl:"op"`
	Value    float64 `hcl:"value"`
}

// ResamplingConfig overrides the policy of one canonical band.
type ResamplingConfig struct {
	Band   string `hcl:"band,label"`
	Kind   string `hcl:"kind,optional"`
	Method string `hcl:"method,optional"`
}

type ExportConfig struct {
	Description string  `hcl:"description"`
	Folder      string  `hcl:"folder,optional"`
	FilePrefix  string  `hcl:"file_prefix,optional"`
	Format      string  `hcl:"format,optional"`
	MaxPixels   float64 `hcl:"max_pixels"`
}

// CatalogConfig selects the scene store. Backend is "bucket" or "dir".
type CatalogConfig struct {
	Backend  string `hcl:"backend"`
	Bucket   string `hcl:"bucket,optional"`
	Dir      string `hcl:"dir,optional"`
	Index    string `hcl:"index,optional"`
	Timeout  string `hcl:"timeout,optional"`
	Attempts int    `hcl:"attempts,optional"`
	Backoff  string `hcl:"backoff,optional"`
	Workers  int    `hcl:"workers,optional"`
}

// Load parses and validates the configuration file at path.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, diags := hclparse.NewParser().ParseHCL(src, path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config: %s", diags.Error())
	}
	cfg := &Config{}
	if diags := gohcl.DecodeBody(f.Body, nil, cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config: %s", diags.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default is the Pune 2016 study area: Sentinel-2 surface reflectance with
// less than 20% cloud, Landsat 8 thermal and SRTM elevation on a 10 m WGS84
// grid.
func Default() *Config {
	return &Config{
		Region: RegionConfig{BBox: []float64{73.7, 18.4, 74.0, 18.7}, MaxArea: 1},
		Dates:  &DatesConfig{Start: "2016-01-01", End: "2016-12-31"},
		Target: TargetConfig{CRS: crs.WGS84, Scale: 10},
		Sources: []SourceConfig{
			{
				Name:    "optical",
				Catalog: "COPERNICUS/S2_SR",
				Bands:   []string{"B2", "B3", "B4", "B8", "B11", "B12"},
				Names:   []string{"Blue", "Green", "Red", "NIR", "SWIR1", "SWIR2"},
				Reducer: string(reduce.Median),
				Filters: []FilterConfig{{Property: "CLOUDY_PIXEL_PERCENTAGE", Op: string(catalog.OpLt), Value: 20}},
			},
			{
				Name:    "thermal",
				Catalog: "LANDSAT/LC08/C02/T1_TOA",
				Bands:   []string{"B10"},
				Names:   []string{"Thermal"},
				Reducer: string(reduce.Median),
			},
			{
				Name:    "elevation",
				Catalog: "USGS/SRTMGL1_003",
				Bands:   []string{"elevation"},
				Names:   []string{"DEM"},
				Static:  true,
			},
		},
		Export: &ExportConfig{
			Description: "Pune_StudyArea_2016",
			Folder:      "Satellite_Exports",
			FilePrefix:  "Pune_StudyArea_2016",
			Format:      string(export.GeoTIFF),
			MaxPixels:   1e13,
		},
		Catalog: &CatalogConfig{Backend: "dir", Dir: ".", Index: rastreader.DefaultIndex},
	}
}

// Validate checks everything that can be checked without I/O.
func (c *Config) Validate() error {
	if _, err := c.ROI(); err != nil {
		return err
	}
	if c.Dates != nil {
		if _, err := c.DateRange(); err != nil {
			return err
		}
	}
	if !(c.Target.Scale > 0) {
		return fmt.Errorf("target scale must be positive, got %g", c.Target.Scale)
	}
	if _, err := crs.Proj4(c.targetCRS()); err != nil {
		return err
	}
	if err := c.Schema().Validate(); err != nil {
		return err
	}
	if _, err := c.PipelineSources(); err != nil {
		return err
	}
	if c.Export != nil {
		if c.Export.Description == "" {
			return fmt.Errorf("export: description is required")
		}
		if !(c.Export.MaxPixels > 0) {
			return fmt.Errorf("export %s: max_pixels must be positive", c.Export.Description)
		}
		switch export.Format(c.Export.Format) {
		case "", export.GeoTIFF, export.SNP:
		default:
			return fmt.Errorf("export %s: unknown format %q", c.Export.Description, c.Export.Format)
		}
	}
	if c.Catalog != nil {
		if _, err := c.Catalog.settings(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) targetCRS() string {
	if c.Target.CRS == "" {
		return crs.WGS84
	}
	return c.Target.CRS
}

// ROI builds the region of interest.
func (c *Config) ROI() (*region.Region, error) {
	r := c.Region
	switch {
	case len(r.BBox) > 0 && len(r.Polygon) > 0:
		return nil, &region.InvalidRegionError{Field: "region", Reason: "give either bbox or polygon, not both"}
	case len(r.BBox) > 0:
		if len(r.BBox) != 4 {
			return nil, &region.InvalidRegionError{Field: "bbox", Reason: fmt.Sprintf("need 4 values, got %d", len(r.BBox))}
		}
		return region.Rectangle(r.BBox[0], r.BBox[1], r.BBox[2], r.BBox[3])
	case len(r.Polygon) > 0:
		pts := make([]geometry.Point, len(r.Polygon))
		for i, v := range r.Polygon {
			if len(v) != 2 {
				return nil, &region.InvalidRegionError{Field: "polygon", Reason: fmt.Sprintf("vertex %d has %d coordinates", i, len(v))}
			}
			pts[i] = geometry.Point{X: v[0], Y: v[1]}
		}
		return region.New(pts)
	}
	return nil, &region.InvalidRegionError{Field: "region", Reason: "no bbox or polygon given"}
}

// DateRange returns the configured dates; a configuration without a dates
// block has the zero range, acceptable only when every source is static.
func (c *Config) DateRange() (region.DateRange, error) {
	if c.Dates == nil {
		return region.DateRange{}, nil
	}
	return region.ParseDateRange(c.Dates.Start, c.Dates.End)
}

// Schema is the configured band order, DefaultSchema when unset.
func (c *Config) Schema() composite.Schema {
	if len(c.Target.Bands) == 0 {
		return composite.DefaultSchema
	}
	return composite.Schema(c.Target.Bands)
}

// PipelineSources converts the source blocks.
func (c *Config) PipelineSources() ([]pipeline.Source, error) {
	out := make([]pipeline.Source, 0, len(c.Sources))
	for _, sc := range c.Sources {
		s := pipeline.Source{
			Name:      sc.Name,
			CatalogID: sc.Catalog,
			Bands:     sc.Bands,
			Names:     sc.Names,
			Static:    sc.Static,
			Reducer:   reduce.Kind(sc.Reducer),
		}
		for _, f := range sc.Filters {
			p, err := catalog.Compare(f.Property, catalog.Op(f.Op), f.Value)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			s.Predicates = append(s.Predicates, p)
		}
		for _, rc := range sc.Resampling {
			kind := harmonize.Kind(rc.Kind)
			switch kind {
			case "":
				kind = harmonize.Continuous
			case harmonize.Continuous, harmonize.Categorical:
			default:
				return nil, fmt.Errorf("source %s band %s: unknown kind %q", sc.Name, rc.Band, rc.Kind)
			}
			m, err := harmonize.ParseMethod(rc.Method, kind)
			if err != nil {
				return nil, fmt.Errorf("source %s band %s: %w", sc.Name, rc.Band, err)
			}
			if s.Policies == nil {
				s.Policies = make(map[string]harmonize.Policy)
			}
			s.Policies[rc.Band] = harmonize.Policy{Kind: kind, Method: m}
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no source blocks configured")
	}
	return out, nil
}

// Destination is the export destination, zero without an export block.
func (c *Config) Destination() export.Destination {
	if c.Export == nil {
		return export.Destination{}
	}
	return export.Destination{
		Description: c.Export.Description,
		Folder:      c.Export.Folder,
		FilePrefix:  c.Export.FilePrefix,
		Format:      export.Format(c.Export.Format),
		MaxPixels:   int64(c.Export.MaxPixels),
	}
}

// Request assembles the run request.
func (c *Config) Request() (pipeline.Request, error) {
	roi, err := c.ROI()
	if err != nil {
		return pipeline.Request{}, err
	}
	dates, err := c.DateRange()
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{Region: roi, Dates: dates, Destination: c.Destination()}, nil
}

type selectorSettings struct {
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

func (cc *CatalogConfig) settings() (selectorSettings, error) {
	s := selectorSettings{timeout: catalog.DefaultTimeout, attempts: catalog.DefaultAttempts, backoff: catalog.DefaultBackoff}
	if cc == nil {
		return s, nil
	}
	switch cc.Backend {
	case "bucket":
		if cc.Bucket == "" {
			return s, fmt.Errorf("catalog: bucket backend needs a bucket name")
		}
	case "dir":
		if cc.Dir == "" {
			return s, fmt.Errorf("catalog: dir backend needs a directory")
		}
	default:
		return s, fmt.Errorf("catalog: unknown backend %q", cc.Backend)
	}
	var err error
	if cc.Timeout != "" {
		if s.timeout, err = time.ParseDuration(cc.Timeout); err != nil {
			return s, fmt.Errorf("catalog timeout: %w", err)
		}
	}
	if cc.Backoff != "" {
		if s.backoff, err = time.ParseDuration(cc.Backoff); err != nil {
			return s, fmt.Errorf("catalog backoff: %w", err)
		}
	}
	if cc.Attempts < 0 {
		return s, fmt.Errorf("catalog attempts must not be negative")
	}
	if cc.Attempts > 0 {
		s.attempts = cc.Attempts
	}
	return s, nil
}

// OpenStore connects to the configured scene store. The returned close
// function releases it.
func (c *Config) OpenStore(ctx context.Context) (rastreader.Store, func() error, error) {
	cc := c.Catalog
	if cc == nil {
		return nil, nil, fmt.Errorf("no catalog block configured")
	}
	if cc.Backend == "bucket" {
		bs, err := rastreader.NewBucketStore(ctx, cc.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return bs, bs.Close, nil
	}
	return rastreader.DirStore{Root: cc.Dir}, func() error { return nil }, nil
}

// NewCatalog serves the configured index from s.
func (c *Config) NewCatalog(s rastreader.Store, log *zap.Logger) *rastreader.Catalog {
	index := rastreader.DefaultIndex
	if c.Catalog != nil && c.Catalog.Index != "" {
		index = c.Catalog.Index
	}
	cat := rastreader.NewCatalog(s, index, log)
	if c.Catalog != nil && c.Catalog.Workers > 0 {
		cat.Workers = c.Catalog.Workers
	}
	return cat
}

// Pipeline builds the pipeline over cat.
func (c *Config) Pipeline(cat catalog.Catalog, log *zap.Logger) (*pipeline.Pipeline, error) {
	settings, err := c.Catalog.settings()
	if err != nil {
		return nil, err
	}
	sources, err := c.PipelineSources()
	if err != nil {
		return nil, err
	}
	sel := catalog.NewSelector(cat, log)
	sel.Timeout = settings.timeout
	sel.Attempts = settings.attempts
	sel.Backoff = settings.backoff

	p := pipeline.New(sel, sources, c.Target.Scale, log)
	p.TargetCRS = c.targetCRS()
	p.Schema = c.Schema()
	p.MaxRegionArea = c.Region.MaxArea
	return p, nil
}
