// Package pipeline wires the selector, reducer, harmonizer and compositor
// into one run: every source is selected, reduced and harmonized on its own
// goroutine, the compositor joins them, and the composite is described and
// optionally handed to an export sink.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/catalog"
	"github.com/prl900/bandstack/composite"
	"github.com/prl900/bandstack/crs"
	"github.com/prl900/bandstack/export"
	"github.com/prl900/bandstack/harmonize"
	"github.com/prl900/bandstack/reduce"
	"github.com/prl900/bandstack/region"
)

// Source is one catalog contributing bands to the composite. Bands are the
// native band names and Names the canonical names they become, pairwise.
type Source struct {
	Name       string
	CatalogID  string
	Bands      []string
	Names      []string
	Static     bool
	Predicates []catalog.Predicate
	Reducer    reduce.Kind
	// Policies holds the resampling policy per canonical name. Bands
	// without an entry are continuous.
	Policies map[string]harmonize.Policy
}

// Validate checks the band mapping.
func (s Source) Validate() error {
	if s.Name == "" || s.CatalogID == "" {
		return fmt.Errorf("source %q: name and catalog are required", s.Name)
	}
	if len(s.Bands) == 0 || len(s.Bands) != len(s.Names) {
		return fmt.Errorf("source %s: %d bands mapped to %d names", s.Name, len(s.Bands), len(s.Names))
	}
	if _, err := reduce.ParseKind(string(s.Reducer)); err != nil {
		return fmt.Errorf("source %s: %w", s.Name, err)
	}
	for name, p := range s.Policies {
		if _, err := harmonize.ParseMethod(string(p.Method), p.Kind); err != nil {
			return fmt.Errorf("source %s band %s: %w", s.Name, name, err)
		}
	}
	return nil
}

// Method is the resampling method for canonical band name.
func (s Source) Method(name string) harmonize.Method {
	p := s.Policies[name]
	if p.Method != "" {
		return p.Method
	}
	return harmonize.DefaultMethod(p.Kind)
}

func (s Source) query(r *region.Region, dates region.DateRange) catalog.Query {
	return catalog.Query{
		Source:     s.Name,
		CatalogID:  s.CatalogID,
		Region:     r,
		Dates:      dates,
		Static:     s.Static,
		Bands:      s.Bands,
		Predicates: s.Predicates,
	}
}

// Request is one run over a region and date range.
type Request struct {
	Region *region.Region
	Dates  region.DateRange
	// Destination is left zero to skip the export job.
	Destination export.Destination
}

// Result is a finished run. Job is zero when no destination was given.
type Result struct {
	Composite *composite.Composite
	Job       export.Job
	// Scenes holds the selected scene count per source.
	Scenes map[string]int
}

// Plan is what a run would produce, computed without reading any pixel.
type Plan struct {
	Grid    band.Grid
	Queries []catalog.Query
	Job     export.Job
}

type (
	reduceFunc    func(ctx context.Context, scenes []catalog.Scene, bands []string, kind reduce.Kind) ([]*band.Raster, error)
	harmonizeFunc func(ctx context.Context, src *band.Raster, target band.Grid, clip *region.Region, name string, m harmonize.Method) (*band.Raster, error)
	composeFunc   func(bands []*band.Raster, schema composite.Schema) (*composite.Composite, error)
)

// Pipeline holds everything that does not change between runs.
type Pipeline struct {
	Selector *catalog.Selector
	Sources  []Source
	Schema   composite.Schema

	TargetCRS   string
	TargetScale float64
	// MaxRegionArea caps the region bounding box area in square degrees;
	// zero disables the check.
	MaxRegionArea float64

	// Sink receives the export job when set.
	Sink export.Sink
	Log  *zap.Logger

	reduce    reduceFunc
	harmonize harmonizeFunc
	compose   composeFunc
}

// New returns a pipeline with the default schema on a WGS84 grid of scale
// metres.
func New(sel *catalog.Selector, sources []Source, scale float64, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		Selector:    sel,
		Sources:     sources,
		Schema:      composite.DefaultSchema,
		TargetCRS:   crs.WGS84,
		TargetScale: scale,
		Log:         log,
		reduce:      reduce.Reduce,
		harmonize:   harmonize.Harmonize,
		compose:     composite.Compose,
	}
}

// check validates the request and the sources and lays the target grid.
// Nothing here touches a catalog.
func (p *Pipeline) check(req Request) (band.Grid, error) {
	if req.Region == nil {
		return band.Grid{}, &region.InvalidRegionError{Field: "region", Reason: "no region given"}
	}
	if p.MaxRegionArea > 0 {
		bb := req.Region.Bounds()
		if a := bb.Area(); a > p.MaxRegionArea {
			return band.Grid{}, &region.InvalidRegionError{Field: "region",
				Reason: fmt.Sprintf("bounding box of %g square degrees exceeds the ceiling of %g", a, p.MaxRegionArea)}
		}
	}
	if len(p.Sources) == 0 {
		return band.Grid{}, fmt.Errorf("no sources configured")
	}
	seen := make(map[string]bool, len(p.Sources))
	for _, s := range p.Sources {
		if err := s.Validate(); err != nil {
			return band.Grid{}, err
		}
		if seen[s.Name] {
			return band.Grid{}, fmt.Errorf("source %s configured twice", s.Name)
		}
		seen[s.Name] = true
	}
	return harmonize.TargetGrid(req.Region, p.TargetCRS, p.TargetScale)
}

// Plan validates req and describes the grid, the catalog queries and the
// export job of a run.
func (p *Pipeline) Plan(req Request) (Plan, error) {
	g, err := p.check(req)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Grid: g}
	for _, s := range p.Sources {
		coll, err := p.Selector.Select(s.query(req.Region, req.Dates))
		if err != nil {
			return Plan{}, err
		}
		plan.Queries = append(plan.Queries, coll.Query())
	}
	if req.Destination != (export.Destination{}) {
		job, err := export.PlanJob(g, p.Schema, req.Destination)
		if err != nil {
			return Plan{}, err
		}
		if err := export.CheckLimits(job); err != nil {
			return Plan{}, err
		}
		plan.Job = job
	}
	return plan, nil
}

// Run executes req. The first failing source cancels the others, and no
// composite or job is produced unless every source delivered its bands.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	target, err := p.check(req)
	if err != nil {
		return nil, err
	}
	colls := make([]*catalog.Collection, len(p.Sources))
	for i, s := range p.Sources {
		if colls[i], err = p.Selector.Select(s.query(req.Region, req.Dates)); err != nil {
			return nil, err
		}
	}
	p.Log.Info("Run started", zap.Stringer("region", req.Region), zap.Stringer("dates", req.Dates),
		zap.Stringer("grid", target), zap.Int("sources", len(p.Sources)))

	var mu sync.Mutex
	counts := make(map[string]int, len(p.Sources))
	bands := make([][]*band.Raster, len(p.Sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range p.Sources {
		i, s := i, s
		g.Go(func() error {
			out, n, err := p.runSource(gctx, s, colls[i], req.Region, target)
			if err != nil {
				return err
			}
			mu.Lock()
			counts[s.Name] = n
			bands[i] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []*band.Raster
	for _, bs := range bands {
		all = append(all, bs...)
	}
	c, err := p.compose(all, p.Schema)
	if err != nil {
		return nil, err
	}
	res := &Result{Composite: c, Scenes: counts}
	p.Log.Info("Composite built", zap.Strings("bands", c.Names()), zap.Stringer("grid", c.Grid()))

	if req.Destination == (export.Destination{}) {
		return res, nil
	}
	if res.Job, err = export.BuildJob(c, req.Destination); err != nil {
		return nil, err
	}
	if p.Sink != nil {
		if err := p.Sink.Submit(ctx, res.Job, c); err != nil {
			return nil, err
		}
		p.Log.Info("Export submitted", zap.String("job", res.Job.ID), zap.String("description", res.Job.Description))
	}
	return res, nil
}

// runSource selects, reduces and harmonizes one source.
func (p *Pipeline) runSource(ctx context.Context, s Source, coll *catalog.Collection, clip *region.Region, target band.Grid) ([]*band.Raster, int, error) {
	log := p.Log.With(zap.String("source", s.Name), zap.String("catalog", s.CatalogID))

	n, err := coll.Size(ctx)
	if err != nil {
		return nil, 0, err
	}
	log.Info("Collection selected", zap.Int("scenes", n))
	scenes, err := coll.Scenes(ctx)
	if err != nil {
		return nil, n, err
	}

	reduced, err := p.reduce(ctx, scenes, s.Bands, s.Reducer)
	if err != nil {
		return nil, n, fmt.Errorf("source %s: %w", s.Name, err)
	}
	log.Debug("Collection reduced", zap.String("reducer", string(s.Reducer)), zap.Stringer("grid", reduced[0].Grid))

	out := make([]*band.Raster, len(reduced))
	for i, r := range reduced {
		name := s.Names[i]
		m := s.Method(name)
		if out[i], err = p.harmonize(ctx, r, target, clip, name, m); err != nil {
			return nil, n, fmt.Errorf("source %s band %s: %w", s.Name, s.Bands[i], err)
		}
		log.Debug("Band harmonized", zap.String("band", s.Bands[i]), zap.String("name", name),
			zap.String("method", string(m)), zap.Int("valid", out[i].Valid()))
	}
	return out, n, nil
}
