package rastreader

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/composite"
	"github.com/prl900/bandstack/export"
)

// Sink writes composites into a Store as one float32 tile per band plus a
// manifest. The manifest is an Index holding a single collection, so an
// exported composite can be served again by a Catalog.
type Sink struct {
	store Store
	log   *zap.Logger
}

func NewSink(s Store, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{store: s, log: log}
}

// ManifestName is the manifest object written for job.
func ManifestName(job export.Job) string {
	return path.Join(job.Folder, job.FilePrefix+".json")
}

func tileName(job export.Job, bandName string) string {
	return fmt.Sprintf("%s_%s.f32.snp", job.FilePrefix, bandName)
}

// Submit writes c synchronously. Jobs in a format other than SNP or over
// their pixel ceiling are rejected before anything is written.
func (s *Sink) Submit(ctx context.Context, job export.Job, c *composite.Composite) error {
	if job.Format != export.SNP {
		return &export.ExportRejectedError{Job: job, Parameter: "format",
			Reason: fmt.Sprintf("format %s is not supported by this sink, use %s", job.Format, export.SNP)}
	}
	if err := export.CheckLimits(job); err != nil {
		return err
	}
	g := c.Grid()
	if g.CRS != job.CRS || g.Scale != job.Scale || g.Width != job.Width || g.Height != job.Height {
		return &export.ExportRejectedError{Job: job, Parameter: "grid",
			Reason: fmt.Sprintf("job describes %s %gm %dx%d but the composite is %v", job.CRS, job.Scale, job.Width, job.Height, g)}
	}

	nodata := float64(band.NoData)
	rec := SceneRecord{
		ID:           job.ID,
		Date:         time.Now().UTC().Format(time.RFC3339),
		XSize:        g.Width,
		YSize:        g.Height,
		Geotransform: []float64{g.Bounds.Min.X, g.Res, 0, g.Bounds.Max.Y, 0, -g.Res},
		Bands:        make(map[string]BandRecord, c.Len()),
	}
	for _, b := range c.Bands() {
		data, err := encodeTile("float32", b.Image.Pix)
		if err != nil {
			return err
		}
		name := tileName(job, b.Name)
		if err := writeObject(ctx, s.store, path.Join(job.Folder, name), data); err != nil {
			return err
		}
		rec.Bands[b.Name] = BandRecord{Object: name, DType: "float32", NoData: &nodata}
		s.log.Debug("Band written", zap.String("job", job.ID), zap.String("band", b.Name))
	}

	manifest := Index{job.Description: Collection{
		Name:   job.Description,
		CRS:    g.CRS,
		Scale:  g.Scale,
		Static: true,
		Bands:  c.Names(),
		Scenes: []SceneRecord{rec},
	}}
	if err := WriteIndex(ctx, s.store, ManifestName(job), manifest); err != nil {
		return err
	}
	s.log.Info("Export written", zap.String("job", job.ID), zap.String("manifest", ManifestName(job)))
	return nil
}
