// Package export describes a finished composite for an external storage
// sink. Building a job is pure; transferring it is the sink's business.
package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/terrascope/geometry"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/composite"
)

// Format is the raster file format a sink is asked to produce.
type Format string

const (
	GeoTIFF Format = "GeoTIFF"
	// SNP is one snappy-compressed float32 array per band plus a JSON
	// manifest.
	SNP Format = "SNP"
)

// Destination is what the caller knows about where the composite goes.
// Scale and CRS may be left zero to inherit the composite's own; when set
// they must match it.
type Destination struct {
	Description string
	Folder      string
	FilePrefix  string
	Format      Format
	Scale       float64
	CRS         string
	MaxPixels   int64
}

// Job is an immutable export request. Values are copied in; the Bands
// slice must not be modified.
type Job struct {
	ID          string
	Description string
	Folder      string
	FilePrefix  string
	Format      Format
	Scale       float64
	CRS         string
	Region      geometry.BoundingBox
	Width       int
	Height      int
	MaxPixels   int64
	Bands       []string
}

// PixelCount is the number of pixels per band.
func (j Job) PixelCount() int64 {
	return int64(j.Width) * int64(j.Height)
}

var (
	ErrJobMismatch    = errors.New("export job mismatch")
	ErrExportRejected = errors.New("export rejected")
)

// JobMismatchError is a destination asking for a scale or CRS other than
// the composite's. Exports never resample.
type JobMismatchError struct {
	Parameter string
	Composite string
	Requested string
}

func (e *JobMismatchError) Error() string {
	return fmt.Sprintf("%s: %s is %s on the composite but %s was requested", ErrJobMismatch, e.Parameter, e.Composite, e.Requested)
}

func (e *JobMismatchError) Unwrap() error { return ErrJobMismatch }

// ExportRejectedError is a sink refusing a job. Resubmitting the same
// parameters will fail again.
type ExportRejectedError struct {
	Job       Job
	Parameter string
	Reason    string
}

func (e *ExportRejectedError) Error() string {
	return fmt.Sprintf("%s: job %s (%s): %s: %s", ErrExportRejected, e.Job.ID, e.Job.Description, e.Parameter, e.Reason)
}

func (e *ExportRejectedError) Unwrap() error { return ErrExportRejected }

// BuildJob describes c for dest.
func BuildJob(c *composite.Composite, dest Destination) (Job, error) {
	return PlanJob(c.Grid(), c.Names(), dest)
}

// PlanJob describes a composite of bands on g for dest before any pixel
// exists.
func PlanJob(g band.Grid, bands []string, dest Destination) (Job, error) {
	if dest.Scale != 0 && dest.Scale != g.Scale {
		return Job{}, &JobMismatchError{Parameter: "scale", Composite: fmt.Sprint(g.Scale), Requested: fmt.Sprint(dest.Scale)}
	}
	if dest.CRS != "" && dest.CRS != g.CRS {
		return Job{}, &JobMismatchError{Parameter: "crs", Composite: g.CRS, Requested: dest.CRS}
	}
	if dest.MaxPixels <= 0 {
		return Job{}, fmt.Errorf("export %q: a maximum pixel count is required", dest.Description)
	}
	if dest.Description == "" {
		return Job{}, errors.New("export: description is required")
	}
	format := dest.Format
	if format == "" {
		format = GeoTIFF
	}
	prefix := dest.FilePrefix
	if prefix == "" {
		prefix = dest.Description
	}
	return Job{
		ID:          uuid.New().String(),
		Description: dest.Description,
		Folder:      dest.Folder,
		FilePrefix:  prefix,
		Format:      format,
		Scale:       g.Scale,
		CRS:         g.CRS,
		Region:      g.Bounds,
		Width:       g.Width,
		Height:      g.Height,
		MaxPixels:   dest.MaxPixels,
		Bands:       append([]string(nil), bands...),
	}, nil
}

// CheckLimits is the admission test every sink applies before transfer.
func CheckLimits(j Job) error {
	if n := j.PixelCount(); n > j.MaxPixels {
		return &ExportRejectedError{Job: j, Parameter: "max_pixels",
			Reason: fmt.Sprintf("%d pixels exceed the ceiling of %d", n, j.MaxPixels)}
	}
	return nil
}

// Sink accepts jobs for transfer. Submit may return before the file exists.
type Sink interface {
	Submit(ctx context.Context, job Job, c *composite.Composite) error
}
