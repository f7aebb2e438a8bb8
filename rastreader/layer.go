package rastreader

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Collection is one catalog entry of the index.
type Collection struct {
	Name     string  `json:"name"`
	Abstract string  `json:"abstract,omitempty"`
	CRS      string  `json:"crs"`
	Scale    float64 `json:"scale"`
	// Static marks undated collections such as elevation models and
	// exported composites.
	Static bool          `json:"static,omitempty"`
	Bands  []string      `json:"bands"`
	Scenes []SceneRecord `json:"scenes"`
}

// SceneRecord locates the tiles of one scene.
type SceneRecord struct {
	ID           string                `json:"id"`
	Date         string                `json:"date_iso8601"`
	XSize        int                   `json:"x_size"`
	YSize        int                   `json:"y_size"`
	Geotransform []float64             `json:"geotransform"`
	Properties   map[string]float64    `json:"properties,omitempty"`
	Mask         string                `json:"mask,omitempty"`
	Bands        map[string]BandRecord `json:"bands"`
}

// BandRecord is one tile object and its encoding.
type BandRecord struct {
	Object string   `json:"object"`
	DType  string   `json:"dtype"`
	NoData *float64 `json:"no_data,omitempty"`
	Scale  float64  `json:"scale,omitempty"`
	Offset float64  `json:"offset,omitempty"`
}

// Index maps catalog IDs to collections.
type Index map[string]Collection

// ReadIndex loads and decodes the index object.
func ReadIndex(ctx context.Context, s Store, name string) (Index, error) {
	data, err := readObject(ctx, s, name)
	if err != nil {
		return nil, err
	}
	idx := Index{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("Error decoding index %s: %v", name, err)
	}
	return idx, nil
}

// WriteIndex encodes idx into the named object.
func WriteIndex(ctx context.Context, s Store, name string, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return writeObject(ctx, s, name, data)
}

// parseDate accepts RFC3339 timestamps and plain YYYY-MM-DD dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
