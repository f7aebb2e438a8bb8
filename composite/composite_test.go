package composite

import (
	"errors"
	"reflect"
	"testing"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/catalog/scenetest"
)

var grid = scenetest.Grid(73.7, 18.7, 0.1, 3, 3)

func bandsNamed(g band.Grid, names ...string) []*band.Raster {
	out := make([]*band.Raster, len(names))
	for i, n := range names {
		out[i] = band.New(n, g)
		out[i].Set(0, 0, float32(i))
	}
	return out
}

func TestComposeOrdersBySchema(t *testing.T) {
	bands := bandsNamed(grid, "DEM", "Thermal", "SWIR2", "Red", "Blue", "NIR", "Green", "SWIR1")
	c, err := Compose(bands, DefaultSchema)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	want := []string{"Blue", "Green", "Red", "NIR", "SWIR1", "SWIR2", "Thermal", "DEM"}
	if !reflect.DeepEqual(c.Names(), want) {
		t.Fatalf("unexpected names %v", c.Names())
	}
	for i, b := range c.Bands() {
		if b.Name != want[i] {
			t.Fatalf("band %d is %s, want %s", i, b.Name, want[i])
		}
	}
	if c.Len() != 8 || !c.Grid().Equal(grid) {
		t.Fatal("composite must expose 8 bands on the shared grid")
	}
	dem, ok := c.Band("DEM")
	if !ok || dem.At(0, 0) != 0 {
		t.Fatal("pixel values must pass through untouched")
	}
}

func TestComposeReportsMismatch(t *testing.T) {
	other := scenetest.Grid(73.7, 18.7, 0.05, 6, 6)
	cases := []struct {
		name  string
		bands []*band.Raster
		want  SchemaMismatchError
	}{
		{
			name:  "missing",
			bands: bandsNamed(grid, "Blue", "Green", "Red", "NIR", "SWIR1", "SWIR2", "Thermal"),
			want:  SchemaMismatchError{Missing: []string{"DEM"}},
		},
		{
			name:  "duplicate",
			bands: bandsNamed(grid, "Blue", "Green", "Red", "NIR", "SWIR1", "SWIR2", "Thermal", "DEM", "Red"),
			want:  SchemaMismatchError{Duplicate: []string{"Red"}},
		},
		{
			name:  "extra",
			bands: bandsNamed(grid, "Blue", "Green", "Red", "NIR", "SWIR1", "SWIR2", "Thermal", "DEM", "B8A"),
			want:  SchemaMismatchError{Extra: []string{"B8A"}},
		},
		{
			name: "misaligned",
			bands: append(bandsNamed(grid, "Blue", "Green", "Red", "NIR", "SWIR1", "SWIR2", "Thermal"),
				bandsNamed(other, "DEM")...),
			want: SchemaMismatchError{Misaligned: []string{"DEM"}},
		},
		{
			name:  "several",
			bands: bandsNamed(grid, "Blue", "Blue", "Red", "NIR", "SWIR1", "SWIR2", "Thermal", "B1"),
			want:  SchemaMismatchError{Missing: []string{"Green", "DEM"}, Duplicate: []string{"Blue"}, Extra: []string{"B1"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Compose(tc.bands, DefaultSchema)
			if c != nil {
				t.Fatal("a partial composite must never be returned")
			}
			var sm *SchemaMismatchError
			if !errors.As(err, &sm) {
				t.Fatalf("expected SchemaMismatchError, got %v", err)
			}
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Fatal("expected ErrSchemaMismatch kind")
			}
			if !reflect.DeepEqual(*sm, tc.want) {
				t.Fatalf("got %+v, want %+v", *sm, tc.want)
			}
		})
	}
}

func TestSchemaValidate(t *testing.T) {
	if err := DefaultSchema.Validate(); err != nil {
		t.Fatalf("default schema: %v", err)
	}
	for _, s := range []Schema{nil, {"A", "A"}, {"A", ""}} {
		if err := s.Validate(); err == nil {
			t.Errorf("expected %v to be rejected", s)
		}
	}
}
