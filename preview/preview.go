// Package preview renders Web-Mercator quicklooks of a finished composite.
// It only reads the composite.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/terrascope/raster"
	"github.com/terrascope/scimage"
	"github.com/terrascope/scimage/scicolor"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/composite"
	"github.com/prl900/bandstack/crs"
)

// Mercator is the CRS quicklooks are drawn in.
const Mercator = "EPSG:3857"

// Style stretches [Min, Max] over Palette.
type Style struct {
	Min     float32
	Max     float32
	Palette []color.NRGBA
}

var (
	gray    = []color.NRGBA{{0, 0, 0, 255}, {255, 255, 255, 255}}
	thermal = []color.NRGBA{{0, 0, 255, 255}, {255, 255, 0, 255}, {255, 0, 0, 255}}
	terrain = []color.NRGBA{{0, 97, 71, 255}, {232, 215, 125, 255}, {161, 67, 0, 255}, {255, 255, 255, 255}}
)

// Styles are the presets per canonical band.
var Styles = map[string]Style{
	"Blue":    {0, 3000, gray},
	"Green":   {0, 3000, gray},
	"Red":     {0, 3000, gray},
	"NIR":     {0, 3000, gray},
	"SWIR1":   {0, 3000, gray},
	"SWIR2":   {0, 3000, gray},
	"Thermal": {290, 315, thermal},
	"DEM":     {0, 3000, terrain},
}

// StyleFor returns the preset for name, or a grey stretch over the band's
// own value range.
func StyleFor(b *band.Raster) Style {
	if s, ok := Styles[b.Name]; ok {
		return s
	}
	return Style{Min: b.Image.Min, Max: b.Image.Max, Palette: gray}
}

// canvas lays a Web-Mercator raster of the given width over the footprint
// of g, keeping its aspect ratio.
func canvas(g band.Grid, width int, lo, hi float32) (*raster.Raster, *scimage.GrayF32, error) {
	if width <= 0 {
		return nil, nil, fmt.Errorf("invalid preview width %d", width)
	}
	bbox, err := crs.TransformBounds(g.CRS, Mercator, g.Bounds)
	if err != nil {
		return nil, nil, err
	}
	dx, dy := bbox.Max.X-bbox.Min.X, bbox.Max.Y-bbox.Min.Y
	height := max(1, int(math.Round(float64(width)*dy/dx)))
	cov, err := crs.Coverage(Mercator, bbox)
	if err != nil {
		return nil, nil, err
	}
	img := scimage.NewGrayF32(image.Rect(0, 0, width, height), lo, hi, band.NoData)
	return &raster.Raster{Image: img, Coverage: cov}, img, nil
}

func warp(b *band.Raster, width int, lo, hi float32) (*scimage.GrayF32, error) {
	rIn, err := b.Georef()
	if err != nil {
		return nil, err
	}
	rMerc, img, err := canvas(b.Grid, width, lo, hi)
	if err != nil {
		return nil, err
	}
	rMerc.Warp(rIn)
	return img, nil
}

// Band renders one band of c with its preset style.
func Band(c *composite.Composite, name string, width int) (*image.Paletted, error) {
	b, ok := c.Band(name)
	if !ok {
		return nil, fmt.Errorf("band %q is not in the composite %v", name, c.Names())
	}
	style := StyleFor(b)
	img, err := warp(b, width, style.Min, style.Max)
	if err != nil {
		return nil, err
	}
	return img.AsPaletted(scicolor.GradientNRGBAPalette(style.Palette)), nil
}

// RGB renders a true colour quicklook from the Red, Green and Blue bands
// stretched over [lo, hi]. No-data pixels are transparent.
func RGB(c *composite.Composite, width int, lo, hi float32) (*image.NRGBA, error) {
	var chans [3]*scimage.GrayF32
	for i, name := range []string{"Red", "Green", "Blue"} {
		b, ok := c.Band(name)
		if !ok {
			return nil, fmt.Errorf("band %q is not in the composite %v", name, c.Names())
		}
		img, err := warp(b, width, lo, hi)
		if err != nil {
			return nil, err
		}
		chans[i] = img
	}

	rect := chans[0].Rect
	out := image.NewNRGBA(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			i := (y-rect.Min.Y)*chans[0].Stride + (x - rect.Min.X)
			r, g, b := chans[0].Pix[i], chans[1].Pix[i], chans[2].Pix[i]
			if r == band.NoData || g == band.NoData || b == band.NoData {
				continue
			}
			out.SetNRGBA(x, y, color.NRGBA{stretch(r, lo, hi), stretch(g, lo, hi), stretch(b, lo, hi), 255})
		}
	}
	return out, nil
}

func stretch(v, lo, hi float32) uint8 {
	if hi <= lo {
		return 0
	}
	f := (v - lo) / (hi - lo)
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return 255
	}
	return uint8(f*255 + 0.5)
}

// WritePNG encodes img.
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("Error PNG encoding preview: %v", err)
	}
	return nil
}
