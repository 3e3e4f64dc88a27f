// Package geo holds the WGS84 bounding box used for the region of interest,
// registry query tiles and speed-tile prefiltering.
package geo

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// gridEpsilon absorbs float drift when stepping across a region so a band
// that would end within a billionth of a degree of the edge is not emitted.
const gridEpsilon = 1e-9

// BBox is an axis-aligned box in degrees.
type BBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Validate reports a degenerate or out-of-range box.
func (b BBox) Validate() error {
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return eris.Errorf("geo: empty bbox %s", b)
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return eris.Errorf("geo: bbox %s out of range", b)
	}
	return nil
}

// String renders the box as latmin,lonmin,latmax,lonmax with five decimals,
// the form the tower registry expects for its BBOX parameter.
func (b BBox) String() string {
	return fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// EnvelopeSQL returns an ST_MakeEnvelope expression in SRID 4326.
func (b BBox) EnvelopeSQL() string {
	return fmt.Sprintf("ST_MakeEnvelope(%s, %s, %s, %s, 4326)",
		formatCoord(b.MinLon), formatCoord(b.MinLat), formatCoord(b.MaxLon), formatCoord(b.MaxLat))
}

// Intersects reports whether the boxes share any point, edges included.
func (b BBox) Intersects(o BBox) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat &&
		b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon
}

// FromBounds converts go-geom XY bounds (x = lon, y = lat).
func FromBounds(bounds *geom.Bounds) BBox {
	return BBox{
		MinLat: bounds.Min(1),
		MinLon: bounds.Min(0),
		MaxLat: bounds.Max(1),
		MaxLon: bounds.Max(0),
	}
}

// Grid splits b into step-sized tiles, latitude bands outer and longitude
// bands inner. The last row and column are clipped to b so the tiles cover
// b exactly, without gaps or overshoot.
func (b BBox) Grid(stepLat, stepLon float64) ([]BBox, error) {
	if stepLat <= 0 || stepLon <= 0 {
		return nil, eris.New("geo: grid steps must be positive")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	latEdges := edges(b.MinLat, b.MaxLat, stepLat)
	lonEdges := edges(b.MinLon, b.MaxLon, stepLon)

	tiles := make([]BBox, 0, (len(latEdges)-1)*(len(lonEdges)-1))
	for i := 0; i+1 < len(latEdges); i++ {
		for j := 0; j+1 < len(lonEdges); j++ {
			tiles = append(tiles, BBox{
				MinLat: latEdges[i],
				MinLon: lonEdges[j],
				MaxLat: latEdges[i+1],
				MaxLon: lonEdges[j+1],
			})
		}
	}
	return tiles, nil
}

// edges returns min, min+step, ... up to and including max.
func edges(min, max, step float64) []float64 {
	out := []float64{min}
	for i := 1; ; i++ {
		next := min + float64(i)*step
		if next >= max-gridEpsilon {
			out = append(out, max)
			return out
		}
		out = append(out, next)
	}
}

func formatCoord(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.1f", v)
	}
	return fmt.Sprintf("%g", v)
}
