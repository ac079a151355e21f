// Package grid generates tile specifications from the Web Mercator
// (slippy map) tile grid.
package grid

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Tile represents a map tile at a specific zoom level
type Tile struct {
	Z int // Zoom level
	X int // X coordinate (column)
	Y int // Y coordinate (row)
}

// String returns the tile in z/x/y format
func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// Web Mercator constants
const (
	// Maximum latitude for Web Mercator (approximately 85.051129°)
	MaxMercatorLat = 85.0511287798
	// Minimum latitude for Web Mercator
	MinMercatorLat = -85.0511287798

	MaxZoom = 20
)

// LatLonToTile converts latitude/longitude to tile coordinates at a given zoom level
// Uses the standard Web Mercator tile scheme (OSM/Google style)
func LatLonToTile(lat, lon float64, zoom int) Tile {
	lat = math.Max(MinMercatorLat, math.Min(MaxMercatorLat, lat))
	lon = math.Max(-180, math.Min(180, lon))

	n := float64(int(1) << zoom) // 2^zoom

	x := int((lon + 180.0) / 360.0 * n)
	if x >= int(n) {
		x = int(n) - 1
	}

	latRad := lat * math.Pi / 180.0
	y := int((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)
	if y >= int(n) {
		y = int(n) - 1
	}
	if y < 0 {
		y = 0
	}

	return Tile{Z: zoom, X: x, Y: y}
}

// Bound returns the geographic extent of the tile
func (t Tile) Bound() orb.Bound {
	n := float64(int(1) << t.Z)

	minLon := float64(t.X)/n*360.0 - 180.0
	maxLon := float64(t.X+1)/n*360.0 - 180.0
	// Y grows southwards, so the tile's top edge comes from Y and the bottom from Y+1
	maxLat := tileYToLat(float64(t.Y), n)
	minLat := tileYToLat(float64(t.Y+1), n)

	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}

func tileYToLat(y, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi*(1-2*y/n))) * 180.0 / math.Pi
}

// TileRange represents a range of tiles at a specific zoom level
type TileRange struct {
	Z          int
	MinX, MaxX int
	MinY, MaxY int
}

// BoundToTileRange converts a bounding box to a range of tiles at a given zoom level
func BoundToTileRange(b orb.Bound, zoom int) TileRange {
	// Note: In tile coordinates, Y increases downward (north to south)
	topLeft := LatLonToTile(b.Top(), b.Left(), zoom)
	bottomRight := LatLonToTile(b.Bottom(), b.Right(), zoom)

	return TileRange{
		Z:    zoom,
		MinX: topLeft.X,
		MaxX: bottomRight.X,
		MinY: topLeft.Y, // Northern tiles have smaller Y
		MaxY: bottomRight.Y,
	}
}

// TileCount returns the number of tiles in the range
func (r TileRange) TileCount() int {
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Tiles returns all tiles in the range, row by row from the north-west corner
func (r TileRange) Tiles() []Tile {
	tiles := make([]Tile, 0, r.TileCount())
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			tiles = append(tiles, Tile{Z: r.Z, X: x, Y: y})
		}
	}
	return tiles
}
