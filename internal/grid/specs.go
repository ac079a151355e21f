package grid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osmtile-go/internal/partition"
)

// MaxTiles caps the number of outputs a grid may produce; every tile keeps
// an open file for the whole run
const MaxTiles = 4096

// Specs returns one tile spec per grid tile at zoom that intersects area.
// template must contain {x} and {y} (and usually {z}); buffer expands every
// tile's bounds by that many degrees so neighbouring tiles overlap and
// entities on a shared edge end up in both.
func Specs(zoom int, area orb.Bound, template string, buffer float64) ([]partition.TileSpec, error) {
	if zoom < 0 || zoom > MaxZoom {
		return nil, fmt.Errorf("grid zoom must be between 0 and %d, got %d", MaxZoom, zoom)
	}
	if buffer < 0 {
		return nil, fmt.Errorf("grid buffer must not be negative, got %f", buffer)
	}

	r := BoundToTileRange(area, zoom)
	if n := r.TileCount(); n > MaxTiles {
		return nil, fmt.Errorf("grid at zoom %d covers %d tiles, more than the maximum of %d", zoom, n, MaxTiles)
	}
	if r.TileCount() > 1 && !(strings.Contains(template, "{x}") && strings.Contains(template, "{y}")) {
		return nil, fmt.Errorf("grid output template %q must contain {x} and {y}", template)
	}

	tiles := r.Tiles()
	specs := make([]partition.TileSpec, 0, len(tiles))
	for _, t := range tiles {
		b := t.Bound()
		if buffer > 0 {
			b = b.Pad(buffer)
		}
		specs = append(specs, partition.TileSpec{
			Output: ExpandTemplate(template, t),
			Bounds: b,
		})
	}
	return specs, nil
}

// ExpandTemplate replaces {z}, {x} and {y} in template with the tile's values
func ExpandTemplate(template string, t Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
	).Replace(template)
}
