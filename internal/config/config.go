package config

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osmtile-go/internal/bbox"
	"github.com/wegman-software/osmtile-go/internal/partition"
)

// ErrTileMismatch is returned when the number of outputs and bounds differ
var ErrTileMismatch = errors.New("number of outputs and bounds must match")

// ParseBounds parses a bounds string in format "lon1,lat1,lon2,lat2".
// The two corners may be given in any order; the result is normalized.
func ParseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bounds %q must have 4 values: minlon,minlat,maxlon,maxlat", s)
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid bounds coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	return boundsFromCoords(coords)
}

func boundsFromCoords(coords [4]float64) (orb.Bound, error) {
	a := orb.Point{coords[0], coords[1]}
	b := orb.Point{coords[2], coords[3]}
	for _, p := range []orb.Point{a, b} {
		if !(p.Lon() >= -180 && p.Lon() <= 180 && p.Lat() >= -90 && p.Lat() <= 90) {
			return orb.Bound{}, fmt.Errorf("bounds %v outside of -180,-90,180,90", coords)
		}
	}

	return bbox.FromCorners(a, b).Bound(), nil
}

// ParseTileList pairs a ':'-separated list of output paths with a
// ':'-separated list of bounds, position by position.
func ParseTileList(outputs, bounds string) ([]partition.TileSpec, error) {
	if outputs == "" || bounds == "" {
		return nil, fmt.Errorf("both outputs and bounds are required")
	}

	outs := strings.Split(outputs, ":")
	bnds := strings.Split(bounds, ":")
	if len(outs) != len(bnds) {
		return nil, fmt.Errorf("%w: %d outputs, %d bounds", ErrTileMismatch, len(outs), len(bnds))
	}

	specs := make([]partition.TileSpec, 0, len(outs))
	for i := range outs {
		if outs[i] == "" {
			return nil, fmt.Errorf("output %d is empty", i+1)
		}
		b, err := ParseBounds(bnds[i])
		if err != nil {
			return nil, fmt.Errorf("tile %d: %w", i+1, err)
		}
		specs = append(specs, partition.TileSpec{Output: outs[i], Bounds: b})
	}
	return specs, nil
}

// Config holds the global configuration for a partition run
type Config struct {
	// Input settings
	InputFile string

	// Tile sources; exactly one of the three must be used
	Outputs    string  // ':'-separated output paths
	Bounds     string  // ':'-separated bounds, one per output
	TilesFile  string  // YAML tiles file
	GridZoom   int     // Slippy map zoom level for a generated grid (-1 = unset)
	GridBBox   string  // Area covered by the grid
	GridOutput string  // Output path template with {z}, {x} and {y}
	GridBuffer float64 // Degrees added around every grid tile

	// Location index settings
	LocationStore string // Store kind, e.g. "sparse_mem_array+mmap"
	IndexDir      string // Directory for mmap backing files

	// Processing settings
	Workers   int // PBF decoder goroutines
	Generator string
	BlockSize int  // Entities per PBF output block
	Compress  bool // Compress PBF output blocks

	// Progress reporting
	NodeProgressInterval int64
	WayProgressInterval  int64

	// Logging and metrics
	Verbose         bool
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging (0 = off)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		GridZoom:             -1,
		GridBBox:             "-180,-85.0511287798,180,85.0511287798",
		LocationStore:        "sparse_mem_array+mmap",
		Workers:              runtime.NumCPU(),
		Generator:            "osmtile",
		BlockSize:            8000,
		Compress:             true,
		NodeProgressInterval: 10000,
		WayProgressInterval:  1000,
		MetricsInterval:      30 * time.Second,
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}

	sources := 0
	if c.Outputs != "" || c.Bounds != "" {
		sources++
	}
	if c.TilesFile != "" {
		sources++
	}
	if c.GridZoom >= 0 || c.GridOutput != "" {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("exactly one of --output/--bounds, --tiles or --grid-zoom/--grid-output is required")
	}
	if (c.GridZoom >= 0) != (c.GridOutput != "") {
		return fmt.Errorf("--grid-zoom and --grid-output must be used together")
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("block size must be at least 1")
	}
	if c.NodeProgressInterval < 1 || c.WayProgressInterval < 1 {
		return fmt.Errorf("progress intervals must be at least 1")
	}
	if c.Generator == "" {
		return fmt.Errorf("generator must not be empty")
	}
	return nil
}
