package config

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/osmtile-go/internal/grid"
	"github.com/wegman-software/osmtile-go/internal/partition"
)

// TilesFile is the YAML document accepted by --tiles
//
//	generator: my-splitter
//	tiles:
//	  - output: north.osm.pbf
//	    bounds: [-10, 0, 10, 10]
//	  - output: south.osm.pbf
//	    bounds: "-10,-10,10,0"
type TilesFile struct {
	Generator string      `yaml:"generator,omitempty"`
	Tiles     []TileEntry `yaml:"tiles"`
}

// TileEntry is one tile of a tiles file
type TileEntry struct {
	Output string     `yaml:"output"`
	Bounds YAMLBounds `yaml:"bounds"`
}

// YAMLBounds decodes bounds given either as a sequence of four numbers or
// as a "lon1,lat1,lon2,lat2" string
type YAMLBounds struct {
	orb.Bound
}

// UnmarshalYAML implements yaml.Unmarshaler
func (b *YAMLBounds) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		bound, err := ParseBounds(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		b.Bound = bound
		return nil

	case yaml.SequenceNode:
		var coords []float64
		if err := value.Decode(&coords); err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		if len(coords) != 4 {
			return fmt.Errorf("line %d: bounds must have 4 values, got %d", value.Line, len(coords))
		}
		bound, err := boundsFromCoords([4]float64{coords[0], coords[1], coords[2], coords[3]})
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		b.Bound = bound
		return nil
	}
	return fmt.Errorf("line %d: bounds must be a sequence or a string", value.Line)
}

// LoadTilesFile reads and validates a YAML tiles file
func LoadTilesFile(path string) (*TilesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tiles file: %w", err)
	}

	var tf TilesFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse tiles YAML: %w", err)
	}
	if len(tf.Tiles) == 0 {
		return nil, fmt.Errorf("tiles file %s defines no tiles", path)
	}
	for i, t := range tf.Tiles {
		if t.Output == "" {
			return nil, fmt.Errorf("tile %d in %s has no output", i+1, path)
		}
	}
	return &tf, nil
}

// TileSpecs resolves the configured tile source into an ordered list of
// tiles. If a tiles file sets a generator it replaces c.Generator.
func (c *Config) TileSpecs() ([]partition.TileSpec, error) {
	var specs []partition.TileSpec

	switch {
	case c.TilesFile != "":
		tf, err := LoadTilesFile(c.TilesFile)
		if err != nil {
			return nil, err
		}
		if tf.Generator != "" {
			c.Generator = tf.Generator
		}
		for _, t := range tf.Tiles {
			specs = append(specs, partition.TileSpec{Output: t.Output, Bounds: t.Bounds.Bound})
		}

	case c.GridOutput != "":
		area, err := ParseBounds(c.GridBBox)
		if err != nil {
			return nil, fmt.Errorf("grid bbox: %w", err)
		}
		specs, err = grid.Specs(c.GridZoom, area, c.GridOutput, c.GridBuffer)
		if err != nil {
			return nil, err
		}

	default:
		var err error
		specs, err = ParseTileList(c.Outputs, c.Bounds)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Output] {
			return nil, fmt.Errorf("output %s is used by more than one tile", s.Output)
		}
		seen[s.Output] = true
	}
	return specs, nil
}
