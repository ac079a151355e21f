package partition

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wegman-software/osmtile-go/internal/bbox"
)

// ErrNoTiles is returned when a tile set would have no tiles
var ErrNoTiles = errors.New("at least one tile is required")

// Sink receives the entities routed to one tile. Close is called exactly
// once after the last write.
type Sink interface {
	WriteNode(n *osm.Node) error
	WriteWay(w *osm.Way) error
	Close() error
}

// aborter is implemented by sinks that can discard a partial output
type aborter interface {
	Abort() error
}

// TileSpec names one output and the region it receives
type TileSpec struct {
	Output string
	Bounds orb.Bound
}

// OpenFunc creates the sink for a tile
type OpenFunc func(spec TileSpec) (Sink, error)

// TileSet is the ordered, immutable list of tiles of a run
type TileSet struct {
	specs  []TileSpec
	bounds []orb.Bound
	sinks  []Sink
}

// OpenTileSet opens a sink for every spec, in order. If any open fails the
// sinks opened so far are aborted and the error is returned.
func OpenTileSet(specs []TileSpec, open OpenFunc) (*TileSet, error) {
	if len(specs) == 0 {
		return nil, ErrNoTiles
	}

	ts := &TileSet{
		specs:  specs,
		bounds: make([]orb.Bound, 0, len(specs)),
		sinks:  make([]Sink, 0, len(specs)),
	}
	for _, spec := range specs {
		s, err := open(spec)
		if err != nil {
			return nil, multierr.Append(
				fmt.Errorf("failed to open output %s: %w", spec.Output, err),
				ts.Abort(),
			)
		}
		ts.bounds = append(ts.bounds, spec.Bounds)
		ts.sinks = append(ts.sinks, s)
	}
	return ts, nil
}

// Len returns the number of tiles
func (ts *TileSet) Len() int {
	return len(ts.specs)
}

// Classify appends to dst the indexes of the tiles q overlaps
func (ts *TileSet) Classify(q bbox.Box, dst []int) []int {
	return bbox.Classify(q, ts.bounds, dst)
}

// Sink returns the sink of tile i
func (ts *TileSet) Sink(i int) Sink {
	return ts.sinks[i]
}

// Close closes every sink in tile order. All sinks are closed even if one
// fails; the errors are combined.
func (ts *TileSet) Close(log *zap.Logger) error {
	var err error
	for i, s := range ts.sinks {
		log.Info(fmt.Sprintf("finalizing output %d/%d", i+1, len(ts.sinks)),
			zap.String("output", ts.specs[i].Output))
		if cerr := s.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close output %s: %w", ts.specs[i].Output, cerr))
		}
	}
	ts.sinks = nil
	return err
}

// Abort discards every opened sink. Sinks that cannot discard their
// output are closed instead.
func (ts *TileSet) Abort() error {
	var err error
	for _, s := range ts.sinks {
		if a, ok := s.(aborter); ok {
			err = multierr.Append(err, a.Abort())
		} else {
			err = multierr.Append(err, s.Close())
		}
	}
	ts.sinks = nil
	return err
}
