// Package partition streams OSM nodes and ways into rectangular tiles. Nodes
// are indexed by ID as they pass so that ways, which only reference node IDs,
// can be placed by the bounding box of their nodes.
package partition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wegman-software/osmtile-go/internal/bbox"
	"github.com/wegman-software/osmtile-go/internal/logger"
	"github.com/wegman-software/osmtile-go/internal/nodeindex"
	"github.com/wegman-software/osmtile-go/internal/progress"
)

var (
	// ErrFinalized is returned by every operation after Finalize or Abort
	ErrFinalized = errors.New("partition driver already finalized")
	// ErrNotInitialized is returned when entities arrive before Open
	ErrNotInitialized = errors.New("partition driver not initialized")
)

// Source is a stream of OSM entities with all nodes before all ways
type Source interface {
	Scan() bool
	Object() osm.Object
	Err() error
}

// sizedSource is implemented by sources that can report read progress
type sizedSource interface {
	Size() int64
	ScannedBytes() int64
}

// LocationIndex maps node IDs to coordinates. Set returns the location as
// stored, which is what ways are later placed by. An error wrapping
// nodeindex.ErrInvalidLocation rejects a single node; any other error is
// fatal to the run.
type LocationIndex interface {
	Set(id int64, p orb.Point) (orb.Point, error)
	Get(id int64) (orb.Point, bool)
	UsedMemory() (pos, neg int64)
	Close() error
}

// State is the lifecycle position of a Driver
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateStreamingNodes
	StateStreamingWays
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStreamingNodes:
		return "streaming nodes"
	case StateStreamingWays:
		return "streaming ways"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ctxCheckInterval is how many entities Run reads between context checks
const ctxCheckInterval = 4096

// Options configure a Driver
type Options struct {
	NodeProgressInterval int64
	WayProgressInterval  int64
	Logger               *zap.Logger
}

// Driver routes a single pass over a source into a tile set. It is not safe
// for concurrent use.
type Driver struct {
	specs []TileSpec
	open  OpenFunc
	index LocationIndex
	opts  Options
	log   *zap.Logger

	tiles   *TileSet
	state   State
	stats   Stats
	matches []int

	start   time.Time
	tracker *progress.Tracker
	scanned func() int64
}

// NewDriver returns a driver for the given tiles. It takes ownership of the
// index and releases it on Finalize or Abort.
func NewDriver(specs []TileSpec, index LocationIndex, open OpenFunc, opts Options) (*Driver, error) {
	if len(specs) == 0 {
		return nil, ErrNoTiles
	}
	if opts.NodeProgressInterval < 1 {
		opts.NodeProgressInterval = 10000
	}
	if opts.WayProgressInterval < 1 {
		opts.WayProgressInterval = 1000
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}

	return &Driver{
		specs: specs,
		open:  open,
		index: index,
		opts:  opts,
		log:   log,
		stats: Stats{
			TileNodes: make([]int64, len(specs)),
			TileWays:  make([]int64, len(specs)),
		},
		matches: make([]int, 0, len(specs)),
		tracker: progress.NewTracker(0),
		scanned: func() int64 { return 0 },
	}, nil
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	return d.state
}

// Stats returns a copy of the counters collected so far
func (d *Driver) Stats() Stats {
	s := d.stats
	s.TileNodes = append([]int64(nil), d.stats.TileNodes...)
	s.TileWays = append([]int64(nil), d.stats.TileWays...)
	return s
}

// Open creates every tile output before the first entity is read
func (d *Driver) Open() error {
	switch d.state {
	case StateFinalized:
		return ErrFinalized
	case StateCreated:
	default:
		return nil
	}

	tiles, err := OpenTileSet(d.specs, d.open)
	if err != nil {
		return err
	}
	d.tiles = tiles
	d.state = StateInitialized
	d.start = time.Now()
	d.log.Info("Opened outputs", zap.Int("tiles", tiles.Len()))
	return nil
}

func (d *Driver) checkStreaming() error {
	switch d.state {
	case StateFinalized:
		return ErrFinalized
	case StateCreated:
		return ErrNotInitialized
	}
	return nil
}

// OnNode indexes the node's location and forwards the node to every tile
// containing it
func (d *Driver) OnNode(n *osm.Node) error {
	if err := d.checkStreaming(); err != nil {
		return err
	}
	if d.state == StateInitialized {
		d.state = StateStreamingNodes
	}

	d.stats.Nodes++
	if d.stats.Nodes%d.opts.NodeProgressInterval == 0 {
		d.logProgress("Processing nodes", d.stats.Nodes)
	}

	// classify by the stored location so a node and its ways agree on edges
	p, err := d.index.Set(int64(n.ID), n.Point())
	if errors.Is(err, nodeindex.ErrInvalidLocation) {
		d.stats.InvalidNodes++
		d.log.Debug("Skipping node with invalid location", zap.Int64("id", int64(n.ID)), zap.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to index node %d: %w", n.ID, err)
	}

	d.matches = d.tiles.Classify(bbox.FromPoint(p), d.matches[:0])
	if len(d.matches) == 0 {
		d.stats.NodesOutside++
	}
	for _, i := range d.matches {
		if err := d.tiles.Sink(i).WriteNode(n); err != nil {
			return fmt.Errorf("failed to write node %d to %s: %w", n.ID, d.specs[i].Output, err)
		}
		d.stats.TileNodes[i]++
	}
	return nil
}

// OnWay places the way by the box around its indexed nodes and forwards it
// to every tile that box overlaps. References to unknown nodes are skipped.
func (d *Driver) OnWay(w *osm.Way) error {
	if err := d.checkStreaming(); err != nil {
		return err
	}
	if d.state != StateStreamingWays {
		d.state = StateStreamingWays
		d.logIndexMemory()
	}

	d.stats.Ways++
	if d.stats.Ways%d.opts.WayProgressInterval == 0 {
		d.logProgress("Processing ways", d.stats.Ways)
	}

	var box bbox.Box
	for _, wn := range w.Nodes {
		p, ok := d.index.Get(int64(wn.ID))
		if !ok {
			d.stats.UnresolvedRefs++
			d.log.Debug("Way references unknown node", zap.Int64("way", int64(w.ID)), zap.Int64("node", int64(wn.ID)))
			continue
		}
		box.Extend(p)
	}
	if box.IsEmpty() {
		d.stats.UnresolvedWays++
	}

	d.matches = d.tiles.Classify(box, d.matches[:0])
	if len(d.matches) == 0 {
		d.stats.WaysOutside++
	}
	for _, i := range d.matches {
		if err := d.tiles.Sink(i).WriteWay(w); err != nil {
			return fmt.Errorf("failed to write way %d to %s: %w", w.ID, d.specs[i].Output, err)
		}
		d.stats.TileWays[i]++
	}
	return nil
}

// Run opens the outputs if needed and routes every node and way of src.
// Reading stops at the first relation. The context is checked periodically;
// on cancellation its error is returned and the caller should Abort.
func (d *Driver) Run(ctx context.Context, src Source) error {
	if err := d.Open(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s, ok := src.(sizedSource); ok {
		d.tracker = progress.NewTracker(s.Size())
		d.scanned = s.ScannedBytes
	}

	var read int64
	for src.Scan() {
		read++
		if read%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		switch o := src.Object().(type) {
		case *osm.Node:
			if err := d.OnNode(o); err != nil {
				return err
			}
		case *osm.Way:
			if err := d.OnWay(o); err != nil {
				return err
			}
		case *osm.Relation:
			d.log.Debug("Reached relations, stopping", zap.Int64("relation", int64(o.ID)))
			return nil
		}
	}

	if err := src.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return ctx.Err()
}

// Finalize closes every output in tile order and releases the index. It
// is terminal; later calls return ErrFinalized.
func (d *Driver) Finalize() (Stats, error) {
	if d.state == StateFinalized {
		return d.Stats(), ErrFinalized
	}
	if d.state != StateStreamingWays {
		d.logIndexMemory()
	}

	var err error
	if d.tiles != nil {
		err = d.tiles.Close(d.log)
	}
	d.stats.Duration = time.Since(d.start)
	err = multierr.Append(err, d.closeIndex())
	d.state = StateFinalized
	return d.Stats(), err
}

// Abort discards all outputs and releases the index
func (d *Driver) Abort() error {
	if d.state == StateFinalized {
		return ErrFinalized
	}

	var err error
	if d.tiles != nil {
		err = d.tiles.Abort()
	}
	err = multierr.Append(err, d.closeIndex())
	d.state = StateFinalized
	return err
}

func (d *Driver) closeIndex() error {
	if d.index == nil {
		return nil
	}
	err := d.index.Close()
	d.index = nil
	if err != nil {
		return fmt.Errorf("failed to close location index: %w", err)
	}
	return nil
}

func (d *Driver) logIndexMemory() {
	pos, neg := d.index.UsedMemory()
	d.stats.IndexMemoryPos, d.stats.IndexMemoryNeg = pos, neg
	d.log.Info("Location index memory",
		zap.Int64("nodes", d.stats.Nodes),
		zap.String("positive", progress.FormatBytes(pos)),
		zap.String("negative", progress.FormatBytes(neg)))
}

func (d *Driver) logProgress(msg string, count int64) {
	if ce := d.log.Check(zap.DebugLevel, msg); ce != nil {
		s := d.tracker.Snapshot(count, d.scanned())
		ce.Write(
			zap.Int64("count", count),
			zap.String("rate", progress.FormatRate(s.Rate)),
			zap.String("progress", fmt.Sprintf("%.1f%%", s.Percentage)),
			zap.String("eta", progress.FormatETA(s.ETA)),
		)
	}
}
