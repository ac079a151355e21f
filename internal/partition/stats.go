package partition

import (
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osmtile-go/internal/progress"
)

// Stats holds the counters of a run
type Stats struct {
	Nodes        int64
	Ways         int64
	InvalidNodes int64 // nodes whose location could not be indexed
	NodesOutside int64 // nodes that matched no tile
	WaysOutside  int64 // ways that matched no tile

	UnresolvedRefs int64 // way references to nodes not in the index
	UnresolvedWays int64 // ways without a single resolvable node

	TileNodes []int64 // nodes written, per tile
	TileWays  []int64 // ways written, per tile

	IndexMemoryPos int64
	IndexMemoryNeg int64

	Duration time.Duration
}

// LogSummary writes the end-of-run summary, one line per tile followed by
// the totals
func (s Stats) LogSummary(log *zap.Logger, specs []TileSpec) {
	for i, spec := range specs {
		if i >= len(s.TileNodes) {
			break
		}
		log.Info("Tile written",
			zap.String("output", spec.Output),
			zap.Int64("nodes", s.TileNodes[i]),
			zap.Int64("ways", s.TileWays[i]))
	}

	var rate float64
	if secs := s.Duration.Seconds(); secs > 0 {
		rate = float64(s.Nodes+s.Ways) / secs
	}
	log.Info("Partition complete",
		zap.Int64("nodes", s.Nodes),
		zap.Int64("ways", s.Ways),
		zap.Int64("invalid_nodes", s.InvalidNodes),
		zap.Int64("nodes_outside", s.NodesOutside),
		zap.Int64("ways_outside", s.WaysOutside),
		zap.Int64("unresolved_refs", s.UnresolvedRefs),
		zap.Int64("unresolved_ways", s.UnresolvedWays),
		zap.String("index_memory_pos", progress.FormatBytes(s.IndexMemoryPos)),
		zap.String("index_memory_neg", progress.FormatBytes(s.IndexMemoryNeg)),
		zap.Duration("duration", s.Duration.Round(time.Millisecond)),
		zap.String("throughput", progress.FormatRate(rate)))
}
