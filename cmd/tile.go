package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmtile-go/internal/config"
	"github.com/wegman-software/osmtile-go/internal/logger"
	"github.com/wegman-software/osmtile-go/internal/metrics"
	"github.com/wegman-software/osmtile-go/internal/nodeindex"
	"github.com/wegman-software/osmtile-go/internal/partition"
	"github.com/wegman-software/osmtile-go/internal/sink"
	"github.com/wegman-software/osmtile-go/internal/source"
)

var tileCmd = &cobra.Command{
	Use:   "tile <input>",
	Short: "Split an OSM file into rectangular tiles",
	Long: `Read an OSM file (.osm.pbf, .osm, .osm.gz, .osm.bz2) once and write every
node and way to each tile it falls into. Relations are not copied.

Tiles come from exactly one of:
  -o a.osm.pbf:b.osm.pbf -b 0,0,15,15:15,15,30,30
  --tiles tiles.yaml
  --grid-zoom 6 --grid-output 'out/{z}/{x}/{y}.osm.pbf'

A point on the edge of a tile is not inside it. Use --grid-buffer to make
generated tiles overlap.`,
	Args: cobra.ExactArgs(1),
	Run:  runTileCmd,
}

func init() {
	rootCmd.AddCommand(tileCmd)

	f := tileCmd.Flags()
	f.StringVarP(&cfg.Outputs, "output", "o", "", "':'-separated output files (.osm.pbf, .osm, .osm.gz, .parquet)")
	f.StringVarP(&cfg.Bounds, "bounds", "b", "", "':'-separated bounds, one lon1,lat1,lon2,lat2 per output")
	f.StringVarP(&cfg.TilesFile, "tiles", "t", "", "YAML file listing outputs and their bounds")
	f.IntVar(&cfg.GridZoom, "grid-zoom", cfg.GridZoom, "Zoom level of a generated slippy map tile grid")
	f.StringVar(&cfg.GridBBox, "grid-bbox", cfg.GridBBox, "Area covered by the generated grid")
	f.StringVar(&cfg.GridOutput, "grid-output", "", "Output path template for grid tiles with {z}, {x} and {y}")
	f.Float64Var(&cfg.GridBuffer, "grid-buffer", 0, "Degrees added around every grid tile")

	f.StringVar(&cfg.LocationStore, "location-store", cfg.LocationStore, "Node location store: sparse_mem_array, mmap or map, optionally POS+NEG")
	f.StringVar(&cfg.IndexDir, "index-dir", "", "Directory for mmap location store files (default: system temp dir)")

	f.StringVar(&cfg.Generator, "generator", cfg.Generator, "Generator name written to output headers")
	f.IntVar(&cfg.BlockSize, "block-size", cfg.BlockSize, "Entities per PBF block or Parquet batch")
	f.BoolVar(&cfg.Compress, "compress", cfg.Compress, "zlib-compress PBF blocks")
	f.Int64Var(&cfg.NodeProgressInterval, "node-progress", cfg.NodeProgressInterval, "Log progress every N nodes (with --verbose)")
	f.Int64Var(&cfg.WayProgressInterval, "way-progress", cfg.WayProgressInterval, "Log progress every N ways (with --verbose)")
}

func runTileCmd(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := runTile(ctx, cfg); err != nil {
		exitWithError("tiling failed", err)
	}
}

// runTile performs one partition run. On failure every output is removed.
func runTile(ctx context.Context, cfg *config.Config) (partition.Stats, error) {
	log := logger.Get()

	tiles, err := cfg.TileSpecs()
	if err != nil {
		return partition.Stats{}, fmt.Errorf("invalid tiles: %w", err)
	}
	for _, t := range tiles {
		if _, err := sink.DetectFormat(t.Output); err != nil {
			return partition.Stats{}, err
		}
	}

	idx, err := nodeindex.New(cfg.LocationStore, cfg.IndexDir)
	if err != nil {
		return partition.Stats{}, err
	}

	src, err := source.Open(ctx, cfg.InputFile, cfg.Workers)
	if err != nil {
		idx.Close()
		return partition.Stats{}, err
	}
	defer src.Close()

	opts := sink.Options{BlockSize: cfg.BlockSize, Compress: cfg.Compress}
	open := func(spec partition.TileSpec) (partition.Sink, error) {
		b := spec.Bounds
		return sink.Open(spec.Output, sink.Header{Generator: cfg.Generator, Bounds: &b}, opts)
	}

	driver, err := partition.NewDriver(tiles, idx, open, partition.Options{
		NodeProgressInterval: cfg.NodeProgressInterval,
		WayProgressInterval:  cfg.WayProgressInterval,
		Logger:               log,
	})
	if err != nil {
		idx.Close()
		return partition.Stats{}, err
	}

	log.Info("Starting partition",
		zap.String("input", cfg.InputFile),
		zap.Int("tiles", len(tiles)),
		zap.String("location_store", cfg.LocationStore),
		zap.Int("workers", cfg.Workers),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.MetricsInterval > 0 {
		collector := metrics.NewCollector(cfg.MetricsInterval, log, idx.UsedMemory)
		g.Go(func() error {
			return collector.Run(gctx)
		})
	}

	g.Go(func() error {
		// stop the collector once the input is consumed
		defer cancel()
		return driver.Run(gctx, src)
	})

	if err := g.Wait(); err != nil {
		if aerr := driver.Abort(); aerr != nil {
			log.Warn("Failed to remove partial outputs", zap.Error(aerr))
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return partition.Stats{}, fmt.Errorf("interrupted: %w", err)
		}
		return partition.Stats{}, err
	}

	stats, err := driver.Finalize()
	if err != nil {
		for _, t := range tiles {
			os.Remove(t.Output)
		}
		return stats, err
	}

	stats.LogSummary(log, tiles)
	return stats, nil
}
