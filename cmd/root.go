package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmtile-go/internal/config"
	"github.com/wegman-software/osmtile-go/internal/logger"
)

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	logFile         string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "osmtile",
	Short: "Split OSM extracts into rectangular tiles",
	Long: `osmtile splits an OSM file into any number of rectangular tiles in a
single pass over the input.

Features:
  - Nodes go to every tile that contains them
  - Ways go to every tile their node bounding box overlaps
  - Sparse in-memory or memory-mapped node location index
  - PBF, OSM XML and Parquet outputs, chosen by file name
  - Tiles from the command line, a YAML file or a slippy map grid`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		logger.Init(logger.Options{Verbose: verbose, File: logFile})
	},
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output, including progress")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of PBF decoding goroutines")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging, 0 to disable (e.g., 10s, 1m)")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
