// Package sink writes OSM entities to tile output files. The format is
// chosen from the file name: PBF, OSM XML (optionally gzipped) or Parquet.
package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// ErrUnknownFormat is returned for output names without a supported suffix
var ErrUnknownFormat = errors.New("unknown output format")

// Format identifies an output encoding
type Format int

const (
	FormatPBF Format = iota + 1
	FormatXML
	FormatXMLGzip
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatPBF:
		return "pbf"
	case FormatXML:
		return "xml"
	case FormatXMLGzip:
		return "xml+gzip"
	case FormatParquet:
		return "parquet"
	}
	return "unknown"
}

// DetectFormat returns the output format for a file name
func DetectFormat(path string) (Format, error) {
	name := strings.ToLower(path)
	switch {
	case strings.HasSuffix(name, ".pbf"):
		return FormatPBF, nil
	case strings.HasSuffix(name, ".osm.gz"):
		return FormatXMLGzip, nil
	case strings.HasSuffix(name, ".osm"), strings.HasSuffix(name, ".xml"):
		return FormatXML, nil
	case strings.HasSuffix(name, ".parquet"):
		return FormatParquet, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Header is written at the start of every output
type Header struct {
	Generator string
	Bounds    *orb.Bound // nil writes no bounds
}

// Options tune the encoders
type Options struct {
	BlockSize int  // entities per PBF block or Parquet row group batch
	Compress  bool // zlib-compress PBF blobs
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{BlockSize: 8000, Compress: true}
}

// Writer is an open tile output. Close must be called exactly once on
// success; Abort closes and deletes a partial output instead.
type Writer interface {
	WriteNode(n *osm.Node) error
	WriteWay(w *osm.Way) error
	Close() error
	Abort() error
}

// Open creates the file at path, including missing parent directories, and
// writes the header
func Open(path string, h Header, opts Options) (Writer, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if opts.BlockSize < 1 {
		opts.BlockSize = DefaultOptions().BlockSize
	}

	switch format {
	case FormatPBF:
		return newPBFWriter(path, h, opts)
	case FormatXML:
		return newXMLWriter(path, h, false)
	case FormatXMLGzip:
		return newXMLWriter(path, h, true)
	case FormatParquet:
		return newParquetWriter(path, opts)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}
