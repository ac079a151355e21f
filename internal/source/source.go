// Package source opens OSM input files as a stream of entities in file order.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
	"go.uber.org/multierr"
)

// ErrUnsupportedInput is returned for input names without a known suffix
var ErrUnsupportedInput = errors.New("unsupported input format")

// Reader streams the entities of one input file. Relations are skipped by
// the PBF decoder; the XML decoder still returns them.
type Reader struct {
	osm.Scanner

	file    *os.File
	size    int64
	counter *countingReader
	pbf     *osmpbf.Scanner
	closers []io.Closer
}

// Open opens path and picks a decoder from its suffix. workers is the number
// of PBF decoding goroutines and is ignored for XML.
func Open(ctx context.Context, path string, workers int) (*Reader, error) {
	name := strings.ToLower(path)
	supported := strings.HasSuffix(name, ".pbf") || strings.HasSuffix(name, ".osm") ||
		strings.HasSuffix(name, ".xml") || strings.HasSuffix(name, ".osm.gz") ||
		strings.HasSuffix(name, ".osm.bz2")
	if !supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedInput, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}

	r := &Reader{file: f, size: info.Size()}

	if strings.HasSuffix(name, ".pbf") {
		if workers < 1 {
			workers = 1
		}
		scanner := osmpbf.New(ctx, f, workers)
		scanner.SkipRelations = true
		r.pbf = scanner
		r.Scanner = scanner
		return r, nil
	}

	r.counter = &countingReader{r: f}
	var in io.Reader = r.counter

	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(in)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		r.closers = append(r.closers, gz)
		in = gz
	case strings.HasSuffix(name, ".bz2"):
		bz, err := bzip2.NewReader(in, nil)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create bzip2 reader: %w", err)
		}
		r.closers = append(r.closers, bz)
		in = bz
	}

	r.Scanner = osmxml.New(ctx, in)
	return r, nil
}

// Size returns the size of the input file in bytes
func (r *Reader) Size() int64 {
	return r.size
}

// ScannedBytes returns how much of the input file has been consumed. It is
// safe to call from another goroutine.
func (r *Reader) ScannedBytes() int64 {
	if r.pbf != nil {
		return r.pbf.FullyScannedBytes()
	}
	return r.counter.n.Load()
}

// Close stops the decoder and closes the input file
func (r *Reader) Close() error {
	err := r.Scanner.Close()
	for _, c := range r.closers {
		err = multierr.Append(err, c.Close())
	}
	return multierr.Append(err, r.file.Close())
}

// countingReader counts the compressed bytes read from the file
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
