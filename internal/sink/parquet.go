package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/osm"
	"go.uber.org/multierr"
)

// parquetSchema has one row per entity; lon/lat are null for ways and
// node_refs is null for nodes
var parquetSchema = arrow.NewSchema([]arrow.Field{
	{Name: "osm_type", Type: arrow.BinaryTypes.String, Nullable: false},
	{Name: "osm_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	{Name: "lon", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "lat", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "node_refs", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
	{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
}, nil)

// tagsToJSON converts OSM tags to a JSON object string
func tagsToJSON(tags osm.Tags) string {
	if len(tags) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(tags.Map())
	return string(b)
}

// parquetWriter writes nodes and ways as rows of a single zstd-compressed
// Parquet file
type parquetWriter struct {
	out       *outputFile
	released  bool
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

func newParquetWriter(path string, opts Options) (*parquetWriter, error) {
	out, err := createOutputFile(path)
	if err != nil {
		return nil, err
	}
	// pqarrow buffers row groups itself, so it writes to the file directly
	f := out.file

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(parquetSchema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		out.remove()
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	return &parquetWriter{
		out:       out,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, parquetSchema),
		batchSize: opts.BlockSize,
	}, nil
}

func (w *parquetWriter) WriteNode(n *osm.Node) error {
	w.builder.Field(0).(*array.StringBuilder).Append(string(osm.TypeNode))
	w.builder.Field(1).(*array.Int64Builder).Append(int64(n.ID))
	w.builder.Field(2).(*array.Float64Builder).Append(n.Lon)
	w.builder.Field(3).(*array.Float64Builder).Append(n.Lat)
	w.builder.Field(4).(*array.ListBuilder).AppendNull()
	w.builder.Field(5).(*array.StringBuilder).Append(tagsToJSON(n.Tags))
	return w.added()
}

func (w *parquetWriter) WriteWay(way *osm.Way) error {
	w.builder.Field(0).(*array.StringBuilder).Append(string(osm.TypeWay))
	w.builder.Field(1).(*array.Int64Builder).Append(int64(way.ID))
	w.builder.Field(2).(*array.Float64Builder).AppendNull()
	w.builder.Field(3).(*array.Float64Builder).AppendNull()

	refs := w.builder.Field(4).(*array.ListBuilder)
	refs.Append(true)
	values := refs.ValueBuilder().(*array.Int64Builder)
	for _, wn := range way.Nodes {
		values.Append(int64(wn.ID))
	}

	w.builder.Field(5).(*array.StringBuilder).Append(tagsToJSON(way.Tags))
	return w.added()
}

func (w *parquetWriter) added() error {
	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *parquetWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	w.count = 0
	if err := w.writer.Write(rec); err != nil {
		return fmt.Errorf("write parquet batch: %w", err)
	}
	return nil
}

func (w *parquetWriter) release() {
	if !w.released {
		w.builder.Release()
		w.released = true
	}
}

func (w *parquetWriter) Close() error {
	defer w.release()

	err := w.flush()
	err = multierr.Append(err, w.writer.Close())
	// the parquet writer closes the file it wraps
	if cerr := w.out.file.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = multierr.Append(err, cerr)
	}
	return err
}

func (w *parquetWriter) Abort() error {
	w.release()
	return w.out.remove()
}
