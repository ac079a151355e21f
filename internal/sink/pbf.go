package sink

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zlib"
	"github.com/paulmach/osm"
	"go.uber.org/multierr"
	"google.golang.org/protobuf/encoding/protowire"
)

// Blocks are flushed well below the 32 MiB uncompressed blob limit
const maxBlockBytes = 16 << 20

// pbfWriter writes an OSM PBF file: one OSMHeader blob followed by OSMData
// blobs, each holding a single group of dense nodes or ways
type pbfWriter struct {
	out       *outputFile
	blockSize int
	compress  bool

	block *block
	data  []byte
	zbuf  bytes.Buffer
	zw    *zlib.Writer
}

func newPBFWriter(path string, h Header, opts Options) (*pbfWriter, error) {
	out, err := createOutputFile(path)
	if err != nil {
		return nil, err
	}

	w := &pbfWriter{
		out:       out,
		blockSize: opts.BlockSize,
		compress:  opts.Compress,
		block:     newBlock(),
	}
	if w.compress {
		w.zw = zlib.NewWriter(&w.zbuf)
	}

	if err := w.writeBlob("OSMHeader", encodeHeaderBlock(h)); err != nil {
		out.remove()
		return nil, err
	}
	return w, nil
}

func (w *pbfWriter) WriteNode(n *osm.Node) error {
	if err := w.prepare(kindNodes); err != nil {
		return err
	}
	w.block.addNode(n)
	return nil
}

func (w *pbfWriter) WriteWay(way *osm.Way) error {
	if err := w.prepare(kindWays); err != nil {
		return err
	}
	w.block.addWay(way)
	return nil
}

// prepare flushes the pending block when it is full or holds the other kind
func (w *pbfWriter) prepare(kind entityKind) error {
	b := w.block
	if b.count == 0 {
		return nil
	}
	if b.kind != kind || b.count >= w.blockSize || b.size() >= maxBlockBytes {
		return w.flush()
	}
	return nil
}

func (w *pbfWriter) flush() error {
	if w.block.count == 0 {
		return nil
	}
	w.data = w.block.encode(w.data[:0])
	w.block.reset()
	return w.writeBlob("OSMData", w.data)
}

func (w *pbfWriter) writeBlob(typ string, data []byte) error {
	var blob []byte
	if w.compress {
		w.zbuf.Reset()
		w.zw.Reset(&w.zbuf)
		if _, err := w.zw.Write(data); err != nil {
			return fmt.Errorf("compress %s blob: %w", typ, err)
		}
		if err := w.zw.Close(); err != nil {
			return fmt.Errorf("compress %s blob: %w", typ, err)
		}
		blob = appendVarintField(blob, fieldBlobRawSize, uint64(len(data)))
		blob = appendMessage(blob, fieldBlobZlibData, w.zbuf.Bytes())
	} else {
		blob = appendMessage(blob, fieldBlobRaw, data)
	}

	var header []byte
	header = protowire.AppendTag(header, fieldBlobHeaderType, protowire.BytesType)
	header = protowire.AppendString(header, typ)
	header = appendVarintField(header, fieldBlobHeaderDatasize, uint64(len(blob)))

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(header)))

	for _, p := range [][]byte{size[:], header, blob} {
		if _, err := w.out.Write(p); err != nil {
			return fmt.Errorf("write %s blob: %w", typ, err)
		}
	}
	return nil
}

func (w *pbfWriter) Close() error {
	return multierr.Append(w.flush(), w.out.close())
}

func (w *pbfWriter) Abort() error {
	return w.out.remove()
}
