package sink

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/osm"
	"go.uber.org/multierr"
)

// xmlWriter writes OSM XML 0.6, entities encoded with the xml tags of the
// osm package so osmxml reads them back unchanged
type xmlWriter struct {
	out *outputFile
	gz  *gzip.Writer
	w   io.Writer
	enc *xml.Encoder
}

func newXMLWriter(path string, h Header, compressed bool) (*xmlWriter, error) {
	out, err := createOutputFile(path)
	if err != nil {
		return nil, err
	}

	w := &xmlWriter{out: out, w: out}
	if compressed {
		w.gz = gzip.NewWriter(out)
		w.w = w.gz
	}

	if err := w.writeHeader(h); err != nil {
		out.remove()
		return nil, err
	}

	w.enc = xml.NewEncoder(w.w)
	w.enc.Indent("  ", "  ")
	return w, nil
}

func (w *xmlWriter) writeHeader(h Header) error {
	if _, err := io.WriteString(w.w, xml.Header); err != nil {
		return err
	}

	gen := h.Generator
	if gen == "" {
		gen = "osmtile"
	}
	var escaped strings.Builder
	if err := xml.EscapeText(&escaped, []byte(gen)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "<osm version=\"0.6\" generator=\"%s\">\n", escaped.String()); err != nil {
		return err
	}

	if b := h.Bounds; b != nil {
		f := func(v float64) string { return strconv.FormatFloat(v, 'f', 7, 64) }
		_, err := fmt.Fprintf(w.w, "  <bounds minlat=\"%s\" minlon=\"%s\" maxlat=\"%s\" maxlon=\"%s\"/>\n",
			f(b.Bottom()), f(b.Left()), f(b.Top()), f(b.Right()))
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *xmlWriter) WriteNode(n *osm.Node) error {
	if err := w.enc.Encode(n); err != nil {
		return fmt.Errorf("encode node %d: %w", n.ID, err)
	}
	return nil
}

func (w *xmlWriter) WriteWay(way *osm.Way) error {
	if err := w.enc.Encode(way); err != nil {
		return fmt.Errorf("encode way %d: %w", way.ID, err)
	}
	return nil
}

func (w *xmlWriter) Close() error {
	_, err := io.WriteString(w.w, "\n</osm>\n")
	if w.gz != nil {
		err = multierr.Append(err, w.gz.Close())
	}
	return multierr.Append(err, w.out.close())
}

func (w *xmlWriter) Abort() error {
	return w.out.remove()
}
