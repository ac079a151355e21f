// Package nodeindex maps OSM node IDs to their locations.
//
// Positive and negative IDs are kept in two separate tables. Node ID n >= 0
// is stored at offset n of the positive table and n < 0 at offset -(n+1) of
// the negative table, so both sides grow from zero and the full int64 range
// is addressable.
package nodeindex

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"go.uber.org/multierr"
)

// Store kinds accepted by New
const (
	KindSparse = "sparse_mem_array"
	KindMmap   = "mmap"
	KindMap    = "map"
)

// DefaultKind keeps positive IDs in memory and negative IDs in a mmap file
const DefaultKind = KindSparse + "+" + KindMmap

// Table stores packed locations by non-negative offset.
// Get returns zero for offsets that were never written.
type Table interface {
	Put(offset uint64, v uint64) error
	Get(offset uint64) uint64
	UsedMemory() int64
	Close() error
}

// Index is the two-sided node location index
type Index struct {
	pos Table
	neg Table
}

// NewWithTables builds an index from existing tables
func NewWithTables(pos, neg Table) *Index {
	return &Index{pos: pos, neg: neg}
}

// New creates an index from a kind name. A name without "+" selects the same
// kind for both sides; "POS+NEG" selects them separately. dir is used for
// temporary files of mmap tables (empty means the OS temp dir).
func New(kind, dir string) (*Index, error) {
	posKind, negKind, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}

	pos, err := newTable(posKind, dir, "osmtile-nodes-pos-*.bin")
	if err != nil {
		return nil, err
	}
	neg, err := newTable(negKind, dir, "osmtile-nodes-neg-*.bin")
	if err != nil {
		pos.Close()
		return nil, err
	}
	return NewWithTables(pos, neg), nil
}

// ParseKind splits and validates a kind name
func ParseKind(kind string) (pos, neg string, err error) {
	parts := strings.Split(kind, "+")
	switch len(parts) {
	case 1:
		pos, neg = parts[0], parts[0]
	case 2:
		pos, neg = parts[0], parts[1]
	default:
		return "", "", fmt.Errorf("invalid location store %q", kind)
	}

	for _, k := range []string{pos, neg} {
		switch k {
		case KindSparse, KindMmap, KindMap:
		default:
			return "", "", fmt.Errorf("unknown location store %q (want %s, %s or %s)", k, KindSparse, KindMmap, KindMap)
		}
	}
	return pos, neg, nil
}

func newTable(kind, dir, pattern string) (Table, error) {
	switch kind {
	case KindMmap:
		return NewMmapTable(dir, pattern)
	case KindMap:
		return NewMapTable(), nil
	default:
		return NewSparseTable(), nil
	}
}

func (x *Index) locate(id int64) (Table, uint64) {
	if id >= 0 {
		return x.pos, uint64(id)
	}
	return x.neg, uint64(-(id + 1))
}

// Set records the location of a node, replacing any earlier one, and
// returns the location as stored, rounded to 1e-7 degrees. Coordinates out
// of range fail with ErrInvalidLocation; any other error comes from the table.
func (x *Index) Set(id int64, p orb.Point) (orb.Point, error) {
	v, err := packLocation(p)
	if err != nil {
		return orb.Point{}, fmt.Errorf("node %d: %w", id, err)
	}
	t, off := x.locate(id)
	if err := t.Put(off, v); err != nil {
		return orb.Point{}, fmt.Errorf("node %d: %w", id, err)
	}
	stored, _ := unpackLocation(v)
	return stored, nil
}

// Get returns the location of a node; ok is false if it was never set
func (x *Index) Get(id int64) (p orb.Point, ok bool) {
	t, off := x.locate(id)
	return unpackLocation(t.Get(off))
}

// UsedMemory returns the approximate bytes used for positive and negative IDs.
// It may be called from another goroutine while the index is being written.
func (x *Index) UsedMemory() (pos, neg int64) {
	return x.pos.UsedMemory(), x.neg.UsedMemory()
}

// Close releases both tables
func (x *Index) Close() error {
	return multierr.Append(x.pos.Close(), x.neg.Close())
}
