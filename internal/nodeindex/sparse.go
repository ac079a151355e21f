package nodeindex

import (
	"sync/atomic"
)

const (
	chunkBits  = 16
	chunkSize  = 1 << chunkBits
	chunkMask  = chunkSize - 1
	chunkBytes = chunkSize * 8

	// Chunk numbers below this live in the directory slice (IDs up to ~2.7e11,
	// directory at most 32 MiB). Anything above goes to the overflow map.
	maxDirectChunks = 1 << 22

	// rough cost of one map entry including bucket overhead
	mapEntryBytes = 48
)

type chunk [chunkSize]uint64

// SparseTable is an in-memory table keyed by a non-negative offset.
// Storage is split into fixed-size chunks which are only allocated when the
// first entry inside them is written, so memory follows the populated ID
// ranges rather than the ID space.
type SparseTable struct {
	dir      []*chunk
	overflow map[uint64]*chunk
	chunks   int64
	used     atomic.Int64
}

// NewSparseTable creates an empty sparse table
func NewSparseTable() *SparseTable {
	t := &SparseTable{}
	t.updateUsed()
	return t
}

// Put stores a packed entry at offset
func (t *SparseTable) Put(offset uint64, v uint64) error {
	c := t.chunkFor(offset>>chunkBits, true)
	c[offset&chunkMask] = v
	return nil
}

// Get returns the packed entry at offset, or zero if nothing was written
func (t *SparseTable) Get(offset uint64) uint64 {
	c := t.chunkFor(offset>>chunkBits, false)
	if c == nil {
		return 0
	}
	return c[offset&chunkMask]
}

// UsedMemory returns the approximate number of bytes held by the table
func (t *SparseTable) UsedMemory() int64 {
	return t.used.Load()
}

// Close drops all chunks
func (t *SparseTable) Close() error {
	t.dir = nil
	t.overflow = nil
	t.chunks = 0
	t.updateUsed()
	return nil
}

func (t *SparseTable) chunkFor(n uint64, create bool) *chunk {
	if n >= maxDirectChunks {
		c := t.overflow[n]
		if c == nil && create {
			if t.overflow == nil {
				t.overflow = make(map[uint64]*chunk)
			}
			c = new(chunk)
			t.overflow[n] = c
			t.chunks++
			t.updateUsed()
		}
		return c
	}

	if n >= uint64(len(t.dir)) {
		if !create {
			return nil
		}
		t.growDir(n + 1)
	}

	c := t.dir[n]
	if c == nil && create {
		c = new(chunk)
		t.dir[n] = c
		t.chunks++
		t.updateUsed()
	}
	return c
}

// growDir extends the chunk directory to hold at least n chunk pointers
func (t *SparseTable) growDir(n uint64) {
	size := uint64(len(t.dir)) * 2
	if size < n {
		size = n
	}
	if size < 64 {
		size = 64
	}
	if size > maxDirectChunks {
		size = maxDirectChunks
	}

	dir := make([]*chunk, size)
	copy(dir, t.dir)
	t.dir = dir
	t.updateUsed()
}

func (t *SparseTable) updateUsed() {
	t.used.Store(t.chunks*chunkBytes + int64(len(t.dir))*8 + int64(len(t.overflow))*mapEntryBytes)
}
