package nodeindex

import "sync/atomic"

// MapTable keeps entries in a hash map. It costs more per entry than the
// array based tables but nothing for gaps, which suits inputs with a few
// very scattered IDs.
type MapTable struct {
	entries map[uint64]uint64
	used    atomic.Int64
}

// NewMapTable creates an empty map table
func NewMapTable() *MapTable {
	return &MapTable{entries: make(map[uint64]uint64)}
}

func (t *MapTable) Put(offset uint64, v uint64) error {
	t.entries[offset] = v
	t.used.Store(int64(len(t.entries)) * mapEntryBytes)
	return nil
}

func (t *MapTable) Get(offset uint64) uint64 {
	return t.entries[offset]
}

func (t *MapTable) UsedMemory() int64 {
	return t.used.Load()
}

func (t *MapTable) Close() error {
	t.entries = nil
	t.used.Store(0)
	return nil
}
