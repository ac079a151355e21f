package nodeindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"go.uber.org/multierr"
)

const (
	// Each entry: packed lon (uint32) + lat (uint32) = 8 bytes
	entrySize = 8
	// The file starts at 8 MiB and doubles as higher offsets are written
	initialMapEntries = 1 << 20
	// Offsets past this go to an in-memory overflow map (512 GiB of sparse file)
	maxMapEntries = 1 << 36
)

// MmapTable is a file-backed table. Entry n is stored at byte offset n*8 of
// a sparse file which is grown on demand, so only pages that were written to
// occupy disk or page cache.
type MmapTable struct {
	file     *os.File
	path     string
	data     mmap.MMap
	overflow map[uint64]uint64
	used     atomic.Int64
}

// NewMmapTable creates a temporary mmap table file in dir.
// The file is removed again on Close.
func NewMmapTable(dir, pattern string) (*MmapTable, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create mmap file: %w", err)
	}

	return &MmapTable{
		file: f,
		path: f.Name(),
	}, nil
}

// Path returns the backing file path
func (m *MmapTable) Path() string {
	return m.path
}

// Put stores a packed entry at offset, growing the mapping if needed
func (m *MmapTable) Put(offset uint64, v uint64) error {
	if offset >= maxMapEntries {
		if m.overflow == nil {
			m.overflow = make(map[uint64]uint64)
		}
		m.overflow[offset] = v
		m.updateUsed()
		return nil
	}

	end := (offset + 1) * entrySize
	if end > uint64(len(m.data)) {
		if err := m.grow(end); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint64(m.data[offset*entrySize:], v)
	return nil
}

// Get returns the packed entry at offset, or zero if nothing was written
func (m *MmapTable) Get(offset uint64) uint64 {
	if offset >= maxMapEntries {
		return m.overflow[offset]
	}

	end := (offset + 1) * entrySize
	if end > uint64(len(m.data)) {
		return 0
	}
	return binary.LittleEndian.Uint64(m.data[offset*entrySize:])
}

// UsedMemory returns the mapped size plus the overflow map estimate
func (m *MmapTable) UsedMemory() int64 {
	return m.used.Load()
}

// grow remaps the file so that it is at least need bytes long
func (m *MmapTable) grow(need uint64) error {
	size := uint64(len(m.data)) * 2
	if size < initialMapEntries*entrySize {
		size = initialMapEntries * entrySize
	}
	for size < need {
		size *= 2
	}

	if m.data != nil {
		if err := m.data.Unmap(); err != nil {
			return fmt.Errorf("failed to unmap file: %w", err)
		}
		m.data = nil
	}

	// Truncate to full size (creates sparse file on Linux)
	if err := m.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	data, err := mmap.MapRegion(m.file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	m.data = data
	m.updateUsed()
	return nil
}

func (m *MmapTable) updateUsed() {
	m.used.Store(int64(len(m.data)) + int64(len(m.overflow))*mapEntryBytes)
}

// Close unmaps and removes the backing file
func (m *MmapTable) Close() error {
	var unmapErr error
	if m.data != nil {
		unmapErr = m.data.Unmap()
		m.data = nil
	}
	m.overflow = nil
	m.updateUsed()

	return multierr.Combine(unmapErr, m.file.Close(), os.Remove(m.path))
}
