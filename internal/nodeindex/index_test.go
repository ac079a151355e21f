package nodeindex

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/paulmach/orb"
)

func newTestIndex(t *testing.T, kind string) *Index {
	t.Helper()
	idx, err := New(kind, t.TempDir())
	if err != nil {
		t.Fatalf("New(%q) failed: %v", kind, err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

var allKinds = []string{
	KindSparse,
	KindMmap,
	KindMap,
	DefaultKind,
	KindMap + "+" + KindSparse,
}

func TestIndexSetGet(t *testing.T) {
	entries := map[int64]orb.Point{
		5:        {13.3777, 52.5163},
		-5:       {-0.1278, 51.5074},
		1000000:  {7.4246, 43.7384},
		-1000000: {-74.006, 40.7128},
	}

	for _, kind := range allKinds {
		t.Run(kind, func(t *testing.T) {
			idx := newTestIndex(t, kind)

			for id, p := range entries {
				if _, err := idx.Set(id, p); err != nil {
					t.Fatalf("Set(%d) failed: %v", id, err)
				}
			}

			for id, want := range entries {
				got, ok := idx.Get(id)
				if !ok {
					t.Errorf("Get(%d) not found", id)
					continue
				}
				if got != want {
					t.Errorf("Get(%d) = %v, want %v", id, got, want)
				}
			}

			for _, id := range []int64{42, -42, 0, -1, 4, 6, 999999} {
				if p, ok := idx.Get(id); ok {
					t.Errorf("Get(%d) = %v, expected not found", id, p)
				}
			}
		})
	}
}

func TestIndexExtremeIDs(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind, func(t *testing.T) {
			idx := newTestIndex(t, kind)

			ids := []int64{math.MaxInt64, math.MinInt64, 0, -1, 1 << 40, -(1 << 40)}
			for i, id := range ids {
				p := orb.Point{float64(i), -float64(i)}
				if _, err := idx.Set(id, p); err != nil {
					t.Fatalf("Set(%d) failed: %v", id, err)
				}
			}

			for i, id := range ids {
				got, ok := idx.Get(id)
				want := orb.Point{float64(i), -float64(i)}
				if !ok || got != want {
					t.Errorf("Get(%d) = %v, %v, want %v", id, got, ok, want)
				}
			}
		})
	}
}

func TestIndexOverwrite(t *testing.T) {
	idx := newTestIndex(t, DefaultKind)

	for _, id := range []int64{17, -17} {
		idx.Set(id, orb.Point{1, 1})
		idx.Set(id, orb.Point{2, 3})

		got, ok := idx.Get(id)
		if !ok || got != (orb.Point{2, 3}) {
			t.Errorf("Get(%d) = %v, %v, want last write (2, 3)", id, got, ok)
		}
	}
}

func TestIndexNullIsland(t *testing.T) {
	// (0, 0) is a valid location and must not be confused with an empty slot
	idx := newTestIndex(t, DefaultKind)

	if _, err := idx.Set(1, orb.Point{0, 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Set(-1, orb.Point{0, 0}); err != nil {
		t.Fatal(err)
	}

	for _, id := range []int64{1, -1} {
		got, ok := idx.Get(id)
		if !ok || got != (orb.Point{0, 0}) {
			t.Errorf("Get(%d) = %v, %v, want (0, 0)", id, got, ok)
		}
	}
}

func TestIndexWorldEdges(t *testing.T) {
	idx := newTestIndex(t, KindSparse)

	points := []orb.Point{{-180, -90}, {180, 90}, {-180, 90}, {180, -90}}
	for i, p := range points {
		if _, err := idx.Set(int64(i), p); err != nil {
			t.Fatalf("Set(%v) failed: %v", p, err)
		}
		if got, ok := idx.Get(int64(i)); !ok || got != p {
			t.Errorf("Get(%d) = %v, %v, want %v", i, got, ok, p)
		}
	}
}

func TestIndexInvalidLocation(t *testing.T) {
	idx := newTestIndex(t, KindSparse)

	tests := []orb.Point{
		{180.1, 0},
		{0, -90.5},
		{math.NaN(), 0},
		{0, math.Inf(1)},
	}

	for _, p := range tests {
		_, err := idx.Set(3, p)
		if !errors.Is(err, ErrInvalidLocation) {
			t.Errorf("Set(%v) error = %v, want ErrInvalidLocation", p, err)
		}
	}

	if _, ok := idx.Get(3); ok {
		t.Error("invalid location must not be stored")
	}
}

func TestIndexPrecision(t *testing.T) {
	idx := newTestIndex(t, KindSparse)

	p := orb.Point{8.12345678, 53.98765432}
	stored, err := idx.Set(10, p)
	if err != nil {
		t.Fatal(err)
	}

	got, _ := idx.Get(10)
	want := orb.Point{8.1234568, 53.9876543}
	if got != want {
		t.Errorf("Get = %v, want %v (rounded to 7 decimals)", got, want)
	}
	if stored != got {
		t.Errorf("Set returned %v, Get returned %v", stored, got)
	}
}

func TestIndexSetSnapsToGrid(t *testing.T) {
	idx := newTestIndex(t, KindSparse)

	// the PBF decoder computes 1e-9*(100*v), which misses the 1e-7 grid by an ulp
	tests := []struct {
		fixed int64
		want  float64
	}{
		{150000000, 15},
		{-1800000000, -180},
		{123456789, 12.3456789},
		{1, 0.0000001},
	}

	for _, tt := range tests {
		decoded := 1e-9 * float64(100*tt.fixed)
		stored, err := idx.Set(1, orb.Point{decoded, decoded / 2})
		if err != nil {
			t.Fatal(err)
		}
		if stored[0] != tt.want {
			t.Errorf("Set(%v) stored lon %v, want %v", decoded, stored[0], tt.want)
		}
		got, _ := idx.Get(1)
		if got != stored {
			t.Errorf("Get = %v, Set returned %v", got, stored)
		}
	}
}

type failingTable struct {
	Table
	err error
}

func (f failingTable) Put(offset uint64, v uint64) error {
	return f.err
}

func TestIndexTableError(t *testing.T) {
	ioErr := errors.New("failed to grow mmap file")
	idx := NewWithTables(failingTable{Table: NewMapTable(), err: ioErr}, NewMapTable())

	_, err := idx.Set(7, orb.Point{1, 1})
	if !errors.Is(err, ioErr) {
		t.Errorf("Set error = %v, want table error", err)
	}
	if errors.Is(err, ErrInvalidLocation) {
		t.Error("table error must not be reported as an invalid location")
	}
}

func TestUsedMemory(t *testing.T) {
	idx := newTestIndex(t, DefaultKind)

	pos0, neg0 := idx.UsedMemory()

	idx.Set(123456, orb.Point{1, 2})
	pos1, neg1 := idx.UsedMemory()
	if pos1 <= pos0 {
		t.Errorf("positive memory did not grow: %d -> %d", pos0, pos1)
	}
	if neg1 != neg0 {
		t.Errorf("negative memory changed on positive write: %d -> %d", neg0, neg1)
	}

	idx.Set(-123456, orb.Point{1, 2})
	_, neg2 := idx.UsedMemory()
	if neg2 <= neg1 {
		t.Errorf("negative memory did not grow: %d -> %d", neg1, neg2)
	}
}

func TestSparseTableMemoryIsSparse(t *testing.T) {
	table := NewSparseTable()

	// two IDs far apart allocate two chunks, not everything in between
	table.Put(1, 1)
	table.Put(50_000_000, 1)

	if table.chunks != 2 {
		t.Errorf("expected 2 chunks, got %d", table.chunks)
	}
	if mem := table.UsedMemory(); mem > 8*1024*1024 {
		t.Errorf("expected less than 8 MiB, got %d bytes", mem)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		kind    string
		pos     string
		neg     string
		wantErr bool
	}{
		{kind: "sparse_mem_array", pos: KindSparse, neg: KindSparse},
		{kind: "sparse_mem_array+mmap", pos: KindSparse, neg: KindMmap},
		{kind: "map+map", pos: KindMap, neg: KindMap},
		{kind: "btree", wantErr: true},
		{kind: "map+mmap+map", wantErr: true},
		{kind: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			pos, neg, err := ParseKind(tt.kind)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pos != tt.pos || neg != tt.neg {
				t.Errorf("ParseKind(%q) = %q, %q, want %q, %q", tt.kind, pos, neg, tt.pos, tt.neg)
			}
		})
	}
}

func TestMmapTableRemovesFile(t *testing.T) {
	dir := t.TempDir()
	table, err := NewMmapTable(dir, "test-*.bin")
	if err != nil {
		t.Fatal(err)
	}

	table.Put(3_000_000, 42)
	if got := table.Get(3_000_000); got != 42 {
		t.Errorf("Get = %d, want 42", got)
	}
	if got := table.Get(3_000_001); got != 0 {
		t.Errorf("Get of unwritten slot = %d, want 0", got)
	}

	path := table.Path()
	if err := table.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed, stat error: %v", path, err)
	}
}

func TestMmapTableCloseReportsAllErrors(t *testing.T) {
	table, err := NewMmapTable(t.TempDir(), "test-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	table.Put(1, 42)
	if err := table.Close(); err != nil {
		t.Fatal(err)
	}

	// the file is already closed and removed, both failures must be reported
	err = table.Close()
	if !errors.Is(err, os.ErrClosed) {
		t.Errorf("second Close error = %v, want file closed error", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("second Close error = %v, want remove error", err)
	}
}
