package sink

import (
	"math"
	"time"

	"github.com/paulmach/osm"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from the OSM PBF schema (fileformat.proto, osmformat.proto)
const (
	fieldBlobHeaderType     protowire.Number = 1
	fieldBlobHeaderDatasize protowire.Number = 3

	fieldBlobRaw      protowire.Number = 1
	fieldBlobRawSize  protowire.Number = 2
	fieldBlobZlibData protowire.Number = 3

	fieldHeaderBBox             protowire.Number = 1
	fieldHeaderRequiredFeatures protowire.Number = 4
	fieldHeaderWritingProgram   protowire.Number = 16

	fieldBBoxLeft   protowire.Number = 1
	fieldBBoxRight  protowire.Number = 2
	fieldBBoxTop    protowire.Number = 3
	fieldBBoxBottom protowire.Number = 4

	fieldBlockStringTable protowire.Number = 1
	fieldBlockGroup       protowire.Number = 2
	fieldStringTableS     protowire.Number = 1

	fieldGroupDense protowire.Number = 2
	fieldGroupWays  protowire.Number = 3

	fieldDenseID       protowire.Number = 1
	fieldDenseInfo     protowire.Number = 5
	fieldDenseLat      protowire.Number = 8
	fieldDenseLon      protowire.Number = 9
	fieldDenseKeysVals protowire.Number = 10

	fieldInfoVersion   protowire.Number = 1
	fieldInfoTimestamp protowire.Number = 2
	fieldInfoChangeset protowire.Number = 3
	fieldInfoUID       protowire.Number = 4
	fieldInfoUserSID   protowire.Number = 5

	fieldWayID   protowire.Number = 1
	fieldWayKeys protowire.Number = 2
	fieldWayVals protowire.Number = 3
	fieldWayInfo protowire.Number = 4
	fieldWayRefs protowire.Number = 8
)

// Coordinates use the default granularity of 100 nanodegrees, so a stored
// value is the coordinate in 1e-7 degrees
const coordScale = 1e7

type entityKind int

const (
	kindNone entityKind = iota
	kindNodes
	kindWays
)

// block accumulates one PrimitiveBlock. Nodes are kept as dense columns and
// ways are encoded as they arrive, so no entity is retained.
type block struct {
	kind    entityKind
	count   int
	strings map[string]uint32
	table   []string

	ids        []int64
	lats       []int64
	lons       []int64
	keysVals   []uint64
	versions   []int64
	timestamps []int64
	changesets []int64
	uids       []int64
	userSids   []int64

	ways    []byte
	scratch []byte
}

func newBlock() *block {
	b := &block{strings: make(map[string]uint32)}
	b.reset()
	return b
}

func (b *block) reset() {
	b.kind = kindNone
	b.count = 0
	clear(b.strings)
	b.table = append(b.table[:0], "")
	b.strings[""] = 0

	b.ids = b.ids[:0]
	b.lats = b.lats[:0]
	b.lons = b.lons[:0]
	b.keysVals = b.keysVals[:0]
	b.versions = b.versions[:0]
	b.timestamps = b.timestamps[:0]
	b.changesets = b.changesets[:0]
	b.uids = b.uids[:0]
	b.userSids = b.userSids[:0]
	b.ways = b.ways[:0]
}

// size approximates the encoded block size in bytes
func (b *block) size() int {
	return len(b.ways) + len(b.ids)*24 + len(b.keysVals)*2
}

func (b *block) stringID(s string) uint32 {
	if id, ok := b.strings[s]; ok {
		return id
	}
	id := uint32(len(b.table))
	b.strings[s] = id
	b.table = append(b.table, s)
	return id
}

func timestampSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fixedPoint(deg float64) int64 {
	return int64(math.Round(deg * coordScale))
}

func (b *block) addNode(n *osm.Node) {
	b.kind = kindNodes
	b.count++

	b.ids = append(b.ids, int64(n.ID))
	b.lats = append(b.lats, fixedPoint(n.Lat))
	b.lons = append(b.lons, fixedPoint(n.Lon))
	for _, t := range n.Tags {
		b.keysVals = append(b.keysVals, uint64(b.stringID(t.Key)), uint64(b.stringID(t.Value)))
	}
	b.keysVals = append(b.keysVals, 0)

	b.versions = append(b.versions, int64(n.Version))
	b.timestamps = append(b.timestamps, timestampSeconds(n.Timestamp))
	b.changesets = append(b.changesets, int64(n.ChangesetID))
	b.uids = append(b.uids, int64(int32(n.UserID)))
	b.userSids = append(b.userSids, int64(b.stringID(n.User)))
}

func (b *block) addWay(w *osm.Way) {
	b.kind = kindWays
	b.count++

	m := b.scratch[:0]
	m = protowire.AppendTag(m, fieldWayID, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(w.ID))

	if len(w.Tags) > 0 {
		keys := make([]uint64, len(w.Tags))
		vals := make([]uint64, len(w.Tags))
		for i, t := range w.Tags {
			keys[i] = uint64(b.stringID(t.Key))
			vals[i] = uint64(b.stringID(t.Value))
		}
		m = appendPackedVarint(m, fieldWayKeys, keys)
		m = appendPackedVarint(m, fieldWayVals, vals)
	}

	var info []byte
	info = appendVarintField(info, fieldInfoVersion, uint64(int64(w.Version)))
	info = appendVarintField(info, fieldInfoTimestamp, uint64(timestampSeconds(w.Timestamp)))
	info = appendVarintField(info, fieldInfoChangeset, uint64(w.ChangesetID))
	info = appendVarintField(info, fieldInfoUID, uint64(int64(int32(w.UserID))))
	info = appendVarintField(info, fieldInfoUserSID, uint64(b.stringID(w.User)))
	m = appendMessage(m, fieldWayInfo, info)

	if len(w.Nodes) > 0 {
		refs := make([]int64, len(w.Nodes))
		for i, wn := range w.Nodes {
			refs[i] = int64(wn.ID)
		}
		m = appendPackedDelta(m, fieldWayRefs, refs)
	}

	b.ways = appendMessage(b.ways, fieldGroupWays, m)
	b.scratch = m
}

// encode appends the PrimitiveBlock message to dst
func (b *block) encode(dst []byte) []byte {
	var st []byte
	for _, s := range b.table {
		st = protowire.AppendTag(st, fieldStringTableS, protowire.BytesType)
		st = protowire.AppendString(st, s)
	}
	dst = appendMessage(dst, fieldBlockStringTable, st)

	var group []byte
	switch b.kind {
	case kindNodes:
		group = appendMessage(group, fieldGroupDense, b.encodeDense())
	case kindWays:
		group = b.ways
	}
	return appendMessage(dst, fieldBlockGroup, group)
}

func (b *block) encodeDense() []byte {
	var info []byte
	info = appendPackedVarint(info, fieldInfoVersion, uint64s(b.versions))
	info = appendPackedDelta(info, fieldInfoTimestamp, b.timestamps)
	info = appendPackedDelta(info, fieldInfoChangeset, b.changesets)
	info = appendPackedDelta32(info, fieldInfoUID, b.uids)
	info = appendPackedDelta32(info, fieldInfoUserSID, b.userSids)

	var dense []byte
	dense = appendPackedDelta(dense, fieldDenseID, b.ids)
	dense = appendMessage(dense, fieldDenseInfo, info)
	dense = appendPackedDelta(dense, fieldDenseLat, b.lats)
	dense = appendPackedDelta(dense, fieldDenseLon, b.lons)
	dense = appendPackedVarint(dense, fieldDenseKeysVals, b.keysVals)
	return dense
}

// encodeHeaderBlock returns the HeaderBlock message for an output
func encodeHeaderBlock(h Header) []byte {
	var hb []byte
	if h.Bounds != nil {
		nano := func(deg float64) uint64 {
			return protowire.EncodeZigZag(int64(math.Round(deg * 1e9)))
		}
		var bbox []byte
		bbox = appendVarintField(bbox, fieldBBoxLeft, nano(h.Bounds.Left()))
		bbox = appendVarintField(bbox, fieldBBoxRight, nano(h.Bounds.Right()))
		bbox = appendVarintField(bbox, fieldBBoxTop, nano(h.Bounds.Top()))
		bbox = appendVarintField(bbox, fieldBBoxBottom, nano(h.Bounds.Bottom()))
		hb = appendMessage(hb, fieldHeaderBBox, bbox)
	}
	for _, f := range []string{"OsmSchema-V0.6", "DenseNodes"} {
		hb = protowire.AppendTag(hb, fieldHeaderRequiredFeatures, protowire.BytesType)
		hb = protowire.AppendString(hb, f)
	}
	if h.Generator != "" {
		hb = protowire.AppendTag(hb, fieldHeaderWritingProgram, protowire.BytesType)
		hb = protowire.AppendString(hb, h.Generator)
	}
	return hb
}

func appendVarintField(dst []byte, num protowire.Number, v uint64) []byte {
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	return protowire.AppendVarint(dst, v)
}

func appendMessage(dst []byte, num protowire.Number, msg []byte) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, msg)
}

func appendPackedVarint(dst []byte, num protowire.Number, vals []uint64) []byte {
	if len(vals) == 0 {
		return dst
	}
	var payload []byte
	for _, v := range vals {
		payload = protowire.AppendVarint(payload, v)
	}
	return appendMessage(dst, num, payload)
}

// appendPackedDelta writes vals as a packed sint64 field of deltas
func appendPackedDelta(dst []byte, num protowire.Number, vals []int64) []byte {
	if len(vals) == 0 {
		return dst
	}
	var payload []byte
	var prev int64
	for _, v := range vals {
		payload = protowire.AppendVarint(payload, protowire.EncodeZigZag(v-prev))
		prev = v
	}
	return appendMessage(dst, num, payload)
}

// appendPackedDelta32 writes vals as a packed sint32 field of deltas
func appendPackedDelta32(dst []byte, num protowire.Number, vals []int64) []byte {
	if len(vals) == 0 {
		return dst
	}
	var payload []byte
	var prev int32
	for _, v := range vals {
		cur := int32(v)
		payload = protowire.AppendVarint(payload, protowire.EncodeZigZag(int64(cur-prev)))
		prev = cur
	}
	return appendMessage(dst, num, payload)
}

func uint64s(vals []int64) []uint64 {
	out := make([]uint64, len(vals))
	for i, v := range vals {
		out[i] = uint64(v)
	}
	return out
}
