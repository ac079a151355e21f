// Package bbox holds the bounding box type used to classify OSM entities
// against output tiles.
package bbox

import (
	"github.com/paulmach/orb"
)

// Box is a bounding box that may be empty. The zero value is empty and
// matches no tile. Extend only ever grows a box.
type Box struct {
	bound orb.Bound
	valid bool
}

// FromPoint returns the zero-area box of a single point
func FromPoint(p orb.Point) Box {
	return Box{bound: p.Bound(), valid: true}
}

// FromCorners returns the box spanned by two opposite corners given in any order
func FromCorners(a, b orb.Point) Box {
	box := FromPoint(a)
	box.Extend(b)
	return box
}

// Extend grows the box to include p
func (b *Box) Extend(p orb.Point) {
	if !b.valid {
		*b = FromPoint(p)
		return
	}
	b.bound = b.bound.Extend(p)
}

// IsEmpty reports whether no point was ever added
func (b Box) IsEmpty() bool {
	return !b.valid
}

// Bound returns the box as an orb.Bound; the result is meaningless for an empty box
func (b Box) Bound() orb.Bound {
	return b.bound
}

// Overlaps reports whether the box lies partly inside tile t. All four
// comparisons are strict, so a box that only touches an edge of t does not
// overlap it. Adjacent tiles therefore never both receive an entity that
// sits exactly on their shared edge.
func (b Box) Overlaps(t orb.Bound) bool {
	if !b.valid {
		return false
	}
	return b.bound.Right() > t.Left() && b.bound.Left() < t.Right() &&
		b.bound.Top() > t.Bottom() && b.bound.Bottom() < t.Top()
}

// Classify appends to dst the indexes of all tiles the box overlaps, in tile
// order, and returns the extended slice.
func Classify(q Box, tiles []orb.Bound, dst []int) []int {
	if !q.valid {
		return dst
	}
	for i, t := range tiles {
		if q.Overlaps(t) {
			dst = append(dst, i)
		}
	}
	return dst
}
