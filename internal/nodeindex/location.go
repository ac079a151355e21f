package nodeindex

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
)

// ErrInvalidLocation is returned for coordinates outside the WGS84 range
var ErrInvalidLocation = errors.New("location out of range")

const (
	// Coordinates are stored as int32 fixed-point with 7 decimal places,
	// the precision OSM itself uses
	coordPrecision = 1e7

	// The longitude word is stored with its sign bit flipped. A valid
	// longitude can never encode to zero, so a zero entry means "absent"
	// and freshly allocated (or sparse file) memory needs no initialization.
	signFlip = 0x80000000
)

// packLocation converts a point to its stored 8-byte representation
func packLocation(p orb.Point) (uint64, error) {
	lon, lat := p[0], p[1]
	if !(lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90) {
		return 0, ErrInvalidLocation
	}

	lonInt := int32(math.Round(lon * coordPrecision))
	latInt := int32(math.Round(lat * coordPrecision))

	return uint64(uint32(lonInt)^signFlip)<<32 | uint64(uint32(latInt)), nil
}

// unpackLocation reverses packLocation; ok is false for an empty slot
func unpackLocation(v uint64) (p orb.Point, ok bool) {
	if v == 0 {
		return orb.Point{}, false
	}
	lonInt := int32(uint32(v>>32) ^ signFlip)
	latInt := int32(uint32(v))
	return orb.Point{float64(lonInt) / coordPrecision, float64(latInt) / coordPrecision}, true
}
