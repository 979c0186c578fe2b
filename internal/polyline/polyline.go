// Package polyline implements the Google encoded polyline format: signed
// deltas scaled by 1e5, zigzag encoded into 5-bit groups offset by 63.
package polyline

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"backend-bikefleet/internal/shared/geo"
)

const scale = 1e5

var (
	ErrMalformed      = errors.New("malformed polyline")
	ErrTruncated      = fmt.Errorf("%w: truncated value", ErrMalformed)
	ErrInvalidChar    = fmt.Errorf("%w: invalid character", ErrMalformed)
	ErrIncompletePair = fmt.Errorf("%w: latitude without longitude", ErrMalformed)
	ErrOverflow       = fmt.Errorf("%w: value overflow", ErrMalformed)
	ErrOutOfRange     = fmt.Errorf("%w: coordinate out of range", ErrMalformed)
)

// Decode returns the coordinates in encoded. A malformed string yields an
// error and no points, never a partial path.
func Decode(encoded string) ([]geo.Point, error) {
	var points []geo.Point
	var lat, lng int64

	for i := 0; i < len(encoded); {
		dLat, next, err := decodeValue(encoded, i)
		if err != nil {
			return nil, err
		}
		if next >= len(encoded) {
			return nil, fmt.Errorf("%w at offset %d", ErrIncompletePair, i)
		}
		dLng, next, err := decodeValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next

		lat += dLat
		lng += dLng
		p := geo.Point{Lat: float64(lat) / scale, Lng: float64(lng) / scale}
		if !p.Valid() {
			return nil, fmt.Errorf("%w: (%v, %v)", ErrOutOfRange, p.Lat, p.Lng)
		}
		points = append(points, p)
	}
	return points, nil
}

func decodeValue(s string, i int) (int64, int, error) {
	var result int64
	var shift uint
	for {
		if i >= len(s) {
			return 0, i, ErrTruncated
		}
		b := int64(s[i]) - 63
		if b < 0 || b > 63 {
			return 0, i, fmt.Errorf("%w %q at offset %d", ErrInvalidChar, s[i], i)
		}
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
		if shift > 30 {
			return 0, i, ErrOverflow
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

func Encode(points []geo.Point) string {
	if len(points) == 0 {
		return ""
	}

	var encoded strings.Builder
	var prevLat, prevLng int64
	for _, p := range points {
		lat := int64(math.Round(p.Lat * scale))
		lng := int64(math.Round(p.Lng * scale))
		encodeSigned(&encoded, lat-prevLat)
		encodeSigned(&encoded, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return encoded.String()
}

func encodeSigned(b *strings.Builder, num int64) {
	shifted := num << 1
	if num < 0 {
		shifted = ^shifted
	}
	u := uint64(shifted)
	for u >= 0x20 {
		b.WriteByte(byte((u&0x1f)|0x20) + 63)
		u >>= 5
	}
	b.WriteByte(byte(u) + 63)
}
