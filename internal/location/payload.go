package location

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidCoordinates = errors.New("invalid coordinates")

var (
	latKeys       = []string{"latitude", "lat"}
	lngKeys       = []string{"longitude", "lng", "lon"}
	timestampKeys = []string{"timestamp", "updatedAt", "lastUpdated", "lastUpdate", "recordedAt", "time"}
	speedKeys     = []string{"speedKmh", "speed", "currentSpeed"}
	accuracyKeys  = []string{"accuracyMeters", "accuracy"}
	bearingKeys   = []string{"bearingDegrees", "bearing", "heading"}
	nestedKeys    = []string{"location", "coords", "position"}
)

// FromPayload adapts a producer payload to a Sample. Field names vary across
// producers; every alias is resolved here so nothing downstream sees a raw
// payload. Payloads with unusable coordinates or timestamps are rejected.
func FromPayload(raw map[string]any) (Sample, error) {
	if raw == nil {
		return Sample{}, fmt.Errorf("%w: empty payload", ErrInvalidCoordinates)
	}

	src, nested := raw, false
	if _, ok := lookup(raw, latKeys...); !ok {
		for _, key := range nestedKeys {
			if m, ok := raw[key].(map[string]any); ok {
				src, nested = m, true
				break
			}
		}
	}

	lat, ok := coordinate(src, latKeys)
	if !ok {
		return Sample{}, fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, first(src, latKeys))
	}
	lng, ok := coordinate(src, lngKeys)
	if !ok {
		return Sample{}, fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, first(src, lngKeys))
	}
	s := Sample{Latitude: lat, Longitude: lng}
	if !s.Valid() {
		return Sample{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinates, lat, lng)
	}

	tsRaw, ok := lookup(src, timestampKeys...)
	if !ok && nested {
		tsRaw, ok = lookup(raw, timestampKeys...)
	}
	if ok {
		ts, err := NormalizeTimestamp(tsRaw)
		switch {
		case err == nil:
			s.Timestamp = ts
		case errors.Is(err, ErrNoTimestamp):
		default:
			return Sample{}, err
		}
	}

	s.SpeedKmh = nonNegative(src, speedKeys)
	s.AccuracyMeters = nonNegative(src, accuracyKeys)
	if v, ok := lookup(src, bearingKeys...); ok {
		if b, ok := number(v); ok && !math.IsNaN(b) && !math.IsInf(b, 0) {
			s.BearingDegrees = &b
		}
	}
	return s, nil
}

func coordinate(m map[string]any, keys []string) (float64, bool) {
	v, ok := lookup(m, keys...)
	if !ok {
		return 0, false
	}
	return number(v)
}

func nonNegative(m map[string]any, keys []string) *float64 {
	v, ok := lookup(m, keys...)
	if !ok {
		return nil
	}
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return &f
}

func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func first(m map[string]any, keys []string) any {
	v, _ := lookup(m, keys...)
	return v
}
