package location

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestNormalizeTimestampShapes(t *testing.T) {
	want := time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)
	sec := want.Unix()
	ms := want.UnixMilli()

	cases := map[string]any{
		"seconds float":    float64(sec),
		"seconds int64":    sec,
		"millis float":     float64(ms),
		"millis int64":     ms,
		"millis number":    json.Number("1791966600000"),
		"seconds string":   "1791966600",
		"rfc3339":          "2026-10-14T08:30:00Z",
		"rfc3339 offset":   "2026-10-14T16:30:00+08:00",
		"firestore object": map[string]any{"seconds": float64(sec), "nanoseconds": float64(0)},
		"admin sdk object": map[string]any{"_seconds": float64(sec), "_nanoseconds": float64(0)},
		"time value":       want.In(time.FixedZone("PHT", 8*3600)),
	}
	if ms != 1791966600000 {
		t.Fatalf("fixture drift: %d", ms)
	}
	for name, in := range cases {
		got, err := NormalizeTimestamp(in)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: got %v want %v", name, got, want)
		}
		if got.Location() != time.UTC {
			t.Fatalf("%s: expected UTC", name)
		}
	}
}

func TestNormalizeTimestampThreshold(t *testing.T) {
	below, err := NormalizeTimestamp(float64(9_999_999_999))
	if err != nil {
		t.Fatalf("below threshold: %v", err)
	}
	if below.Year() != 2286 {
		t.Fatalf("expected seconds interpretation, got %v", below)
	}
	at, err := NormalizeTimestamp(float64(10_000_000_000))
	if err != nil {
		t.Fatalf("at threshold: %v", err)
	}
	if at.Year() != 1970 {
		t.Fatalf("expected millis interpretation, got %v", at)
	}
}

func TestNormalizeTimestampErrors(t *testing.T) {
	absent := []any{nil, "", "  ", time.Time{}}
	for _, in := range absent {
		if _, err := NormalizeTimestamp(in); !errors.Is(err, ErrNoTimestamp) {
			t.Fatalf("expected ErrNoTimestamp for %#v, got %v", in, err)
		}
	}

	bad := []any{
		"yesterday",
		true,
		float64(-5),
		math.NaN(),
		math.Inf(1),
		1e300,
		map[string]any{"nanoseconds": float64(1)},
		map[string]any{"seconds": "soon"},
		map[string]any{"seconds": float64(100), "nanoseconds": float64(2e9)},
	}
	for _, in := range bad {
		if _, err := NormalizeTimestamp(in); !errors.Is(err, ErrTimestamp) {
			t.Fatalf("expected ErrTimestamp for %#v, got %v", in, err)
		}
	}
}

func TestFromPayloadAliases(t *testing.T) {
	payloads := []map[string]any{
		{"lat": 14.6, "lng": 121.0, "speed": 12.5, "timestamp": float64(1791966600000)},
		{"latitude": 14.6, "longitude": 121.0, "currentSpeed": 12.5, "updatedAt": "2026-10-14T08:30:00Z"},
		{"location": map[string]any{"lat": "14.6", "lon": "121.0"}, "speedKmh": 12.5, "timestamp": float64(1791966600)},
	}
	want := time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)
	for i, p := range payloads {
		s, err := FromPayload(p)
		if err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if s.Latitude != 14.6 || s.Longitude != 121.0 {
			t.Fatalf("payload %d: coordinates %+v", i, s)
		}
		if !s.Timestamp.Equal(want) {
			t.Fatalf("payload %d: timestamp %v", i, s.Timestamp)
		}
		if i < 2 && (s.SpeedKmh == nil || *s.SpeedKmh != 12.5) {
			t.Fatalf("payload %d: expected speed", i)
		}
	}
}

func TestFromPayloadOptionalFields(t *testing.T) {
	s, err := FromPayload(map[string]any{
		"lat": 1.0, "lng": 2.0,
		"speed": -3.0, "accuracy": 8.0, "heading": 270.0,
	})
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if s.SpeedKmh != nil {
		t.Fatalf("negative speed must be dropped")
	}
	if s.AccuracyMeters == nil || *s.AccuracyMeters != 8 {
		t.Fatalf("expected accuracy")
	}
	if s.BearingDegrees == nil || *s.BearingDegrees != 270 {
		t.Fatalf("expected bearing")
	}
	if s.HasTimestamp() {
		t.Fatalf("expected no timestamp")
	}
}

func TestFromPayloadRejects(t *testing.T) {
	invalid := []map[string]any{
		nil,
		{},
		{"lat": 91.0, "lng": 0.0},
		{"lat": 0.0, "lng": -180.1},
		{"lat": "north", "lng": 0.0},
		{"lat": 1.0},
		{"lat": math.NaN(), "lng": 0.0},
		{"lat": true, "lng": 0.0},
	}
	for _, p := range invalid {
		if _, err := FromPayload(p); !errors.Is(err, ErrInvalidCoordinates) {
			t.Fatalf("expected invalid coordinates for %v, got %v", p, err)
		}
	}

	if _, err := FromPayload(map[string]any{"lat": 1.0, "lng": 1.0, "timestamp": "not a time"}); !errors.Is(err, ErrTimestamp) {
		t.Fatalf("expected timestamp error, got %v", err)
	}
}
