package location

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Numeric timestamps below this are epoch seconds, at or above it epoch millis.
const secondsThreshold = 10_000_000_000

// beyond this even a millisecond value is nonsense (year ~33658)
const maxEpochMillis = 1e15

var (
	ErrNoTimestamp = errors.New("no timestamp")
	ErrTimestamp   = errors.New("unrecognized timestamp")
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeTimestamp maps every timestamp shape producers send (epoch
// seconds or millis, numeric strings, RFC 3339 strings, Firestore style
// {seconds, nanoseconds} objects) onto a UTC time. An absent value yields
// ErrNoTimestamp, anything unparseable ErrTimestamp.
func NormalizeTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, ErrNoTimestamp
	case time.Time:
		if t.IsZero() {
			return time.Time{}, ErrNoTimestamp
		}
		return t.UTC(), nil
	case *time.Time:
		if t == nil {
			return time.Time{}, ErrNoTimestamp
		}
		return NormalizeTimestamp(*t)
	case string:
		return parseTimestampString(t)
	case map[string]any:
		return parseTimestampObject(t)
	}

	if f, ok := number(v); ok {
		return fromEpoch(f)
	}
	return time.Time{}, fmt.Errorf("%w: %T", ErrTimestamp, v)
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrNoTimestamp
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrTimestamp, s)
}

func parseTimestampObject(m map[string]any) (time.Time, error) {
	secRaw, ok := lookup(m, "seconds", "_seconds")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: object without seconds", ErrTimestamp)
	}
	sec, ok := number(secRaw)
	if !ok || math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 || sec >= secondsThreshold {
		return time.Time{}, fmt.Errorf("%w: seconds %v", ErrTimestamp, secRaw)
	}
	var nsec float64
	if nRaw, ok := lookup(m, "nanoseconds", "_nanoseconds"); ok {
		n, ok := number(nRaw)
		if !ok || n < 0 || n >= 1e9 {
			return time.Time{}, fmt.Errorf("%w: nanoseconds %v", ErrTimestamp, nRaw)
		}
		nsec = n
	}
	return time.Unix(int64(sec), int64(nsec)).UTC(), nil
}

func fromEpoch(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || f >= maxEpochMillis {
		return time.Time{}, fmt.Errorf("%w: epoch %v", ErrTimestamp, f)
	}
	if f < secondsThreshold {
		sec := math.Floor(f)
		return time.Unix(int64(sec), int64((f-sec)*1e9)).UTC(), nil
	}
	return time.UnixMilli(int64(f)).UTC(), nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
