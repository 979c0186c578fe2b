package location

import (
	"time"

	"backend-bikefleet/internal/shared/geo"
)

// Sample is a single observed position. A zero Timestamp means the producer
// did not record one (legacy records).
type Sample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Timestamp      time.Time `json:"timestamp,omitempty"`
	SpeedKmh       *float64  `json:"speed_kmh,omitempty"`
	AccuracyMeters *float64  `json:"accuracy_m,omitempty"`
	BearingDegrees *float64  `json:"bearing_deg,omitempty"`
}

func (s Sample) Point() geo.Point {
	return geo.Point{Lat: s.Latitude, Lng: s.Longitude}
}

func (s Sample) Valid() bool {
	return geo.Valid(s.Latitude, s.Longitude)
}

func (s Sample) HasTimestamp() bool {
	return !s.Timestamp.IsZero()
}

// Same reports whether two samples describe the same observation.
func (s Sample) Same(o Sample) bool {
	return s.Latitude == o.Latitude && s.Longitude == o.Longitude && s.Timestamp.Equal(o.Timestamp)
}

// Source tells the classifier which payload field a sample came from.
type Source int

const (
	SourceNone Source = iota
	SourceLive
	SourceLastKnown
	SourceInitialDeployment
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceLastKnown:
		return "lastKnown"
	case SourceInitialDeployment:
		return "initialDeployment"
	default:
		return "none"
	}
}

type Tier string

const (
	TierLive              Tier = "live"
	TierStale             Tier = "stale"
	TierOld               Tier = "old"
	TierLastKnown         Tier = "lastKnown"
	TierInitialDeployment Tier = "initialDeployment"
	TierFallbackEstimated Tier = "fallbackEstimated"
	TierUnknown           Tier = "unknown"
)
