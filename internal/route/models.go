package route

import (
	"time"

	"backend-bikefleet/internal/shared/geo"
)

type Ride struct {
	ID          string     `json:"id"`
	RiderID     string     `json:"rider_id"`
	BikeID      string     `json:"bike_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EncodedPath string     `json:"encoded_path,omitempty"`
}

// Ended reports whether the ride is finished and its path will not grow.
func (r Ride) Ended() bool {
	if r.EndedAt != nil {
		return true
	}
	switch r.Status {
	case "ended", "completed", "finished", "cancelled", "canceled":
		return true
	}
	return false
}

// Summary is the historical reconstruction of one ride.
type Summary struct {
	RideID          string     `json:"ride_id"`
	Status          string     `json:"status"`
	PointCount      int        `json:"point_count"`
	DistanceKm      float64    `json:"distance_km"`
	MaxSpeedKmh     float64    `json:"max_speed_kmh"`
	AverageSpeedKmh float64    `json:"average_speed_kmh"`
	DurationSec     int64      `json:"duration_sec"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Ongoing         bool       `json:"ongoing"`
	Start           *geo.Point `json:"start,omitempty"`
	End             *geo.Point `json:"end,omitempty"`
	Encoded         string     `json:"encoded"`
}
