package tracking

import (
	"backend-bikefleet/internal/dispatch"
	"backend-bikefleet/internal/location"
	"backend-bikefleet/internal/stats"
)

type TrailView struct {
	EntityID   string            `json:"entity_id"`
	Points     []location.Sample `json:"points"`
	Encoded    string            `json:"encoded"`
	DistanceKm float64           `json:"distance_km"`
	Speed      stats.SpeedStats  `json:"speed"`
}

type EntityView struct {
	dispatch.Entity
	Trail *TrailView `json:"trail,omitempty"`
}

type RefreshResult struct {
	Seq      uint64 `json:"seq"`
	Entities int    `json:"entities"`
}
