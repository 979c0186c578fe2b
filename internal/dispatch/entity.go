package dispatch

import (
	"strings"

	"backend-bikefleet/internal/location"
)

type Kind string

const (
	KindRider Kind = "rider"
	KindBike  Kind = "bike"
)

type Flags struct {
	Emergency   bool `json:"emergency"`
	Paused      bool `json:"paused"`
	Maintenance bool `json:"maintenance"`
	Available   bool `json:"available"`
	InUse       bool `json:"in_use"`
}

// Entity is the published state of one rider-in-ride or bike. Position is
// always set; HasGPS is false when it is a synthesized fallback.
type Entity struct {
	ID       string           `json:"id"`
	Kind     Kind             `json:"kind"`
	Status   string           `json:"status"`
	Label    string           `json:"label,omitempty"`
	RideID   string           `json:"ride_id,omitempty"`
	BikeID   string           `json:"bike_id,omitempty"`
	Flags    Flags            `json:"flags"`
	Position *location.Sample `json:"position"`
	Tier     location.Tier    `json:"tier"`
	HasGPS   bool             `json:"has_gps"`
}

// record is the parsed active-feed entry for one entity.
type record struct {
	id        string
	kind      Kind
	status    string
	label     string
	rideID    string
	bikeID    string
	flags     Flags
	current   *location.Sample
	lastKnown *location.Sample
	initial   *location.Sample
}

var endedStatuses = map[string]bool{
	"ended":     true,
	"completed": true,
	"finished":  true,
	"cancelled": true,
	"canceled":  true,
	"removed":   true,
}

var inUseStatuses = map[string]bool{
	"in_use": true,
	"in-use": true,
	"inuse":  true,
	"rented": true,
	"active": true,
}

// parseRecord adapts an active-feed payload. The second result is false for
// entries that are no longer active (ended rides, removed bikes).
func parseRecord(id string, raw map[string]any) (record, bool) {
	rec := record{
		id:     id,
		kind:   kindOf(raw),
		status: strings.ToLower(strings.TrimSpace(str(raw, "status"))),
		label:  str(raw, "name", "label", "riderName", "userName", "bikeName", "plate"),
		rideID: str(raw, "rideId", "ride_id"),
		bikeID: str(raw, "bikeId", "bike_id"),
	}
	if endedStatuses[rec.status] || flag(raw, "deleted", "isDeleted") {
		return rec, false
	}
	if rec.status == "" {
		rec.status = "active"
	}

	rec.flags = Flags{
		Emergency:   rec.status == "emergency" || flag(raw, "emergency", "isEmergency"),
		Paused:      rec.status == "paused" || flag(raw, "paused", "isPaused"),
		Maintenance: rec.status == "maintenance" || flag(raw, "maintenance", "inMaintenance"),
	}
	if rec.kind == KindBike {
		rec.flags.Available = rec.status == "available" || flag(raw, "isAvailable")
		rec.flags.InUse = inUseStatuses[rec.status] || flag(raw, "isInUse")
	}

	rec.current = nestedSample(raw, "currentLocation")
	if rec.current == nil {
		// top-level coordinates or a nested location/coords/position object
		if s, err := location.FromPayload(raw); err == nil {
			rec.current = &s
		}
	}
	rec.lastKnown = nestedSample(raw, "lastKnownLocation", "lastLocation")
	rec.initial = nestedSample(raw, "initialLocation", "deploymentLocation", "initialDeployment")
	return rec, true
}

func kindOf(raw map[string]any) Kind {
	switch strings.ToLower(str(raw, "kind", "type", "entityType")) {
	case "bike":
		return KindBike
	case "rider", "ride":
		return KindRider
	}
	for _, key := range []string{"userId", "riderId", "rideId", "startTime"} {
		if _, ok := raw[key]; ok {
			return KindRider
		}
	}
	return KindBike
}

func nestedSample(raw map[string]any, keys ...string) *location.Sample {
	for _, key := range keys {
		m, ok := raw[key].(map[string]any)
		if !ok {
			continue
		}
		s, err := location.FromPayload(m)
		if err != nil {
			return nil
		}
		return &s
	}
	return nil
}

func str(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func flag(raw map[string]any, keys ...string) bool {
	for _, key := range keys {
		if v, ok := raw[key].(bool); ok && v {
			return true
		}
	}
	return false
}
