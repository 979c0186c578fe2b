// Package render turns dispatcher snapshots into the map view model the
// dashboard draws: markers, trail paths, circles and counters.
package render

import (
	"time"

	"backend-bikefleet/internal/dispatch"
	"backend-bikefleet/internal/feed"
	"backend-bikefleet/internal/location"
	"backend-bikefleet/internal/polyline"
	"backend-bikefleet/internal/shared/geo"
)

const (
	CirclePulse     = "pulse"
	CircleEmergency = "emergency"
)

// Style holds marker colours and circle radii. Radii are in meters and do
// not scale with zoom.
type Style struct {
	TierColors            map[location.Tier]string
	TierOpacity           map[location.Tier]float64
	EmergencyColor        string
	MaintenanceColor      string
	PausedColor           string
	PathColor             string
	PulseRadiusMeters     float64
	EmergencyRadiusMeters float64
}

func DefaultStyle() Style {
	return Style{
		TierColors: map[location.Tier]string{
			location.TierLive:              "#16a34a",
			location.TierStale:             "#f59e0b",
			location.TierOld:               "#9ca3af",
			location.TierLastKnown:         "#6b7280",
			location.TierInitialDeployment: "#3b82f6",
			location.TierFallbackEstimated: "#d1d5db",
		},
		TierOpacity: map[location.Tier]float64{
			location.TierLive:              1,
			location.TierStale:             0.75,
			location.TierOld:               0.45,
			location.TierLastKnown:         0.6,
			location.TierInitialDeployment: 0.55,
			location.TierFallbackEstimated: 0.35,
		},
		EmergencyColor:        "#dc2626",
		MaintenanceColor:      "#7c3aed",
		PausedColor:           "#0ea5e9",
		PathColor:             "#2563eb",
		PulseRadiusMeters:     25,
		EmergencyRadiusMeters: 80,
	}
}

type Marker struct {
	ID       string         `json:"id"`
	Kind     dispatch.Kind  `json:"kind"`
	Label    string         `json:"label,omitempty"`
	Status   string         `json:"status"`
	Position geo.Point      `json:"position"`
	Tier     location.Tier  `json:"tier"`
	Flags    dispatch.Flags `json:"flags"`
	Color    string         `json:"color"`
	Opacity  float64        `json:"opacity"`
	NoGPS    bool           `json:"no_gps"`
}

type Path struct {
	EntityID string      `json:"entity_id"`
	Points   []geo.Point `json:"points"`
	Encoded  string      `json:"encoded"`
	Color    string      `json:"color"`
}

type Circle struct {
	EntityID     string    `json:"entity_id"`
	Kind         string    `json:"kind"`
	Center       geo.Point `json:"center"`
	RadiusMeters float64   `json:"radius_m"`
	Color        string    `json:"color"`
}

type Counters struct {
	Riders      int `json:"riders"`
	Bikes       int `json:"bikes"`
	Live        int `json:"live"`
	Stale       int `json:"stale"`
	Old         int `json:"old"`
	NoGPS       int `json:"no_gps"`
	Emergency   int `json:"emergency"`
	Paused      int `json:"paused"`
	Maintenance int `json:"maintenance"`
	Available   int `json:"available"`
	InUse       int `json:"in_use"`
}

type MapView struct {
	Seq         uint64                                  `json:"seq"`
	GeneratedAt time.Time                               `json:"generated_at"`
	Markers     []Marker                                `json:"markers"`
	Paths       []Path                                  `json:"paths"`
	Circles     []Circle                                `json:"circles"`
	Counters    Counters                                `json:"counters"`
	Channels    map[feed.Channel]dispatch.ChannelStatus `json:"channels"`
	Degraded    bool                                    `json:"degraded"`
}

// Build renders every entity in the snapshot as a marker. Paths are emitted
// for trails of two or more points, in entity order.
func Build(snap dispatch.Snapshot, style Style) MapView {
	view := MapView{
		Seq:         snap.Seq,
		GeneratedAt: snap.GeneratedAt,
		Markers:     make([]Marker, 0, len(snap.Entities)),
		Paths:       []Path{},
		Circles:     []Circle{},
		Channels:    snap.Channels,
		Degraded:    !snap.Healthy(),
	}

	for _, e := range snap.Entities {
		m := marker(e, style)
		view.Markers = append(view.Markers, m)
		count(&view.Counters, e)

		if e.Tier == location.TierLive {
			view.Circles = append(view.Circles, Circle{
				EntityID:     e.ID,
				Kind:         CirclePulse,
				Center:       m.Position,
				RadiusMeters: style.PulseRadiusMeters,
				Color:        m.Color,
			})
		}
		if e.Flags.Emergency {
			view.Circles = append(view.Circles, Circle{
				EntityID:     e.ID,
				Kind:         CircleEmergency,
				Center:       m.Position,
				RadiusMeters: style.EmergencyRadiusMeters,
				Color:        style.EmergencyColor,
			})
		}

		trail := snap.Trails[e.ID]
		if len(trail) < 2 {
			continue
		}
		points := make([]geo.Point, 0, len(trail))
		for _, s := range trail {
			points = append(points, s.Point())
		}
		view.Paths = append(view.Paths, Path{
			EntityID: e.ID,
			Points:   points,
			Encoded:  polyline.Encode(points),
			Color:    style.PathColor,
		})
	}
	return view
}

func marker(e dispatch.Entity, style Style) Marker {
	m := Marker{
		ID:      e.ID,
		Kind:    e.Kind,
		Label:   e.Label,
		Status:  e.Status,
		Tier:    e.Tier,
		Flags:   e.Flags,
		Color:   style.TierColors[e.Tier],
		Opacity: style.TierOpacity[e.Tier],
		NoGPS:   !e.HasGPS,
	}
	if e.Position != nil {
		m.Position = e.Position.Point()
	}
	if m.Opacity == 0 {
		m.Opacity = 1
	}

	switch {
	case e.Flags.Emergency:
		m.Color = style.EmergencyColor
		m.Opacity = 1
	case e.Flags.Maintenance:
		m.Color = style.MaintenanceColor
	case e.Flags.Paused:
		m.Color = style.PausedColor
	}
	return m
}

func count(c *Counters, e dispatch.Entity) {
	switch e.Kind {
	case dispatch.KindRider:
		c.Riders++
	case dispatch.KindBike:
		c.Bikes++
	}
	switch e.Tier {
	case location.TierLive:
		c.Live++
	case location.TierStale:
		c.Stale++
	case location.TierOld:
		c.Old++
	}
	if !e.HasGPS {
		c.NoGPS++
	}
	if e.Flags.Emergency {
		c.Emergency++
	}
	if e.Flags.Paused {
		c.Paused++
	}
	if e.Flags.Maintenance {
		c.Maintenance++
	}
	if e.Flags.Available {
		c.Available++
	}
	if e.Flags.InUse {
		c.InUse++
	}
}
