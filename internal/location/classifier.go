package location

import (
	"hash/fnv"
	"time"

	"backend-bikefleet/internal/shared/geo"
)

const (
	DefaultStaleAfter    = time.Minute
	DefaultOldAfter      = 24 * time.Hour
	DefaultJitterDegrees = 0.005
)

// DefaultCenter is used when no fallback center is configured.
var DefaultCenter = geo.Point{Lat: 14.5995, Lng: 120.9842}

// Thresholds bound the live/stale/old tiers for push-channel samples.
// A sample younger than StaleAfter is live, younger than OldAfter stale,
// anything older is old.
type Thresholds struct {
	StaleAfter time.Duration
	OldAfter   time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{StaleAfter: DefaultStaleAfter, OldAfter: DefaultOldAfter}
}

// Fallback synthesizes a placeholder position near Center. The jitter is
// derived from the entity id so the same entity always lands on the same spot.
type Fallback struct {
	Center        geo.Point
	JitterDegrees float64
}

func (f Fallback) For(entityID string) Sample {
	center := f.Center
	if !center.Valid() {
		center = DefaultCenter
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(entityID))
	sum := h.Sum64()

	// two independent offsets in [-1, 1)
	dLat := float64(sum>>32)/float64(1<<31) - 1
	dLng := float64(sum&0xffffffff)/float64(1<<31) - 1

	lat := center.Lat + dLat*f.JitterDegrees
	lng := center.Lng + dLng*f.JitterDegrees
	if !geo.Valid(lat, lng) {
		lat, lng = center.Lat, center.Lng
	}
	return Sample{Latitude: lat, Longitude: lng}
}

type Classifier struct {
	Thresholds Thresholds
	Fallback   Fallback
}

func NewClassifier(t Thresholds, f Fallback) Classifier {
	if t.StaleAfter <= 0 {
		t.StaleAfter = DefaultStaleAfter
	}
	if t.OldAfter <= t.StaleAfter {
		t.OldAfter = max(DefaultOldAfter, t.StaleAfter)
	}
	return Classifier{Thresholds: t, Fallback: f}
}

// Classify assigns a freshness tier. First match wins: no sample, live
// channel age, last-known cache, initial deployment seed.
func (c Classifier) Classify(sample *Sample, now time.Time, source Source) Tier {
	if sample == nil {
		return TierUnknown
	}

	switch source {
	case SourceLive:
		if !sample.HasTimestamp() {
			return TierLive
		}
		age := now.Sub(sample.Timestamp)
		switch {
		case age < c.Thresholds.StaleAfter:
			return TierLive
		case age < c.Thresholds.OldAfter:
			return TierStale
		default:
			return TierOld
		}
	case SourceLastKnown:
		return TierLastKnown
	case SourceInitialDeployment:
		return TierInitialDeployment
	default:
		return TierUnknown
	}
}

// Resolve classifies sample and, when nothing is known about the entity,
// returns the fallback position tagged fallbackEstimated.
func (c Classifier) Resolve(entityID string, sample *Sample, now time.Time, source Source) (Sample, Tier) {
	tier := c.Classify(sample, now, source)
	if tier == TierUnknown && sample == nil {
		return c.Fallback.For(entityID), TierFallbackEstimated
	}
	return *sample, tier
}
