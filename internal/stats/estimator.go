package stats

import (
	"time"

	"backend-bikefleet/internal/location"
	"backend-bikefleet/internal/shared/geo"
)

const (
	DefaultGlitchThresholdKm = 100.0
	DefaultMaxSpeedKmh       = 100.0
)

type Config struct {
	// Segments longer than this are GPS glitches and excluded from totals.
	GlitchThresholdKm float64
	// Speeds outside [MinSpeedKmh, MaxSpeedKmh] are discarded, not clamped.
	MinSpeedKmh float64
	MaxSpeedKmh float64
}

func DefaultConfig() Config {
	return Config{GlitchThresholdKm: DefaultGlitchThresholdKm, MaxSpeedKmh: DefaultMaxSpeedKmh}
}

type SpeedStats struct {
	MaxKmh     float64 `json:"max_kmh"`
	AverageKmh float64 `json:"average_kmh"`
	Samples    int     `json:"samples"`
}

type Estimator struct {
	cfg Config
}

func New(cfg Config) Estimator {
	if cfg.GlitchThresholdKm <= 0 {
		cfg.GlitchThresholdKm = DefaultGlitchThresholdKm
	}
	if cfg.MinSpeedKmh < 0 {
		cfg.MinSpeedKmh = 0
	}
	if cfg.MaxSpeedKmh <= cfg.MinSpeedKmh {
		cfg.MaxSpeedKmh = DefaultMaxSpeedKmh
	}
	return Estimator{cfg: cfg}
}

func (e Estimator) Config() Config {
	return e.cfg
}

// AccumulateDistance sums the haversine distance between consecutive samples
// in kilometres, skipping glitch segments.
func (e Estimator) AccumulateDistance(samples []location.Sample) float64 {
	total := 0.0
	for i := 1; i < len(samples); i++ {
		d := geo.Distance(samples[i-1].Point(), samples[i].Point())
		if d > e.cfg.GlitchThresholdKm {
			continue
		}
		total += d
	}
	return total
}

// DeriveSpeed prefers reported per-point speeds. When no sample reports one it
// falls back to distance over time between consecutive timestamped samples.
func (e Estimator) DeriveSpeed(samples []location.Sample) SpeedStats {
	if len(samples) < 2 {
		return SpeedStats{}
	}

	var values []float64
	if hasReportedSpeed(samples) {
		for _, s := range samples {
			if s.SpeedKmh != nil && e.plausible(*s.SpeedKmh) {
				values = append(values, *s.SpeedKmh)
			}
		}
	} else {
		for i := 1; i < len(samples); i++ {
			prev, cur := samples[i-1], samples[i]
			if !prev.HasTimestamp() || !cur.HasTimestamp() {
				continue
			}
			dt := cur.Timestamp.Sub(prev.Timestamp)
			if dt <= 0 {
				continue
			}
			d := geo.Distance(prev.Point(), cur.Point())
			if d > e.cfg.GlitchThresholdKm {
				continue
			}
			if v := d / dt.Hours(); e.plausible(v) {
				values = append(values, v)
			}
		}
	}

	if len(values) == 0 {
		return SpeedStats{}
	}
	out := SpeedStats{Samples: len(values)}
	sum := 0.0
	for _, v := range values {
		sum += v
		if v > out.MaxKmh {
			out.MaxKmh = v
		}
	}
	out.AverageKmh = sum / float64(len(values))
	return out
}

func (e Estimator) plausible(v float64) bool {
	return v >= e.cfg.MinSpeedKmh && v <= e.cfg.MaxSpeedKmh
}

func hasReportedSpeed(samples []location.Sample) bool {
	for _, s := range samples {
		if s.SpeedKmh != nil {
			return true
		}
	}
	return false
}

// Duration measures start to end; a zero end means the session is ongoing
// and now is used instead.
func Duration(start, end, now time.Time) time.Duration {
	if start.IsZero() {
		return 0
	}
	if end.IsZero() {
		end = now
	}
	if d := end.Sub(start); d > 0 {
		return d
	}
	return 0
}

// Span returns the first and last timestamps present in samples.
func Span(samples []location.Sample) (first, last time.Time) {
	for _, s := range samples {
		if !s.HasTimestamp() {
			continue
		}
		if first.IsZero() {
			first = s.Timestamp
		}
		last = s.Timestamp
	}
	return first, last
}
