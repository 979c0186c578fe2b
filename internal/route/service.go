// Package route rebuilds completed or ongoing rides from persisted points.
package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"backend-bikefleet/internal/db"
	"backend-bikefleet/internal/location"
	"backend-bikefleet/internal/polyline"
	"backend-bikefleet/internal/shared/geo"
	"backend-bikefleet/internal/stats"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
)

const DefaultCacheTTL = 24 * time.Hour

var (
	ErrRideNotFound = errors.New("ride not found")
	ErrNoRouteData  = errors.New("no route data")
)

type Service struct {
	db    db.Querier
	cache *redis.Client
	est   stats.Estimator
	ttl   time.Duration
	now   func() time.Time
}

func NewService(q db.Querier, cache *redis.Client, est stats.Estimator, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{db: q, cache: cache, est: est, ttl: ttl, now: time.Now}
}

func (s *Service) Ride(ctx context.Context, id string) (Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, rider_id, bike_id, status, started_at, ended_at, COALESCE(encoded_path, '')
		FROM rides WHERE id=$1
	`, id)

	var ride Ride
	var endedAt pgtype.Timestamptz
	if err := row.Scan(&ride.ID, &ride.RiderID, &ride.BikeID, &ride.Status, &ride.StartedAt, &endedAt, &ride.EncodedPath); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ride{}, fmt.Errorf("%w: %s", ErrRideNotFound, id)
		}
		return Ride{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		ride.EndedAt = &t
	}
	return ride, nil
}

// Path returns the ride's samples in recorded order. Rides without stored
// points fall back to the persisted encoded polyline.
func (s *Service) Path(ctx context.Context, id string) ([]location.Sample, error) {
	ride, err := s.Ride(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.path(ctx, ride)
}

func (s *Service) path(ctx context.Context, ride Ride) ([]location.Sample, error) {
	samples, err := s.points(ctx, ride.ID)
	if err != nil {
		return nil, err
	}
	if len(samples) > 0 {
		return samples, nil
	}
	if ride.EncodedPath == "" {
		return nil, fmt.Errorf("ride %s: %w", ride.ID, ErrNoRouteData)
	}

	points, err := polyline.Decode(ride.EncodedPath)
	if err != nil {
		return nil, fmt.Errorf("ride %s path: %w", ride.ID, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("ride %s: %w", ride.ID, ErrNoRouteData)
	}
	samples = make([]location.Sample, 0, len(points))
	for _, p := range points {
		samples = append(samples, location.Sample{Latitude: p.Lat, Longitude: p.Lng})
	}
	return samples, nil
}

func (s *Service) points(ctx context.Context, rideID string) ([]location.Sample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT latitude, longitude, recorded_at, speed_kmh, accuracy_m, bearing_deg
		FROM ride_points WHERE ride_id=$1
		ORDER BY recorded_at
	`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []location.Sample
	dropped := 0
	for rows.Next() {
		var smp location.Sample
		var recordedAt pgtype.Timestamptz
		var speed, accuracy, bearing pgtype.Float8
		if err := rows.Scan(&smp.Latitude, &smp.Longitude, &recordedAt, &speed, &accuracy, &bearing); err != nil {
			return nil, err
		}
		if !smp.Valid() {
			dropped++
			continue
		}
		if recordedAt.Valid {
			smp.Timestamp = recordedAt.Time
		}
		smp.SpeedKmh = float8(speed)
		smp.AccuracyMeters = float8(accuracy)
		smp.BearingDegrees = float8(bearing)
		samples = append(samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if dropped > 0 {
		log.Printf("route: ride %s dropped %d invalid points", rideID, dropped)
	}
	return samples, nil
}

// Summary builds the ride summary. Summaries of ended rides are cached.
func (s *Service) Summary(ctx context.Context, id string) (Summary, error) {
	if cached, ok := s.cached(ctx, id); ok {
		return cached, nil
	}

	ride, err := s.Ride(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	samples, err := s.path(ctx, ride)
	if err != nil {
		return Summary{}, err
	}

	summary := Build(ride, samples, s.est, s.now())
	if ride.Ended() {
		s.store(ctx, summary)
	}
	return summary, nil
}

func (s *Service) cached(ctx context.Context, id string) (Summary, bool) {
	if s.cache == nil {
		return Summary{}, false
	}
	raw, err := s.cache.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("route: summary cache read %s: %v", id, err)
		}
		return Summary{}, false
	}
	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		log.Printf("route: summary cache decode %s: %v", id, err)
		return Summary{}, false
	}
	return summary, true
}

func (s *Service) store(ctx context.Context, summary Summary) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(summary.RideID), payload, s.ttl).Err(); err != nil {
		log.Printf("route: summary cache write %s: %v", summary.RideID, err)
	}
}

// Build aggregates samples into a summary. An ongoing ride is measured up
// to now.
func Build(ride Ride, samples []location.Sample, est stats.Estimator, now time.Time) Summary {
	speed := est.DeriveSpeed(samples)
	summary := Summary{
		RideID:          ride.ID,
		Status:          ride.Status,
		PointCount:      len(samples),
		DistanceKm:      est.AccumulateDistance(samples),
		MaxSpeedKmh:     speed.MaxKmh,
		AverageSpeedKmh: speed.AverageKmh,
		StartedAt:       ride.StartedAt,
		EndedAt:         ride.EndedAt,
		Ongoing:         !ride.Ended(),
	}

	start := ride.StartedAt
	var end time.Time
	if ride.EndedAt != nil {
		end = *ride.EndedAt
	}
	if start.IsZero() {
		first, last := stats.Span(samples)
		start = first
		if ride.Ended() {
			end = last
		}
	}
	if ride.Ended() && end.IsZero() {
		_, end = stats.Span(samples)
	}
	summary.DurationSec = int64(stats.Duration(start, end, now).Seconds())

	if len(samples) > 0 {
		points := make([]geo.Point, 0, len(samples))
		for _, smp := range samples {
			points = append(points, smp.Point())
		}
		first, last := points[0], points[len(points)-1]
		summary.Start = &first
		summary.End = &last
		summary.Encoded = polyline.Encode(points)
	}
	return summary
}

func cacheKey(rideID string) string {
	return "route:summary:" + rideID
}

func float8(v pgtype.Float8) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
