package route

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"backend-bikefleet/internal/location"
	"backend-bikefleet/internal/polyline"
	"backend-bikefleet/internal/shared/geo"
	"backend-bikefleet/internal/stats"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"
)

var (
	rideColumns  = []string{"id", "rider_id", "bike_id", "status", "started_at", "ended_at", "encoded_path"}
	pointColumns = []string{"latitude", "longitude", "recorded_at", "speed_kmh", "accuracy_m", "bearing_deg"}
	startedAt    = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func ended(d time.Duration) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: startedAt.Add(d), Valid: true}
}

func at(d time.Duration) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: startedAt.Add(d), Valid: true}
}

func speed(v float64) pgtype.Float8 {
	return pgtype.Float8{Float64: v, Valid: true}
}

func TestRideNotFound(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock, nil, stats.New(stats.DefaultConfig()), 0)

	mock.ExpectQuery(`SELECT id, rider_id, bike_id, status, started_at, ended_at`).
		WithArgs("ride-x").
		WillReturnError(pgx.ErrNoRows)

	if _, err := svc.Ride(context.Background(), "ride-x"); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ride not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPathDropsInvalidPoints(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock, nil, stats.New(stats.DefaultConfig()), 0)

	mock.ExpectQuery(`FROM rides WHERE id=\$1`).
		WithArgs("ride-1").
		WillReturnRows(pgxmock.NewRows(rideColumns).
			AddRow("ride-1", "rider-1", "bike-1", "completed", startedAt, ended(time.Hour), ""))
	mock.ExpectQuery(`FROM ride_points WHERE ride_id=\$1`).
		WithArgs("ride-1").
		WillReturnRows(pgxmock.NewRows(pointColumns).
			AddRow(14.60, 121.00, at(0), speed(12), pgtype.Float8{}, pgtype.Float8{}).
			AddRow(95.0, 121.00, at(time.Minute), pgtype.Float8{}, pgtype.Float8{}, pgtype.Float8{}).
			AddRow(14.61, 121.01, at(2*time.Minute), speed(18), speed(5), speed(90)))

	samples, err := svc.Path(context.Background(), "ride-1")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected invalid point dropped, got %d samples", len(samples))
	}
	if samples[0].SpeedKmh == nil || *samples[0].SpeedKmh != 12 || samples[0].AccuracyMeters != nil {
		t.Fatalf("unexpected optional fields %+v", samples[0])
	}
	if samples[1].BearingDegrees == nil || *samples[1].BearingDegrees != 90 {
		t.Fatalf("bearing not scanned %+v", samples[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPathKeepsPointsWithoutTimestamp(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock, nil, stats.New(stats.DefaultConfig()), 0)

	mock.ExpectQuery(`FROM rides WHERE id=\$1`).
		WithArgs("ride-6").
		WillReturnRows(pgxmock.NewRows(rideColumns).
			AddRow("ride-6", "rider-1", "bike-1", "completed", startedAt, ended(time.Hour), ""))
	mock.ExpectQuery(`FROM ride_points WHERE ride_id=\$1`).
		WithArgs("ride-6").
		WillReturnRows(pgxmock.NewRows(pointColumns).
			AddRow(14.60, 121.00, pgtype.Timestamptz{}, pgtype.Float8{}, pgtype.Float8{}, pgtype.Float8{}).
			AddRow(14.61, 121.00, at(time.Minute), pgtype.Float8{}, pgtype.Float8{}, pgtype.Float8{}))

	samples, err := svc.Path(context.Background(), "ride-6")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected both points, got %d", len(samples))
	}
	if samples[0].HasTimestamp() {
		t.Fatalf("NULL recorded_at should leave timestamp zero, got %v", samples[0].Timestamp)
	}
	if !samples[1].Timestamp.Equal(startedAt.Add(time.Minute)) {
		t.Fatalf("unexpected timestamp %v", samples[1].Timestamp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPathFallsBackToPolyline(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock, nil, stats.New(stats.DefaultConfig()), 0)

	encoded := polyline.Encode([]geo.Point{{Lat: 14.6, Lng: 121.0}, {Lat: 14.61, Lng: 121.01}})
	mock.ExpectQuery(`FROM rides WHERE id=\$1`).
		WithArgs("ride-2").
		WillReturnRows(pgxmock.NewRows(rideColumns).
			AddRow("ride-2", "rider-1", "bike-1", "completed", startedAt, ended(time.Hour), encoded))
	mock.ExpectQuery(`FROM ride_points`).
		WithArgs("ride-2").
		WillReturnRows(pgxmock.NewRows(pointColumns))

	samples, err := svc.Path(context.Background(), "ride-2")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(samples) != 2 || samples[1].Latitude != 14.61 || samples[1].HasTimestamp() {
		t.Fatalf("unexpected decoded samples %+v", samples)
	}
}

func TestPathDecodeFailureAndNoData(t *testing.T) {
	mock := newMock(t)
	svc := NewService(mock, nil, stats.New(stats.DefaultConfig()), 0)

	mock.ExpectQuery(`FROM rides WHERE id=\$1`).
		WithArgs("ride-3").
		WillReturnRows(pgxmock.NewRows(rideColumns).
			AddRow("ride-3", "rider-1", "bike-1", "completed", startedAt, ended(time.Hour), "_p~iF"))
	mock.ExpectQuery(`FROM ride_points`).
		WithArgs("ride-3").
		WillReturnRows(pgxmock.NewRows(pointColumns))

	if _, err := svc.Path(context.Background(), "ride-3"); !errors.Is(err, polyline.ErrMalformed) {
		t.Fatalf("expected decode failure, got %v", err)
	}

	mock.ExpectQuery(`FROM rides WHERE id=\$1`).
		WithArgs("ride-4").
		WillReturnRows(pgxmock.NewRows(rideColumns).
			AddRow("ride-4", "rider-1", "bike-1", "active", startedAt, pgtype.Timestamptz{}, ""))
	mock.ExpectQuery(`FROM ride_points`).
		WithArgs("ride-4").
		WillReturnRows(pgxmock.NewRows(pointColumns))

	if _, err := svc.Path(context.Background(), "ride-4"); !errors.Is(err, ErrNoRouteData) {
		t.Fatalf("expected no route data, got %v", err)
	}
}

func TestSummaryCachesEndedRides(t *testing.T) {
	mock := newMock(t)
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	svc := NewService(mock, client, stats.New(stats.DefaultConfig()), time.Hour)

	mock.ExpectQuery(`FROM rides WHERE id=\$1`).
		WithArgs("ride-1").
		WillReturnRows(pgxmock.NewRows(rideColumns).
			AddRow("ride-1", "rider-1", "bike-1", "completed", startedAt, ended(30*time.Minute), ""))
	mock.ExpectQuery(`FROM ride_points`).
		WithArgs("ride-1").
		WillReturnRows(pgxmock.NewRows(pointColumns).
			AddRow(14.60, 121.00, at(0), speed(10), pgtype.Float8{}, pgtype.Float8{}).
			AddRow(14.61, 121.00, at(time.Minute), speed(20), pgtype.Float8{}, pgtype.Float8{}))

	summary, err := svc.Summary(context.Background(), "ride-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PointCount != 2 || summary.MaxSpeedKmh != 20 || summary.AverageSpeedKmh != 15 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.DurationSec != 1800 || summary.Ongoing {
		t.Fatalf("unexpected duration %+v", summary)
	}
	if math.Abs(summary.DistanceKm-1.112) > 0.01 {
		t.Fatalf("unexpected distance %v", summary.DistanceKm)
	}
	if !server.Exists("route:summary:ride-1") {
		t.Fatalf("summary not cached")
	}
	if ttl := server.TTL("route:summary:ride-1"); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	again, err := svc.Summary(context.Background(), "ride-1")
	if err != nil {
		t.Fatalf("cached summary: %v", err)
	}
	if again.RideID != "ride-1" || again.PointCount != 2 {
		t.Fatalf("unexpected cached summary %+v", again)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSummaryOngoingNotCached(t *testing.T) {
	mock := newMock(t)
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	svc := NewService(mock, client, stats.New(stats.DefaultConfig()), time.Hour)
	svc.now = func() time.Time { return startedAt.Add(10 * time.Minute) }

	mock.ExpectQuery(`FROM rides WHERE id=\$1`).
		WithArgs("ride-5").
		WillReturnRows(pgxmock.NewRows(rideColumns).
			AddRow("ride-5", "rider-1", "bike-1", "active", startedAt, pgtype.Timestamptz{}, ""))
	mock.ExpectQuery(`FROM ride_points`).
		WithArgs("ride-5").
		WillReturnRows(pgxmock.NewRows(pointColumns).
			AddRow(14.60, 121.00, at(0), pgtype.Float8{}, pgtype.Float8{}, pgtype.Float8{}))

	summary, err := svc.Summary(context.Background(), "ride-5")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Ongoing || summary.DurationSec != 600 || summary.DistanceKm != 0 {
		t.Fatalf("unexpected ongoing summary %+v", summary)
	}
	if server.Exists("route:summary:ride-5") {
		t.Fatalf("ongoing ride should not be cached")
	}
}

func TestBuild(t *testing.T) {
	end := startedAt.Add(20 * time.Minute)
	ride := Ride{ID: "ride-9", Status: "completed", StartedAt: startedAt, EndedAt: &end}
	samples := []location.Sample{
		{Latitude: 14.60, Longitude: 121.00},
		{Latitude: 14.61, Longitude: 121.00},
	}

	summary := Build(ride, samples, stats.New(stats.DefaultConfig()), startedAt)
	if summary.DurationSec != 1200 || summary.Start == nil || summary.End == nil || summary.End.Lat != 14.61 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	decoded, err := polyline.Decode(summary.Encoded)
	if err != nil || len(decoded) != 2 {
		t.Fatalf("summary polyline does not decode: %v", err)
	}
	if summary.MaxSpeedKmh != 0 {
		t.Fatalf("untimed samples should not produce speed, got %v", summary.MaxSpeedKmh)
	}

	empty := Build(Ride{ID: "ride-0"}, nil, stats.New(stats.DefaultConfig()), startedAt)
	if empty.PointCount != 0 || empty.DistanceKm != 0 || empty.DurationSec != 0 {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}
