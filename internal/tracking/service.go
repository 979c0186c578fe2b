package tracking

import (
	"errors"

	"backend-bikefleet/internal/dispatch"
	"backend-bikefleet/internal/location"
	"backend-bikefleet/internal/polyline"
	"backend-bikefleet/internal/render"
	"backend-bikefleet/internal/shared/geo"
	"backend-bikefleet/internal/stats"
)

var ErrEntityNotFound = errors.New("entity not found")

// Service serves read views over the dispatcher's current state.
type Service struct {
	dispatcher *dispatch.Dispatcher
	est        stats.Estimator
	style      render.Style
}

func NewService(d *dispatch.Dispatcher, est stats.Estimator) *Service {
	return &Service{dispatcher: d, est: est, style: render.DefaultStyle()}
}

func (s *Service) Snapshot() dispatch.Snapshot {
	return s.dispatcher.Snapshot()
}

func (s *Service) Map() render.MapView {
	return render.Build(s.dispatcher.Snapshot(), s.style)
}

func (s *Service) Entity(id string) (EntityView, error) {
	e, ok := s.dispatcher.Entity(id)
	if !ok {
		return EntityView{}, ErrEntityNotFound
	}
	view := EntityView{Entity: e}
	if e.Kind == dispatch.KindRider {
		trail := s.trail(id)
		view.Trail = &trail
	}
	return view, nil
}

func (s *Service) Trail(id string) (TrailView, error) {
	if _, ok := s.dispatcher.Entity(id); !ok {
		return TrailView{}, ErrEntityNotFound
	}
	return s.trail(id), nil
}

func (s *Service) Refresh() RefreshResult {
	snap := s.dispatcher.Refresh()
	return RefreshResult{Seq: snap.Seq, Entities: len(snap.Entities)}
}

func (s *Service) trail(id string) TrailView {
	samples := s.dispatcher.Trail(id)
	points := make([]geo.Point, 0, len(samples))
	for _, smp := range samples {
		points = append(points, smp.Point())
	}
	view := TrailView{
		EntityID:   id,
		Points:     samples,
		Encoded:    polyline.Encode(points),
		DistanceKm: s.est.AccumulateDistance(samples),
		Speed:      s.est.DeriveSpeed(samples),
	}
	if view.Points == nil {
		view.Points = []location.Sample{}
	}
	return view
}
