// Package dispatch consolidates the live-location and active-entity feeds
// into one snapshot per change. Every event is applied under a single lock,
// so processing is sequential and per-entity order is delivery order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"backend-bikefleet/internal/feed"
	"backend-bikefleet/internal/location"
	"backend-bikefleet/internal/trail"

	"github.com/google/uuid"
)

var (
	ErrClosed  = errors.New("dispatcher closed")
	ErrStarted = errors.New("dispatcher already started")
)

type ChannelState string

const (
	ChannelPending ChannelState = "pending"
	ChannelOK      ChannelState = "ok"
	ChannelError   ChannelState = "error"
)

type ChannelStatus struct {
	State     ChannelState `json:"state"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updated_at,omitempty"`
}

// Snapshot is an immutable view of every active entity. A channel in the
// error state means its data may be out of date, not that it is empty.
type Snapshot struct {
	Seq         uint64                         `json:"seq"`
	GeneratedAt time.Time                      `json:"generated_at"`
	Entities    []Entity                       `json:"entities"`
	Trails      map[string][]location.Sample   `json:"trails"`
	Channels    map[feed.Channel]ChannelStatus `json:"channels"`
}

func (s Snapshot) Healthy() bool {
	for _, ch := range s.Channels {
		if ch.State != ChannelOK {
			return false
		}
	}
	return len(s.Channels) > 0
}

type Options struct {
	MaxTrailLength int
	Classifier     location.Classifier
	Now            func() time.Time
}

type Dispatcher struct {
	mu           sync.Mutex
	classifier   location.Classifier
	now          func() time.Time
	trails       *trail.Manager
	records      map[string]record
	live         map[string]location.Sample
	retired      map[string]retirement
	channels     map[feed.Channel]ChannelStatus
	seq          uint64
	watchers     map[*Watcher]struct{}
	unsubscribes []func()
	started      bool
	closed       bool
}

func New(opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Classifier.Thresholds.StaleAfter <= 0 {
		f := opts.Classifier.Fallback
		if f == (location.Fallback{}) {
			f = location.Fallback{Center: location.DefaultCenter, JitterDegrees: location.DefaultJitterDegrees}
		}
		opts.Classifier = location.NewClassifier(opts.Classifier.Thresholds, f)
	}
	return &Dispatcher{
		classifier: opts.Classifier,
		now:        opts.Now,
		trails:     trail.NewManager(opts.MaxTrailLength),
		records:    map[string]record{},
		live:       map[string]location.Sample{},
		retired:    map[string]retirement{},
		channels: map[feed.Channel]ChannelStatus{
			feed.ChannelLocations: {State: ChannelPending},
			feed.ChannelActive:    {State: ChannelPending},
		},
		watchers: map[*Watcher]struct{}{},
	}
}

// Start subscribes to both feeds. If either subscription fails nothing stays
// subscribed.
func (d *Dispatcher) Start(ctx context.Context, locations, active feed.Source) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.started {
		d.mu.Unlock()
		return ErrStarted
	}
	d.started = true
	d.mu.Unlock()

	unsubLocations, err := locations.Subscribe(ctx, d.handle)
	if err != nil {
		d.resetStarted()
		return fmt.Errorf("subscribe locations: %w", err)
	}
	unsubActive, err := active.Subscribe(ctx, d.handle)
	if err != nil {
		unsubLocations()
		d.resetStarted()
		return fmt.Errorf("subscribe active: %w", err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		unsubLocations()
		unsubActive()
		return ErrClosed
	}
	d.unsubscribes = []func(){unsubLocations, unsubActive}
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) resetStarted() {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
}

// Close unsubscribes from both feeds, releases every trail and cache entry
// and closes all watchers. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	unsubscribes := d.unsubscribes
	d.unsubscribes = nil
	d.trails.ClearAll()
	d.records = map[string]record{}
	d.live = map[string]location.Sample{}
	d.retired = map[string]retirement{}
	for w := range d.watchers {
		w.close()
	}
	d.watchers = map[*Watcher]struct{}{}
	d.mu.Unlock()

	// outside the lock: a source may wait for an in-flight handler
	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}

func (d *Dispatcher) handle(ev feed.Event) {
	if ev.Err != nil {
		d.HandleError(ev.Channel, ev.Err)
		return
	}
	switch ev.Channel {
	case feed.ChannelLocations:
		d.HandleLocations(ev.Snapshot)
	case feed.ChannelActive:
		d.HandleActive(ev.Snapshot)
	default:
		log.Printf("dispatch: event on unknown channel %q", ev.Channel)
	}
}

// HandleLocations applies a live-location snapshot. Invalid payloads are
// dropped and the entity keeps its previous live sample.
func (d *Dispatcher) HandleLocations(snap feed.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	next := make(map[string]location.Sample, len(snap))
	for id, raw := range snap {
		s, err := location.FromPayload(raw)
		if err != nil {
			log.Printf("dispatch: drop location for %s: %v", id, err)
			if prev, ok := d.live[id]; ok {
				next[id] = prev
			}
			continue
		}
		if _, active := d.records[id]; !active {
			if r, ok := d.retired[id]; ok && r.covers(s) {
				continue
			}
		}
		delete(d.retired, id)
		next[id] = s

		if prev, ok := d.live[id]; ok && prev.Same(s) {
			continue
		}
		if rec, ok := d.records[id]; ok && rec.kind == KindRider {
			d.trails.Append(id, s)
		}
	}
	d.live = next
	for id := range d.retired {
		if _, ok := snap[id]; !ok {
			delete(d.retired, id)
		}
	}
	d.markOK(feed.ChannelLocations)
	d.publishLocked()
}

// HandleActive applies an active-set snapshot. Entities missing from it lose
// their trail and live-location cache entry.
func (d *Dispatcher) HandleActive(snap feed.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	next := make(map[string]record, len(snap))
	for id, raw := range snap {
		rec, active := parseRecord(id, raw)
		if !active {
			continue
		}
		next[id] = rec
	}

	for id := range d.records {
		if _, ok := next[id]; !ok {
			d.trails.Clear(id)
			d.retire(id)
		}
	}
	for id := range d.live {
		if _, ok := next[id]; !ok {
			delete(d.live, id)
		}
	}
	for id, rec := range next {
		delete(d.retired, id)
		if rec.kind != KindRider {
			d.trails.Clear(id)
			continue
		}
		prev, existed := d.records[id]
		if s, ok := d.live[id]; ok {
			// a live sample that arrived before the ride became active starts the trail
			if !existed && d.trails.Len(id) == 0 {
				d.trails.Append(id, s)
			}
			continue
		}
		// without a live-feed entry the record's own position is the live sample
		if rec.current != nil && (prev.current == nil || !prev.current.Same(*rec.current)) {
			d.trails.Append(id, *rec.current)
		}
	}
	d.records = next
	d.markOK(feed.ChannelActive)
	d.publishLocked()
}

// retire remembers when id left the active set so a location snapshot still
// carrying its last ride position does not re-enter the live cache.
func (d *Dispatcher) retire(id string) {
	r := retirement{at: d.now()}
	if s, ok := d.live[id]; ok {
		r.last = &s
	}
	d.retired[id] = r
}

type retirement struct {
	at   time.Time
	last *location.Sample
}

// covers reports whether s was already known when the entity left the
// active set.
func (r retirement) covers(s location.Sample) bool {
	if r.last != nil && r.last.Same(s) {
		return true
	}
	return s.HasTimestamp() && !s.Timestamp.After(r.at)
}

// HandleError marks a channel as broken. Entities are kept so consumers can
// tell a broken channel from an empty one.
func (d *Dispatcher) HandleError(ch feed.Channel, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	log.Printf("dispatch: %s channel error: %v", ch, err)
	d.channels[ch] = ChannelStatus{State: ChannelError, Error: err.Error(), UpdatedAt: d.now()}
	d.publishLocked()
}

// Refresh re-classifies every entity against the clock and republishes.
func (d *Dispatcher) Refresh() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.publishLocked()
}

// SetClassifier swaps the freshness thresholds and fallback, then republishes.
func (d *Dispatcher) SetClassifier(c location.Classifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classifier = c
	if !d.closed {
		d.publishLocked()
	}
}

func (d *Dispatcher) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buildLocked(d.now())
}

func (d *Dispatcher) Entity(id string) (Entity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		return Entity{}, false
	}
	return d.entityLocked(rec, d.now()), true
}

// Trail returns a copy of the entity's trail, oldest first.
func (d *Dispatcher) Trail(id string) []location.Sample {
	return d.trails.Get(id)
}

// Trails exposes the trail buffers read-only.
func (d *Dispatcher) Trails() trail.Reader {
	return d.trails
}

// Live reports whether a live-location cache entry exists for id.
func (d *Dispatcher) Live(id string) (location.Sample, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.live[id]
	return s, ok
}

func (d *Dispatcher) markOK(ch feed.Channel) {
	d.channels[ch] = ChannelStatus{State: ChannelOK, UpdatedAt: d.now()}
}

func (d *Dispatcher) publishLocked() Snapshot {
	d.seq++
	snap := d.buildLocked(d.now())
	for w := range d.watchers {
		w.offer(snap)
	}
	return snap
}

func (d *Dispatcher) buildLocked(now time.Time) Snapshot {
	snap := Snapshot{
		Seq:         d.seq,
		GeneratedAt: now,
		Entities:    make([]Entity, 0, len(d.records)),
		Trails:      map[string][]location.Sample{},
		Channels:    make(map[feed.Channel]ChannelStatus, len(d.channels)),
	}
	for ch, status := range d.channels {
		snap.Channels[ch] = status
	}
	for _, rec := range d.records {
		snap.Entities = append(snap.Entities, d.entityLocked(rec, now))
		if rec.kind == KindRider {
			if t := d.trails.Get(rec.id); len(t) > 0 {
				snap.Trails[rec.id] = t
			}
		}
	}
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].ID < snap.Entities[j].ID })
	return snap
}

func (d *Dispatcher) entityLocked(rec record, now time.Time) Entity {
	sample, source := d.positionLocked(rec)
	pos, tier := d.classifier.Resolve(rec.id, sample, now, source)
	return Entity{
		ID:       rec.id,
		Kind:     rec.kind,
		Status:   rec.status,
		Label:    rec.label,
		RideID:   rec.rideID,
		BikeID:   rec.bikeID,
		Flags:    rec.flags,
		Position: &pos,
		Tier:     tier,
		HasGPS:   tier != location.TierFallbackEstimated,
	}
}

// positionLocked picks the best known position: live feed, live field on the
// active record, last-known cache, initial deployment seed.
func (d *Dispatcher) positionLocked(rec record) (*location.Sample, location.Source) {
	if s, ok := d.live[rec.id]; ok {
		return &s, location.SourceLive
	}
	if rec.current != nil {
		s := *rec.current
		return &s, location.SourceLive
	}
	if rec.lastKnown != nil {
		s := *rec.lastKnown
		return &s, location.SourceLastKnown
	}
	if rec.initial != nil {
		s := *rec.initial
		return &s, location.SourceInitialDeployment
	}
	return nil, location.SourceNone
}

// Watcher receives snapshots latest-wins: a slow reader skips intermediate
// snapshots but never blocks ingestion.
type Watcher struct {
	ID   string
	C    <-chan Snapshot
	ch   chan Snapshot
	once sync.Once
}

func (d *Dispatcher) Watch() *Watcher {
	ch := make(chan Snapshot, 1)
	w := &Watcher{ID: uuid.NewString(), C: ch, ch: ch}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		w.close()
		return w
	}
	d.watchers[w] = struct{}{}
	w.offer(d.buildLocked(d.now()))
	return w
}

func (d *Dispatcher) Unwatch(w *Watcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.watchers[w]; ok {
		delete(d.watchers, w)
		w.close()
	}
}

func (w *Watcher) offer(s Snapshot) {
	select {
	case w.ch <- s:
		return
	default:
	}
	select {
	case <-w.ch:
	default:
	}
	select {
	case w.ch <- s:
	default:
	}
}

func (w *Watcher) close() {
	w.once.Do(func() { close(w.ch) })
}
