// Package state owns the authoritative live state of every tracked truck:
// duty flag, latest known position and the append-only location history.
// All mutation goes through Store methods under a per-vehicle lock, so
// reports for different trucks never contend.
package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
)

// Snapshot is a copy of one vehicle's current state, safe to use outside the
// store's locks.
type Snapshot struct {
	Vehicle       domain.Vehicle
	OnDuty        bool
	DutyStartedAt time.Time
	Latest        *domain.LocationPoint // nil until the first accepted report
}

type cell struct {
	mu sync.Mutex

	vehicle       domain.Vehicle
	onDuty        bool
	dutyStartedAt time.Time

	// latest is last-writer-by-event-time: a stale offline point never
	// overwrites a newer live one.
	latest  *domain.LocationPoint
	history []domain.LocationPoint
}

// Store is the vehicle state store. Cells are created on Register and live
// for the process lifetime; the registry map lock is only held for lookups.
type Store struct {
	mu    sync.RWMutex
	cells map[string]*cell

	skewTolerance time.Duration
}

func NewStore(skewTolerance time.Duration) *Store {
	return &Store{
		cells:         make(map[string]*cell),
		skewTolerance: skewTolerance,
	}
}

// Register makes a vehicle known to the store. Re-registering refreshes the
// registry fields and keeps accumulated state.
func (s *Store) Register(v domain.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cells[v.ID]; ok {
		c.mu.Lock()
		c.vehicle = v
		c.mu.Unlock()
		return
	}
	s.cells[v.ID] = &cell{vehicle: v}
}

func (s *Store) cell(vehicleID string) (*cell, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cells[vehicleID]
	return c, ok
}

// SeedLatest warms a vehicle's cached latest from the persisted ledger after
// a restart. It bypasses the duty check but still respects event-time order,
// so a live report racing the warmup can never be clobbered by older data.
func (s *Store) SeedLatest(p domain.LocationPoint) {
	c, ok := s.cell(p.VehicleID)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLatestLocked(p)
}

// SeedHistory replays persisted ledger points into a vehicle's in-memory
// history so windowed history queries survive a process restart. Points must
// be ordered by event time ascending; the newest also advances the cached
// latest under the same event-time rule as live reports.
func (s *Store) SeedHistory(vehicleID string, points []domain.LocationPoint) {
	if len(points) == 0 {
		return
	}
	c, ok := s.cell(vehicleID)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range points {
		c.appendLocked(p)
	}
	c.advanceLatestLocked(points[len(points)-1])
}

// StartDuty marks the vehicle on duty and stamps the session start.
func (s *Store) StartDuty(vehicleID string, at time.Time) (Snapshot, error) {
	c, ok := s.cell(vehicleID)
	if !ok {
		return Snapshot{}, fmt.Errorf("start duty %s: %w", vehicleID, domain.ErrNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDuty = true
	c.dutyStartedAt = at
	return c.snapshotLocked(), nil
}

// StopDuty clears the duty flag. The cached latest position is kept so
// "where did it last go" stays queryable.
func (s *Store) StopDuty(vehicleID string) (Snapshot, error) {
	c, ok := s.cell(vehicleID)
	if !ok {
		return Snapshot{}, fmt.Errorf("stop duty %s: %w", vehicleID, domain.ErrNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDuty = false
	return c.snapshotLocked(), nil
}

// RecordLocation processes a single live report. The point is appended to
// history unconditionally; the cached latest only advances when the point's
// event time is not older than what is already cached.
func (s *Store) RecordLocation(p domain.LocationPoint) (Snapshot, error) {
	if !domain.ValidCoordinates(p.Latitude, p.Longitude) {
		return Snapshot{}, fmt.Errorf("record location %s: coordinates out of range: %w", p.VehicleID, domain.ErrValidation)
	}
	c, ok := s.cell(p.VehicleID)
	if !ok {
		return Snapshot{}, fmt.Errorf("record location: unknown vehicle %s: %w", p.VehicleID, domain.ErrInvalidState)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.onDuty {
		return Snapshot{}, fmt.Errorf("record location: vehicle %s is off duty: %w", p.VehicleID, domain.ErrInvalidState)
	}

	c.appendLocked(p)
	c.advanceLatestLocked(p)
	return c.snapshotLocked(), nil
}

// MergeBacklog reconciles an offline batch into history and state. The batch
// is all-or-nothing: a single invalid point rejects everything before any
// mutation. Points are applied in captured-at order regardless of submission
// order, and the latest recompute happens under the same lock so a concurrent
// live report never observes a half-applied batch.
func (s *Store) MergeBacklog(vehicleID string, points []domain.LocationPoint, receivedAt time.Time) (Snapshot, error) {
	if len(points) == 0 {
		return Snapshot{}, fmt.Errorf("merge backlog %s: empty batch: %w", vehicleID, domain.ErrValidation)
	}
	horizon := receivedAt.Add(s.skewTolerance)
	for i := range points {
		if !domain.ValidCoordinates(points[i].Latitude, points[i].Longitude) {
			return Snapshot{}, fmt.Errorf("merge backlog %s: point %d coordinates out of range: %w", vehicleID, i, domain.ErrValidation)
		}
		if points[i].CapturedAt.After(horizon) {
			return Snapshot{}, fmt.Errorf("merge backlog %s: point %d captured in the future: %w", vehicleID, i, domain.ErrValidation)
		}
	}

	c, ok := s.cell(vehicleID)
	if !ok {
		return Snapshot{}, fmt.Errorf("merge backlog: unknown vehicle %s: %w", vehicleID, domain.ErrInvalidState)
	}

	batch := make([]domain.LocationPoint, len(points))
	copy(batch, points)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].CapturedAt.Before(batch[j].CapturedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range batch {
		batch[i].VehicleID = vehicleID
		batch[i].ReceivedAt = receivedAt
		batch[i].OfflineSync = true
		c.appendLocked(batch[i])
	}
	// Newest-by-event-time is last after the sort.
	c.advanceLatestLocked(batch[len(batch)-1])
	return c.snapshotLocked(), nil
}

// SnapshotFor returns the vehicle's current snapshot whether or not it has a
// fix. Only unknown vehicles error.
func (s *Store) SnapshotFor(vehicleID string) (Snapshot, error) {
	c, ok := s.cell(vehicleID)
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", vehicleID, domain.ErrNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(), nil
}

// Latest returns the vehicle's current snapshot. ErrNotFound is returned for
// vehicles that never reported.
func (s *Store) Latest(vehicleID string) (Snapshot, error) {
	c, ok := s.cell(vehicleID)
	if !ok {
		return Snapshot{}, fmt.Errorf("latest %s: %w", vehicleID, domain.ErrNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return Snapshot{}, fmt.Errorf("latest %s: no location reported: %w", vehicleID, domain.ErrNotFound)
	}
	return c.snapshotLocked(), nil
}

// HistorySince returns the location ledger ordered by captured-at ascending.
// Used for route display; the alert path never reads history.
func (s *Store) HistorySince(vehicleID string, since time.Time) ([]domain.LocationPoint, error) {
	c, ok := s.cell(vehicleID)
	if !ok {
		return nil, fmt.Errorf("history %s: %w", vehicleID, domain.ErrNotFound)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.LocationPoint, 0, len(c.history))
	for _, p := range c.history {
		if !p.CapturedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Snapshots returns the current state of every registered vehicle.
func (s *Store) Snapshots() []Snapshot {
	s.mu.RLock()
	cells := make([]*cell, 0, len(s.cells))
	for _, c := range s.cells {
		cells = append(cells, c)
	}
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(cells))
	for _, c := range cells {
		c.mu.Lock()
		out = append(out, c.snapshotLocked())
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Vehicle.ID < out[j].Vehicle.ID })
	return out
}

func (c *cell) appendLocked(p domain.LocationPoint) {
	n := len(c.history)
	c.history = append(c.history, p)
	if n > 0 && p.CapturedAt.Before(c.history[n-1].CapturedAt) {
		// Backlog older than the tail; restore captured-at order. Duplicate
		// timestamps keep their insertion order.
		sort.SliceStable(c.history, func(i, j int) bool {
			return c.history[i].CapturedAt.Before(c.history[j].CapturedAt)
		})
	}
}

func (c *cell) advanceLatestLocked(p domain.LocationPoint) {
	if c.latest == nil || !p.CapturedAt.Before(c.latest.CapturedAt) {
		cp := p
		c.latest = &cp
	}
}

func (c *cell) snapshotLocked() Snapshot {
	snap := Snapshot{
		Vehicle:       c.vehicle,
		OnDuty:        c.onDuty,
		DutyStartedAt: c.dutyStartedAt,
	}
	if c.latest != nil {
		cp := *c.latest
		snap.Latest = &cp
	}
	return snap
}
