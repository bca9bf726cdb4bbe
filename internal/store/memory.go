package store

import (
	"context"
	"sync"
	"time"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
)

// MemoryStore is an in-process persistence collaborator with the same
// compare-and-insert contract as Postgres. Used in tests and in single-node
// deployments that run without a database.
type MemoryStore struct {
	mu      sync.Mutex
	records map[domain.AlertKey]domain.AlertRecord
	ledger  []domain.LocationPoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[domain.AlertKey]domain.AlertRecord),
	}
}

// InsertIfAbsent atomically records an alert unless its key already exists.
func (s *MemoryStore) InsertIfAbsent(_ context.Context, rec domain.AlertRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Key]; exists {
		return false, nil
	}
	s.records[rec.Key] = rec
	return true, nil
}

// HighestKindToday scans the pair's records for the given day.
func (s *MemoryStore) HighestKindToday(_ context.Context, subscriberID, vehicleID, day string) (domain.AlertKind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var highest domain.AlertKind
	for key := range s.records {
		if key.SubscriberID == subscriberID && key.VehicleID == vehicleID && key.Day == day {
			if key.Kind.Priority() > highest.Priority() {
				highest = key.Kind
			}
		}
	}
	return highest, nil
}

// SaveLocations appends points to the in-memory ledger.
func (s *MemoryStore) SaveLocations(_ context.Context, points []domain.LocationPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, points...)
	return nil
}

// LedgerLen reports how many points have been persisted.
func (s *MemoryStore) LedgerLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

// Records returns a copy of all alert records, for assertions.
func (s *MemoryStore) Records() []domain.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AlertRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}

// RecordsFor returns the records for a pair/day, for assertions.
func (s *MemoryStore) RecordsFor(subscriberID, vehicleID string, day time.Time) []domain.AlertRecord {
	d := day.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AlertRecord
	for key, rec := range s.records {
		if key.SubscriberID == subscriberID && key.VehicleID == vehicleID && key.Day == d {
			out = append(out, rec)
		}
	}
	return out
}
