// Package pipeline moves accepted state off the hot path: the engine hands
// points and snapshots to buffered channels and workers flush them to the
// Postgres ledger and the Redis mirror. Sends never block ingestion; a full
// channel drops and counts.
package pipeline

import (
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/metrics"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
)

type Dispatcher struct {
	LedgerChan chan domain.LocationPoint
	MirrorChan chan state.Snapshot
}

func NewDispatcher(ledgerSize, mirrorSize int) *Dispatcher {
	return &Dispatcher{
		LedgerChan: make(chan domain.LocationPoint, ledgerSize),
		MirrorChan: make(chan state.Snapshot, mirrorSize),
	}
}

// DispatchPoint queues a point for the durable ledger.
func (d *Dispatcher) DispatchPoint(p domain.LocationPoint) {
	select {
	case d.LedgerChan <- p:
	default:
		metrics.DBWriteFailures.Add(1)
	}
}

// DispatchSnapshot queues a snapshot for the live-state mirror.
func (d *Dispatcher) DispatchSnapshot(snap state.Snapshot) {
	select {
	case d.MirrorChan <- snap:
	default:
		// Mirror is best effort; the next snapshot supersedes this one.
	}
}

// Close shuts both channels so workers drain and exit.
func (d *Dispatcher) Close() {
	close(d.LedgerChan)
	close(d.MirrorChan)
}
