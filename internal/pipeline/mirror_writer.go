package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
)

// Mirror receives live vehicle snapshots for external consumers (dashboards,
// sibling processes). Best effort; the store remains authoritative.
type Mirror interface {
	MirrorSnapshot(ctx context.Context, snap state.Snapshot) error
}

// MirrorWriter drains snapshots and coalesces per vehicle so a burst of
// reports flushes only the newest state.
type MirrorWriter struct {
	ch     <-chan state.Snapshot
	mirror Mirror
}

func NewMirrorWriter(ch <-chan state.Snapshot, mirror Mirror) *MirrorWriter {
	return &MirrorWriter{ch: ch, mirror: mirror}
}

func (w *MirrorWriter) Run(ctx context.Context) {
	pending := make(map[string]state.Snapshot)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-w.ch:
			if !ok {
				w.flush(ctx, pending)
				return
			}
			pending[snap.Vehicle.ID] = snap

		case <-ticker.C:
			if len(pending) > 0 {
				w.flush(ctx, pending)
				pending = make(map[string]state.Snapshot)
			}

		case <-ctx.Done():
			w.flush(ctx, pending)
			return
		}
	}
}

func (w *MirrorWriter) flush(ctx context.Context, pending map[string]state.Snapshot) {
	for _, snap := range pending {
		if err := w.mirror.MirrorSnapshot(ctx, snap); err != nil {
			log.Printf("state mirror failed for %s: %v", snap.Vehicle.ID, err)
		}
	}
}
