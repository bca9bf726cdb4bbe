package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/metrics"
)

// Ledger is the durable sink for accepted location points.
type Ledger interface {
	SaveLocations(ctx context.Context, points []domain.LocationPoint) error
}

// LedgerWriter batches points off the dispatcher channel and flushes them to
// the ledger on size or interval, whichever comes first.
type LedgerWriter struct {
	ch        <-chan domain.LocationPoint
	ledger    Ledger
	batchSize int
	flushMS   int
}

func NewLedgerWriter(ch <-chan domain.LocationPoint, ledger Ledger, batchSize, flushMS int) *LedgerWriter {
	return &LedgerWriter{
		ch:        ch,
		ledger:    ledger,
		batchSize: batchSize,
		flushMS:   flushMS,
	}
}

func (w *LedgerWriter) Run(ctx context.Context) {
	batch := make([]domain.LocationPoint, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case p, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.flush(ctx, batch)
				}
				return
			}
			batch = append(batch, p)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				w.flush(ctx, batch)
			}
			return
		}
	}
}

func (w *LedgerWriter) flush(ctx context.Context, batch []domain.LocationPoint) {
	err := w.ledger.SaveLocations(ctx, batch)
	if err != nil {
		log.Printf("ledger write failed (batch=%d), retrying: %v", len(batch), err)
		time.Sleep(500 * time.Millisecond)
		err = w.ledger.SaveLocations(ctx, batch)
		if err != nil {
			log.Printf("ledger write permanently failed (batch=%d): %v", len(batch), err)
			metrics.DBWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.DBWriteSuccess.Add(int64(len(batch)))
}
