package notify

import (
	"context"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/store"
)

var _ Notifier = (*RedisNotifier)(nil)

// RedisNotifier mirrors fired alerts onto the trucks:alerts pub/sub channel
// so dashboards and sibling processes see them live.
type RedisNotifier struct {
	store *store.RedisStore
}

func NewRedisNotifier(s *store.RedisStore) *RedisNotifier {
	return &RedisNotifier{store: s}
}

func (n *RedisNotifier) Deliver(ctx context.Context, payload *domain.AlertPayload) error {
	return n.store.PublishAlert(ctx, payload)
}
