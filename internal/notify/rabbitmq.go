package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
)

const (
	exchangeName = "truck.alerts"
	queueName    = "alert_delivery"
)

var _ Notifier = (*RabbitNotifier)(nil)

// RabbitNotifier publishes alert payloads to a fanout exchange. Push and
// missed-call workers consume the queue and apply their own retry policy,
// which is what gives delivery its at-least-once semantics.
type RabbitNotifier struct {
	ch *amqp.Channel
}

func NewRabbitNotifier(conn *amqp.Connection) (*RabbitNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &RabbitNotifier{ch: ch}, nil
}

func (n *RabbitNotifier) Deliver(ctx context.Context, payload *domain.AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	return n.ch.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}
