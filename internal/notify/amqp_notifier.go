// Package notify carries the post-commit side effects of the booking core:
// customer notifications over RabbitMQ and seat/order events over Redis.
// Every publisher here is best-effort. Errors are logged and returned so
// callers can ignore them without interrupting the main request flow.
package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/config"
	"github.com/islandtransit/bus-booking-backend/internal/services"
)

// AMQPNotifier publishes notification messages to a durable RabbitMQ queue.
// It holds one connection for the process lifetime and opens a channel per
// publish; channels are cheap, connections are not.
type AMQPNotifier struct {
	conn    *amqp.Connection
	queue   string
	timeout time.Duration
	logger  *logrus.Logger
}

// NewAMQPNotifier dials the broker and declares the notification queue.
func NewAMQPNotifier(cfg config.AMQPConfig, logger *logrus.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	n := &AMQPNotifier{
		conn:    conn,
		queue:   cfg.NotifyQueue,
		timeout: cfg.PublishTimeout,
		logger:  logger,
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return n, nil
}

// Notify publishes one notification message. Messages are persistent.
func (n *AMQPNotifier) Notify(notification services.Notification) error {
	ch, err := n.conn.Channel()
	if err != nil {
		n.logger.WithError(err).Warn("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	body, err := json.Marshal(notification)
	if err != nil {
		n.logger.WithError(err).Warn("rabbitmq: marshal notification failed")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		n.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		n.logger.WithError(err).Warn("rabbitmq: publish failed")
		return err
	}
	return nil
}

// Close releases the broker connection.
func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}

// NopNotifier discards notifications. Used when no broker is configured so
// the booking core degrades gracefully instead of failing at startup.
type NopNotifier struct{}

func (NopNotifier) Notify(services.Notification) error { return nil }
