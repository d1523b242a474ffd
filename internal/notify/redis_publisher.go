package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/islandtransit/bus-booking-backend/internal/config"
	"github.com/islandtransit/bus-booking-backend/internal/models"
)

// RedisPublisher fans seat and order state changes out over Redis pub/sub
// channels. Frontends subscribe per trip to keep seat maps live.
type RedisPublisher struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisClient connects to Redis and verifies the connection with a short
// ping. Returns nil on failure so callers can degrade to a no-op publisher.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}

// NewRedisPublisher creates a new RedisPublisher
func NewRedisPublisher(client *redis.Client, logger *logrus.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// PublishSeatUpdate broadcasts seat state changes on the trip's channel.
func (p *RedisPublisher) PublishSeatUpdate(tripID string, seats []models.SeatUpdate) error {
	payload, err := json.Marshal(map[string]interface{}{
		"trip_id": tripID,
		"seats":   seats,
	})
	if err != nil {
		return err
	}
	return p.publish("trip:"+tripID+":seats", payload)
}

// PublishOrderEvent broadcasts an order lifecycle event on the order's channel.
func (p *RedisPublisher) PublishOrderEvent(orderID string, event string, payload map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"order_id": orderID,
		"event":    event,
		"payload":  payload,
	})
	if err != nil {
		return err
	}
	return p.publish("order:"+orderID, body)
}

func (p *RedisPublisher) publish(channel string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
		p.logger.WithError(err).WithField("channel", channel).Warn("redis: publish failed")
		return err
	}
	return nil
}

// NopPublisher discards realtime events when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishSeatUpdate(string, []models.SeatUpdate) error { return nil }

func (NopPublisher) PublishOrderEvent(string, string, map[string]interface{}) error { return nil }
