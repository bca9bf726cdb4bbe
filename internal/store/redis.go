package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/config"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
)

// RedisStore mirrors live vehicle state for dashboards and sibling processes
// and backs the driver API-key lookups. The in-process state store stays
// authoritative; everything here is best effort.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MirrorSnapshot publishes a vehicle's current state: a hash for point
// lookups, a geo set for radius queries, and a pub/sub event for external
// live consumers.
func (r *RedisStore) MirrorSnapshot(ctx context.Context, snap state.Snapshot) error {
	stateData := map[string]interface{}{
		"vehicle_id": snap.Vehicle.ID,
		"plate":      snap.Vehicle.Plate,
		"zone_id":    snap.Vehicle.ZoneID,
		"on_duty":    snap.OnDuty,
	}
	if snap.OnDuty {
		stateData["duty_started_at"] = snap.DutyStartedAt.Unix()
	}
	if p := snap.Latest; p != nil {
		stateData["lat"] = p.Latitude
		stateData["lng"] = p.Longitude
		stateData["speed_kmh"] = p.SpeedKmh
		stateData["heading"] = p.Heading
		stateData["captured_at"] = p.CapturedAt.Unix()
		stateData["received_at"] = p.ReceivedAt.Unix()
	}

	pubPayload, err := json.Marshal(stateData)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	stateKey := fmt.Sprintf("truck:%s:state", snap.Vehicle.ID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, stateKey, stateData)
	pipe.Expire(ctx, stateKey, 60*time.Second)
	if p := snap.Latest; p != nil {
		pipe.GeoAdd(ctx, "trucks:geo", &redis.GeoLocation{
			Name:      snap.Vehicle.ID,
			Longitude: p.Longitude,
			Latitude:  p.Latitude,
		})
	}
	pipe.Publish(ctx, "trucks:state", pubPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// PublishAlert fans a fired alert out to external subscribers over pub/sub.
func (r *RedisStore) PublishAlert(ctx context.Context, payload *domain.AlertPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return r.client.Publish(ctx, "trucks:alerts", body).Err()
}

// GetAPIKey resolves a driver API key to its vehicle id, "" when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	key := fmt.Sprintf("driver:auth:%s", apiKey)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}
