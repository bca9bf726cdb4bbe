package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/config"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
)

// PostgresStore is the durable persistence collaborator: the append-only
// location ledger, the alert-record dedup table and the registry snapshot
// reads.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg *config.Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var locationColumns = []string{
	"vehicle_id",
	"latitude",
	"longitude",
	"speed_kmh",
	"heading",
	"captured_at",
	"received_at",
	"is_offline_sync",
}

// SaveLocations appends a batch of points to the ledger. Points are never
// updated or deduplicated; duplicate captured-at values are preserved.
func (s *PostgresStore) SaveLocations(ctx context.Context, points []domain.LocationPoint) error {
	if len(points) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(points))
	for i, p := range points {
		rows[i] = []interface{}{
			p.VehicleID,
			p.Latitude,
			p.Longitude,
			p.SpeedKmh,
			p.Heading,
			p.CapturedAt,
			p.ReceivedAt,
			p.OfflineSync,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"truck_locations"},
		locationColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(points), err)
	}

	return nil
}

// LoadHistory returns the ledger for a vehicle since a time, ordered by
// captured-at ascending.
func (s *PostgresStore) LoadHistory(ctx context.Context, vehicleID string, since time.Time) ([]domain.LocationPoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vehicle_id, latitude, longitude, speed_kmh, heading, captured_at, received_at, is_offline_sync
		FROM truck_locations
		WHERE vehicle_id = $1 AND captured_at >= $2
		ORDER BY captured_at ASC
	`, vehicleID, since)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", vehicleID, err)
	}
	defer rows.Close()

	var out []domain.LocationPoint
	for rows.Next() {
		var p domain.LocationPoint
		if err := rows.Scan(&p.VehicleID, &p.Latitude, &p.Longitude, &p.SpeedKmh, &p.Heading, &p.CapturedAt, &p.ReceivedAt, &p.OfflineSync); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadLatest returns the newest point by event time, for state-store warmup
// after a restart.
func (s *PostgresStore) LoadLatest(ctx context.Context, vehicleID string) (domain.LocationPoint, error) {
	var p domain.LocationPoint
	err := s.pool.QueryRow(ctx, `
		SELECT vehicle_id, latitude, longitude, speed_kmh, heading, captured_at, received_at, is_offline_sync
		FROM truck_locations
		WHERE vehicle_id = $1
		ORDER BY captured_at DESC
		LIMIT 1
	`, vehicleID).Scan(&p.VehicleID, &p.Latitude, &p.Longitude, &p.SpeedKmh, &p.Heading, &p.CapturedAt, &p.ReceivedAt, &p.OfflineSync)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LocationPoint{}, fmt.Errorf("load latest %s: %w", vehicleID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.LocationPoint{}, fmt.Errorf("load latest %s: %w", vehicleID, err)
	}
	return p, nil
}

// InsertIfAbsent writes an alert record under the unique dedup key. The
// second return is false when a record for the key already existed; a lost
// race is a no-op, not an error.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, rec domain.AlertRecord) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO alert_logs
			(subscriber_id, vehicle_id, alert_day, alert_kind, distance_m, vehicle_lat, vehicle_lng, sent_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subscriber_id, vehicle_id, alert_day, alert_kind) DO NOTHING
	`,
		rec.Key.SubscriberID,
		rec.Key.VehicleID,
		rec.Key.Day,
		string(rec.Key.Kind),
		rec.DistanceM,
		rec.VehicleLat,
		rec.VehicleLng,
		rec.SentAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert alert record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// HighestKindToday returns the most urgent alert kind already recorded for
// the pair on the given day, "" when none.
func (s *PostgresStore) HighestKindToday(ctx context.Context, subscriberID, vehicleID, day string) (domain.AlertKind, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT alert_kind FROM alert_logs
		WHERE subscriber_id = $1 AND vehicle_id = $2 AND alert_day = $3
	`, subscriberID, vehicleID, day)
	if err != nil {
		return "", fmt.Errorf("load alert kinds: %w", err)
	}
	defer rows.Close()

	var highest domain.AlertKind
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return "", fmt.Errorf("scan alert kind: %w", err)
		}
		if k := domain.AlertKind(kind); k.Priority() > highest.Priority() {
			highest = k
		}
	}
	return highest, rows.Err()
}

// LoadVehicles reads the vehicle registry snapshot.
func (s *PostgresStore) LoadVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, plate, COALESCE(name, ''), COALESCE(zone_id, ''), COALESCE(driver_name, '')
		FROM trucks
	`)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	defer rows.Close()

	var out []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.Plate, &v.Name, &v.ZoneID, &v.DriverName); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// LoadZones reads the zone registry snapshot.
func (s *PostgresStore) LoadZones(ctx context.Context) ([]domain.Zone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, min_lat, min_lng, max_lat, max_lng FROM zones
	`)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	defer rows.Close()

	var out []domain.Zone
	for rows.Next() {
		var z domain.Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.MinLat, &z.MinLng, &z.MaxLat, &z.MaxLng); err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// LoadSubscribers reads the subscriber registry snapshot with alert
// preferences.
func (s *PostgresStore) LoadSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(home_lat, 0), COALESCE(home_lng, 0),
		       home_lat IS NOT NULL AND home_lng IS NOT NULL,
		       COALESCE(zone_id, ''), COALESCE(vehicle_id, ''),
		       alert_enabled, alert_distance_m, alert_channel, COALESCE(timezone, '')
		FROM subscribers
	`)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var sub domain.Subscriber
		var channel string
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Phone, &sub.HomeLat, &sub.HomeLng, &sub.HasHome,
			&sub.ZoneID, &sub.VehicleID, &sub.AlertsEnabled, &sub.TriggerDistM, &channel, &sub.Timezone); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.Channel = domain.AlertChannel(channel)
		out = append(out, sub)
	}
	return out, rows.Err()
}
