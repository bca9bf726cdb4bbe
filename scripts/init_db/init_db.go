package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "tracker_user"),
		dbGetEnv("DB_PASSWORD", "tracker_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "truck_tracker"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	stepRegistryTables(ctx, conn)
	stepLocationLedger(ctx, conn)
	stepAlertLog(ctx, conn)
	stepIndexes(ctx, conn)
	stepVerify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Run next: go run ./scripts/seed_redis")
}

// ─────────────────────────────────────────────────────────────
// Registry tables: zones, trucks, subscribers
// ─────────────────────────────────────────────────────────────
func stepRegistryTables(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Registry tables ─────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS zones (
			id       TEXT             PRIMARY KEY,
			name     TEXT             NOT NULL,

			-- Bounding box; a point inside it belongs to the zone
			min_lat  DOUBLE PRECISION NOT NULL,
			min_lng  DOUBLE PRECISION NOT NULL,
			max_lat  DOUBLE PRECISION NOT NULL,
			max_lng  DOUBLE PRECISION NOT NULL
		);
	`, "zones table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS trucks (
			id          TEXT PRIMARY KEY,
			plate       TEXT NOT NULL,
			name        TEXT,
			zone_id     TEXT REFERENCES zones(id),
			driver_name TEXT
		);
	`, "trucks table created")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS subscribers (
			id               TEXT             PRIMARY KEY,
			name             TEXT             NOT NULL,
			phone            TEXT,

			-- NULL home means the subscriber never set one; proximity
			-- evaluation is skipped for them
			home_lat         DOUBLE PRECISION,
			home_lng         DOUBLE PRECISION,

			zone_id          TEXT REFERENCES zones(id),
			vehicle_id       TEXT REFERENCES trucks(id),

			alert_enabled    BOOLEAN          NOT NULL DEFAULT true,
			alert_distance_m DOUBLE PRECISION NOT NULL DEFAULT 500,
			alert_channel    TEXT             NOT NULL DEFAULT 'push',
			timezone         TEXT,

			CONSTRAINT chk_alert_channel CHECK (
				alert_channel IN ('push', 'voice_call', 'both')
			)
		);
	`, "subscribers table created")
}

// ─────────────────────────────────────────────────────────────
// Location ledger: append-only, duplicates preserved
// ─────────────────────────────────────────────────────────────
func stepLocationLedger(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: truck_locations ledger ──────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS truck_locations (
			vehicle_id      TEXT             NOT NULL,
			latitude        DOUBLE PRECISION NOT NULL,
			longitude       DOUBLE PRECISION NOT NULL,
			speed_kmh       DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading         DOUBLE PRECISION NOT NULL DEFAULT 0,

			-- Event time from the device clock; ordering key
			captured_at     TIMESTAMPTZ      NOT NULL,

			-- Server receipt time; device clocks drift
			received_at     TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			is_offline_sync BOOLEAN          NOT NULL DEFAULT false
		);
	`, "truck_locations table created")
}

// ─────────────────────────────────────────────────────────────
// Alert log: the dedup table behind ON CONFLICT DO NOTHING
// ─────────────────────────────────────────────────────────────
func stepAlertLog(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: alert_logs table ────────────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS alert_logs (
			id            BIGSERIAL        PRIMARY KEY,

			subscriber_id TEXT             NOT NULL,
			vehicle_id    TEXT             NOT NULL,

			-- Local calendar day in the subscriber's timezone, "2006-01-02"
			alert_day     TEXT             NOT NULL,

			alert_kind    TEXT             NOT NULL,

			distance_m    DOUBLE PRECISION NOT NULL,
			vehicle_lat   DOUBLE PRECISION NOT NULL,
			vehicle_lng   DOUBLE PRECISION NOT NULL,
			sent_at       TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_alert_kind CHECK (
				alert_kind IN ('approaching', 'arriving', 'here')
			)
		);
	`, "alert_logs table created")

	// The unique key makes one alert per (subscriber, truck, day, kind)
	// a database guarantee, not just an application one.
	execOrFatal(ctx, conn, `
		CREATE UNIQUE INDEX IF NOT EXISTS uq_alert_dedup
		ON alert_logs (subscriber_id, vehicle_id, alert_day, alert_kind);
	`, "uq_alert_dedup unique index created")
}

// ─────────────────────────────────────────────────────────────
// Indexes
// ─────────────────────────────────────────────────────────────
func stepIndexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
		why  string
	}{
		{
			name: "idx_locations_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_locations_vehicle_time
				  ON truck_locations (vehicle_id, captured_at DESC);`,
			why: "query: history and latest fix for one truck",
		},
		{
			name: "idx_alerts_subscriber_day",
			sql: `CREATE INDEX IF NOT EXISTS idx_alerts_subscriber_day
				  ON alert_logs (subscriber_id, alert_day);`,
			why: "query: a subscriber's alerts for a day",
		},
		{
			name: "idx_subscribers_vehicle",
			sql: `CREATE INDEX IF NOT EXISTS idx_subscribers_vehicle
				  ON subscribers (vehicle_id);`,
			why: "query: subscribers pinned to one truck",
		},
		{
			name: "idx_subscribers_zone",
			sql: `CREATE INDEX IF NOT EXISTS idx_subscribers_zone
				  ON subscribers (zone_id);`,
			why: "query: subscribers in a zone",
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql,
			fmt.Sprintf("%-40s ← %s", idx.name, idx.why),
		)
	}
}

// ─────────────────────────────────────────────────────────────
// Verify everything was created
// ─────────────────────────────────────────────────────────────
func stepVerify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 5: Verification ────────────────────────")

	tables := []string{"zones", "trucks", "subscribers", "truck_locations", "alert_logs"}
	for _, table := range tables {
		var exists bool
		err := conn.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil || !exists {
			log.Fatalf("Table %s was not created: %v", table, err)
		}
		fmt.Printf("  ✓ table: %s\n", table)
	}

	var exists bool
	err := conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes WHERE indexname = 'uq_alert_dedup'
		)
	`).Scan(&exists)
	if err != nil || !exists {
		log.Fatalf("uq_alert_dedup index missing: %v", err)
	}
	fmt.Println("  ✓ unique index: uq_alert_dedup")

	var indexCount int
	err = conn.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM pg_indexes
		WHERE tablename IN ('truck_locations', 'alert_logs', 'subscribers')
		AND indexname LIKE 'idx_%'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Index check failed: %v", err)
	}
	fmt.Printf("  ✓ indexes created: %d\n", indexCount)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED — %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
