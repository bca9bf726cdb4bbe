package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP
	HTTPPort    string
	CORSOrigins []string

	// Postgres
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MQTT ingest (optional; empty broker disables it)
	MQTTBroker   string
	MQTTClientID string

	// RabbitMQ notification delivery (optional; empty URL disables it)
	RabbitURL string

	// Proximity thresholds (meters)
	ApproachingDistM float64
	ArrivingDistM    float64
	HereDistM        float64
	DefaultTriggerM  float64

	// ETA tuning
	AvgTruckSpeedKmh  float64
	TrafficPeakMult   float64
	TrafficNormalMult float64

	// Offline sync
	ClockSkewToleranceSec int

	// Live broadcaster
	ListenerBufferSize int

	// Pipeline channels
	LedgerChannelSize int
	MirrorChannelSize int

	// Persistence writer tuning
	DBBatchSize       int
	DBFlushIntervalMS int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

func Load() *Config {
	return &Config{
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		CORSOrigins:           splitList(getEnv("CORS_ORIGINS", "*")),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBUser:                getEnv("DB_USER", "tracker_user"),
		DBPassword:            getEnv("DB_PASSWORD", "tracker_password"),
		DBName:                getEnv("DB_NAME", "truck_tracker"),
		DBMaxConns:            int32(getEnvInt("DB_MAX_CONNS", 15)),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		MQTTBroker:            getEnv("MQTT_BROKER", ""),
		MQTTClientID:          getEnv("MQTT_CLIENT_ID", "truck-tracker"),
		RabbitURL:             getEnv("RABBITMQ_URL", ""),
		ApproachingDistM:      getEnvFloat("ALERT_DISTANCE_APPROACHING", 1000),
		ArrivingDistM:         getEnvFloat("ALERT_DISTANCE_ARRIVING", 500),
		HereDistM:             getEnvFloat("ALERT_DISTANCE_HERE", 100),
		DefaultTriggerM:       getEnvFloat("DEFAULT_ALERT_DISTANCE", 500),
		AvgTruckSpeedKmh:      getEnvFloat("AVG_TRUCK_SPEED", 12.0),
		TrafficPeakMult:       getEnvFloat("TRAFFIC_PEAK_MULTIPLIER", 1.5),
		TrafficNormalMult:     getEnvFloat("TRAFFIC_NORMAL_MULTIPLIER", 1.2),
		ClockSkewToleranceSec: getEnvInt("CLOCK_SKEW_TOLERANCE_SEC", 120),
		ListenerBufferSize:    getEnvInt("LISTENER_BUFFER_SIZE", 16),
		LedgerChannelSize:     getEnvInt("LEDGER_CHANNEL_SIZE", 10000),
		MirrorChannelSize:     getEnvInt("MIRROR_CHANNEL_SIZE", 50000),
		DBBatchSize:           getEnvInt("DB_BATCH_SIZE", 500),
		DBFlushIntervalMS:     getEnvInt("DB_FLUSH_INTERVAL_MS", 100),
		AuthCacheTTLSeconds:   getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:          splitList(getEnv("VALID_API_KEYS", "")),
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
