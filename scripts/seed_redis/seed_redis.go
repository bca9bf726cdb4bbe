package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file — using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	seedDriverKeys(ctx, client)
	verify(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Run next: go run ./cmd/server")
}

func seedDriverKeys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 1: Seeding driver API keys ─────────────")

	// Key pattern: driver:auth:{api_key} → truck_id
	// This is what the authenticator looks up after its local cache misses.
	// TTL = 0 means permanent; revoke by deleting the key.
	apiKeys := map[string]string{
		"driver:auth:ward12_truck_key": "truck-ward12",
		"driver:auth:ward15_truck_key": "truck-ward15",
		"driver:auth:ward23_truck_key": "truck-ward23",
		"driver:auth:test_key":         "truck-test",
	}

	for key, truckID := range apiKeys {
		err := client.Set(ctx, key, truckID, 0).Err()
		if err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-40s → %s\n", key, truckID)
	}
}

func verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	keys, err := client.Keys(ctx, "driver:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d driver keys found in Redis\n", len(keys))

	val, err := client.Get(ctx, "driver:auth:test_key").Result()
	if err != nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: driver:auth:test_key → %s\n", val)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
