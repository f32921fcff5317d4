package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DefaultStoreID string
	AllowedOrigin  string

	// RestockReturns controls whether returned items flagged
	// add_to_inventory increment product stock when the exchange
	// transaction is written.
	RestockReturns bool

	// EligibilityTTLSeconds bounds how long a cached per-sale eligibility
	// snapshot may serve the read path before it is refreshed.
	EligibilityTTLSeconds int
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisAddr:             getEnv("REDIS_ADDR", ""),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		DefaultStoreID:        getEnv("DEFAULT_STORE_ID", "store-central"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "*"),
		RestockReturns:        getEnvBool("RESTOCK_RETURNS", true),
		EligibilityTTLSeconds: getEnvInt("ELIGIBILITY_TTL_SECONDS", 300),
	}
}

func (c Config) Address() string {
	return ":" + c.Port
}

func getEnv(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
