package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings, sourced from the environment with an
// optional .env file for local development.
type Config struct {
	HTTPAddr    string
	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string
	TokenTTL    time.Duration

	StorageBackend string // "disk" or "minio"
	UploadDir      string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	BatchSize       int
	RetryLimit      int
	ScanInterval    time.Duration
	AnalysisTimeout time.Duration
	StuckAfter      time.Duration
	DetectorLatency time.Duration
}

// Load reads settings from the environment. Missing values fall back to
// development defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=hazardscan port=5432 sslmode=disable"),
		RedisAddr:   getEnv("REDIS_ADDR", "redis:6379"),

		JWTSecret:   getEnv("JWT_SECRET", "dev-secret"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
		TokenTTL:    getDuration("TOKEN_TTL", 24*time.Hour),

		StorageBackend: getEnv("STORAGE_BACKEND", "disk"),
		UploadDir:      getEnv("UPLOAD_DIR", "uploads"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "hazardscan-artifacts"),
		MinioUseSSL:    getBool("MINIO_USE_SSL", false),

		BatchSize:       getInt("DISPATCH_BATCH_SIZE", 5),
		RetryLimit:      getInt("DISPATCH_RETRY_LIMIT", 10),
		ScanInterval:    getDuration("SCAN_INTERVAL", 30*time.Second),
		AnalysisTimeout: getDuration("ANALYSIS_TIMEOUT", 30*time.Second),
		StuckAfter:      getDuration("STUCK_AFTER", 10*time.Minute),
		DetectorLatency: getDuration("DETECTOR_LATENCY", 1500*time.Millisecond),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
