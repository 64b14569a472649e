package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	StorageType      string
	LocalStoragePath string
	DataSourceName   string
	DatabaseURL      string
	S3BucketName     string
	PebblePath       string

	// SnapshotCacheSize is the number of snapshots kept in the LRU cache in
	// front of the store. Zero disables the cache.
	SnapshotCacheSize int

	PersistTimeout time.Duration
	SessionBuffer  int

	JaegerEndpoint string
}

func Load() *Config {
	// .env is optional
	_ = godotenv.Load()

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":3002"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		StorageType:      getEnv("STORAGE_TYPE", "memory"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./data"),
		DataSourceName:   getEnv("DATA_SOURCE_NAME", "docsync.db"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		S3BucketName:     getEnv("S3_BUCKET_NAME", ""),
		PebblePath:       getEnv("PEBBLE_PATH", "./pebble"),

		SnapshotCacheSize: getEnvInt("SNAPSHOT_CACHE_SIZE", 0),

		PersistTimeout: getEnvDuration("PERSIST_TIMEOUT", 10*time.Second),
		SessionBuffer:  getEnvInt("SESSION_BUFFER", 256),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": value}).Warn("Ignoring malformed integer setting")
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "value": value}).Warn("Ignoring malformed duration setting")
		return defaultValue
	}
	return d
}
