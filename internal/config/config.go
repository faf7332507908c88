// Package config loads evlog settings from an optional TOML file and the
// environment. Environment variables override the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL     string     // EVLOG_DATABASE_URL (required)
	MongoURL        string     // EVLOG_MONGO_URL (required)
	MongoDatabase   string     // EVLOG_MONGO_DATABASE (default "eventlog")
	MongoCollection string     // EVLOG_MONGO_COLLECTION (default "events")
	NATSURL         string     // EVLOG_NATS_URL (optional, empty = no notifications)
	LogLevel        slog.Level // EVLOG_LOG_LEVEL (default "info")

	// Migration settings
	MigrationInterval  time.Duration // EVLOG_MIGRATION_INTERVAL (default 1m; 0 = disabled)
	MigrationBatchSize int           // EVLOG_MIGRATION_BATCH_SIZE (default 500)

	// Compaction settings
	CompactionInterval time.Duration // EVLOG_COMPACTION_INTERVAL (default 0 = disabled)
	CompactionPageSize int           // EVLOG_COMPACTION_PAGE_SIZE (default 100)

	// Export settings
	ExportS3Bucket   string // EVLOG_EXPORT_S3_BUCKET (enables S3 when set)
	ExportS3Endpoint string // EVLOG_EXPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ExportS3Region   string // EVLOG_EXPORT_S3_REGION (default "us-east-1")
	ExportS3Prefix   string // EVLOG_EXPORT_S3_PREFIX (default "streams")
	ExportDir        string // EVLOG_EXPORT_DIR (enables local files when set)
}

// file mirrors the TOML file named by EVLOG_CONFIG. Durations are strings
// such as "90s".
type file struct {
	DatabaseURL string `toml:"database_url"`
	LogLevel    string `toml:"log_level"`
	Mongo       struct {
		URL        string `toml:"url"`
		Database   string `toml:"database"`
		Collection string `toml:"collection"`
	} `toml:"mongo"`
	NATSURL   string `toml:"nats_url"`
	Migration struct {
		Interval  string `toml:"interval"`
		BatchSize int    `toml:"batch_size"`
	} `toml:"migration"`
	Compaction struct {
		Interval string `toml:"interval"`
		PageSize int    `toml:"page_size"`
	} `toml:"compaction"`
	Export struct {
		S3Bucket   string `toml:"s3_bucket"`
		S3Endpoint string `toml:"s3_endpoint"`
		S3Region   string `toml:"s3_region"`
		S3Prefix   string `toml:"s3_prefix"`
		Dir        string `toml:"dir"`
	} `toml:"export"`
}

func defaults() file {
	var f file
	f.LogLevel = "info"
	f.Mongo.Database = "eventlog"
	f.Mongo.Collection = "events"
	f.Migration.Interval = "1m"
	f.Migration.BatchSize = 500
	f.Compaction.Interval = "0"
	f.Compaction.PageSize = 100
	f.Export.S3Region = "us-east-1"
	f.Export.S3Prefix = "streams"
	return f
}

func Load() (*Config, error) {
	f := defaults()
	if path := os.Getenv("EVLOG_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, &f); err != nil {
			return nil, fmt.Errorf("EVLOG_CONFIG: %w", err)
		}
	}

	c := &Config{
		DatabaseURL:      envOrDefault("EVLOG_DATABASE_URL", f.DatabaseURL),
		MongoURL:         envOrDefault("EVLOG_MONGO_URL", f.Mongo.URL),
		MongoDatabase:    envOrDefault("EVLOG_MONGO_DATABASE", f.Mongo.Database),
		MongoCollection:  envOrDefault("EVLOG_MONGO_COLLECTION", f.Mongo.Collection),
		NATSURL:          envOrDefault("EVLOG_NATS_URL", f.NATSURL),
		ExportS3Bucket:   envOrDefault("EVLOG_EXPORT_S3_BUCKET", f.Export.S3Bucket),
		ExportS3Endpoint: envOrDefault("EVLOG_EXPORT_S3_ENDPOINT", f.Export.S3Endpoint),
		ExportS3Region:   envOrDefault("EVLOG_EXPORT_S3_REGION", f.Export.S3Region),
		ExportS3Prefix:   envOrDefault("EVLOG_EXPORT_S3_PREFIX", f.Export.S3Prefix),
		ExportDir:        envOrDefault("EVLOG_EXPORT_DIR", f.Export.Dir),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("EVLOG_DATABASE_URL is required")
	}
	if c.MongoURL == "" {
		return nil, fmt.Errorf("EVLOG_MONGO_URL is required")
	}

	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("EVLOG_LOG_LEVEL", f.LogLevel))); err != nil {
		return nil, fmt.Errorf("EVLOG_LOG_LEVEL: %w", err)
	}

	var err error
	if c.MigrationInterval, err = envDuration("EVLOG_MIGRATION_INTERVAL", f.Migration.Interval); err != nil {
		return nil, err
	}
	if c.MigrationBatchSize, err = envPositiveInt("EVLOG_MIGRATION_BATCH_SIZE", f.Migration.BatchSize); err != nil {
		return nil, err
	}
	if c.CompactionInterval, err = envDuration("EVLOG_COMPACTION_INTERVAL", f.Compaction.Interval); err != nil {
		return nil, err
	}
	if c.CompactionPageSize, err = envPositiveInt("EVLOG_COMPACTION_PAGE_SIZE", f.Compaction.PageSize); err != nil {
		return nil, err
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDuration parses key, or fallback when unset. "0" disables.
func envDuration(key, fallback string) (time.Duration, error) {
	s := envOrDefault(key, fallback)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, d)
	}
	return d, nil
}

func envPositiveInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		if fallback <= 0 {
			return 0, fmt.Errorf("%s: must be positive, got %d", key, fallback)
		}
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %d", key, n)
	}
	return n, nil
}
