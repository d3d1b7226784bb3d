package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Transfer      TransferConfig
	ObjectStore   ObjectStoreConfig
	Ledger        LedgerConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig configures the embedded DuckDB store.
type StoreConfig struct {
	// Database is used when a request names no database. Empty or ":memory:"
	// selects an in-memory database.
	Database    string
	Threads     int
	PingTimeout time.Duration
}

type TransferConfig struct {
	ExportDir       string
	ExportChunkSize int
	ExportCountRows bool
	ImportBatchSize int
	ImportMaxBytes  int64
	PreviewLimit    int
	InferSampleRows int
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	SpoolDir         string
}

// LedgerConfig configures the optional PostgreSQL job ledger. An empty DSN
// disables it.
type LedgerConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("DUCKXFER_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid DUCKXFER_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "DUCKXFER_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "DUCKXFER_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "DUCKXFER_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "DUCKXFER_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "DUCKXFER_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "DUCKXFER_STORE_DATABASE", &cfg.Store.Database) },
		func() error { return applyInt(lookup, "DUCKXFER_STORE_THREADS", &cfg.Store.Threads) },
		func() error { return applyDuration(lookup, "DUCKXFER_STORE_PING_TIMEOUT", &cfg.Store.PingTimeout) },
		func() error { return applyString(lookup, "DUCKXFER_EXPORT_DIR", &cfg.Transfer.ExportDir) },
		func() error { return applyInt(lookup, "DUCKXFER_EXPORT_CHUNK_SIZE", &cfg.Transfer.ExportChunkSize) },
		func() error { return applyBool(lookup, "DUCKXFER_EXPORT_COUNT_ROWS", &cfg.Transfer.ExportCountRows) },
		func() error { return applyInt(lookup, "DUCKXFER_IMPORT_BATCH_SIZE", &cfg.Transfer.ImportBatchSize) },
		func() error { return applyInt64(lookup, "DUCKXFER_IMPORT_MAX_BYTES", &cfg.Transfer.ImportMaxBytes) },
		func() error { return applyInt(lookup, "DUCKXFER_PREVIEW_LIMIT", &cfg.Transfer.PreviewLimit) },
		func() error { return applyInt(lookup, "DUCKXFER_INFER_SAMPLE_ROWS", &cfg.Transfer.InferSampleRows) },
		func() error { return applyBool(lookup, "DUCKXFER_OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, "DUCKXFER_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "DUCKXFER_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "DUCKXFER_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error {
			return applyString(lookup, "DUCKXFER_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
		},
		func() error {
			return applyString(lookup, "DUCKXFER_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "DUCKXFER_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "DUCKXFER_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "DUCKXFER_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyString(lookup, "DUCKXFER_OBJECTSTORE_SPOOL_DIR", &cfg.ObjectStore.SpoolDir) },
		func() error { return applyString(lookup, "DUCKXFER_LEDGER_DSN", &cfg.Ledger.DSN) },
		func() error { return applyInt(lookup, "DUCKXFER_LEDGER_MAX_OPEN_CONNS", &cfg.Ledger.MaxOpenConns) },
		func() error { return applyInt(lookup, "DUCKXFER_LEDGER_MAX_IDLE_CONNS", &cfg.Ledger.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "DUCKXFER_LEDGER_CONN_MAX_IDLE_TIME", &cfg.Ledger.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "DUCKXFER_LEDGER_CONN_MAX_LIFETIME", &cfg.Ledger.ConnMaxLifetime)
		},
		func() error { return applyBool(lookup, "DUCKXFER_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "DUCKXFER_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "DUCKXFER_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "DUCKXFER_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Transfer.ExportChunkSize <= 0 {
		return Config{}, fmt.Errorf("DUCKXFER_EXPORT_CHUNK_SIZE must be > 0")
	}
	if cfg.Transfer.ImportBatchSize <= 0 {
		return Config{}, fmt.Errorf("DUCKXFER_IMPORT_BATCH_SIZE must be > 0")
	}
	if cfg.Transfer.PreviewLimit <= 0 || cfg.Transfer.PreviewLimit > MaxPreviewLimit {
		return Config{}, fmt.Errorf("DUCKXFER_PREVIEW_LIMIT must be between 1 and %d", MaxPreviewLimit)
	}
	if cfg.ObjectStore.Enabled && cfg.ObjectStore.Bucket == "" {
		return Config{}, fmt.Errorf("DUCKXFER_OBJECTSTORE_BUCKET is required when the object store is enabled")
	}
	return cfg, nil
}

// MaxPreviewLimit caps preview row counts.
const MaxPreviewLimit = 1000

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "duckxfer-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Database:    ":memory:",
			PingTimeout: 5 * time.Second,
		},
		Transfer: TransferConfig{
			ExportDir:       "exports",
			ExportChunkSize: 32 * 1024,
			ExportCountRows: false,
			ImportBatchSize: 1000,
			ImportMaxBytes:  512 << 20,
			PreviewLimit:    100,
			InferSampleRows: 100,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "duckxfer",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Ledger: LedgerConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
