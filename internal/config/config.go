// Package config loads castboard configuration from defaults, an optional
// TOML file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/database"
	"github.com/castboard/castboard/internal/telemetry"
	"github.com/castboard/castboard/internal/worker"
)

// FileEnv names the environment variable holding the config file path.
const FileEnv = "CASTBOARD_CONFIG"

// DefaultJWTSigningKey is used when no signing key is configured.
const DefaultJWTSigningKey = "local-dev-signing-key-change-in-production"

// Config is the process configuration shared by all castboard binaries.
type Config struct {
	Env           string `toml:"env"`
	Port          string `toml:"port"`
	JWTSigningKey string `toml:"jwt_signing_key"`

	// MigrateOnStart applies the embedded migrations before serving.
	MigrateOnStart bool `toml:"migrate_on_start"`

	// RequireTLS rejects API requests forwarded over plain HTTP.
	RequireTLS bool `toml:"require_tls"`

	// MaxUploadMB bounds a single media upload request.
	MaxUploadMB int `toml:"max_upload_mb"`

	Database  DatabaseConfig  `toml:"database"`
	Storage   StorageConfig   `toml:"storage"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Worker    WorkerConfig    `toml:"worker"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	User            string        `toml:"user"`
	Password        string        `toml:"password"`
	Name            string        `toml:"name"`
	SSLMode         string        `toml:"ssl_mode"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

// StorageConfig selects the object store. Type is "memory", "filesystem",
// or "s3"; the other fields apply to the selected type only.
type StorageConfig struct {
	Type    string `toml:"type"`
	Root    string `toml:"root,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`

	S3Bucket        string        `toml:"s3_bucket,omitempty"`
	S3Region        string        `toml:"s3_region,omitempty"`
	S3Endpoint      string        `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID   string        `toml:"s3_access_key_id,omitempty"`
	S3SecretKey     string        `toml:"s3_secret_access_key,omitempty"`
	S3UsePathStyle  bool          `toml:"s3_use_path_style,omitempty"`
	S3PublicBaseURL string        `toml:"s3_public_base_url,omitempty"`
	S3URLTTL        time.Duration `toml:"s3_url_ttl,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `toml:"enabled"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

// WorkerConfig configures the expiry sweep worker. Mode is "pubsub" or
// "ticker".
type WorkerConfig struct {
	Mode             string        `toml:"mode"`
	ProjectID        string        `toml:"project_id"`
	SubscriptionName string        `toml:"subscription"`
	Interval         time.Duration `toml:"interval"`
	Concurrency      int           `toml:"concurrency"`
	Timeout          time.Duration `toml:"timeout"`
}

// Worker modes.
const (
	WorkerModePubSub = "pubsub"
	WorkerModeTicker = "ticker"
)

// Default returns the built-in defaults.
func Default() *Config {
	sweep := worker.DefaultSweepConfig()
	return &Config{
		Env:           "development",
		Port:          "8080",
		JWTSigningKey: DefaultJWTSigningKey,
		MaxUploadMB:   512,
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "castboard",
			Password:        "localdev",
			Name:            "castboard",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Type:     blob.TypeFileSystem,
			Root:     "./data/blobs",
			BaseURL:  "http://localhost:8080/files",
			S3URLTTL: time.Hour,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
		},
		Worker: WorkerConfig{
			Mode:             WorkerModeTicker,
			SubscriptionName: "castboard-worker-jobs",
			Interval:         sweep.Interval,
			Concurrency:      sweep.Concurrency,
			Timeout:          sweep.Timeout,
		},
	}
}

// Load builds the configuration: defaults, then the TOML file named by
// CASTBOARD_CONFIG if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile decodes a TOML file over the defaults, without applying the
// environment.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.overlayFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config from %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	setString(&c.Env, "APP_ENV")
	setString(&c.Port, "APP_PORT")
	setString(&c.JWTSigningKey, "JWT_SIGNING_KEY")

	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSL_MODE")

	setString(&c.Storage.Type, "STORAGE_TYPE")
	setString(&c.Storage.Root, "STORAGE_ROOT")
	setString(&c.Storage.BaseURL, "STORAGE_BASE_URL")
	setString(&c.Storage.S3Bucket, "S3_BUCKET")
	setString(&c.Storage.S3Region, "S3_REGION")
	setString(&c.Storage.S3Endpoint, "S3_ENDPOINT")
	setString(&c.Storage.S3AccessKeyID, "S3_ACCESS_KEY_ID")
	setString(&c.Storage.S3SecretKey, "S3_SECRET_ACCESS_KEY")
	setString(&c.Storage.S3PublicBaseURL, "S3_PUBLIC_BASE_URL")

	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setString(&c.Worker.Mode, "WORKER_MODE")
	setString(&c.Worker.ProjectID, "GCP_PROJECT_ID")
	setString(&c.Worker.SubscriptionName, "PUBSUB_SUBSCRIPTION")

	for _, b := range []struct {
		dst *bool
		key string
	}{
		{&c.MigrateOnStart, "MIGRATE_ON_START"},
		{&c.RequireTLS, "REQUIRE_TLS"},
		{&c.Telemetry.Enabled, "OTEL_ENABLED"},
		{&c.Storage.S3UsePathStyle, "S3_USE_PATH_STYLE"},
	} {
		if err := setBool(b.dst, b.key); err != nil {
			return err
		}
	}

	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&c.Storage.S3URLTTL, "S3_URL_TTL"},
		{&c.Database.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME"},
		{&c.Worker.Interval, "SWEEP_INTERVAL"},
		{&c.Worker.Timeout, "SWEEP_TIMEOUT"},
	} {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	for _, i := range []struct {
		dst *int
		key string
	}{
		{&c.MaxUploadMB, "MAX_UPLOAD_MB"},
		{&c.Database.Port, "DB_PORT"},
		{&c.Database.MaxOpenConns, "DB_MAX_OPEN_CONNS"},
		{&c.Database.MaxIdleConns, "DB_MAX_IDLE_CONNS"},
		{&c.Worker.Concurrency, "SWEEP_CONCURRENCY"},
	} {
		if err := setInt(i.dst, i.key); err != nil {
			return err
		}
	}

	return nil
}

// DatabaseConfig returns the database connection configuration.
func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Name,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// BlobConfig returns the object store configuration.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Type:    c.Storage.Type,
		Root:    c.Storage.Root,
		BaseURL: c.Storage.BaseURL,
		S3: blob.S3Config{
			Bucket:          c.Storage.S3Bucket,
			Region:          c.Storage.S3Region,
			Endpoint:        c.Storage.S3Endpoint,
			AccessKeyID:     c.Storage.S3AccessKeyID,
			SecretAccessKey: c.Storage.S3SecretKey,
			UsePathStyle:    c.Storage.S3UsePathStyle,
			PublicBaseURL:   c.Storage.S3PublicBaseURL,
			URLTTL:          c.Storage.S3URLTTL,
		},
	}
}

// SweepConfig returns the expiry sweep configuration.
func (c *Config) SweepConfig() worker.SweepConfig {
	cfg := worker.DefaultSweepConfig()
	cfg.Interval = c.Worker.Interval
	cfg.Concurrency = c.Worker.Concurrency
	cfg.Timeout = c.Worker.Timeout
	return cfg
}

// TelemetryConfig returns the telemetry configuration for a service.
func (c *Config) TelemetryConfig(serviceName, version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    c.Env,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		Enabled:        c.Telemetry.Enabled,
	}
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// UsesDefaultSigningKey reports whether the insecure development key is in use.
func (c *Config) UsesDefaultSigningKey() bool {
	return c.JWTSigningKey == DefaultJWTSigningKey
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
