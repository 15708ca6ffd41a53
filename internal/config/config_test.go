package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castboard/castboard/internal/blob"
	"github.com/castboard/castboard/internal/config"
)

// clearEnv unsets every variable Load reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.FileEnv, "APP_ENV", "APP_PORT", "JWT_SIGNING_KEY", "MIGRATE_ON_START",
		"REQUIRE_TLS", "MAX_UPLOAD_MB",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME",
		"STORAGE_TYPE", "STORAGE_ROOT", "STORAGE_BASE_URL",
		"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
		"S3_PUBLIC_BASE_URL", "S3_USE_PATH_STYLE", "S3_URL_TTL",
		"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"WORKER_MODE", "GCP_PROJECT_ID", "PUBSUB_SUBSCRIPTION",
		"SWEEP_INTERVAL", "SWEEP_TIMEOUT", "SWEEP_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "castboard.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.UsesDefaultSigningKey())
	assert.False(t, cfg.RequireTLS)
	assert.Equal(t, int64(512<<20), cfg.MaxUploadBytes())
	assert.Equal(t, blob.TypeFileSystem, cfg.Storage.Type)
	assert.Equal(t, config.WorkerModeTicker, cfg.Worker.Mode)
	assert.Equal(t, 15*time.Minute, cfg.Worker.Interval)

	db := cfg.DatabaseConfig()
	assert.Equal(t, "localhost", db.Host)
	assert.Equal(t, 5432, db.Port)
	assert.Equal(t, "castboard", db.Database)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
env = "staging"
port = "9090"
require_tls = true
max_upload_mb = 64

[database]
host = "db.internal"
name = "signage"

[storage]
type = "s3"
s3_bucket = "castboard-media"
s3_region = "eu-west-1"
s3_url_ttl = "30m"

[worker]
mode = "pubsub"
interval = "5m"
timeout = "2m"
`)
	t.Setenv(config.FileEnv, path)
	t.Setenv("APP_PORT", "7070")
	t.Setenv("DB_HOST", "db.override")
	t.Setenv("SWEEP_CONCURRENCY", "8")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "7070", cfg.Port, "env wins over file")
	assert.True(t, cfg.RequireTLS)
	assert.Equal(t, int64(64<<20), cfg.MaxUploadBytes())
	assert.Equal(t, "db.override", cfg.Database.Host)
	assert.Equal(t, "signage", cfg.Database.Name)
	assert.Equal(t, 5432, cfg.Database.Port, "defaults survive partial files")

	blobCfg := cfg.BlobConfig()
	assert.Equal(t, blob.TypeS3, blobCfg.Type)
	assert.Equal(t, "castboard-media", blobCfg.S3.Bucket)
	assert.Equal(t, 30*time.Minute, blobCfg.S3.URLTTL)

	sweep := cfg.SweepConfig()
	assert.Equal(t, 5*time.Minute, sweep.Interval)
	assert.Equal(t, 2*time.Minute, sweep.Timeout)
	assert.Equal(t, 8, sweep.Concurrency)
	assert.Equal(t, config.WorkerModePubSub, cfg.Worker.Mode)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bool", "OTEL_ENABLED", "maybe"},
		{"int", "DB_PORT", "five"},
		{"duration", "SWEEP_INTERVAL", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)

			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.FileEnv, filepath.Join(t.TempDir(), "missing.toml"))

	_, err := config.Load()
	assert.Error(t, err)
}

func TestTelemetryConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	tc := cfg.TelemetryConfig("castboard-api", "1.2.3")
	assert.True(t, tc.Enabled)
	assert.Equal(t, "castboard-api", tc.ServiceName)
	assert.Equal(t, "1.2.3", tc.ServiceVersion)
	assert.Equal(t, "development", tc.Environment)
}
