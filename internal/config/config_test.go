// Package config_test tests the configuration loading for the narration service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/pipeline"
)

const fullConfig = `
[paths]
base_logs_dir = "/var/log/narration"

[nats]
url = "nats://127.0.0.1:4222"
request_subject = "narration.request"
queue_group = "narrators"
object_store_bucket = "AUDIO"
request_timeout_seconds = 120

[s3]
region = "eu-west-1"
endpoint = "http://minio:9000"
bucket = "narration"
use_path_style = true

[cache]
backend = "blob"
blob_store = "s3"
blob_prefix = "cache"

[pipeline]
max_in_flight = 8
max_attempts = 5
retry_initial_ms = 100
retry_max_ms = 2000
synthesis_timeout_seconds = 45
rate_limit = 2.5
burst = 3

[style]
emphasis_level = "strong"
pause_after_ms = 500
rate = "slow"
pitch = "medium"

[synthesis]
backend = "google"
format = "mp3"
language_code = "en-GB"

[ingest]
file_root = "/srv/books"
store = "nats"

[output]
kind = "store"
store = "s3"
`

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(fullConfig), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "narration.request", cfg.NATS.RequestSubject)
	assert.Equal(t, "narrators", cfg.NATS.QueueGroup)
	assert.Equal(t, "AUDIO", cfg.NATS.ObjectStoreBucket)
	assert.Equal(t, "narration", cfg.S3.Bucket)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.Equal(t, config.CacheBlob, cfg.Cache.Backend)
	assert.Equal(t, config.SynthGoogle, cfg.Synthesis.Backend)
	assert.Equal(t, core.EmphasisStrong, cfg.Style.EmphasisLevel)
	assert.Equal(t, 500, cfg.Style.PauseAfterMs)
	assert.InEpsilon(t, 2.5, cfg.Pipeline.RateLimit, 0.001)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "narration.toml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.UsesS3())
	assert.True(t, cfg.UsesNATS())
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout())
	assert.Equal(t, "narration-service.log", cfg.Paths.LogFile, "defaults fill unset fields")

	opts := cfg.PipelineOptions()
	assert.Equal(t, 8, opts.MaxInFlight)
	assert.Equal(t, 5, opts.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, opts.RetryInitialInterval)
	assert.Equal(t, 2*time.Second, opts.RetryMaxInterval)
	assert.Equal(t, 45*time.Second, opts.SynthesisTimeout)
	assert.Equal(t, pipeline.DefaultIngestTimeout, opts.IngestTimeout)
	assert.Equal(t, 3, opts.Burst)
	assert.Equal(t, cfg.Style, opts.DefaultStyle)
}

func TestLoadFile_DefaultsAreUsable(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, config.CacheFile, cfg.Cache.Backend)
	assert.Equal(t, config.SynthHTTP, cfg.Synthesis.Backend)
	assert.Equal(t, config.OutputDir, cfg.Output.Kind)
	assert.Equal(t, core.DefaultStyle(), cfg.Style)
	assert.False(t, cfg.UsesNATS())
	assert.False(t, cfg.UsesS3())
	require.NoError(t, cfg.PipelineOptions().Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	broken := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(broken, []byte("[cache\nbackend="), 0o600))

	_, err = config.LoadFile(broken)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown cache backend", func(c *config.Config) { c.Cache.Backend = "redis" }},
		{"unknown synth backend", func(c *config.Config) { c.Synthesis.Backend = "festival" }},
		{"unknown format", func(c *config.Config) { c.Synthesis.Format = "flac" }},
		{"unknown ingest store", func(c *config.Config) { c.Ingest.Store = "ftp" }},
		{"invalid style", func(c *config.Config) { c.Style.Rate = "ludicrous" }},
		{"s3 without bucket", func(c *config.Config) { c.Output.Kind = config.OutputStore; c.Output.Store = config.StoreS3 }},
		{"negative concurrency", func(c *config.Config) { c.Pipeline.MaxInFlight = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var cfg config.Config

			cfg.ApplyDefaults()
			tt.mutate(&cfg)

			require.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)
		})
	}
}
