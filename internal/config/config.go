// Package config provides the configuration structure for the narration service
// and the narrator CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/markup"
	"github.com/book-expert/narration-service/internal/pipeline"
)

// Backend names accepted in the configuration.
const (
	CacheFile   = "file"
	CacheBadger = "badger"
	CacheBlob   = "blob"
	CacheMemory = "memory"
	CacheNone   = "none"

	SynthHTTP    = "http"
	SynthGoogle  = "google"
	SynthCommand = "command"

	StoreNATS = "nats"
	StoreS3   = "s3"

	OutputDir   = "dir"
	OutputStore = "store"
	OutputNone  = "none"
)

// ErrInvalidConfig indicates a configuration value outside its allowed range.
var ErrInvalidConfig = errors.New("invalid configuration")

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	LogFile     string `toml:"log_file"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                string `toml:"url"`
	RequestSubject     string `toml:"request_subject"`
	QueueGroup         string `toml:"queue_group"`
	ObjectStoreBucket  string `toml:"object_store_bucket"`
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"`
}

// S3Config holds the connection settings for an S3-compatible bucket.
type S3Config struct {
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Bucket          string `toml:"bucket"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// CacheConfig selects and configures the audio cache.
type CacheConfig struct {
	Backend    string `toml:"backend"`
	Dir        string `toml:"dir"`
	BlobStore  string `toml:"blob_store"`
	BlobPrefix string `toml:"blob_prefix"`
}

// PipelineConfig holds concurrency, retry and timeout settings.
type PipelineConfig struct {
	MaxInFlight         int     `toml:"max_in_flight"`
	MaxAttempts         int     `toml:"max_attempts"`
	RetryInitialMs      int     `toml:"retry_initial_ms"`
	RetryMaxMs          int     `toml:"retry_max_ms"`
	IngestTimeoutSecs   int     `toml:"ingest_timeout_seconds"`
	SynthesisTimeoutSec int     `toml:"synthesis_timeout_seconds"`
	PersistTimeoutSecs  int     `toml:"persist_timeout_seconds"`
	RateLimit           float64 `toml:"rate_limit"`
	Burst               int     `toml:"burst"`
}

// SynthesisConfig selects and configures the synthesis backend.
type SynthesisConfig struct {
	Backend        string   `toml:"backend"`
	ServiceURL     string   `toml:"service_url"`
	Format         string   `toml:"format"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Credentials    string   `toml:"google_credentials_file"`
	Endpoint       string   `toml:"google_endpoint"`
	LanguageCode   string   `toml:"language_code"`
	SampleRateHz   int      `toml:"sample_rate_hz"`
	CommandBinary  string   `toml:"command_binary"`
	CommandArgs    []string `toml:"command_args"`
}

// IngestConfig configures the document sources.
type IngestConfig struct {
	FileRoot          string `toml:"file_root"`
	UserAgent         string `toml:"user_agent"`
	MaxBodyBytes      int64  `toml:"max_body_bytes"`
	HTTPTimeoutSecs   int    `toml:"http_timeout_seconds"`
	Store             string `toml:"store"`
	StorePrefix       string `toml:"store_prefix"`
	DisableHTTPSource bool   `toml:"disable_http"`
}

// OutputConfig selects where finished narrations go.
type OutputConfig struct {
	Kind   string `toml:"kind"`
	Dir    string `toml:"dir"`
	Store  string `toml:"store"`
	Prefix string `toml:"prefix"`
}

// Config is the root configuration structure.
type Config struct {
	Paths     PathsConfig      `toml:"paths"`
	NATS      NATSConfig       `toml:"nats"`
	S3        S3Config         `toml:"s3"`
	Cache     CacheConfig      `toml:"cache"`
	Pipeline  PipelineConfig   `toml:"pipeline"`
	Style     core.StyleConfig `toml:"style"`
	Synthesis SynthesisConfig  `toml:"synthesis"`
	Ingest    IngestConfig     `toml:"ingest"`
	Output    OutputConfig     `toml:"output"`
}

// Load loads the configuration for the narration service through the shared
// configurator, then applies defaults and validates it.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile reads a TOML file. An empty path yields the defaults.
func LoadFile(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with a working local default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Paths.BaseLogsDir, "logs")
	setDefault(&c.Paths.LogFile, "narration-service.log")

	setDefault(&c.NATS.URL, "nats://127.0.0.1:4222")
	setDefault(&c.NATS.RequestSubject, "narration.batch.request")
	setDefault(&c.NATS.QueueGroup, "narration-workers")
	setDefault(&c.NATS.ObjectStoreBucket, "NARRATION")
	setDefault(&c.NATS.RequestTimeoutSecs, 600)

	setDefault(&c.S3.Region, "us-east-1")

	setDefault(&c.Cache.Backend, CacheFile)
	setDefault(&c.Cache.Dir, "narration-cache")
	setDefault(&c.Cache.BlobStore, StoreNATS)

	if c.Style == (core.StyleConfig{}) {
		c.Style = core.DefaultStyle()
	}

	setDefault(&c.Synthesis.Backend, SynthHTTP)
	setDefault(&c.Synthesis.ServiceURL, "http://127.0.0.1:8080")
	setDefault(&c.Synthesis.Format, string(core.FormatWAV))
	setDefault(&c.Synthesis.TimeoutSeconds, 120)
	setDefault(&c.Synthesis.LanguageCode, "en-US")

	setDefault(&c.Ingest.UserAgent, "narration-service/1.0")
	setDefault(&c.Ingest.MaxBodyBytes, 10<<20)
	setDefault(&c.Ingest.HTTPTimeoutSecs, 30)

	setDefault(&c.Output.Kind, OutputDir)
	setDefault(&c.Output.Dir, "narrations")
	setDefault(&c.Output.Store, StoreNATS)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"cache.backend", c.Cache.Backend, []string{CacheFile, CacheBadger, CacheBlob, CacheMemory, CacheNone}},
		{"cache.blob_store", c.Cache.BlobStore, []string{StoreNATS, StoreS3}},
		{"synthesis.backend", c.Synthesis.Backend, []string{SynthHTTP, SynthGoogle, SynthCommand}},
		{"synthesis.format", c.Synthesis.Format, []string{
			string(core.FormatWAV), string(core.FormatMP3), string(core.FormatOGG),
		}},
		{"output.kind", c.Output.Kind, []string{OutputDir, OutputStore, OutputNone}},
		{"output.store", c.Output.Store, []string{StoreNATS, StoreS3}},
	}

	if c.Ingest.Store != "" {
		checks = append(checks, struct {
			field   string
			value   string
			allowed []string
		}{"ingest.store", c.Ingest.Store, []string{StoreNATS, StoreS3}})
	}

	for _, check := range checks {
		if !slices.Contains(check.allowed, check.value) {
			return fmt.Errorf("%w: %s must be one of %v, got %q", ErrInvalidConfig, check.field, check.allowed, check.value)
		}
	}

	err := markup.ValidateStyle(c.Style)
	if err != nil {
		return fmt.Errorf("%w: [style]: %w", ErrInvalidConfig, err)
	}

	if c.UsesS3() && c.S3.Bucket == "" {
		return fmt.Errorf("%w: s3.bucket is required when an s3 store is selected", ErrInvalidConfig)
	}

	err = c.PipelineOptions().Validate()
	if err != nil {
		return fmt.Errorf("%w: [pipeline]: %w", ErrInvalidConfig, err)
	}

	return nil
}

// UsesNATS reports whether any component needs a NATS object store.
func (c *Config) UsesNATS() bool {
	return (c.Cache.Backend == CacheBlob && c.Cache.BlobStore == StoreNATS) ||
		c.Ingest.Store == StoreNATS ||
		(c.Output.Kind == OutputStore && c.Output.Store == StoreNATS)
}

// UsesS3 reports whether any component needs the S3 bucket.
func (c *Config) UsesS3() bool {
	return (c.Cache.Backend == CacheBlob && c.Cache.BlobStore == StoreS3) ||
		c.Ingest.Store == StoreS3 ||
		(c.Output.Kind == OutputStore && c.Output.Store == StoreS3)
}

// PipelineOptions converts the [pipeline] and [style] sections. Unset fields take
// the orchestrator's defaults.
func (c *Config) PipelineOptions() pipeline.Options {
	opts := pipeline.Options{
		MaxInFlight:          c.Pipeline.MaxInFlight,
		MaxAttempts:          c.Pipeline.MaxAttempts,
		RetryInitialInterval: time.Duration(c.Pipeline.RetryInitialMs) * time.Millisecond,
		RetryMaxInterval:     time.Duration(c.Pipeline.RetryMaxMs) * time.Millisecond,
		IngestTimeout:        seconds(c.Pipeline.IngestTimeoutSecs),
		SynthesisTimeout:     seconds(c.Pipeline.SynthesisTimeoutSec),
		PersistTimeout:       seconds(c.Pipeline.PersistTimeoutSecs),
		RateLimit:            c.Pipeline.RateLimit,
		Burst:                c.Pipeline.Burst,
		DefaultStyle:         c.Style,
	}

	return opts.WithDefaults()
}

// RequestTimeout is the per-message deadline of the NATS worker.
func (c *Config) RequestTimeout() time.Duration {
	return seconds(c.NATS.RequestTimeoutSecs)
}

// SynthesisTimeout bounds a single HTTP call to the synthesis service.
func (c *Config) SynthesisTimeout() time.Duration {
	return seconds(c.Synthesis.TimeoutSeconds)
}

// HTTPIngestTimeout bounds a single document download.
func (c *Config) HTTPIngestTimeout() time.Duration {
	return seconds(c.Ingest.HTTPTimeoutSecs)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
