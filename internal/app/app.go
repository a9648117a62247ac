// Package app assembles a narration pipeline and its collaborators from the
// configuration. Both binaries build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/ingest"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/output"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/book-expert/narration-service/internal/synth"
)

const natsConnectTimeout = 10 * time.Second

var (
	// ErrJetStreamRequired indicates a configuration needing a NATS object store
	// built without a JetStream context.
	ErrJetStreamRequired = errors.New("configuration uses a nats object store but no jetstream context was given")
	// ErrNoHealthCheck indicates a synthesis backend without a health probe.
	ErrNoHealthCheck = errors.New("synthesis backend does not support health checks")
)

// App is an assembled pipeline plus the components behind it.
type App struct {
	Orchestrator *pipeline.Orchestrator
	Cache        core.AudioCache
	Synthesizer  core.Synthesizer
	Ingestor     *ingest.Mux
	Sink         core.Sink

	closers []func() error
	log     *logger.Logger
}

// Connect dials NATS and opens a JetStream context.
func Connect(cfg *config.Config, log *logger.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	natsConnection, err := nats.Connect(
		cfg.NATS.URL,
		nats.Name("narration-service"),
		nats.Timeout(natsConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, disconnectErr error) {
			if disconnectErr != nil {
				log.Warn("Disconnected from NATS: %v", disconnectErr)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info("Reconnected to NATS at %s", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	return natsConnection, jetstreamContext, nil
}

// Build assembles every component named by cfg. jetstreamContext may be nil when
// cfg uses no NATS object store.
func Build(ctx context.Context, cfg *config.Config, jetstreamContext nats.JetStreamContext, log *logger.Logger) (*App, error) {
	built := &App{log: log}

	stores, err := newStoreSet(cfg, jetstreamContext)
	if err != nil {
		return nil, err
	}

	steps := []func() error{
		func() error { return built.buildCache(cfg, stores) },
		func() error { return built.buildSynthesizer(ctx, cfg) },
		func() error { return built.buildIngestor(cfg, stores) },
		func() error { return built.buildSink(cfg, stores) },
	}

	for _, step := range steps {
		err = step()
		if err != nil {
			_ = built.Close()

			return nil, err
		}
	}

	built.Orchestrator, err = pipeline.New(pipeline.Dependencies{
		Ingestor:    built.Ingestor,
		Synthesizer: built.Synthesizer,
		Cache:       built.Cache,
		Sink:        built.Sink,
	}, cfg.PipelineOptions(), log)
	if err != nil {
		_ = built.Close()

		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return built, nil
}

// Run narrates items through the assembled pipeline.
func (a *App) Run(ctx context.Context, items []core.WorkItem) []core.Result {
	return a.Orchestrator.Run(ctx, items)
}

// Evict removes key from the cache when the backend supports it.
func (a *App) Evict(ctx context.Context, key core.CacheKey) error {
	if a.Cache == nil {
		return nil
	}

	evictor, ok := a.Cache.(core.Evictor)
	if !ok {
		return fmt.Errorf("%w: cache backend cannot evict", core.ErrStorageUnavailable)
	}

	err := evictor.Evict(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to evict %s: %w", key.Short(), err)
	}

	return nil
}

// HealthCheck probes the synthesis backend.
func (a *App) HealthCheck(ctx context.Context) error {
	checker, ok := a.Synthesizer.(synth.HealthChecker)
	if !ok {
		return ErrNoHealthCheck
	}

	return checker.HealthCheck(ctx)
}

// Close releases backends that hold resources, in reverse build order.
func (a *App) Close() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i]()
		if err != nil {
			errs = append(errs, err)
		}
	}

	a.closers = nil

	return errors.Join(errs...)
}

func (a *App) buildCache(cfg *config.Config, stores *storeSet) error {
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return nil
	case config.CacheMemory:
		a.Cache = cache.NewMemoryCache()
	case config.CacheFile:
		fileCache, err := cache.NewFileCache(cfg.Cache.Dir)
		if err != nil {
			return fmt.Errorf("failed to create file cache: %w", err)
		}

		a.Cache = fileCache
	case config.CacheBadger:
		badgerCache, err := cache.NewBadgerCache(cache.BadgerOptions{Dir: cfg.Cache.Dir, Log: a.log})
		if err != nil {
			return fmt.Errorf("failed to open badger cache: %w", err)
		}

		a.Cache = badgerCache
		a.closers = append(a.closers, badgerCache.Close)
	case config.CacheBlob:
		store, err := stores.get(cfg.Cache.BlobStore)
		if err != nil {
			return err
		}

		a.Cache = cache.NewBlobCache(store, cfg.Cache.BlobPrefix)
	default:
		return fmt.Errorf("%w: unknown cache backend %q", config.ErrInvalidConfig, cfg.Cache.Backend)
	}

	a.log.Info("Audio cache backend: %s", cfg.Cache.Backend)

	return nil
}

func (a *App) buildSynthesizer(ctx context.Context, cfg *config.Config) error {
	format := core.AudioFormat(cfg.Synthesis.Format)

	switch cfg.Synthesis.Backend {
	case config.SynthHTTP:
		a.Synthesizer = synth.NewHTTPSynthesizer(cfg.Synthesis.ServiceURL, format, cfg.SynthesisTimeout())
	case config.SynthGoogle:
		google, err := synth.NewGoogleSynthesizer(ctx, synth.GoogleOptions{
			CredentialsFile: cfg.Synthesis.Credentials,
			Endpoint:        cfg.Synthesis.Endpoint,
			LanguageCode:    cfg.Synthesis.LanguageCode,
			Format:          format,
			SampleRateHz:    cfg.Synthesis.SampleRateHz,
		})
		if err != nil {
			return fmt.Errorf("failed to create google synthesizer: %w", err)
		}

		a.Synthesizer = google
		a.closers = append(a.closers, google.Close)
	case config.SynthCommand:
		a.Synthesizer = synth.NewCommandSynthesizer(synth.CommandOptions{
			Binary:    cfg.Synthesis.CommandBinary,
			ExtraArgs: cfg.Synthesis.CommandArgs,
		}, a.log)
	default:
		return fmt.Errorf("%w: unknown synthesis backend %q", config.ErrInvalidConfig, cfg.Synthesis.Backend)
	}

	a.log.Info("Synthesis backend: %s", cfg.Synthesis.Backend)

	return nil
}

func (a *App) buildIngestor(cfg *config.Config, stores *storeSet) error {
	mux := ingest.NewMux()

	if !cfg.Ingest.DisableHTTPSource {
		web := ingest.NewHTTPIngestor(ingest.HTTPOptions{
			Timeout:      cfg.HTTPIngestTimeout(),
			UserAgent:    cfg.Ingest.UserAgent,
			MaxBodyBytes: cfg.Ingest.MaxBodyBytes,
		})
		mux.Handle("http://", web)
		mux.Handle("https://", web)
	}

	if cfg.Ingest.FileRoot != "" {
		files, err := ingest.NewFileIngestor(cfg.Ingest.FileRoot)
		if err != nil {
			return fmt.Errorf("failed to create file ingestor: %w", err)
		}

		mux.Handle(ingest.FilePrefix, files)
	}

	if cfg.Ingest.Store != "" {
		store, err := stores.get(cfg.Ingest.Store)
		if err != nil {
			return err
		}

		mux.Handle(ingest.StorePrefix, ingest.NewStoreIngestor(store, cfg.Ingest.StorePrefix))
	}

	a.Ingestor = mux
	a.log.Info("Document sources: %v", mux.Prefixes())

	return nil
}

func (a *App) buildSink(cfg *config.Config, stores *storeSet) error {
	switch cfg.Output.Kind {
	case config.OutputNone:
		return nil
	case config.OutputDir:
		sink, err := output.NewDirSink(cfg.Output.Dir)
		if err != nil {
			return fmt.Errorf("failed to create output directory sink: %w", err)
		}

		a.Sink = sink
	case config.OutputStore:
		store, err := stores.get(cfg.Output.Store)
		if err != nil {
			return err
		}

		a.Sink = output.NewStoreSink(store, cfg.Output.Prefix)
	default:
		return fmt.Errorf("%w: unknown output kind %q", config.ErrInvalidConfig, cfg.Output.Kind)
	}

	return nil
}

// storeSet lazily opens the object stores a configuration refers to, so the
// cache, ingestor and sink share one handle per store.
type storeSet struct {
	cfg              *config.Config
	jetstreamContext nats.JetStreamContext
	opened           map[string]core.ObjectStore
}

func newStoreSet(cfg *config.Config, jetstreamContext nats.JetStreamContext) (*storeSet, error) {
	if cfg.UsesNATS() && jetstreamContext == nil {
		return nil, ErrJetStreamRequired
	}

	return &storeSet{cfg: cfg, jetstreamContext: jetstreamContext, opened: make(map[string]core.ObjectStore)}, nil
}

func (s *storeSet) get(kind string) (core.ObjectStore, error) {
	if store, ok := s.opened[kind]; ok {
		return store, nil
	}

	var (
		store core.ObjectStore
		err   error
	)

	switch kind {
	case config.StoreNATS:
		if s.jetstreamContext == nil {
			return nil, ErrJetStreamRequired
		}

		store, err = objectstore.New(s.jetstreamContext, s.cfg.NATS.ObjectStoreBucket)
	case config.StoreS3:
		client := objectstore.NewS3Client(objectstore.S3Options{
			Region:          s.cfg.S3.Region,
			Endpoint:        s.cfg.S3.Endpoint,
			AccessKeyID:     s.cfg.S3.AccessKeyID,
			SecretAccessKey: s.cfg.S3.SecretAccessKey,
			UsePathStyle:    s.cfg.S3.UsePathStyle,
		})

		store, err = objectstore.NewS3(client, s.cfg.S3.Bucket, "")
	default:
		return nil, fmt.Errorf("%w: unknown object store %q", config.ErrInvalidConfig, kind)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open %s object store: %w", kind, err)
	}

	s.opened[kind] = store

	return store, nil
}
