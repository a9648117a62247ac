// Package pipeline drives work items through ingestion, markup, the audio cache
// and synthesis, fanning a batch out over a bounded number of goroutines.
//
// Concurrent cache misses for the same key collapse into one synthesis flight
// whose outcome, success or error, is delivered to every requester.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/cache"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/markup"
)

var (
	// ErrMissingIngestor indicates an orchestrator built without an ingestor.
	ErrMissingIngestor = errors.New("pipeline requires an ingestor")
	// ErrMissingSynthesizer indicates an orchestrator built without a synthesizer.
	ErrMissingSynthesizer = errors.New("pipeline requires a synthesizer")
	// ErrMissingLogger indicates an orchestrator built without a logger.
	ErrMissingLogger = errors.New("pipeline requires a logger")
)

// Dependencies are the collaborators of an Orchestrator. Cache and Sink are
// optional: without a cache every item is synthesized, without a sink results
// carry no location.
type Dependencies struct {
	Ingestor    core.Ingestor
	Synthesizer core.Synthesizer
	Cache       core.AudioCache
	Sink        core.Sink
}

// Orchestrator runs batches of work items. It is safe for concurrent use; the
// per-key flight table is shared by all batches.
type Orchestrator struct {
	ingestor    core.Ingestor
	synthesizer core.Synthesizer
	cache       core.AudioCache
	sink        core.Sink
	formatter   *markup.Formatter
	limiter     *rate.Limiter
	flights     singleflight.Group
	opts        Options
	log         *logger.Logger
}

// New validates deps and opts and returns an Orchestrator.
func New(deps Dependencies, opts Options, log *logger.Logger) (*Orchestrator, error) {
	if deps.Ingestor == nil {
		return nil, ErrMissingIngestor
	}

	if deps.Synthesizer == nil {
		return nil, ErrMissingSynthesizer
	}

	if log == nil {
		return nil, ErrMissingLogger
	}

	opts = opts.WithDefaults()

	err := opts.Validate()
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		ingestor:    deps.Ingestor,
		synthesizer: deps.Synthesizer,
		cache:       deps.Cache,
		sink:        deps.Sink,
		formatter:   markup.NewFormatter(),
		limiter:     opts.limiter(),
		opts:        opts,
		log:         log,
	}, nil
}

// Options returns the effective options after defaults were applied.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run processes items and returns one result per item, in input order. It never
// fails fast: every error is attached to its item.
//
// Once ctx is done no further items start and no new synthesis attempts are
// issued. Attempts already running finish on their own timeout so that items
// waiting on the same key are always released.
func (o *Orchestrator) Run(ctx context.Context, items []core.WorkItem) []core.Result {
	started := time.Now()
	results := make([]core.Result, len(items))

	var group errgroup.Group

	group.SetLimit(o.opts.MaxInFlight)

	for index, item := range items {
		if ctx.Err() != nil {
			results[index] = core.Result{Item: item, Err: fmt.Errorf("item not started: %w", ctx.Err())}

			continue
		}

		group.Go(func() error {
			results[index] = o.process(ctx, item)

			return nil
		})
	}

	_ = group.Wait()

	o.logSummary(results, time.Since(started))

	return results
}

// process runs one item end to end.
func (o *Orchestrator) process(ctx context.Context, item core.WorkItem) core.Result {
	result := core.Result{Item: item}

	err := ctx.Err()
	if err != nil {
		result.Err = fmt.Errorf("item not started: %w", err)

		return result
	}

	style, err := o.validateItem(item)
	if err != nil {
		result.Err = err

		return result
	}

	plain, err := o.ingest(ctx, item.DocumentID)
	if err != nil {
		result.Err = err

		return o.fail(result)
	}

	markupText, err := o.formatter.Format(plain, style)
	if err != nil {
		result.Err = fmt.Errorf("failed to format %s: %w", item.DocumentID, err)

		return o.fail(result)
	}

	result.Key = cache.Key(markupText, item.VoiceID)

	artifact, hit := o.lookup(ctx, result.Key, &result)
	if hit {
		result.Artifact = artifact
		result.CacheHit = true
	} else {
		err = o.synthesizeShared(ctx, result.Key, markupText, item.VoiceID, &result)
		if err != nil {
			result.Err = err

			return o.fail(result)
		}
	}

	err = o.persist(ctx, &result)
	if err != nil {
		result.Err = err

		return o.fail(result)
	}

	return result
}

func (o *Orchestrator) validateItem(item core.WorkItem) (core.StyleConfig, error) {
	if item.DocumentID == "" {
		return core.StyleConfig{}, fmt.Errorf("%w: empty document id", core.ErrInvalidRequest)
	}

	if item.VoiceID == "" {
		return core.StyleConfig{}, fmt.Errorf("%w: %s: empty voice id", core.ErrInvalidRequest, item.DocumentID)
	}

	style := o.opts.DefaultStyle
	if item.Style != nil {
		style = *item.Style
	}

	err := markup.ValidateStyle(style)
	if err != nil {
		return core.StyleConfig{}, fmt.Errorf("%w: %s: %w", core.ErrInvalidRequest, item.DocumentID, err)
	}

	return style, nil
}

// ingest fetches and parses a document within the ingest timeout. Errors from
// ingestors that do not tag them are tagged here.
func (o *Orchestrator) ingest(ctx context.Context, id core.DocumentID) (core.PlainText, error) {
	ingestCtx, cancel := context.WithTimeout(ctx, o.opts.IngestTimeout)
	defer cancel()

	raw, err := o.ingestor.Fetch(ingestCtx, id)
	if err != nil {
		if !errors.Is(err, core.ErrContentFetch) {
			err = fmt.Errorf("%w: %s: %w", core.ErrContentFetch, id, err)
		}

		return "", err
	}

	plain, err := o.ingestor.Parse(raw)
	if err != nil {
		if !errors.Is(err, core.ErrParse) {
			err = fmt.Errorf("%w: %s: %w", core.ErrParse, id, err)
		}

		return "", err
	}

	return plain, nil
}

// lookup consults the cache. Storage failures become warnings and count as a miss.
func (o *Orchestrator) lookup(ctx context.Context, key core.CacheKey, result *core.Result) (*core.AudioArtifact, bool) {
	if o.cache == nil {
		return nil, false
	}

	artifact, found, err := o.cache.Lookup(ctx, key)
	if err != nil {
		o.warnStorage(result, "lookup", key, err)

		return nil, false
	}

	return artifact, found
}

func (o *Orchestrator) persist(ctx context.Context, result *core.Result) error {
	if o.sink == nil {
		return nil
	}

	// Finished audio is persisted even when the batch was cancelled meanwhile.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.PersistTimeout)
	defer cancel()

	location, err := o.sink.Persist(persistCtx, result.Item, result.Key, result.Artifact)
	if err != nil {
		if !errors.Is(err, core.ErrPersist) {
			err = fmt.Errorf("%w: %w", core.ErrPersist, err)
		}

		return err
	}

	result.Location = location

	return nil
}

func (o *Orchestrator) warnStorage(result *core.Result, operation string, key core.CacheKey, err error) {
	warning := fmt.Sprintf("cache %s failed for %s, continuing without cache: %v", operation, key.Short(), err)
	result.Warnings = append(result.Warnings, warning)

	o.log.Warn("Item %s: %s", result.Item.DocumentID, warning)
}

func (o *Orchestrator) fail(result core.Result) core.Result {
	o.log.Error(
		"Item %s (voice %s) failed [%s]: %v",
		result.Item.DocumentID,
		result.Item.VoiceID,
		core.ErrorKind(result.Err),
		result.Err,
	)

	return result
}

func (o *Orchestrator) logSummary(results []core.Result, elapsed time.Duration) {
	var succeeded, hits, shared int

	for _, result := range results {
		if !result.OK() {
			continue
		}

		succeeded++

		if result.CacheHit {
			hits++
		}

		if result.Shared {
			shared++
		}
	}

	o.log.Info(
		"Batch finished in %s: %d/%d succeeded, %d cache hits, %d shared flights",
		elapsed.Round(time.Millisecond),
		succeeded,
		len(results),
		hits,
		shared,
	)
}

// newBackOff builds the retry policy for one flight.
func (o *Orchestrator) newBackOff(ctx context.Context) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = o.opts.RetryInitialInterval
	exponential.MaxInterval = o.opts.RetryMaxInterval
	exponential.MaxElapsedTime = 0

	retries := uint64(o.opts.MaxAttempts - 1) // #nosec G115 -- MaxAttempts is validated >= 1

	return backoff.WithContext(backoff.WithMaxRetries(exponential, retries), ctx)
}
