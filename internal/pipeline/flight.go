package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/book-expert/narration-service/internal/core"
)

// errNoOutcome indicates a finished flight that carried neither audio nor an error.
var errNoOutcome = fmt.Errorf("%w: empty flight outcome", core.ErrSynthesis)

// flightOutcome is what one synthesis flight hands to every requester of its key.
type flightOutcome struct {
	artifact *core.AudioArtifact
	// cached is set when the re-check inside the flight found the entry.
	cached   bool
	attempts int
	warnings []string
}

// synthesizeShared joins or starts the flight for key and fills result from its
// outcome. The caller that started the flight gets the attempt count and any
// cache warnings; the others are marked Shared.
func (o *Orchestrator) synthesizeShared(
	ctx context.Context,
	key core.CacheKey,
	markupText core.MarkupText,
	voice core.VoiceID,
	result *core.Result,
) error {
	leader := false

	flight := o.flights.DoChan(string(key), func() (any, error) {
		leader = true

		return o.fly(ctx, key, markupText, voice)
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("abandoned synthesis of %s: %w", key.Short(), ctx.Err())
	case res := <-flight:
		return applyOutcome(res, leader, key, result)
	}
}

// applyOutcome copies a finished flight into result.
func applyOutcome(res singleflight.Result, leader bool, key core.CacheKey, result *core.Result) error {
	result.Shared = !leader

	outcome, ok := res.Val.(*flightOutcome)
	if !ok || outcome == nil {
		if res.Err != nil {
			return res.Err
		}

		return fmt.Errorf("%w for %s", errNoOutcome, key.Short())
	}

	if leader {
		result.Attempts = outcome.attempts
		result.Warnings = append(result.Warnings, outcome.warnings...)
	}

	if res.Err != nil {
		return res.Err
	}

	if outcome.artifact == nil {
		return fmt.Errorf("%w for %s", errNoOutcome, key.Short())
	}

	result.Artifact = outcome.artifact.Clone()
	result.CacheHit = outcome.cached

	return nil
}

// fly runs inside the flight: re-check the cache, synthesize with retries, insert.
func (o *Orchestrator) fly(
	ctx context.Context,
	key core.CacheKey,
	markupText core.MarkupText,
	voice core.VoiceID,
) (*flightOutcome, error) {
	outcome := &flightOutcome{}

	if o.cache != nil {
		artifact, found, err := o.cache.Lookup(context.WithoutCancel(ctx), key)
		if err == nil && found {
			outcome.artifact = artifact
			outcome.cached = true

			return outcome, nil
		}
	}

	artifact, err := o.synthesizeWithRetry(ctx, key, markupText, voice, outcome)
	if err != nil {
		return outcome, err
	}

	outcome.artifact = artifact

	if o.cache != nil {
		err = o.cache.Insert(context.WithoutCancel(ctx), key, artifact)
		if err != nil {
			warning := fmt.Sprintf("cache insert failed for %s, continuing without cache: %v", key.Short(), err)
			outcome.warnings = append(outcome.warnings, warning)

			o.log.Warn("Key %s: %s", key.Short(), warning)
		}
	}

	return outcome, nil
}

func (o *Orchestrator) synthesizeWithRetry(
	ctx context.Context,
	key core.CacheKey,
	markupText core.MarkupText,
	voice core.VoiceID,
	outcome *flightOutcome,
) (*core.AudioArtifact, error) {
	var artifact *core.AudioArtifact

	operation := func() error {
		err := o.limiter.Wait(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter wait for %s: %w", key.Short(), err))
		}

		outcome.attempts++

		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.SynthesisTimeout)
		defer cancel()

		synthesized, err := o.synthesizer.Synthesize(attemptCtx, markupText, voice)
		if err == nil && (synthesized == nil || len(synthesized.Data) == 0) {
			err = fmt.Errorf("%w: backend returned no audio", core.ErrSynthesis)
		}

		if err != nil {
			err = classifyAttempt(attemptCtx, err)

			o.log.Warn(
				"Synthesis attempt %d/%d for %s (voice %s) failed: %v",
				outcome.attempts, o.opts.MaxAttempts, key.Short(), voice, err,
			)

			if !core.IsTransient(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		artifact = synthesized

		return nil
	}

	err := backoff.Retry(operation, o.newBackOff(ctx))
	if err != nil {
		if core.IsTransient(err) {
			return nil, fmt.Errorf("giving up on %s after %d attempts: %w", key.Short(), outcome.attempts, err)
		}

		return nil, err
	}

	return artifact, nil
}

// classifyAttempt treats an attempt that hit its own deadline as transient and
// tags untyped backend errors as permanent.
func classifyAttempt(attemptCtx context.Context, err error) error {
	if errors.Is(err, core.ErrSynthesisUnavailable) || errors.Is(err, core.ErrSynthesis) {
		return err
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: attempt timed out: %w", core.ErrSynthesisUnavailable, err)
	}

	return fmt.Errorf("%w: %w", core.ErrSynthesis, err)
}
