package pipeline

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/book-expert/narration-service/internal/core"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultMaxInFlight          = 4
	DefaultMaxAttempts          = 3
	DefaultRetryInitialInterval = 250 * time.Millisecond
	DefaultRetryMaxInterval     = 5 * time.Second
	DefaultIngestTimeout        = 30 * time.Second
	DefaultSynthesisTimeout     = 60 * time.Second
	DefaultPersistTimeout       = 30 * time.Second
)

// ErrInvalidOptions indicates Options that cannot drive a pipeline.
var ErrInvalidOptions = errors.New("invalid pipeline options")

// Options tune an Orchestrator. Zero values select the package defaults.
type Options struct {
	// MaxInFlight bounds the number of items processed concurrently.
	MaxInFlight int
	// MaxAttempts bounds synthesis calls per flight, first attempt included.
	MaxAttempts          int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	IngestTimeout        time.Duration
	// SynthesisTimeout bounds a single synthesis attempt.
	SynthesisTimeout time.Duration
	PersistTimeout   time.Duration
	// RateLimit is the number of synthesis attempts per second across all
	// flights. Zero disables limiting.
	RateLimit float64
	Burst     int
	// DefaultStyle applies to items without their own style.
	DefaultStyle core.StyleConfig
}

// Validate reports options that are out of range after defaults.
func (o Options) Validate() error {
	switch {
	case o.MaxInFlight < 1:
		return fmt.Errorf("%w: max in flight must be at least 1, got %d", ErrInvalidOptions, o.MaxInFlight)
	case o.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidOptions, o.MaxAttempts)
	case o.RetryInitialInterval <= 0 || o.RetryMaxInterval < o.RetryInitialInterval:
		return fmt.Errorf(
			"%w: retry intervals must satisfy 0 < initial (%s) <= max (%s)",
			ErrInvalidOptions, o.RetryInitialInterval, o.RetryMaxInterval,
		)
	case o.IngestTimeout <= 0 || o.SynthesisTimeout <= 0 || o.PersistTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidOptions)
	case o.RateLimit < 0:
		return fmt.Errorf("%w: rate limit must not be negative, got %g", ErrInvalidOptions, o.RateLimit)
	case o.Burst < 1:
		return fmt.Errorf("%w: burst must be at least 1, got %d", ErrInvalidOptions, o.Burst)
	}

	return nil
}

// WithDefaults returns o with every zero field replaced by its default.
func (o Options) WithDefaults() Options {
	if o.MaxInFlight == 0 {
		o.MaxInFlight = DefaultMaxInFlight
	}

	if o.MaxAttempts == 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}

	if o.RetryInitialInterval == 0 {
		o.RetryInitialInterval = DefaultRetryInitialInterval
	}

	if o.RetryMaxInterval == 0 {
		o.RetryMaxInterval = max(DefaultRetryMaxInterval, o.RetryInitialInterval)
	}

	if o.IngestTimeout == 0 {
		o.IngestTimeout = DefaultIngestTimeout
	}

	if o.SynthesisTimeout == 0 {
		o.SynthesisTimeout = DefaultSynthesisTimeout
	}

	if o.PersistTimeout == 0 {
		o.PersistTimeout = DefaultPersistTimeout
	}

	if o.Burst == 0 {
		o.Burst = 1
	}

	if o.DefaultStyle == (core.StyleConfig{}) {
		o.DefaultStyle = core.DefaultStyle()
	}

	return o
}

func (o Options) limiter() *rate.Limiter {
	if o.RateLimit == 0 {
		return rate.NewLimiter(rate.Inf, o.Burst)
	}

	return rate.NewLimiter(rate.Limit(o.RateLimit), o.Burst)
}
