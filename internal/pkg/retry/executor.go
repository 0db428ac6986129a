package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/voxinsight/internal/pkg/utils"
	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/viper"
)

// Executor invokes idempotent operations with bounded retries and multiplicative backoff.
// Operations must be safe to re-invoke: upserts and conditional updates, not blind inserts.
type Executor struct {
	maxAttempts  int
	initialDelay time.Duration
	multiplier   float64
	// notify is called before each wait, mostly for tests
	notify func(err error, wait time.Duration)
}

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = time.Second
	defaultMultiplier   = 1.5
)

// New creates executor
func New(maxAttempts int, initialDelay time.Duration, multiplier float64) (*Executor, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("wrong max attempts %d", maxAttempts)
	}
	if initialDelay < 0 {
		return nil, fmt.Errorf("wrong initial delay %v", initialDelay)
	}
	if multiplier < 1 {
		return nil, fmt.Errorf("wrong multiplier %v", multiplier)
	}
	return &Executor{maxAttempts: maxAttempts, initialDelay: initialDelay, multiplier: multiplier}, nil
}

// NewDefault creates executor with 3 attempts, 1s initial delay and x1.5 backoff
func NewDefault() *Executor {
	return &Executor{maxAttempts: defaultMaxAttempts, initialDelay: defaultInitialDelay, multiplier: defaultMultiplier}
}

// NewFromConfig reads retry.maxAttempts, retry.initialDelay, retry.multiplier
func NewFromConfig(cfg *viper.Viper) (*Executor, error) {
	if cfg == nil {
		return NewDefault(), nil
	}
	return New(defaultInt(cfg.GetInt("retry.maxAttempts"), defaultMaxAttempts),
		defaultDur(cfg.GetDuration("retry.initialDelay"), defaultInitialDelay),
		defaultFloat(cfg.GetFloat64("retry.multiplier"), defaultMultiplier))
}

// Do invokes op until it succeeds or attempts are exhausted, returns the last error.
// Permanent errors (see utils.IsPermanent) are not retried.
func (e *Executor) Do(ctx context.Context, name string, op func() error) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err != nil && utils.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(e.newBackoff(), ctx), func(err error, wait time.Duration) {
		goapp.Log.Warn().Err(err).Str("op", name).Int("attempt", attempt).Dur("wait", wait).Msg("retry")
		if e.notify != nil {
			e.notify(err, wait)
		}
	})
	if err != nil {
		return fmt.Errorf("%s failed after %d attempt(s): %w", name, attempt, err)
	}
	return nil
}

// Invoke is Do for operations returning a value
func Invoke[T any](ctx context.Context, e *Executor, name string, op func() (T, error)) (T, error) {
	var res T
	err := e.Do(ctx, name, func() error {
		var err error
		res, err = op()
		return err
	})
	return res, err
}

// MaxAttempts returns configured attempt count
func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

func (e *Executor) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialDelay
	b.Multiplier = e.multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(e.maxAttempts-1))
}

func defaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}

func defaultDur(v, d time.Duration) time.Duration {
	if v == 0 {
		return d
	}
	return v
}

func defaultFloat(v, d float64) float64 {
	if v == 0 {
		return d
	}
	return v
}
