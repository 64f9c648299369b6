// Package retryer runs operations repeatedly while they fail with a
// retryable error.
package retryer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/openwrt/ghmerge/internal/ghmergeerr"
	"github.com/openwrt/ghmerge/internal/logfields"
)

const (
	defBackoffInitialInterval     = 2 * time.Second
	defBackoffRandomizationFactor = 0.5
)

// Retryer executes a function repeatedly until it was successful or cancel
// condition happened.
type Retryer struct {
	logger *zap.Logger
	// maxRetryTimeout is the max. duration that an operation is retried,
	// when it is 0, operations are run exactly once.
	maxRetryTimeout            time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
}

func New(maxRetryTimeout time.Duration) *Retryer {
	return &Retryer{
		logger:                     zap.L().Named("retryer"),
		maxRetryTimeout:            maxRetryTimeout,
		backoffInitialInterval:     defBackoffInitialInterval,
		backoffRandomizationFactor: defBackoffRandomizationFactor,
	}
}

// Run executes fn until it was successful, it returned an error that
// does not wrap ghmergeerr.RetryableError, the retry timeout expired or the
// execution was aborted via the context.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	if r.maxRetryTimeout == 0 {
		return fn(ctx)
	}

	ctx, cancelFn := context.WithTimeout(ctx, r.maxRetryTimeout)
	defer cancelFn()

	deadline, _ := ctx.Deadline()

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(
				"giving up retrying operation",
				append(logF,
					logfields.Event("operation_retry_timeout"),
					zap.Uint("try_count", tryCnt),
					zap.Duration("retry_timeout", r.maxRetryTimeout),
				)...,
			)

			if lastErr != nil {
				return fmt.Errorf("%w, last error: %s", ctx.Err(), lastErr)
			}

			return ctx.Err()

		case <-retryTimer.C:
			tryCnt++
			logger := r.logger.With(logF...).With(zap.Uint("try_count", tryCnt))

			err := fn(ctx)
			if err == nil {
				logger.Debug("operation executed successfully", logfields.Event("operation_executed_successfully"))
				return nil
			}

			lastErr = err
			logger = logger.With(zap.Error(err))

			if errors.Is(err, context.Canceled) {
				return err
			}

			var retryError *ghmergeerr.RetryableError
			if !errors.As(err, &retryError) {
				logger.Debug("operation failed, not retryable", logfields.Event("operation_failed"))
				return err
			}

			if retryError.After.After(deadline) {
				logger.Info(
					"operation failed, next possible retry time is after timeout expiration",
					logfields.Event("operation_failed"),
					zap.Time("earliest_allowed_retry", retryError.After),
				)

				return err
			}

			retryIn := bo.NextBackOff()
			if !retryError.After.IsZero() {
				if untilAfter := time.Until(retryError.After); untilAfter > retryIn {
					retryIn = untilAfter
				}
			}

			retryTimer.Reset(retryIn)
			logger.Info(
				"operation failed, retry scheduled",
				logfields.Event("operation_retry_scheduled"),
				zap.Duration("retry_in", retryIn),
			)
		}
	}
}
