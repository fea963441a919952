// Package retry provides a bounded, fixed-delay retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/starford/surveybox/internal/apperr"
)

// Policy retries an operation up to MaxAttempts times with a constant Delay
// between attempts. Only errors accepted by Retryable are retried; anything
// else is returned immediately.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
	Logger      *slog.Logger
}

// TransportOnly retries transport-level failures and nothing else.
func TransportOnly(err error) bool {
	return errors.Is(err, apperr.ErrTransport)
}

// Probe returns the policy used for directory existence probes: three
// attempts, fixed delay, transport failures only.
func Probe(delay time.Duration, logger *slog.Logger) Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       delay,
		Retryable:   TransportOnly,
		Logger:      logger,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are used up. Exhaustion is reported as apperr.ErrConnectivity
// wrapping the last error.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = TransportOnly
	}

	var (
		attempt int
		lastErr error
	)
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Warn("retrying after failure",
				slog.String("operation", name),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err == nil {
		return nil
	}
	if lastErr != nil && retryable(lastErr) {
		return fmt.Errorf("%s: %w after %d attempts: %w", name, apperr.ErrConnectivity, attempt, lastErr)
	}
	return err
}
