package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/surveybox/internal/apperr"
)

func TestPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	p := Probe(time.Millisecond, nil)
	calls := 0
	err := p.Do(context.Background(), "list", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("dial: %w", apperr.ErrTransport)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_ExhaustionIsConnectivityError(t *testing.T) {
	p := Probe(time.Millisecond, nil)
	calls := 0
	err := p.Do(context.Background(), "list", func(context.Context) error {
		calls++
		return fmt.Errorf("timeout: %w", apperr.ErrTransport)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, apperr.ErrConnectivity)
	assert.ErrorIs(t, err, apperr.ErrTransport)
}

func TestPolicy_NonRetryableStopsImmediately(t *testing.T) {
	p := Probe(time.Millisecond, nil)
	calls := 0
	err := p.Do(context.Background(), "list", func(context.Context) error {
		calls++
		return apperr.ErrAuth
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, apperr.ErrAuth)
	assert.False(t, errors.Is(err, apperr.ErrConnectivity))
}

func TestPolicy_SingleAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 0, Delay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return apperr.ErrTransport
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, apperr.ErrConnectivity)
}
