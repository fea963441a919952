package boxauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/surveybox/internal/apperr"
)

type fakeGrant struct {
	calls    atomic.Int32
	lifetime time.Duration
	err      error
	release  chan struct{}
}

func (g *fakeGrant) Exchange(context.Context) (string, time.Duration, error) {
	n := g.calls.Add(1)
	if g.release != nil {
		<-g.release
	}
	if g.err != nil {
		return "", 0, g.err
	}
	return "token-" + string(rune('0'+n)), g.lifetime, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(g Grant, c *clock) *Broker {
	return NewBroker(g, WithClock(c.Now), WithLogger(quietLogger()))
}

func TestBrokerCachesUntilSafetyMargin(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	g := &fakeGrant{lifetime: 3600 * time.Second}
	b := newTestBroker(g, c)
	ctx := context.Background()

	tok, err := b.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	cred, ok := b.Cached()
	require.True(t, ok)
	assert.Equal(t, c.Now().Add(3540*time.Second), cred.ExpiresAt)

	c.Advance(3539 * time.Second)
	tok, err = b.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)
	assert.EqualValues(t, 1, g.calls.Load())

	c.Advance(time.Second)
	tok, err = b.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.EqualValues(t, 2, g.calls.Load())
}

func TestBrokerDefaultLifetime(t *testing.T) {
	c := &clock{now: time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)}
	b := newTestBroker(&fakeGrant{}, c)

	_, err := b.Token(context.Background())
	require.NoError(t, err)
	cred, ok := b.Cached()
	require.True(t, ok)
	assert.Equal(t, c.Now().Add(defaultLifetime-SafetyMargin), cred.ExpiresAt)
}

func TestBrokerInvalidateForcesRefresh(t *testing.T) {
	c := &clock{now: time.Now()}
	g := &fakeGrant{lifetime: time.Hour}
	b := newTestBroker(g, c)
	ctx := context.Background()

	_, err := b.Token(ctx)
	require.NoError(t, err)
	b.Invalidate()
	_, ok := b.Cached()
	assert.False(t, ok)

	tok, err := b.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
}

func TestBrokerFailedRefreshIsAuthError(t *testing.T) {
	c := &clock{now: time.Now()}
	g := &fakeGrant{lifetime: 90 * time.Second}
	b := newTestBroker(g, c)
	ctx := context.Background()

	_, err := b.Token(ctx)
	require.NoError(t, err)

	// Expire the credential, then make the exchange fail.
	c.Advance(31 * time.Second)
	g.err = errors.New("status 400")

	tok, err := b.Token(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrAuth)
	assert.Empty(t, tok)
	_, ok := b.Cached()
	assert.False(t, ok, "stale credential must not survive a failed refresh")
}

func TestBrokerConcurrentCallersShareRefresh(t *testing.T) {
	c := &clock{now: time.Now()}
	g := &fakeGrant{lifetime: time.Hour, release: make(chan struct{})}
	b := newTestBroker(g, c)

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := b.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(g.release)
	wg.Wait()

	assert.EqualValues(t, 1, g.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "token-1", tok)
	}
}

func TestStaticGrant(t *testing.T) {
	tok, lifetime, err := StaticGrant{AccessToken: "dev"}.Exchange(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dev", tok)
	assert.Equal(t, time.Hour, lifetime)

	_, _, err = StaticGrant{}.Exchange(context.Background())
	assert.Error(t, err)
}
