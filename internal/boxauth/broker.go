// Package boxauth obtains and caches bearer credentials for the Box API.
package boxauth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/surveybox/internal/apperr"
	"github.com/starford/surveybox/internal/metrics"
)

// SafetyMargin is subtracted from every backend-declared lifetime.
const SafetyMargin = 60 * time.Second

// defaultLifetime applies when the token endpoint omits expires_in.
const defaultLifetime = time.Hour

// Credential is a cached bearer token.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Grant performs one credential exchange. Lifetime is the validity the
// backend declared for the token (zero when unknown).
type Grant interface {
	Exchange(ctx context.Context) (token string, lifetime time.Duration, err error)
}

// Broker caches the credential produced by a Grant and refreshes it when it
// is within SafetyMargin of expiry or after Invalidate. Concurrent callers
// needing a refresh share a single exchange.
type Broker struct {
	grant  Grant
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	cred *Credential
	// gen counts invalidations so a refresh that started before an
	// Invalidate cannot repopulate the cache with a rejected token.
	gen uint64

	group singleflight.Group
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// WithLogger sets the broker's logger.
func WithLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates a broker around grant.
func NewBroker(grant Grant, opts ...BrokerOption) *Broker {
	b := &Broker{grant: grant, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Token returns a valid bearer token, refreshing it if needed. A failed
// exchange returns an error wrapping apperr.ErrAuth; the stale token is
// never handed out.
func (b *Broker) Token(ctx context.Context) (string, error) {
	b.mu.RLock()
	cred, gen := b.cred, b.gen
	b.mu.RUnlock()
	if cred != nil && b.now().Before(cred.ExpiresAt) {
		return cred.Token, nil
	}

	v, err, _ := b.group.Do(fmt.Sprintf("refresh-%d", gen), func() (any, error) {
		return b.refresh(ctx, gen)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Broker) refresh(ctx context.Context, gen uint64) (string, error) {
	// Another caller may have refreshed while we queued.
	b.mu.RLock()
	if b.cred != nil && b.gen == gen && b.now().Before(b.cred.ExpiresAt) {
		token := b.cred.Token
		b.mu.RUnlock()
		return token, nil
	}
	b.mu.RUnlock()

	token, lifetime, err := b.grant.Exchange(ctx)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		b.logger.Error("credential exchange failed", slog.String("error", err.Error()))
		b.Invalidate()
		return "", fmt.Errorf("boxauth: %w: %v", apperr.ErrAuth, err)
	}
	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}

	b.mu.Lock()
	if b.gen == gen {
		b.cred = &Credential{Token: token, ExpiresAt: b.now().Add(lifetime - SafetyMargin)}
	}
	b.mu.Unlock()

	b.logger.Debug("credential refreshed", slog.Duration("lifetime", lifetime))
	return token, nil
}

// Invalidate drops the cached credential so the next Token call exchanges
// a new one.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.cred = nil
	b.gen++
	b.mu.Unlock()
}

// Cached returns a copy of the cached credential, if any.
func (b *Broker) Cached() (Credential, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cred == nil {
		return Credential{}, false
	}
	return *b.cred, true
}
