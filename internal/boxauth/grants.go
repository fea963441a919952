package boxauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is Box's OAuth2 token endpoint.
const DefaultTokenURL = "https://api.box.com/oauth2/token"

// StaticGrant hands out a fixed developer token. It cannot be refreshed;
// once Box rejects it every request fails with apperr.ErrAuth.
type StaticGrant struct {
	AccessToken string
}

// Exchange implements Grant.
func (g StaticGrant) Exchange(context.Context) (string, time.Duration, error) {
	if g.AccessToken == "" {
		return "", 0, errors.New("no static access token configured")
	}
	// Box developer tokens live for an hour; we cannot know when this one
	// was minted, so cache it for that long and rely on 401 handling.
	return g.AccessToken, time.Hour, nil
}

// RefreshTokenGrant exchanges a long-lived refresh token for access tokens
// through the OAuth2 refresh_token grant. Box rotates the refresh token on
// every exchange; the rotated value replaces the stored one and is passed
// to OnRotate so it can be persisted.
type RefreshTokenGrant struct {
	config     *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration

	mu           sync.Mutex
	refreshToken string

	// OnRotate, if set, is called with each new refresh token.
	OnRotate func(refreshToken string)
}

// NewRefreshTokenGrant builds a refresh-token grant. httpClient may be nil.
func NewRefreshTokenGrant(tokenURL, clientID, clientSecret, refreshToken string, httpClient *http.Client, timeout time.Duration) *RefreshTokenGrant {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RefreshTokenGrant{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:   httpClient,
		timeout:      timeout,
		refreshToken: refreshToken,
	}
}

// Exchange implements Grant. Exchanges are serialised because each one
// consumes the current refresh token.
func (g *RefreshTokenGrant) Exchange(ctx context.Context) (string, time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	tok, err := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: g.refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", 0, fmt.Errorf("refresh grant: status %d (%s)", re.Response.StatusCode, re.ErrorCode)
		}
		return "", 0, fmt.Errorf("refresh grant: %w", err)
	}

	if tok.RefreshToken != "" && tok.RefreshToken != g.refreshToken {
		g.refreshToken = tok.RefreshToken
		if g.OnRotate != nil {
			g.OnRotate(tok.RefreshToken)
		}
	}

	var lifetime time.Duration
	if !tok.Expiry.IsZero() {
		lifetime = time.Until(tok.Expiry)
	}
	return tok.AccessToken, lifetime, nil
}

// RefreshToken returns the current (possibly rotated) refresh token.
func (g *RefreshTokenGrant) RefreshToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshToken
}
