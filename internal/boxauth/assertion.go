package boxauth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2/jws"
)

const jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// DefaultAssertionValidity is how long a minted assertion stays valid.
const DefaultAssertionValidity = 45 * time.Second

// AssertionConfig configures the JWT bearer grant.
type AssertionConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// SubjectType is "enterprise" or "user".
	SubjectType string
	SubjectID   string
	// KeyID is the id of the public key registered with Box.
	KeyID string
	// KeyPath points to an unencrypted PEM RSA private key (PKCS#1 or
	// PKCS#8).
	KeyPath  string
	Validity time.Duration
	Timeout  time.Duration
}

// AssertionGrant exchanges a freshly signed JWT assertion for an access
// token. Every exchange mints a new assertion with its own jti, so a retry
// never presents an assertion Box has already seen.
type AssertionGrant struct {
	cfg        AssertionConfig
	httpClient *http.Client
	now        func() time.Time

	mu  sync.RWMutex
	key *rsa.PrivateKey
}

// NewAssertionGrant loads the private key and returns the grant.
func NewAssertionGrant(cfg AssertionConfig, httpClient *http.Client) (*AssertionGrant, error) {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultAssertionValidity
	}
	if cfg.SubjectType == "" {
		cfg.SubjectType = "enterprise"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	g := &AssertionGrant{cfg: cfg, httpClient: httpClient, now: time.Now}
	if err := g.ReloadKey(); err != nil {
		return nil, err
	}
	return g, nil
}

// ReloadKey re-reads the private key from disk.
func (g *AssertionGrant) ReloadKey() error {
	data, err := os.ReadFile(g.cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("boxauth: read private key: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.key = key
	g.mu.Unlock()
	return nil
}

// KeyPath returns the watched key file.
func (g *AssertionGrant) KeyPath() string {
	return g.cfg.KeyPath
}

// Assertion mints and signs one single-use assertion.
func (g *AssertionGrant) Assertion() (string, error) {
	g.mu.RLock()
	key := g.key
	g.mu.RUnlock()

	now := g.now()
	claims := &jws.ClaimSet{
		Iss: g.cfg.ClientID,
		Sub: g.cfg.SubjectID,
		Aud: g.cfg.TokenURL,
		Iat: now.Unix(),
		Exp: now.Add(g.cfg.Validity).Unix(),
		PrivateClaims: map[string]any{
			"box_sub_type": g.cfg.SubjectType,
			"jti":          uuid.NewString(),
		},
	}
	header := &jws.Header{Algorithm: "RS256", Typ: "JWT", KeyID: g.cfg.KeyID}
	signed, err := jws.Encode(header, claims, key)
	if err != nil {
		return "", fmt.Errorf("boxauth: sign assertion: %w", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Exchange implements Grant.
func (g *AssertionGrant) Exchange(ctx context.Context) (string, time.Duration, error) {
	assertion, err := g.Assertion()
	if err != nil {
		return "", 0, err
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	form := url.Values{
		"grant_type":    {jwtBearerGrantType},
		"assertion":     {assertion},
		"client_id":     {g.cfg.ClientID},
		"client_secret": {g.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("jwt grant: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, fmt.Errorf("jwt grant: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("jwt grant: status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("jwt grant: decode response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("jwt grant: response has no access_token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}

// ParsePrivateKey decodes an unencrypted PEM RSA private key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("boxauth: private key is not PEM encoded")
	}
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		return nil, errors.New("boxauth: encrypted private keys are not supported, decrypt the key first")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("boxauth: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("boxauth: private key is not RSA")
	}
	return key, nil
}
