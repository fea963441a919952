package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/surveybox/internal/storage"
)

// Auth modes for the admin API.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Box credential modes.
const (
	BoxAuthStatic  = "static"
	BoxAuthRefresh = "refresh"
	BoxAuthJWT     = "jwt"
)

// Storage backends.
const (
	BackendBox   = "box"
	BackendLocal = "local"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Webhook WebhookConfig     `yaml:"webhook"`
	Storage StorageConfig     `yaml:"storage"`
	Box     BoxConfig         `yaml:"box"`
	Journal JournalConfig     `yaml:"journal"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Storage.Backend == BackendBox {
		if err := c.Box.Validate(); err != nil {
			return fmt.Errorf("box: %w", err)
		}
	}
	if err := c.Journal.Validate(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// WebhookConfig holds the inbound webhook settings.
type WebhookConfig struct {
	// Secret must match the "token" field of every submission.
	Secret           string `yaml:"secret"`
	DefaultStudyType string `yaml:"default_study_type"`
	// Timezone is the IANA zone for response dates without one and for
	// the fallback "today".
	Timezone string `yaml:"timezone"`
}

// Validate validates the webhook configuration.
func (c *WebhookConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Secret, validation.Required),
		validation.Field(&c.Timezone, validation.Required, validation.By(func(any) error {
			_, err := time.LoadLocation(c.Timezone)
			return err
		})),
	)
}

// Location returns the configured time zone.
func (c *WebhookConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	// LocalPath is the root directory for the local backend.
	LocalPath string `yaml:"local_path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendBox, BackendLocal)),
		validation.Field(&c.LocalPath, validation.When(c.Backend == BackendLocal, validation.Required)),
	)
}

// BoxConfig holds Box API endpoints, credentials and timeouts.
type BoxConfig struct {
	AuthMode  string `yaml:"auth_mode"`
	APIURL    string `yaml:"api_url"`
	UploadURL string `yaml:"upload_url"`
	TokenURL  string `yaml:"token_url"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// AccessToken is used by the static mode.
	AccessToken string `yaml:"access_token"`
	// RefreshToken seeds the refresh mode. Box rotates it on every use.
	RefreshToken string    `yaml:"refresh_token"`
	JWT          JWTConfig `yaml:"jwt"`

	DefaultFolderID string        `yaml:"default_folder_id"`
	ListTimeout     time.Duration `yaml:"list_timeout"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
	TokenTimeout    time.Duration `yaml:"token_timeout"`
	Probe           ProbeConfig   `yaml:"probe"`
}

// Validate validates the Box configuration.
func (c *BoxConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.AuthMode, validation.Required, validation.In(BoxAuthStatic, BoxAuthRefresh, BoxAuthJWT)),
		validation.Field(&c.AccessToken, validation.When(c.AuthMode == BoxAuthStatic, validation.Required)),
		validation.Field(&c.ClientID, validation.When(c.AuthMode != BoxAuthStatic, validation.Required)),
		validation.Field(&c.ClientSecret, validation.When(c.AuthMode != BoxAuthStatic, validation.Required)),
		validation.Field(&c.RefreshToken, validation.When(c.AuthMode == BoxAuthRefresh, validation.Required)),
		validation.Field(&c.ListTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.TransferTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.TokenTimeout, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.AuthMode == BoxAuthJWT {
		if err := c.JWT.Validate(); err != nil {
			return fmt.Errorf("jwt: %w", err)
		}
	}
	return c.Probe.Validate()
}

// JWTConfig holds the JWT bearer grant settings.
type JWTConfig struct {
	// Exactly one of EnterpriseID and UserID selects the token subject.
	EnterpriseID   string `yaml:"enterprise_id"`
	UserID         string `yaml:"user_id"`
	KeyID          string `yaml:"key_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	// WatchKey reloads the private key when the file changes.
	WatchKey bool `yaml:"watch_key"`
}

// Validate validates the JWT configuration.
func (c *JWTConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.KeyID, validation.Required),
		validation.Field(&c.PrivateKeyPath, validation.Required),
	); err != nil {
		return err
	}
	if (c.EnterpriseID == "") == (c.UserID == "") {
		return errors.New("exactly one of enterprise_id and user_id must be set")
	}
	return nil
}

// Subject returns the box_sub_type and subject id for the assertion.
func (c *JWTConfig) Subject() (subType, id string) {
	if c.UserID != "" {
		return "user", c.UserID
	}
	return "enterprise", c.EnterpriseID
}

// ProbeConfig bounds retries of folder existence probes.
type ProbeConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Validate validates the probe configuration.
func (c *ProbeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Attempts, validation.Min(1), validation.Max(10)),
		validation.Field(&c.Delay, validation.Min(time.Duration(0))),
	)
}

// JournalConfig controls the SQLite submission journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the journal configuration.
func (c *JournalConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// AuthConfig holds authentication configuration for the admin API
// (/api/*). The webhook authenticates with its own shared secret.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Webhook: WebhookConfig{
			DefaultStudyType: "survey",
			Timezone:         "America/New_York",
		},
		Storage: StorageConfig{
			Backend:   BackendBox,
			LocalPath: "./data",
		},
		Box: BoxConfig{
			AuthMode:        BoxAuthRefresh,
			DefaultFolderID: storage.RootFolderID,
			ListTimeout:     10 * time.Second,
			TransferTimeout: 60 * time.Second,
			TokenTimeout:    15 * time.Second,
			Probe: ProbeConfig{
				Attempts: 3,
				Delay:    2 * time.Second,
			},
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "./surveybox.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
