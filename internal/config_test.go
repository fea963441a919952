package internal

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/starford/surveybox/pkg/config"
)

func validConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Webhook.Secret = "s3cret"
	cfg.Box.ClientID = "client"
	cfg.Box.ClientSecret = "secret"
	cfg.Box.RefreshToken = "refresh"
	return cfg
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.AuthEnabled())
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, AuthModeDisabled, cfg.Mode)
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AuthEnabled())
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is empty")
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	assert.Error(t, cfg.Validate())
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	assert.Error(t, cfg.Validate())
}

func TestFullConfig_Defaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.App.HTTP.Address())
	assert.Equal(t, "0", cfg.Box.DefaultFolderID)
	assert.Equal(t, 3, cfg.Box.Probe.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Box.Probe.Delay)

	loc, err := cfg.Webhook.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}

func TestWebhookConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WebhookConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*WebhookConfig) {}},
		{name: "missing secret", mutate: func(c *WebhookConfig) { c.Secret = "" }, wantErr: true},
		{name: "unknown zone", mutate: func(c *WebhookConfig) { c.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "utc", mutate: func(c *WebhookConfig) { c.Timezone = "UTC" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig().Webhook
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBoxConfig_AuthModes(t *testing.T) {
	tests := []struct {
		name    string
		box     BoxConfig
		wantErr bool
	}{
		{name: "static with token", box: BoxConfig{AuthMode: BoxAuthStatic, AccessToken: "tok"}},
		{name: "static without token", box: BoxConfig{AuthMode: BoxAuthStatic}, wantErr: true},
		{name: "refresh complete", box: BoxConfig{AuthMode: BoxAuthRefresh, ClientID: "id", ClientSecret: "sec", RefreshToken: "r"}},
		{name: "refresh without token", box: BoxConfig{AuthMode: BoxAuthRefresh, ClientID: "id", ClientSecret: "sec"}, wantErr: true},
		{
			name: "jwt enterprise",
			box: BoxConfig{AuthMode: BoxAuthJWT, ClientID: "id", ClientSecret: "sec", JWT: JWTConfig{
				EnterpriseID: "123", KeyID: "kid", PrivateKeyPath: "/keys/box.pem",
			}},
		},
		{
			name: "jwt both subjects",
			box: BoxConfig{AuthMode: BoxAuthJWT, ClientID: "id", ClientSecret: "sec", JWT: JWTConfig{
				EnterpriseID: "123", UserID: "9", KeyID: "kid", PrivateKeyPath: "/keys/box.pem",
			}},
			wantErr: true,
		},
		{
			name: "jwt without key",
			box: BoxConfig{AuthMode: BoxAuthJWT, ClientID: "id", ClientSecret: "sec", JWT: JWTConfig{
				UserID: "9", KeyID: "kid",
			}},
			wantErr: true,
		},
		{name: "unknown mode", box: BoxConfig{AuthMode: "magic"}, wantErr: true},
		{name: "probe attempts too high", box: BoxConfig{AuthMode: BoxAuthStatic, AccessToken: "tok", Probe: ProbeConfig{Attempts: 50}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJWTConfig_Subject(t *testing.T) {
	typ, id := (&JWTConfig{EnterpriseID: "123"}).Subject()
	assert.Equal(t, "enterprise", typ)
	assert.Equal(t, "123", id)

	typ, id = (&JWTConfig{UserID: "9"}).Subject()
	assert.Equal(t, "user", typ)
	assert.Equal(t, "9", id)
}

func TestFullConfig_LocalBackendSkipsBox(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Webhook.Secret = "s3cret"
	cfg.Storage.Backend = BackendLocal
	cfg.Box.AuthMode = ""
	require.NoError(t, cfg.Validate())

	cfg.Storage.LocalPath = ""
	assert.Error(t, cfg.Validate())
}

func TestJournalConfig_PathRequiredWhenEnabled(t *testing.T) {
	assert.NoError(t, (&JournalConfig{Enabled: false}).Validate())
	assert.Error(t, (&JournalConfig{Enabled: true}).Validate())
}

func TestShippedConfigLoads(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("BOX_CLIENT_ID", "client")
	t.Setenv("BOX_CLIENT_SECRET", "secret")
	t.Setenv("BOX_REFRESH_TOKEN", "refresh")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TIMEZONE", "")

	cfg := NewDefaultConfig()
	require.NoError(t, pkgconfig.Load("../config/config.yaml", cfg))

	assert.Equal(t, slog.LevelDebug, cfg.App.LogLevel)
	assert.Equal(t, 8080, cfg.App.HTTP.Port)
	assert.Equal(t, "s3cret", cfg.Webhook.Secret)
	assert.Equal(t, "America/New_York", cfg.Webhook.Timezone)
	assert.Equal(t, BoxAuthRefresh, cfg.Box.AuthMode)
	assert.Equal(t, "refresh", cfg.Box.RefreshToken)
	assert.Equal(t, 60*time.Second, cfg.Box.TransferTimeout)
	assert.Equal(t, 2*time.Second, cfg.Box.Probe.Delay)
	assert.Empty(t, cfg.Box.JWT.UserID)
	assert.True(t, cfg.Journal.Enabled)
	assert.False(t, cfg.Auth.AuthEnabled())
}
