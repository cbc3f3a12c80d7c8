package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.VerificationTTL)
	assert.Equal(t, 10*time.Minute, cfg.Auth.CodeTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTTL)
	assert.Equal(t, 6, cfg.Auth.MinPasswordLength)
	assert.Equal(t, "direct", cfg.Notify.Mode)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "mongo")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("REQUIRE_VERIFIED_LOGIN", "yes")
	t.Setenv("FRONTEND_URL", "https://shop.example.com/")
	t.Setenv("RESET_TOKEN_TTL", "not-a-duration")

	cfg := LoadConfig()

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, "mongo", cfg.Database.Driver)
	assert.Equal(t, 2*time.Hour, cfg.Auth.SessionTTL)
	assert.True(t, cfg.Auth.RequireVerified)
	assert.Equal(t, "https://shop.example.com", cfg.Auth.FrontendURL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTTL)
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("NOTIFY_MODE", "queue")
	t.Setenv("MQ_BACKEND", "none")

	err := LoadConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), `unknown DB_DRIVER "sqlite"`)
	assert.Contains(t, err.Error(), "NOTIFY_MODE=queue requires MQ_BACKEND")
}
