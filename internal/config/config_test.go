package config_test

import (
	"testing"
	"time"

	"appauth-service/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestLoad_RequiresAdminKeyHash(t *testing.T) {
	t.Setenv("ADMIN_KEY_HASH", "")

	_, err := config.Load()
	assert.Error(t, err)
	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ADMIN_KEY_HASH", "$2a$10$abcdefghijklmnopqrstuv")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 10*time.Minute, cfg.RequestTokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.AccessBearerTTL)
	assert.Equal(t, 5*time.Minute, cfg.AuthenticationNonceTTL)
	assert.Contains(t, cfg.DatabaseURL, "postgres://")
	assert.Contains(t, cfg.RedisURL, "redis://")
}

func TestLoad_DurationOverrides(t *testing.T) {
	t.Setenv("ADMIN_KEY_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("REQUEST_TOKEN_TTL", "2m")
	t.Setenv("ACCESS_BEARER_TTL", "90")
	t.Setenv("AUTHENTICATION_NONCE_TTL", "not-a-duration")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.RequestTokenTTL)
	// Bare integers are treated as seconds.
	assert.Equal(t, 90*time.Second, cfg.AccessBearerTTL)
	// Unparseable values fall back to the default.
	assert.Equal(t, 5*time.Minute, cfg.AuthenticationNonceTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADMIN_KEY_HASH", "$2a$10$abcdefghijklmnopqrstuv")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://svc:pw@db:5432/appauth")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "postgres://svc:pw@db:5432/appauth", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
}
