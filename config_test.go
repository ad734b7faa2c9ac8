package gate_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gate "github.com/goliatone/go-auth-gate"
)

func TestLoadEnvConfig_Defaults(t *testing.T) {
	cfg, err := gate.LoadEnvConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8572", cfg.Addr)
	assert.Equal(t, gate.DefaultTokenTTL, cfg.GetTokenTTL())
	assert.Equal(t, gate.DefaultResolveWait, cfg.GetResolveWait())
	assert.Equal(t, gate.DefaultClientCookie, cfg.GetClientCookie())
	assert.Equal(t, "/", cfg.GetRejectedRouteDefault())
	assert.True(t, cfg.GetSecureCookies())
}

func TestLoadEnvConfig_Overrides(t *testing.T) {
	t.Setenv("TOURGATE_TOKEN_TTL", "2h")
	t.Setenv("TOURGATE_BACKEND_URL", "https://api.tours.test")
	t.Setenv("TOURGATE_REDIS_ADDR", "localhost:6379")
	t.Setenv("TOURGATE_SECURE_COOKIES", "false")
	t.Setenv("TOURGATE_LOGIN_PATH", "/sign-in")

	cfg, err := gate.LoadEnvConfig()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.GetTokenTTL())
	assert.Equal(t, "https://api.tours.test", cfg.BackendURL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.False(t, cfg.GetSecureCookies())
	assert.Equal(t, "/sign-in", cfg.GetLoginPath())
}

func TestLoadEnvConfig_Invalid(t *testing.T) {
	t.Setenv("TOURGATE_TOKEN_TTL", "a day")

	_, err := gate.LoadEnvConfig()
	require.Error(t, err)
}

func TestEnvConfig_ZeroValuesFallBack(t *testing.T) {
	cfg := &gate.EnvConfig{ResolveWait: -time.Second}
	assert.Equal(t, gate.DefaultResolveWait, cfg.GetResolveWait())

	cfg = &gate.EnvConfig{}

	assert.Equal(t, gate.DefaultTokenTTL, cfg.GetTokenTTL())
	assert.Equal(t, gate.DefaultRequestTimeout, cfg.GetRequestTimeout())
	assert.Equal(t, gate.DefaultResolveWait, cfg.GetResolveWait())
	assert.Equal(t, gate.DefaultClientIdleTTL, cfg.GetClientIdleTTL())
	assert.Equal(t, gate.DefaultRejectedRouteKey, cfg.GetRejectedRouteKey())
	assert.Equal(t, gate.DefaultForbiddenPath, cfg.GetForbiddenPath())
}
