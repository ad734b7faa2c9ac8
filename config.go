package gate

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultRequestTimeout   = 10 * time.Second
	DefaultResolveWait      = 3 * time.Second
	DefaultClientIdleTTL    = 2 * time.Hour
	DefaultClientCookie     = "tourgate_client"
	DefaultRejectedRouteKey = "tourgate_return_to"
	DefaultLoginPath        = "/login"
	DefaultForbiddenPath    = "/forbidden"
)

// Config holds gate options
type Config interface {
	GetTokenTTL() time.Duration
	GetRequestTimeout() time.Duration
	GetResolveWait() time.Duration
	GetClientCookie() string
	GetClientIdleTTL() time.Duration
	GetRejectedRouteKey() string
	GetRejectedRouteDefault() string
	GetLoginPath() string
	GetForbiddenPath() string
	GetSecureCookies() bool
}

// EnvConfig is the Config loaded from TOURGATE_* environment variables. It
// also carries the collaborators' settings used by the server bootstrap.
type EnvConfig struct {
	Addr  string `env:"TOURGATE_ADDR" envDefault:":8572"`
	Debug bool   `env:"TOURGATE_DEBUG"`

	BackendURL string `env:"TOURGATE_BACKEND_URL" envDefault:"http://localhost:5000"`

	IdentityURL      string `env:"TOURGATE_IDENTITY_URL" envDefault:"https://identitytoolkit.googleapis.com"`
	IdentityTokenURL string `env:"TOURGATE_IDENTITY_TOKEN_URL" envDefault:"https://securetoken.googleapis.com"`
	IdentityAPIKey   string `env:"TOURGATE_IDENTITY_API_KEY"`
	IdentityJWKSURL  string `env:"TOURGATE_IDENTITY_JWKS_URL"`
	IdentityIssuer   string `env:"TOURGATE_IDENTITY_ISSUER"`
	IdentityAudience string `env:"TOURGATE_IDENTITY_AUDIENCE"`

	DatabaseDSN string `env:"TOURGATE_DATABASE_DSN" envDefault:"file:tourgate.db?cache=shared"`
	RedisAddr   string `env:"TOURGATE_REDIS_ADDR"`

	TokenTTL         time.Duration `env:"TOURGATE_TOKEN_TTL" envDefault:"24h"`
	RequestTimeout   time.Duration `env:"TOURGATE_REQUEST_TIMEOUT" envDefault:"10s"`
	ResolveWait      time.Duration `env:"TOURGATE_RESOLVE_WAIT" envDefault:"3s"`
	ClientIdleTTL    time.Duration `env:"TOURGATE_CLIENT_IDLE_TTL" envDefault:"2h"`
	ClientCookie     string        `env:"TOURGATE_CLIENT_COOKIE" envDefault:"tourgate_client"`
	RejectedRouteKey string        `env:"TOURGATE_REJECTED_ROUTE_KEY" envDefault:"tourgate_return_to"`
	RejectedRouteDef string        `env:"TOURGATE_REJECTED_ROUTE_DEFAULT" envDefault:"/"`
	LoginPath        string        `env:"TOURGATE_LOGIN_PATH" envDefault:"/login"`
	ForbiddenPath    string        `env:"TOURGATE_FORBIDDEN_PATH" envDefault:"/forbidden"`
	SecureCookies    bool          `env:"TOURGATE_SECURE_COOKIES" envDefault:"true"`
}

var _ Config = (*EnvConfig)(nil)

// LoadEnvConfig parses the environment into an EnvConfig
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the defaults without reading the environment
func DefaultConfig() *EnvConfig {
	return &EnvConfig{
		Addr:             ":8572",
		TokenTTL:         DefaultTokenTTL,
		RequestTimeout:   DefaultRequestTimeout,
		ResolveWait:      DefaultResolveWait,
		ClientIdleTTL:    DefaultClientIdleTTL,
		ClientCookie:     DefaultClientCookie,
		RejectedRouteKey: DefaultRejectedRouteKey,
		RejectedRouteDef: "/",
		LoginPath:        DefaultLoginPath,
		ForbiddenPath:    DefaultForbiddenPath,
		SecureCookies:    true,
	}
}

func (c *EnvConfig) GetTokenTTL() time.Duration {
	return durationOr(c.TokenTTL, DefaultTokenTTL)
}

func (c *EnvConfig) GetRequestTimeout() time.Duration {
	return durationOr(c.RequestTimeout, DefaultRequestTimeout)
}

func (c *EnvConfig) GetResolveWait() time.Duration {
	return durationOr(c.ResolveWait, DefaultResolveWait)
}

func (c *EnvConfig) GetClientCookie() string {
	return stringOr(c.ClientCookie, DefaultClientCookie)
}

func (c *EnvConfig) GetClientIdleTTL() time.Duration {
	return durationOr(c.ClientIdleTTL, DefaultClientIdleTTL)
}

func (c *EnvConfig) GetRejectedRouteKey() string {
	return stringOr(c.RejectedRouteKey, DefaultRejectedRouteKey)
}

func (c *EnvConfig) GetRejectedRouteDefault() string {
	return stringOr(c.RejectedRouteDef, "/")
}

func (c *EnvConfig) GetLoginPath() string {
	return stringOr(c.LoginPath, DefaultLoginPath)
}

func (c *EnvConfig) GetForbiddenPath() string {
	return stringOr(c.ForbiddenPath, DefaultForbiddenPath)
}

func (c *EnvConfig) GetSecureCookies() bool {
	return c.SecureCookies
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
