package gate

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	// LocalsClientKey holds the *ClientSession of the request
	LocalsClientKey = "tourgate_client"
	// LocalsSessionKey holds the Session snapshot that was authorized
	LocalsSessionKey = "tourgate_session"
	// LocalsRoleKey holds the resolved Role
	LocalsRoleKey = "tourgate_role"
)

// RouteGuard turns gate decisions into fiber responses.
type RouteGuard struct {
	registry *ClientRegistry
	cfg      Config
	Logger   Logger
	activity ActivitySink
	metrics  *Metrics

	// LoadingView is rendered while the session resolves. When empty a
	// minimal HTML placeholder is sent instead.
	LoadingView string
	// LoadingRefresh is the Refresh header value sent with the placeholder
	LoadingRefresh time.Duration
}

// NewRouteGuard returns a guard reading clients from registry
func NewRouteGuard(registry *ClientRegistry, cfg Config) *RouteGuard {
	return &RouteGuard{
		registry:       registry,
		cfg:            cfg,
		Logger:         defLogger{},
		activity:       noopActivitySink{},
		LoadingRefresh: time.Second,
	}
}

func (g *RouteGuard) WithLogger(logger Logger) *RouteGuard {
	if logger != nil {
		g.Logger = logger
	}
	return g
}

func (g *RouteGuard) WithActivitySink(sink ActivitySink) *RouteGuard {
	g.activity = normalizeActivitySink(sink)
	return g
}

func (g *RouteGuard) WithMetrics(metrics *Metrics) *RouteGuard {
	g.metrics = metrics
	return g
}

// WithClient is a middleware that only attaches the client session to the
// request, for public pages that still want to know who is signed in.
func (g *RouteGuard) WithClient() fiber.Handler {
	return func(c *fiber.Ctx) error {
		client, err := g.registry.Client(c)
		if err != nil {
			return err
		}
		c.Locals(LocalsClientKey, client)
		c.Locals(LocalsSessionKey, client.Store.Snapshot())
		return c.Next()
	}
}

// Protect guards a route with req
func (g *RouteGuard) Protect(req Requirement) fiber.Handler {
	return func(c *fiber.Ctx) error {
		client, err := g.registry.Client(c)
		if err != nil {
			return err
		}
		c.Locals(LocalsClientKey, client)

		session, decision := g.decide(c.UserContext(), client, req)
		g.metrics.ObserveDecision(decision.State)

		switch decision.Action() {
		case ActionRender:
			c.Locals(LocalsSessionKey, session)
			c.Locals(LocalsRoleKey, decision.Role)
			return c.Next()
		case ActionRedirectLogin:
			return g.redirectToLogin(c)
		case ActionLogout:
			g.Logger.Info("user present without token, tearing session down", "client", client.ID, "path", c.OriginalURL())
			if err := client.Logout(c.UserContext()); err != nil {
				g.Logger.Error("logout after expired token failed", "client", client.ID, "error", err)
			}
			return g.redirectToLogin(c)
		case ActionRedirectForbidden:
			recordActivity(c.UserContext(), g.activity, g.Logger, ActivityEvent{
				EventType: ActivityEventForbidden,
				ClientID:  client.ID,
				Email:     session.Email(),
				Metadata: map[string]any{
					"path": c.OriginalURL(),
					"role": decision.Role.String(),
				},
			})
			return c.Redirect(g.cfg.GetForbiddenPath(), redirectStatus(c))
		default:
			return g.renderLoading(c, decision)
		}
	}
}

// decide evaluates the gate, waiting up to the resolve window for pending
// states to settle.
func (g *RouteGuard) decide(ctx context.Context, client *ClientSession, req Requirement) (Session, Decision) {
	wait := g.cfg.GetResolveWait()
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for {
		changed := client.Store.Changed()
		session := client.Store.Snapshot()

		var role RoleState
		if req.RoleGated() && session.User != nil && !session.ResolvingToken && session.AccessToken != "" {
			// errors are already folded into role, the gate only needs state
			role, _ = client.Roles.ResolveRole(ctx, session.Email(), session.ResolvingUser)
		}

		decision := Evaluate(session, req, role)
		if decision.Action() != ActionWait {
			return session, decision
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return session, decision
		}
	}
}

func (g *RouteGuard) renderLoading(c *fiber.Ctx, decision Decision) error {
	if g.LoadingRefresh > 0 {
		seconds := int(g.LoadingRefresh / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		c.Set("Refresh", strconv.Itoa(seconds))
	}
	c.Set(fiber.HeaderCacheControl, "no-store")

	if g.LoadingView != "" {
		return c.Status(http.StatusOK).Render(g.LoadingView, fiber.Map{
			"state": decision.State.String(),
			"path":  c.OriginalURL(),
		})
	}

	c.Type("html")
	return c.Status(http.StatusOK).SendString(`<!doctype html><title>Loading</title><p data-state="` + decision.State.String() + `">Loading…</p>`)
}

func (g *RouteGuard) redirectToLogin(c *fiber.Ctx) error {
	g.SetRedirect(c)
	return c.Redirect(g.cfg.GetLoginPath(), redirectStatus(c))
}

// SetRedirect remembers the rejected route so login can send the user back
func (g *RouteGuard) SetRedirect(c *fiber.Ctx) {
	rejectedRoute := g.cfg.GetRejectedRouteKey()

	g.Logger.Debug("Setting redirect cookie", "key", rejectedRoute, "path", c.OriginalURL())

	c.Cookie(&fiber.Cookie{
		Name:     rejectedRoute,
		Value:    c.OriginalURL(),
		Path:     "/",
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   g.cfg.GetSecureCookies(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// GetRedirect returns the remembered route, or def, and clears it
func (g *RouteGuard) GetRedirect(c *fiber.Ctx, def ...string) string {
	fallback := g.cfg.GetRejectedRouteDefault()
	if len(def) > 0 && def[0] != "" {
		fallback = def[0]
	}

	rejectedRoute := g.cfg.GetRejectedRouteKey()
	r := c.Cookies(rejectedRoute)
	g.cookieDel(c, rejectedRoute)

	if !isLocalPath(r) {
		return fallback
	}
	return r
}

func (g *RouteGuard) cookieDel(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   g.cfg.GetSecureCookies(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// ClientFromContext returns the client attached by the guard
func ClientFromContext(c *fiber.Ctx) (*ClientSession, bool) {
	client, ok := c.Locals(LocalsClientKey).(*ClientSession)
	return client, ok && client != nil
}

// SessionFromContext returns the authorized session snapshot
func SessionFromContext(c *fiber.Ctx) (Session, bool) {
	session, ok := c.Locals(LocalsSessionKey).(Session)
	return session, ok
}

// RoleFromContext returns the resolved role or RoleUnknown
func RoleFromContext(c *fiber.Ctx) Role {
	role, ok := c.Locals(LocalsRoleKey).(Role)
	if !ok {
		return RoleUnknown
	}
	return role
}

func redirectStatus(c *fiber.Ctx) int {
	if c.Method() == fiber.MethodGet {
		return http.StatusFound
	}
	return http.StatusSeeOther
}

// isLocalPath rejects absolute and protocol relative URLs
func isLocalPath(path string) bool {
	if path == "" || !strings.HasPrefix(path, "/") {
		return false
	}
	return !strings.HasPrefix(path, "//") && !strings.HasPrefix(path, "/\\")
}
