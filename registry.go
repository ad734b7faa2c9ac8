package gate

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ClientSession bundles the per client collaborators: one browser, one
// session store, one role cache.
type ClientSession struct {
	ID    string
	Store *Store
	Roles *RoleResolver
	// API is whatever per client backend handle the application wants to
	// hand to its feature handlers, usually an authenticated REST client.
	API any

	mu       sync.Mutex
	lastSeen time.Time
	stop     func()
}

// NewClientSession groups store and roles under id
func NewClientSession(id string, store *Store, roles *RoleResolver) *ClientSession {
	return &ClientSession{
		ID:    id,
		Store: store,
		Roles: roles,
	}
}

// Start subscribes the store to the identity provider and restores the
// persisted token. Both flows run independently; the gate reconciles them.
func (c *ClientSession) Start(ctx context.Context, restoreTimeout time.Duration, logger Logger) error {
	stop, err := c.Store.ObserveSession(context.Background())
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()

	go func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		if err := c.Store.RestoreToken(rctx); err != nil {
			logger.Error("token restore failed", "client", c.ID, "error", err)
		}
	}()

	return nil
}

// Close releases the identity provider subscription
func (c *ClientSession) Close() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Logout clears the session and forgets cached roles
func (c *ClientSession) Logout(ctx context.Context) error {
	err := c.Store.ClearSession(ctx)
	if c.Roles != nil {
		c.Roles.Reset()
	}
	return err
}

func (c *ClientSession) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *ClientSession) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// ClientFactory builds the session for a client id. The registry starts it.
type ClientFactory func(ctx context.Context, clientID string) (*ClientSession, error)

// ClientRegistry keeps one ClientSession per browser, keyed by an opaque
// client cookie. Sessions are created lazily and evicted when idle.
type ClientRegistry struct {
	mu      sync.Mutex
	clients map[string]*ClientSession
	factory ClientFactory
	cfg     Config
	now     func() time.Time
	logger  Logger
	metrics *Metrics
}

// NewClientRegistry creates a registry
func NewClientRegistry(factory ClientFactory, cfg Config) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*ClientSession),
		factory: factory,
		cfg:     cfg,
		now:     time.Now,
		logger:  defLogger{},
	}
}

func (r *ClientRegistry) WithLogger(logger Logger) *ClientRegistry {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *ClientRegistry) WithClock(now func() time.Time) *ClientRegistry {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *ClientRegistry) WithMetrics(metrics *Metrics) *ClientRegistry {
	r.metrics = metrics
	return r
}

// Len returns the number of live client sessions
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Client resolves the client of the request from its cookie, issuing a
// new id when the cookie is missing or not a valid id.
func (r *ClientRegistry) Client(c *fiber.Ctx) (*ClientSession, error) {
	name := r.cfg.GetClientCookie()
	id := c.Cookies(name)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	client, err := r.Get(c.UserContext(), id)
	if err != nil {
		return nil, err
	}

	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		Expires:  r.now().Add(365 * 24 * time.Hour),
		HTTPOnly: true,
		Secure:   r.cfg.GetSecureCookies(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return client, nil
}

// Get returns the session for id, creating and starting it if needed.
func (r *ClientRegistry) Get(ctx context.Context, id string) (*ClientSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[id]; ok {
		client.touch(r.now())
		return client, nil
	}

	client, err := r.factory(ctx, id)
	if err != nil {
		return nil, WrapError(ErrClientUnavailable, err, map[string]any{"client": id})
	}

	if err := client.Start(ctx, r.cfg.GetRequestTimeout(), r.logger); err != nil {
		return nil, WrapError(ErrClientUnavailable, err, map[string]any{"client": id})
	}

	client.touch(r.now())
	r.clients[id] = client
	r.metrics.SetActiveClients(len(r.clients))
	r.logger.Debug("client session created", "client", id)
	return client, nil
}

// Sweep closes and forgets sessions idle for longer than the configured TTL
func (r *ClientRegistry) Sweep() int {
	cutoff := r.now().Add(-r.cfg.GetClientIdleTTL())

	r.mu.Lock()
	var evicted []*ClientSession
	for id, client := range r.clients {
		if client.idleSince().Before(cutoff) {
			evicted = append(evicted, client)
			delete(r.clients, id)
		}
	}
	r.metrics.SetActiveClients(len(r.clients))
	r.mu.Unlock()

	for _, client := range evicted {
		client.Close()
	}

	if len(evicted) > 0 {
		r.logger.Info("evicted idle client sessions", "count", len(evicted))
	}
	return len(evicted)
}

// Run sweeps every interval until ctx is done
func (r *ClientRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close releases every session
func (r *ClientRegistry) Close() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*ClientSession)
	r.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
	r.metrics.SetActiveClients(0)
}
