package gate

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RoleResolver maps an email to its backend role. Successful lookups are
// cached per email for the lifetime of the resolver; failures are not.
type RoleResolver struct {
	mu      sync.RWMutex
	fetcher RoleFetcher
	cache   map[string]Role
	group   singleflight.Group
	logger  Logger
	metrics *Metrics
	timeout time.Duration
}

// NewRoleResolver returns a resolver backed by fetcher
func NewRoleResolver(fetcher RoleFetcher) *RoleResolver {
	return &RoleResolver{
		fetcher: fetcher,
		cache:   make(map[string]Role),
		logger:  defLogger{},
		timeout: DefaultRequestTimeout,
	}
}

// WithFetchTimeout bounds a single backend lookup. The lookup outlives the
// caller that started it, so waiters that give up early do not cancel it.
func (r *RoleResolver) WithFetchTimeout(timeout time.Duration) *RoleResolver {
	if timeout > 0 {
		r.timeout = timeout
	}
	return r
}

func (r *RoleResolver) WithLogger(logger Logger) *RoleResolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *RoleResolver) WithMetrics(metrics *Metrics) *RoleResolver {
	r.metrics = metrics
	return r
}

// Cached returns the cached role for email, if any
func (r *RoleResolver) Cached(email string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.cache[cacheKey(email)]
	return role, ok
}

// Reset drops every cached role
func (r *RoleResolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]Role)
}

// ResolveRole fetches the role for email. Nothing is fetched while auth is
// still loading or without an email: the state is then unresolved with
// RoleUnknown. Backend failures resolve to the previous cached value or
// RoleUnknown and the error is returned. ctx only bounds the wait: when it
// is done first the state stays unresolved and the lookup keeps running so
// the next call finds the role cached.
func (r *RoleResolver) ResolveRole(ctx context.Context, email string, authLoading bool) (RoleState, error) {
	key := cacheKey(email)
	if authLoading || key == "" {
		return RoleState{Role: RoleUnknown}, nil
	}

	if role, ok := r.Cached(key); ok {
		return RoleState{Role: role, Resolved: true}, nil
	}

	ch := r.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		start := time.Now()
		raw, err := r.fetcher.FetchRole(fctx, email)
		r.metrics.ObserveRoleFetch(start, err)
		if err != nil {
			return RoleUnknown, err
		}

		role, ok := ParseRole(raw)
		if !ok {
			r.logger.Warn("backend returned unknown role", "email", email, "role", raw)
		}

		r.mu.Lock()
		r.cache[key] = role
		r.mu.Unlock()
		return role, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return RoleState{Role: RoleUnknown}, nil
	}

	if res.Err != nil {
		r.logger.Error("role fetch failed", "email", email, "error", res.Err)
		err := WrapError(ErrRoleFetchFailed, res.Err, map[string]any{"email": email})
		return RoleState{Role: RoleUnknown, Resolved: true, Err: err}, err
	}

	return RoleState{Role: res.Val.(Role), Resolved: true}, nil
}

func cacheKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
