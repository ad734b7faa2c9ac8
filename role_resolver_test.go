package gate_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	gate "github.com/goliatone/go-auth-gate"
)

func newResolver(fetcher gate.RoleFetcher) *gate.RoleResolver {
	return gate.NewRoleResolver(fetcher).WithLogger(gate.NopLogger{})
}

func TestRoleResolver_NoFetchWhileLoading(t *testing.T) {
	fetcher := new(MockRoleFetcher)
	resolver := newResolver(fetcher)

	state, err := resolver.ResolveRole(context.Background(), "ana@example.com", true)
	require.NoError(t, err)
	assert.False(t, state.Resolved)
	assert.Equal(t, gate.RoleUnknown, state.Role)

	state, err = resolver.ResolveRole(context.Background(), "", false)
	require.NoError(t, err)
	assert.False(t, state.Resolved)

	fetcher.AssertNotCalled(t, "FetchRole", mock.Anything, mock.Anything)
}

func TestRoleResolver_CachesPerEmail(t *testing.T) {
	fetcher := new(MockRoleFetcher)
	fetcher.On("FetchRole", mock.Anything, "ana@example.com").Return("tour-guide", nil).Once()
	resolver := newResolver(fetcher)

	state, err := resolver.ResolveRole(context.Background(), "ana@example.com", false)
	require.NoError(t, err)
	assert.True(t, state.Resolved)
	assert.Equal(t, gate.RoleTourGuide, state.Role)

	state, err = resolver.ResolveRole(context.Background(), " ANA@example.com ", false)
	require.NoError(t, err)
	assert.Equal(t, gate.RoleTourGuide, state.Role)

	cached, ok := resolver.Cached("ana@example.com")
	assert.True(t, ok)
	assert.Equal(t, gate.RoleTourGuide, cached)

	fetcher.AssertNumberOfCalls(t, "FetchRole", 1)
}

func TestRoleResolver_UnknownLabel(t *testing.T) {
	fetcher := new(MockRoleFetcher)
	fetcher.On("FetchRole", mock.Anything, "ana@example.com").Return("superuser", nil).Once()

	state, err := newResolver(fetcher).ResolveRole(context.Background(), "ana@example.com", false)
	require.NoError(t, err)
	assert.True(t, state.Resolved)
	assert.Equal(t, gate.RoleUnknown, state.Role)
}

func TestRoleResolver_FailureIsNotCached(t *testing.T) {
	fetcher := new(MockRoleFetcher)
	fetcher.On("FetchRole", mock.Anything, "ana@example.com").Return("", errors.New("backend down")).Once()
	fetcher.On("FetchRole", mock.Anything, "ana@example.com").Return("admin", nil).Once()

	reg := prometheus.NewRegistry()
	metrics := gate.NewMetrics(reg)
	resolver := newResolver(fetcher).WithMetrics(metrics)

	state, err := resolver.ResolveRole(context.Background(), "ana@example.com", false)
	require.Error(t, err)
	assert.True(t, gate.HasTextCode(err, gate.TextCodeRoleFetchFailed))
	assert.True(t, state.Resolved)
	assert.Equal(t, gate.RoleUnknown, state.Role)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RoleFetchErrors))

	state, err = resolver.ResolveRole(context.Background(), "ana@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, gate.RoleAdmin, state.Role)
}

func TestRoleResolver_CanceledStaysUnresolved(t *testing.T) {
	fetcher := new(MockRoleFetcher)
	release := make(chan struct{})
	fetcher.On("FetchRole", mock.Anything, "ana@example.com").
		Run(func(mock.Arguments) { <-release }).
		Return("admin", nil).Once()
	resolver := newResolver(fetcher)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	state, err := resolver.ResolveRole(ctx, "ana@example.com", false)
	require.NoError(t, err)
	assert.False(t, state.Resolved)
	assert.Equal(t, gate.RoleUnknown, state.Role)

	close(release)
	assert.Eventually(t, func() bool {
		_, ok := resolver.Cached("ana@example.com")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestRoleResolver_ConcurrentCallsShareOneFetch(t *testing.T) {
	fetcher := new(MockRoleFetcher)
	release := make(chan struct{})
	fetcher.On("FetchRole", mock.Anything, "ana@example.com").
		Run(func(mock.Arguments) { <-release }).
		Return("tourist", nil).Once()
	resolver := newResolver(fetcher)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan gate.RoleState, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, _ := resolver.ResolveRole(context.Background(), "ana@example.com", false)
			results <- state
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for state := range results {
		assert.Equal(t, gate.RoleTourist, state.Role)
	}
	fetcher.AssertNumberOfCalls(t, "FetchRole", 1)
}

func TestRoleResolver_Reset(t *testing.T) {
	fetcher := new(MockRoleFetcher)
	fetcher.On("FetchRole", mock.Anything, "ana@example.com").Return("tourist", nil).Twice()
	resolver := newResolver(fetcher)

	_, err := resolver.ResolveRole(context.Background(), "ana@example.com", false)
	require.NoError(t, err)
	resolver.Reset()

	_, ok := resolver.Cached("ana@example.com")
	assert.False(t, ok)

	_, err = resolver.ResolveRole(context.Background(), "ana@example.com", false)
	require.NoError(t, err)
	fetcher.AssertNumberOfCalls(t, "FetchRole", 2)
}

func TestRoleResolver_SlowFetchOutlivesWaiter(t *testing.T) {
	fetcher := &slowRoleFetcher{delay: 150 * time.Millisecond, role: "admin"}
	resolver := newResolver(fetcher)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	state, err := resolver.ResolveRole(ctx, "ana@example.com", false)
	require.NoError(t, err)
	assert.False(t, state.Resolved)

	assert.Eventually(t, func() bool {
		role, ok := resolver.Cached("ana@example.com")
		return ok && role == gate.RoleAdmin
	}, time.Second, 10*time.Millisecond)

	state, err = resolver.ResolveRole(context.Background(), "ana@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, gate.RoleAdmin, state.Role)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestRoleResolver_FetchTimeoutResolvesUnknown(t *testing.T) {
	fetcher := &slowRoleFetcher{delay: time.Second, role: "admin"}
	resolver := newResolver(fetcher).WithFetchTimeout(30 * time.Millisecond)

	state, err := resolver.ResolveRole(context.Background(), "ana@example.com", false)
	require.Error(t, err)
	assert.True(t, gate.HasTextCode(err, gate.TextCodeRoleFetchFailed))
	assert.True(t, state.Resolved)
	assert.Equal(t, gate.RoleUnknown, state.Role)

	_, ok := resolver.Cached("ana@example.com")
	assert.False(t, ok)
}
