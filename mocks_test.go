package gate_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	gate "github.com/goliatone/go-auth-gate"
)

type MockTokenIssuer struct {
	mock.Mock
}

func (m *MockTokenIssuer) IssueToken(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

type MockRoleFetcher struct {
	mock.Mock
}

func (m *MockRoleFetcher) FetchRole(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

// fakeIdentity is an in memory identity provider. Subscribers get the
// current user right away unless deferInitial is set, in which case the
// test drives the first report with Emit.
type fakeIdentity struct {
	mu           sync.Mutex
	accounts     map[string]string
	current      *gate.User
	listeners    map[int]gate.AuthStateListener
	nextID       int
	deferInitial bool
	signOutCalls int
	updateErr    error

	// run around the user report of SignIn
	beforeSignIn func()
	afterSignIn  func()
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		accounts:  map[string]string{},
		listeners: map[int]gate.AuthStateListener{},
	}
}

func (f *fakeIdentity) withAccount(email, password string) *fakeIdentity {
	f.accounts[email] = password
	return f
}

func (f *fakeIdentity) signedInAs(email string) *fakeIdentity {
	f.current = &gate.User{UID: "uid-" + email, Email: email}
	return f
}

func (f *fakeIdentity) Subscribe(listener gate.AuthStateListener) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = listener
	current := f.current.Clone()
	deferInitial := f.deferInitial
	f.mu.Unlock()

	if !deferInitial {
		listener(current)
	}

	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// Emit sets the current user and notifies every subscriber
func (f *fakeIdentity) Emit(user *gate.User) {
	f.mu.Lock()
	f.current = user.Clone()
	listeners := make([]gate.AuthStateListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(user.Clone())
	}
}

func (f *fakeIdentity) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeIdentity) SignUp(_ context.Context, email, password string) (*gate.User, error) {
	f.mu.Lock()
	if _, ok := f.accounts[email]; ok {
		f.mu.Unlock()
		return nil, gate.ErrEmailInUse
	}
	if len(password) < 6 {
		f.mu.Unlock()
		return nil, gate.ErrWeakPassword
	}
	f.accounts[email] = password
	f.mu.Unlock()

	user := &gate.User{UID: "uid-" + email, Email: email}
	f.Emit(user)
	return user.Clone(), nil
}

func (f *fakeIdentity) SignIn(_ context.Context, email, password string) (*gate.User, error) {
	f.mu.Lock()
	stored, ok := f.accounts[email]
	f.mu.Unlock()
	if !ok || stored != password {
		return nil, gate.ErrInvalidCredentials
	}

	if f.beforeSignIn != nil {
		f.beforeSignIn()
	}
	user := &gate.User{UID: "uid-" + email, Email: email}
	f.Emit(user)
	if f.afterSignIn != nil {
		f.afterSignIn()
	}
	return user.Clone(), nil
}

func (f *fakeIdentity) SignInWithProvider(_ context.Context, providerID, credential string) (*gate.User, error) {
	if credential == "" {
		return nil, gate.ErrProviderRejected
	}
	user := &gate.User{UID: providerID + "-" + credential, Email: credential + "@" + providerID + ".test"}
	f.Emit(user)
	return user.Clone(), nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	hadUser := f.current != nil
	f.mu.Unlock()

	if hadUser {
		f.Emit(nil)
	}
	return nil
}

func (f *fakeIdentity) SignOutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

func (f *fakeIdentity) UpdateProfile(_ context.Context, displayName, photoURL string) (*gate.User, error) {
	f.mu.Lock()
	current := f.current.Clone()
	updateErr := f.updateErr
	f.mu.Unlock()

	if updateErr != nil {
		return nil, updateErr
	}
	if current == nil {
		return nil, gate.ErrNotSignedIn
	}
	current.DisplayName = displayName
	current.PhotoURL = photoURL
	f.Emit(current)
	return current.Clone(), nil
}

func (f *fakeIdentity) SendPasswordReset(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[email]; !ok {
		return gate.ErrUserNotFound
	}
	return nil
}

// failingStorage fails every call with err
type failingStorage struct {
	err error
}

func (s failingStorage) Get(context.Context, string, string) (string, bool, error) {
	return "", false, s.err
}

func (s failingStorage) Set(context.Context, string, string, string) error {
	return s.err
}

func (s failingStorage) Delete(context.Context, string, string) error {
	return s.err
}

var errStorageDown = errors.New("storage down")

// recordingSink keeps every activity event
type recordingSink struct {
	mu     sync.Mutex
	events []gate.ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event gate.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) Types() []gate.ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]gate.ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// fixedClock returns a settable clock
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var anyCtx = mock.Anything

// slowRoleFetcher answers after delay unless ctx is done first
type slowRoleFetcher struct {
	delay time.Duration
	role  string
	mu    sync.Mutex
	calls int
}

func (f *slowRoleFetcher) FetchRole(ctx context.Context, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
		return f.role, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *slowRoleFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
