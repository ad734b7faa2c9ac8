package gate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-print"
)

// Session is the in-memory view of who is signed in and whether a backend
// credential is available.
type Session struct {
	User           *User
	AccessToken    string
	TokenIssuedAt  time.Time
	ResolvingUser  bool
	ResolvingToken bool
}

// Authenticated reports a resolved user with a usable token
func (s Session) Authenticated() bool {
	return !s.ResolvingUser && !s.ResolvingToken && s.User != nil && s.AccessToken != ""
}

// Email of the current user or empty
func (s Session) Email() string {
	if s.User == nil {
		return ""
	}
	return s.User.Email
}

// RegisterInput carries the sign up form
type RegisterInput struct {
	DisplayName string
	Email       string
	Password    string
	PhotoURL    string
}

// Store is the single source of truth for a client's session. The identity
// provider stream and the token restore are independent flows; each token
// mutation bumps a generation so a slow flow cannot overwrite a newer result.
type Store struct {
	mu sync.Mutex
	// persistMu orders writes of the token record; a write only happens
	// while its generation is still current
	persistMu sync.Mutex

	clientID string
	provider IdentityProvider
	storage  ClientStorage
	issuer   TokenIssuer

	ttl            time.Duration
	requestTimeout time.Duration
	now            func() time.Time
	logger         Logger
	activity       ActivitySink
	metrics        *Metrics

	session   Session
	tokenGen  uint64
	observing bool
	changed   chan struct{}
	// signIns counts identity calls in flight. A nil report meanwhile is
	// the provider's initial state and must not end token resolution.
	signIns int
}

// NewStore returns a store in its bootstrap state: both the user and the
// token are resolving.
func NewStore(clientID string, provider IdentityProvider, storage ClientStorage, issuer TokenIssuer) *Store {
	return &Store{
		clientID:       clientID,
		provider:       provider,
		storage:        storage,
		issuer:         issuer,
		ttl:            DefaultTokenTTL,
		requestTimeout: DefaultRequestTimeout,
		now:            time.Now,
		logger:         defLogger{},
		activity:       noopActivitySink{},
		session: Session{
			ResolvingUser:  true,
			ResolvingToken: true,
		},
		changed: make(chan struct{}),
	}
}

func (s *Store) WithLogger(logger Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithClock injects a custom clock (useful for tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// WithTokenTTL sets the validity window of persisted token records.
func (s *Store) WithTokenTTL(ttl time.Duration) *Store {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithRequestTimeout bounds background storage calls made from callbacks.
func (s *Store) WithRequestTimeout(timeout time.Duration) *Store {
	if timeout > 0 {
		s.requestTimeout = timeout
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting session events.
func (s *Store) WithActivitySink(sink ActivitySink) *Store {
	s.activity = normalizeActivitySink(sink)
	return s
}

func (s *Store) WithMetrics(metrics *Metrics) *Store {
	s.metrics = metrics
	return s
}

// ClientID returns the id of the client owning this store
func (s *Store) ClientID() string {
	return s.clientID
}

// Snapshot returns a copy of the current session
func (s *Store) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.session
	snap.User = s.session.User.Clone()
	return snap
}

// Token returns the current access token, read at call time
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.AccessToken
}

// User returns the current user or nil
func (s *Store) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.User.Clone()
}

// Changed returns a channel closed on the next state mutation. Grab it
// before taking a Snapshot so no update is missed.
func (s *Store) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// notify must be called with mu held
func (s *Store) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// ObserveSession subscribes to the identity provider auth state stream. It
// may only be called once per store. The returned func unsubscribes; the
// subscription is also released when ctx is done.
func (s *Store) ObserveSession(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.observing {
		s.mu.Unlock()
		return nil, ErrAlreadyObserving
	}
	s.observing = true
	s.mu.Unlock()

	unsubscribe := s.provider.Subscribe(s.onAuthStateChanged)

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	return stop, nil
}

func (s *Store) onAuthStateChanged(user *User) {
	s.mu.Lock()
	s.session.User = user.Clone()
	s.session.ResolvingUser = false

	signedOut := user == nil && (s.session.AccessToken != "" || s.session.ResolvingToken)
	if signedOut {
		s.session.AccessToken = ""
		s.session.TokenIssuedAt = time.Time{}
		if s.signIns == 0 {
			s.tokenGen++
			s.session.ResolvingToken = false
		}
	}
	gen := s.tokenGen
	s.notify()
	s.mu.Unlock()

	if user != nil {
		s.logger.Debug("auth state changed", "client", s.clientID, "user", print.MaybePrettyJSON(user))
		return
	}

	if signedOut {
		ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
		defer cancel()
		if err := s.purgeToken(ctx, gen); err != nil {
			s.logger.Error("failed to purge token after sign out", "client", s.clientID, "error", err)
		}
	}
}

// RestoreToken adopts the persisted token record if it is younger than the
// token TTL. Expired or unreadable records are purged. Token resolution is
// always marked complete, even on storage errors.
func (s *Store) RestoreToken(ctx context.Context) error {
	s.mu.Lock()
	gen := s.tokenGen
	s.mu.Unlock()

	raw, found, err := s.storage.Get(ctx, TokenStorageKey)
	if err != nil {
		s.resolveToken(gen, "", time.Time{})
		return WrapError(ErrTokenRestoreFailed, err, map[string]any{"client": s.clientID})
	}

	if !found {
		s.resolveToken(gen, "", time.Time{})
		return nil
	}

	record, err := ParseTokenRecord(raw)
	if err == nil && !record.Expired(s.now(), s.ttl) {
		s.resolveToken(gen, record.Value, record.IssuedAt())
		return nil
	}

	if err != nil {
		s.logger.Warn("discarding malformed token record", "client", s.clientID, "error", err)
	} else {
		s.logger.Info("persisted token expired", "client", s.clientID, "issued_at", record.IssuedAt())
		recordActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventTokenExpired,
			ClientID:  s.clientID,
			Metadata:  map[string]any{"issued_at": record.IssuedAt()},
		})
	}

	delErr := s.purgeToken(ctx, gen)
	s.resolveToken(gen, "", time.Time{})
	if delErr != nil {
		return WrapError(ErrStorageFailed, delErr, map[string]any{"client": s.clientID})
	}
	return nil
}

func (s *Store) resolveToken(gen uint64, token string, issuedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.tokenGen {
		return false
	}
	s.session.AccessToken = token
	s.session.TokenIssuedAt = issuedAt
	s.session.ResolvingToken = false
	s.notify()
	return true
}

// IssueToken asks the backend for a token for email and persists it with
// the current timestamp. On failure the token stays empty and no record is
// left behind.
func (s *Store) IssueToken(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)

	s.mu.Lock()
	s.tokenGen++
	gen := s.tokenGen
	s.session.ResolvingToken = true
	s.notify()
	s.mu.Unlock()

	token, issuedAt, current, err := s.issueAndPersist(ctx, gen, email)
	s.metrics.ObserveTokenIssue(err)
	if err != nil {
		s.logger.Error("token issue failed", "client", s.clientID, "email", email, "error", err)
		recordActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventTokenFailed,
			ClientID:  s.clientID,
			Email:     email,
			Metadata:  map[string]any{"error": err.Error()},
		})
		s.resolveToken(gen, "", time.Time{})
		return err
	}

	if !current || !s.resolveToken(gen, token, issuedAt) {
		// the session was cleared or reissued while we waited
		s.logger.Info("discarding superseded token", "client", s.clientID)
		return nil
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventTokenIssued,
		ClientID:  s.clientID,
		Email:     email,
	})
	return nil
}

// issueAndPersist returns current=false when gen was superseded before the
// record could be written; nothing is persisted in that case.
func (s *Store) issueAndPersist(ctx context.Context, gen uint64, email string) (string, time.Time, bool, error) {
	if email == "" {
		return "", time.Time{}, false, WrapError(ErrTokenIssueFailed, nil, map[string]any{"reason": "missing email"})
	}

	token, err := s.issuer.IssueToken(ctx, email)
	if err == nil && token == "" {
		err = WrapError(ErrTokenIssueFailed, nil, map[string]any{"reason": "empty token"})
	}
	if err != nil {
		if delErr := s.purgeToken(ctx, gen); delErr != nil {
			s.logger.Warn("failed to purge stale token record", "client", s.clientID, "error", delErr)
		}
		return "", time.Time{}, false, WrapError(ErrTokenIssueFailed, err, map[string]any{"email": email})
	}

	issuedAt := s.now()
	encoded, err := NewTokenRecord(token, issuedAt).Encode()
	if err != nil {
		return "", time.Time{}, false, WrapError(ErrTokenIssueFailed, err, nil)
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.isCurrent(gen) {
		return "", time.Time{}, false, nil
	}

	if err := s.storage.Set(ctx, TokenStorageKey, encoded); err != nil {
		return "", time.Time{}, false, WrapError(ErrStorageFailed, err, map[string]any{"client": s.clientID})
	}

	return token, issuedAt, true, nil
}

// purgeToken deletes the token record unless a newer generation owns it
func (s *Store) purgeToken(ctx context.Context, gen uint64) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if !s.isCurrent(gen) {
		return nil
	}
	return s.storage.Delete(ctx, TokenStorageKey)
}

func (s *Store) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.tokenGen
}

// ClearSession purges the persisted token, nulls user and token and signs
// out of the identity provider. Calling it again yields the same state.
func (s *Store) ClearSession(ctx context.Context) error {
	s.mu.Lock()
	s.tokenGen++
	gen := s.tokenGen
	email := s.session.Email()
	s.session = Session{}
	s.notify()
	s.mu.Unlock()

	var firstErr error
	if err := s.purgeToken(ctx, gen); err != nil {
		firstErr = WrapError(ErrStorageFailed, err, map[string]any{"client": s.clientID})
	}

	if err := s.provider.SignOut(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if email != "" {
		recordActivity(ctx, s.activity, s.logger, ActivityEvent{
			EventType: ActivityEventLogout,
			ClientID:  s.clientID,
			Email:     email,
		})
	}

	return firstErr
}

// SignIn authenticates with the identity provider then issues a backend
// token. Identity errors are returned untouched.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	gen := s.beginTokenResolution()
	defer s.endSignIn()
	user, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		s.abortTokenResolution(gen)
		s.loginFailed(ctx, email, err)
		return err
	}
	return s.afterSignIn(ctx, gen, user, "password")
}

// SignInWithProvider authenticates with a social identity provider
func (s *Store) SignInWithProvider(ctx context.Context, providerID, credential string) error {
	gen := s.beginTokenResolution()
	defer s.endSignIn()
	user, err := s.provider.SignInWithProvider(ctx, providerID, credential)
	if err != nil {
		s.abortTokenResolution(gen)
		s.loginFailed(ctx, "", err)
		return err
	}
	return s.afterSignIn(ctx, gen, user, providerID)
}

// Register creates the identity, sets its profile and issues a token
func (s *Store) Register(ctx context.Context, input RegisterInput) (*User, error) {
	gen := s.beginTokenResolution()
	defer s.endSignIn()
	user, err := s.provider.SignUp(ctx, input.Email, input.Password)
	if err != nil {
		s.abortTokenResolution(gen)
		s.loginFailed(ctx, input.Email, err)
		return nil, err
	}
	if user == nil {
		s.abortTokenResolution(gen)
		return nil, ErrNotSignedIn
	}

	if input.DisplayName != "" || input.PhotoURL != "" {
		updated, err := s.provider.UpdateProfile(ctx, input.DisplayName, input.PhotoURL)
		if err != nil {
			s.logger.Warn("profile update after sign up failed", "client", s.clientID, "error", err)
		} else {
			user = updated
		}
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventRegistered,
		ClientID:  s.clientID,
		UserID:    user.UID,
		Email:     user.Email,
	})

	if err := s.IssueToken(ctx, user.Email); err != nil {
		return user, err
	}
	return user.Clone(), nil
}

// UpdateProfile changes display name and photo of the signed in user
func (s *Store) UpdateProfile(ctx context.Context, displayName, photoURL string) (*User, error) {
	return s.provider.UpdateProfile(ctx, displayName, photoURL)
}

// SendPasswordReset asks the identity provider to email a reset link
func (s *Store) SendPasswordReset(ctx context.Context, email string) error {
	if err := s.provider.SendPasswordReset(ctx, email); err != nil {
		return err
	}
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventPasswordReset,
		ClientID:  s.clientID,
		Email:     email,
	})
	return nil
}

// beginTokenResolution marks the token as resolving while an identity call
// is in flight. The provider reports the user before the backend token is
// issued and the gate must not read that window as an expired session.
func (s *Store) beginTokenResolution() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signIns++
	s.tokenGen++
	s.session.ResolvingToken = true
	s.notify()
	return s.tokenGen
}

func (s *Store) endSignIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signIns--
}

// abortTokenResolution keeps whatever token was there before
func (s *Store) abortTokenResolution(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.tokenGen || !s.session.ResolvingToken {
		return
	}
	s.session.ResolvingToken = false
	s.notify()
}

func (s *Store) afterSignIn(ctx context.Context, gen uint64, user *User, method string) error {
	if user == nil {
		s.abortTokenResolution(gen)
		return ErrNotSignedIn
	}

	if err := s.IssueToken(ctx, user.Email); err != nil {
		return err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		ClientID:  s.clientID,
		UserID:    user.UID,
		Email:     user.Email,
		Metadata:  map[string]any{"method": method},
	})
	return nil
}

func (s *Store) loginFailed(ctx context.Context, email string, err error) {
	s.logger.Info("identity provider rejected sign in", "client", s.clientID, "error", err)
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		ClientID:  s.clientID,
		Email:     email,
		Metadata:  map[string]any{"error": err.Error()},
	})
}
