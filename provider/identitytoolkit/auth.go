// Package identitytoolkit implements gate.IdentityProvider on top of the
// identity toolkit accounts REST API. The signed in user of each client is
// kept in that client's local storage so it survives restarts, the same
// way the browser SDK persists it.
package identitytoolkit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-print"
	"github.com/goliatone/hashid/pkg/hashid"
)

// UserStorageKey is the local storage key of the persisted user
const UserStorageKey = "identity-user"

// Provider holds the shared client and verifier and hands out one Auth per
// browser client.
type Provider struct {
	client   *Client
	verifier *Verifier
	logger   gate.Logger
	timeout  time.Duration
	debug    bool
}

// NewProvider creates a provider. verifier may be nil to skip ID token
// verification, e.g. against the local emulator.
func NewProvider(client *Client, verifier *Verifier) *Provider {
	return &Provider{
		client:   client,
		verifier: verifier,
		logger:   gate.NopLogger{},
		timeout:  gate.DefaultRequestTimeout,
	}
}

func (p *Provider) WithLogger(logger gate.Logger) *Provider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

func (p *Provider) WithLoadTimeout(timeout time.Duration) *Provider {
	if timeout > 0 {
		p.timeout = timeout
	}
	return p
}

func (p *Provider) WithDebug(debug bool) *Provider {
	p.debug = debug
	return p
}

// ForClient returns the identity provider of one client
func (p *Provider) ForClient(storage gate.ClientStorage) *Auth {
	return &Auth{
		provider:  p,
		storage:   storage,
		listeners: make(map[int]gate.AuthStateListener),
	}
}

type persistedUser struct {
	UID          string `json:"uid"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName,omitempty"`
	PhotoURL     string `json:"photoUrl,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (u persistedUser) user() *gate.User {
	return &gate.User{
		UID:         u.UID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
	}
}

// Auth is the per client identity state. Listeners are called in order
// and never concurrently with each other.
type Auth struct {
	provider *Provider
	storage  gate.ClientStorage

	// emitMu serializes state changes with their notifications
	emitMu sync.Mutex

	mu        sync.Mutex
	loaded    bool
	current   *persistedUser
	listeners map[int]gate.AuthStateListener
	nextID    int
}

var _ gate.IdentityProvider = (*Auth)(nil)

// Subscribe registers listener. It is called once with the persisted user
// (or nil) as soon as it has been loaded, then after every change.
func (a *Auth) Subscribe(listener gate.AuthStateListener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = listener
	a.mu.Unlock()

	go func() {
		a.emitMu.Lock()
		defer a.emitMu.Unlock()

		a.ensureLoaded()

		a.mu.Lock()
		l, ok := a.listeners[id]
		user := a.currentUser()
		a.mu.Unlock()

		if ok {
			l(user)
		}
	}()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

// CurrentUser returns the signed in user, loading it if needed
func (a *Auth) CurrentUser() *gate.User {
	a.ensureLoaded()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentUser()
}

func (a *Auth) SignUp(ctx context.Context, email, password string) (*gate.User, error) {
	account, err := a.provider.client.SignUp(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}
	return a.adopt(ctx, account)
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*gate.User, error) {
	account, err := a.provider.client.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}
	return a.adopt(ctx, account)
}

// SignInWithProvider signs in with the access token obtained by the social
// provider popup. providerID may be short ("google") or qualified.
func (a *Auth) SignInWithProvider(ctx context.Context, providerID, credential string) (*gate.User, error) {
	if credential == "" {
		return nil, gate.WrapError(gate.ErrProviderRejected, nil, map[string]any{"reason": "missing credential"})
	}
	account, err := a.provider.client.SignInWithIdp(ctx, qualifyProvider(providerID), credential)
	if err != nil {
		return nil, err
	}
	return a.adopt(ctx, account)
}

func (a *Auth) SignOut(ctx context.Context) error {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	a.loaded = true
	hadUser := a.current != nil
	a.current = nil
	a.mu.Unlock()

	err := a.storage.Delete(ctx, UserStorageKey)
	if hadUser {
		a.emit(nil)
	}
	if err != nil {
		return gate.WrapError(gate.ErrStorageFailed, err, map[string]any{"key": UserStorageKey})
	}
	return nil
}

func (a *Auth) UpdateProfile(ctx context.Context, displayName, photoURL string) (*gate.User, error) {
	a.ensureLoaded()

	a.mu.Lock()
	current := a.current
	a.mu.Unlock()

	if current == nil || current.IDToken == "" {
		return nil, gate.ErrNotSignedIn
	}

	account, err := a.provider.client.Update(ctx, current.IDToken, displayName, photoURL)
	if err != nil && isStaleIDToken(err) && current.RefreshToken != "" {
		if current, err = a.refresh(ctx, current); err != nil {
			return nil, err
		}
		account, err = a.provider.client.Update(ctx, current.IDToken, displayName, photoURL)
	}
	if err != nil {
		return nil, err
	}

	// the update response omits the email and may omit tokens
	if account.Email == "" {
		account.Email = current.Email
	}
	if account.LocalID == "" {
		account.LocalID = current.UID
	}
	if account.IDToken == "" {
		account.IDToken = current.IDToken
		account.RefreshToken = current.RefreshToken
	}
	if account.DisplayName == "" {
		account.DisplayName = displayName
	}
	if account.PhotoURL == "" {
		account.PhotoURL = photoURL
	}

	return a.store(ctx, account, false)
}

// refresh swaps the ID token of current and persists the new pair. The
// user does not change so listeners are not notified.
func (a *Auth) refresh(ctx context.Context, current *persistedUser) (*persistedUser, error) {
	tokens, err := a.provider.client.RefreshIDToken(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}

	next := *current
	next.IDToken = tokens.IDToken
	next.RefreshToken = tokens.RefreshToken

	raw, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	if err := a.storage.Set(ctx, UserStorageKey, string(raw)); err != nil {
		return nil, gate.WrapError(gate.ErrStorageFailed, err, map[string]any{"key": UserStorageKey})
	}

	a.mu.Lock()
	if a.current != nil && a.current.Email == current.Email {
		a.current = &next
	}
	a.mu.Unlock()

	a.provider.logger.Debug("identity token refreshed", "uid", current.UID)
	return &next, nil
}

func (a *Auth) SendPasswordReset(ctx context.Context, email string) error {
	return a.provider.client.SendPasswordReset(ctx, strings.TrimSpace(email))
}

// adopt verifies the account token and makes it the current user
func (a *Auth) adopt(ctx context.Context, account *Account) (*gate.User, error) {
	return a.store(ctx, account, true)
}

func (a *Auth) store(ctx context.Context, account *Account, verify bool) (*gate.User, error) {
	if verify && a.provider.verifier != nil {
		claims, err := a.provider.verifier.Verify(account.IDToken)
		if err != nil {
			return nil, err
		}
		if account.Email == "" {
			account.Email = claims.Email
		}
		if account.LocalID == "" {
			account.LocalID = claims.UserID
		}
	}

	if account.LocalID == "" && account.Email != "" {
		if id, err := hashid.NewUUID(strings.ToLower(account.Email)); err == nil {
			account.LocalID = id.String()
		}
	}

	next := &persistedUser{
		UID:          account.LocalID,
		Email:        account.Email,
		DisplayName:  account.DisplayName,
		PhotoURL:     account.PhotoURL,
		IDToken:      account.IDToken,
		RefreshToken: account.RefreshToken,
	}

	if a.provider.debug {
		a.provider.logger.Debug("identity account", "account", print.MaybePrettyJSON(next.user()))
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	if err := a.storage.Set(ctx, UserStorageKey, string(raw)); err != nil {
		return nil, gate.WrapError(gate.ErrStorageFailed, err, map[string]any{"key": UserStorageKey})
	}

	a.mu.Lock()
	a.loaded = true
	a.current = next
	a.mu.Unlock()

	user := next.user()
	a.emit(user)
	return user.Clone(), nil
}

// emit must be called with emitMu held
func (a *Auth) emit(user *gate.User) {
	a.mu.Lock()
	listeners := make([]gate.AuthStateListener, 0, len(a.listeners))
	for id := 0; id < a.nextID; id++ {
		if l, ok := a.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	a.mu.Unlock()

	for _, l := range listeners {
		l(user.Clone())
	}
}

func (a *Auth) ensureLoaded() {
	a.mu.Lock()
	if a.loaded {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.provider.timeout)
	defer cancel()

	var current *persistedUser
	raw, found, err := a.storage.Get(ctx, UserStorageKey)
	switch {
	case err != nil:
		a.provider.logger.Error("failed to load persisted identity", "error", err)
	case found:
		u := &persistedUser{}
		if err := json.Unmarshal([]byte(raw), u); err != nil || u.Email == "" {
			a.provider.logger.Warn("discarding malformed persisted identity")
			if delErr := a.storage.Delete(ctx, UserStorageKey); delErr != nil {
				a.provider.logger.Error("failed to purge persisted identity", "error", delErr)
			}
		} else {
			current = u
		}
	}

	a.mu.Lock()
	if !a.loaded {
		a.loaded = true
		a.current = current
	}
	a.mu.Unlock()
}

// currentUser must be called with mu held
func (a *Auth) currentUser() *gate.User {
	if a.current == nil {
		return nil
	}
	return a.current.user()
}

func qualifyProvider(providerID string) string {
	id := strings.ToLower(strings.TrimSpace(providerID))
	if strings.Contains(id, ".") {
		return id
	}
	switch id {
	case "google", "github", "facebook", "twitter", "apple":
		return id + ".com"
	default:
		return id
	}
}
