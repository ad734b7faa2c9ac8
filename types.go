package gate

import (
	"context"
	"fmt"
	"strings"
)

// Logger takes a message followed by key/value pairs
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// User is the identity reported by the identity provider
type User struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Clone returns a copy of the user, nil safe
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// AuthStateListener receives the current user every time the identity
// provider reports a change. A nil user means signed out.
type AuthStateListener func(user *User)

// IdentityProvider wraps the external authentication service for a single
// client. Implementations notify subscribers after every state change.
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, error)
	SignInWithProvider(ctx context.Context, providerID, credential string) (*User, error)
	SignOut(ctx context.Context) error
	UpdateProfile(ctx context.Context, displayName, photoURL string) (*User, error)
	SendPasswordReset(ctx context.Context, email string) error
	Subscribe(listener AuthStateListener) (unsubscribe func())
}

// TokenIssuer exchanges a signed in email for a backend access token
type TokenIssuer interface {
	IssueToken(ctx context.Context, email string) (string, error)
}

// RoleFetcher returns the raw role label the backend assigned to email
type RoleFetcher interface {
	FetchRole(ctx context.Context, email string) (string, error)
}

// LocalStorage is durable key/value storage partitioned by client, the
// server side equivalent of a browser's local storage.
type LocalStorage interface {
	Get(ctx context.Context, clientID, key string) (string, bool, error)
	Set(ctx context.Context, clientID, key, value string) error
	Delete(ctx context.Context, clientID, key string) error
}

// ClientStorage is LocalStorage bound to a single client
type ClientStorage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print(line("ERR", msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print(line("WRN", msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print(line("INF", msg, args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print(line("DBG", msg, args))
}

// line renders msg followed by key=value pairs
func line(level, msg string, args []any) string {
	var b strings.Builder
	b.WriteString("[" + level + "] GATE " + msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteByte('\n')
	return b.String()
}

// NopLogger discards everything, handy in tests
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// DefaultLogger prints to stdout with a level prefix
func DefaultLogger() Logger {
	return defLogger{}
}
