package gate

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeAlreadyObserving   = "SESSION_ALREADY_OBSERVING"
	TextCodeTokenIssueFailed   = "TOKEN_ISSUE_FAILED"
	TextCodeTokenRestoreFailed = "TOKEN_RESTORE_FAILED"
	TextCodeTokenMalformed     = "TOKEN_RECORD_MALFORMED"
	TextCodeRoleFetchFailed    = "ROLE_FETCH_FAILED"
	TextCodeInvalidCredentials = "IDENTITY_INVALID_CREDENTIALS"
	TextCodeEmailInUse         = "IDENTITY_EMAIL_IN_USE"
	TextCodeUserNotFound       = "IDENTITY_USER_NOT_FOUND"
	TextCodeUserDisabled       = "IDENTITY_USER_DISABLED"
	TextCodeWeakPassword       = "IDENTITY_WEAK_PASSWORD"
	TextCodeProviderRejected   = "IDENTITY_PROVIDER_REJECTED"
	TextCodeNotSignedIn        = "IDENTITY_NOT_SIGNED_IN"
	TextCodeIdentityFailed     = "IDENTITY_REQUEST_FAILED"
	TextCodeStorageFailed      = "STORAGE_FAILED"
	TextCodeClientUnavailable  = "CLIENT_UNAVAILABLE"
)

// ErrAlreadyObserving is returned when ObserveSession is called twice on a store
var ErrAlreadyObserving = goerrors.New("session is already observing the identity provider", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyObserving).
	WithCode(goerrors.CodeConflict)

// ErrTokenIssueFailed is returned when the backend refuses or fails to issue a token
var ErrTokenIssueFailed = goerrors.New("unable to issue access token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenIssueFailed).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenRestoreFailed is returned when the persisted token record cannot be read
var ErrTokenRestoreFailed = goerrors.New("unable to restore access token", goerrors.CategoryInternal).
	WithTextCode(TextCodeTokenRestoreFailed).
	WithCode(goerrors.CodeInternal)

// ErrTokenRecordMalformed flags a persisted record that is not valid JSON
var ErrTokenRecordMalformed = goerrors.New("persisted token record is malformed", goerrors.CategoryBadInput).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeBadRequest)

// ErrRoleFetchFailed wraps backend failures while resolving a role
var ErrRoleFetchFailed = goerrors.New("unable to resolve role", goerrors.CategoryInternal).
	WithTextCode(TextCodeRoleFetchFailed).
	WithCode(goerrors.CodeInternal)

// ErrInvalidCredentials bad email/password pair
var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailInUse is returned on sign up with a registered email
var ErrEmailInUse = goerrors.New("email already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailInUse).
	WithCode(goerrors.CodeConflict)

// ErrUserNotFound no account for the given email
var ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrUserDisabled the account was disabled by an administrator
var ErrUserDisabled = goerrors.New("user account disabled", goerrors.CategoryAuth).
	WithTextCode(TextCodeUserDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrWeakPassword the identity provider rejected the password
var ErrWeakPassword = goerrors.New("password is too weak", goerrors.CategoryValidation).
	WithTextCode(TextCodeWeakPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrProviderRejected social sign in was cancelled or the credential rejected
var ErrProviderRejected = goerrors.New("identity provider rejected the credential", goerrors.CategoryAuth).
	WithTextCode(TextCodeProviderRejected).
	WithCode(goerrors.CodeUnauthorized)

// ErrNotSignedIn operation requires a signed in user
var ErrNotSignedIn = goerrors.New("no user is signed in", goerrors.CategoryAuth).
	WithTextCode(TextCodeNotSignedIn).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityRequestFailed catch all for transport failures talking to the identity provider
var ErrIdentityRequestFailed = goerrors.New("identity provider request failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeIdentityFailed).
	WithCode(goerrors.CodeInternal)

// ErrStorageFailed wraps errors from the durable local storage
var ErrStorageFailed = goerrors.New("local storage operation failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeStorageFailed).
	WithCode(goerrors.CodeInternal)

// ErrClientUnavailable is returned when a client session could not be created
var ErrClientUnavailable = goerrors.New("client session unavailable", goerrors.CategoryInternal).
	WithTextCode(TextCodeClientUnavailable).
	WithCode(goerrors.CodeInternal)

// WrapError clones base, records err as its source and merges meta.
func WrapError(base *goerrors.Error, err error, meta map[string]any) error {
	if base == nil {
		return err
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}

	if err != nil {
		clone.Source = err
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["error"]; !ok {
			meta["error"] = err.Error()
		}
	}

	if len(meta) > 0 {
		clone = clone.WithMetadata(meta)
	}

	return clone
}

// HasTextCode reports whether err is a rich error carrying code
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsCanceled reports context cancellation or deadline errors
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
