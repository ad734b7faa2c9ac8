package identitytoolkit

import (
	"strings"

	gate "github.com/goliatone/go-auth-gate"
	goerrors "github.com/goliatone/go-errors"
)

// mapAPIError turns the service error message into a gate error. Messages
// look like "WEAK_PASSWORD : Password should be at least 6 characters".
func mapAPIError(method string, status int, message string) error {
	code, detail := splitMessage(message)
	meta := map[string]any{
		"method":        method,
		"status":        status,
		"provider_code": code,
	}
	if detail != "" {
		meta["detail"] = detail
	}

	var base *goerrors.Error
	switch code {
	case "EMAIL_EXISTS":
		base = gate.ErrEmailInUse
	case "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "MISSING_PASSWORD":
		base = gate.ErrInvalidCredentials
	case "EMAIL_NOT_FOUND":
		base = gate.ErrUserNotFound
	case "USER_DISABLED":
		base = gate.ErrUserDisabled
	case "WEAK_PASSWORD":
		base = gate.ErrWeakPassword
	case "INVALID_IDP_RESPONSE", "INVALID_PROVIDER_ID", "FEDERATED_USER_ID_ALREADY_LINKED", "OPERATION_NOT_ALLOWED":
		base = gate.ErrProviderRejected
	case "INVALID_ID_TOKEN", "TOKEN_EXPIRED", "USER_NOT_FOUND", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN", "INVALID_REFRESH_TOKEN":
		base = gate.ErrNotSignedIn
	default:
		base = gate.ErrIdentityRequestFailed
	}

	return gate.WrapError(base, nil, meta)
}

// isStaleIDToken reports errors a refreshed ID token can fix
func isStaleIDToken(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch code, _ := richErr.Metadata["provider_code"].(string); code {
	case "TOKEN_EXPIRED", "INVALID_ID_TOKEN":
		return true
	default:
		return false
	}
}

func requestError(method string, status int, reason string, err error) error {
	meta := map[string]any{"method": method}
	if status > 0 {
		meta["status"] = status
	}
	if reason != "" {
		meta["reason"] = reason
	}
	return gate.WrapError(gate.ErrIdentityRequestFailed, err, meta)
}

func splitMessage(message string) (string, string) {
	code, detail, _ := strings.Cut(message, ":")
	return strings.TrimSpace(code), strings.TrimSpace(detail)
}
