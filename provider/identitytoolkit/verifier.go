package identitytoolkit

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// IDTokenClaims are the claims of an identity toolkit ID token
type IDTokenClaims struct {
	jwt.RegisteredClaims
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// VerifierConfig configures ID token verification. Either JWKSURL or
// SigningKeys must be set.
type VerifierConfig struct {
	JWKSURL     string
	SigningKeys map[string]*rsa.PublicKey
	Issuer      string
	Audience    string
	Leeway      time.Duration

	RefreshErrorHandler func(err error)
}

// Verifier validates RS256 ID tokens against the provider key set
type Verifier struct {
	keyFunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	parser  *jwt.Parser
}

// NewVerifier builds a verifier. With a JWKS URL the key set is fetched
// now and refreshed in the background.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	givenKeys := make(map[string]keyfunc.GivenKey, len(cfg.SigningKeys))
	for kid, key := range cfg.SigningKeys {
		givenKeys[kid] = keyfunc.NewGivenRSA(key, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodRS256.Alg(),
		})
	}

	v := &Verifier{parser: jwt.NewParser(opts...)}

	switch {
	case cfg.JWKSURL != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			GivenKeys:           givenKeys,
			RefreshErrorHandler: cfg.RefreshErrorHandler,
			RefreshInterval:     time.Hour,
			RefreshRateLimit:    time.Minute * 5,
			RefreshTimeout:      time.Second * 10,
			RefreshUnknownKID:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get JWK set: %w", err)
		}
		v.jwks = jwks
		v.keyFunc = jwks.Keyfunc
	case len(givenKeys) > 0:
		v.jwks = keyfunc.NewGiven(givenKeys)
		v.keyFunc = v.jwks.Keyfunc
	default:
		return nil, fmt.Errorf("identity toolkit verifier requires a JWKS URL or signing keys")
	}

	return v, nil
}

// Verify parses and validates raw
func (v *Verifier) Verify(raw string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, v.keyFunc)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid identity token").
			WithTextCode("IDENTITY_TOKEN_INVALID").
			WithCode(goerrors.CodeUnauthorized)
	}
	if !token.Valid {
		return nil, goerrors.New("invalid identity token", goerrors.CategoryAuth).
			WithTextCode("IDENTITY_TOKEN_INVALID").
			WithCode(goerrors.CodeUnauthorized)
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

// Close stops the background refresh
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
