package identitytoolkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultBaseURL    = "https://identitytoolkit.googleapis.com"
	defaultTokenURL   = "https://securetoken.googleapis.com"
	defaultRequestURI = "http://localhost"
)

// Config holds the identity toolkit settings.
type Config struct {
	BaseURL string
	// TokenURL serves the refresh token exchange
	TokenURL string
	APIKey   string
	// RequestURI is sent with IdP sign in requests
	RequestURI string

	HTTPClient *http.Client
}

// Client is a thin REST client for the accounts endpoints.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a client, filling defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	cfg.TokenURL = strings.TrimRight(cfg.TokenURL, "/")
	if cfg.RequestURI == "" {
		cfg.RequestURI = defaultRequestURI
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		config:     cfg,
		httpClient: client,
	}
}

// Account is the subset of the accounts responses we care about.
type Account struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName,omitempty"`
	PhotoURL     string `json:"photoUrl,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    string `json:"expiresIn,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignUp creates an email/password account
func (c *Client) SignUp(ctx context.Context, email, password string) (*Account, error) {
	return c.account(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

// SignInWithPassword verifies an email/password pair
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Account, error) {
	return c.account(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

// SignInWithIdp exchanges a social provider access token
func (c *Client) SignInWithIdp(ctx context.Context, providerID, accessToken string) (*Account, error) {
	postBody := url.Values{
		"access_token": {accessToken},
		"providerId":   {providerID},
	}
	return c.account(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            postBody.Encode(),
		"requestUri":          c.config.RequestURI,
		"returnIdpCredential": true,
		"returnSecureToken":   true,
	})
}

// Update changes the profile of the account owning idToken
func (c *Client) Update(ctx context.Context, idToken, displayName, photoURL string) (*Account, error) {
	body := map[string]any{
		"idToken":           idToken,
		"returnSecureToken": true,
	}
	if displayName != "" {
		body["displayName"] = displayName
	}
	if photoURL != "" {
		body["photoUrl"] = photoURL
	}
	return c.account(ctx, "accounts:update", body)
}

// SendPasswordReset emails a reset link
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// RefreshIDToken trades a refresh token for a fresh ID token. The service
// may rotate the refresh token as well.
func (c *Client) RefreshIDToken(ctx context.Context, refreshToken string) (*Account, error) {
	var res struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
		UserID       string `json:"user_id"`
	}
	body := map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	if err := c.postTo(ctx, c.config.TokenURL, "token", body, &res); err != nil {
		return nil, err
	}
	if res.RefreshToken == "" {
		res.RefreshToken = refreshToken
	}
	return &Account{
		LocalID:      res.UserID,
		IDToken:      res.IDToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    res.ExpiresIn,
	}, nil
}

func (c *Client) account(ctx context.Context, method string, body map[string]any) (*Account, error) {
	out := &Account{}
	if err := c.post(ctx, method, body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, method string, body map[string]any, out any) error {
	return c.postTo(ctx, c.config.BaseURL, method, body, out)
}

func (c *Client) postTo(ctx context.Context, baseURL, method string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/v1/%s?key=%s", baseURL, method, url.QueryEscape(c.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return requestError(method, 0, "", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return requestError(method, resp.StatusCode, "", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Error.Message == "" {
			return requestError(method, resp.StatusCode, "", goerrors.New(http.StatusText(resp.StatusCode), goerrors.CategoryExternal))
		}
		return mapAPIError(method, resp.StatusCode, apiErr.Error.Message)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return requestError(method, resp.StatusCode, "invalid_response", err)
	}
	return nil
}
