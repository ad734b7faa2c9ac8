package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/backend"
	"github.com/goliatone/go-auth-gate/rest"
)

// statusBackend answers /status/<code> with that code
func statusBackend(t *testing.T) *rest.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/status/"))
		if err != nil {
			code = http.StatusTeapot
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)

	client, err := rest.NewPublic(srv.URL)
	require.NoError(t, err)
	return client
}

func TestErrorHandler_JSON(t *testing.T) {
	client := statusBackend(t)
	backendErr := func(code int) error {
		return client.Get(context.Background(), "/status/"+strconv.Itoa(code), nil, nil)
	}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"fiber error", fiber.NewError(fiber.StatusForbidden, "nope"), fiber.StatusForbidden, "nope"},
		{"backend not found", backendErr(http.StatusNotFound), fiber.StatusNotFound, "Not found"},
		{"backend failure", backendErr(http.StatusInternalServerError), fiber.StatusBadGateway, "The tour service is unavailable, please try again"},
		{"not signed in", gate.ErrNotSignedIn, fiber.StatusUnauthorized, "Please sign in"},
		{"anything else", errors.New("boom"), fiber.StatusInternalServerError, "Something went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)

			app := fiber.New(fiber.Config{ErrorHandler: errorHandler(gate.NopLogger{})})
			app.Get("/", func(c *fiber.Ctx) error {
				return tt.err
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Accept", fiber.MIMEApplicationJSON)
			resp, err := app.Test(req, 2000)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestSaveUserHook(t *testing.T) {
	var saved backend.UserRecord
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.Method + " " + r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &saved)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client, err := rest.NewPublic(srv.URL)
	require.NoError(t, err)

	hook := saveUserHook(backend.NewPublic(client))
	err = hook(context.Background(), &gate.User{
		UID:         "u1",
		Email:       "ana@example.com",
		DisplayName: "Ana Lima",
		PhotoURL:    "https://img.test/ana.png",
	}, "password")
	require.NoError(t, err)

	assert.Equal(t, "POST /users", path)
	assert.Equal(t, "ana@example.com", saved.Email)
	assert.Equal(t, "Ana Lima", saved.Name)
	assert.Equal(t, "https://img.test/ana.png", saved.Image)
	assert.Equal(t, backend.DefaultRole, saved.Role)
	assert.False(t, saved.CreatedAt.IsZero())
}

func TestSaveUserHook_Login(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := rest.NewPublic(srv.URL)
	require.NoError(t, err)

	hook := saveUserHook(backend.NewPublic(client))
	err = hook(context.Background(), &gate.User{UID: "u1", Email: "ana@example.com", DisplayName: "Ana"}, gate.MethodLogin)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"email": "ana@example.com"}, body)
}

// newTestApp boots the server wiring against backendURL with in memory
// token storage
func newTestApp(t *testing.T, backendURL string) *App {
	t.Helper()
	cfg := gate.DefaultConfig()
	cfg.SecureCookies = false
	cfg.BackendURL = backendURL
	cfg.IdentityURL = backendURL
	cfg.IdentityTokenURL = backendURL
	cfg.IdentityAPIKey = "test-key"
	cfg.ResolveWait = time.Second

	app := (&App{cfg: cfg, storage: gate.NewMemoryStorage()}).SetLogger(newLogger(false))
	t.Cleanup(app.Close)

	steps := []func(context.Context, *App) error{
		WithMetrics,
		WithIdentity,
		WithBackend,
		WithClients,
		WithHTTPServer,
	}
	for _, step := range steps {
		require.NoError(t, step(context.Background(), app))
	}
	Routes(app)
	return app
}

func clientCookies(resp *http.Response) int {
	n := 0
	for _, cookie := range resp.Cookies() {
		if cookie.Name == gate.DefaultClientCookie {
			n++
		}
	}
	return n
}

func TestRoutes_ClientResolvedOncePerRequest(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	t.Run("protected route", func(t *testing.T) {
		app := newTestApp(t, srv.URL)

		resp, err := app.srv.Test(httptest.NewRequest(http.MethodGet, "/dashboard", nil), 3000)
		require.NoError(t, err)

		assert.Equal(t, "/login", resp.Header.Get(fiber.HeaderLocation))
		assert.Equal(t, 1, clientCookies(resp))
		assert.Equal(t, 1, app.clients.Len())
	})

	t.Run("unknown route", func(t *testing.T) {
		app := newTestApp(t, srv.URL)

		req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
		req.Header.Set("Accept", fiber.MIMEApplicationJSON)
		resp, err := app.srv.Test(req, 3000)
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		assert.Zero(t, clientCookies(resp))
		assert.Zero(t, app.clients.Len())
	})
}
