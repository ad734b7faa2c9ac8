package gate_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gate "github.com/goliatone/go-auth-gate"
)

func newCSRFApp(t *testing.T) *fiber.App {
	t.Helper()
	cfg := gate.DefaultConfig()
	cfg.SecureCookies = false

	app := fiber.New()
	app.Use(gate.CSRF(cfg))
	app.Get("/form", func(c *fiber.Ctx) error {
		return c.SendString(gate.CSRFToken(c))
	})
	app.Post("/form", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestCSRF(t *testing.T) {
	app := newCSRFApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/form", nil), 2000)
	require.NoError(t, err)
	token := readBody(t, resp)
	require.NotEmpty(t, token)
	cookie := findCookie(resp, gate.CSRFCookie)
	require.NotNil(t, cookie)

	post := func(body string, header string, withCookie bool) int {
		req := httptest.NewRequest(http.MethodPost, "/form", strings.NewReader(body))
		req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
		if header != "" {
			req.Header.Set(gate.CSRFHeader, header)
		}
		if withCookie {
			req.AddCookie(&http.Cookie{Name: gate.CSRFCookie, Value: cookie.Value})
		}
		resp, err := app.Test(req, 2000)
		require.NoError(t, err)
		return resp.StatusCode
	}

	form := url.Values{gate.CSRFFormField: {token}}.Encode()

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, fiber.StatusForbidden, post("", "", true))
	})

	t.Run("missing cookie", func(t *testing.T) {
		assert.Equal(t, fiber.StatusForbidden, post(form, "", false))
	})

	t.Run("wrong token", func(t *testing.T) {
		assert.Equal(t, fiber.StatusForbidden, post(gate.CSRFFormField+"=nope", "", true))
	})

	t.Run("form field", func(t *testing.T) {
		assert.Equal(t, fiber.StatusOK, post(form, "", true))
	})

	t.Run("header", func(t *testing.T) {
		assert.Equal(t, fiber.StatusOK, post("", token, true))
	})
}

func TestMergeViewData_CSRFField(t *testing.T) {
	app := newCSRFApp(t)
	app.Get("/view", func(c *fiber.Ctx) error {
		data := gate.MergeViewData(c, nil)
		return c.SendString(data["csrf_field"].(string) + "|" + data[gate.CSRFContextKey].(string))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/view", nil), 2000)
	require.NoError(t, err)
	body := readBody(t, resp)

	parts := strings.SplitN(body, "|", 2)
	require.Len(t, parts, 2)
	assert.NotEmpty(t, parts[1])
	assert.Equal(t, `<input type="hidden" name="_token" value="`+parts[1]+`">`, parts[0])
}
