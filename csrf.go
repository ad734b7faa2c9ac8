package gate

import (
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
)

const (
	// CSRFContextKey is the locals key holding the token for the request
	CSRFContextKey = "csrf_token"
	// CSRFFormField is the hidden form field forms post the token in
	CSRFFormField = "_token"
	// CSRFHeader is the header scripts send the token in
	CSRFHeader = "X-CSRF-Token"
	// CSRFCookie holds the token between requests
	CSRFCookie = "tourgate_csrf"
)

var ErrCSRFTokenMissing = errors.New("csrf token missing")

// CSRF protects every unsafe request with a double submit token. Forms
// post it in CSRFFormField, scripts in the CSRFHeader header.
func CSRF(cfg Config) fiber.Handler {
	return csrf.New(csrf.Config{
		CookieName:     CSRFCookie,
		CookieSecure:   cfg.GetSecureCookies(),
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		Expiration:     time.Hour,
		ContextKey:     CSRFContextKey,
		Extractor:      extractCSRFToken,
		ErrorHandler: func(_ *fiber.Ctx, _ error) error {
			return fiber.NewError(fiber.StatusForbidden, "The form expired, reload the page and try again")
		},
	})
}

func extractCSRFToken(c *fiber.Ctx) (string, error) {
	if token := c.FormValue(CSRFFormField); token != "" {
		return token, nil
	}
	if token := c.Get(CSRFHeader); token != "" {
		return token, nil
	}
	return "", ErrCSRFTokenMissing
}

// CSRFToken returns the token the CSRF middleware attached to c.
func CSRFToken(c *fiber.Ctx) string {
	token, _ := c.Locals(CSRFContextKey).(string)
	return token
}

func csrfField(token string) string {
	return fmt.Sprintf(`<input type="hidden" name="%s" value="%s">`, CSRFFormField, html.EscapeString(token))
}
