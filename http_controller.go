package gate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
)

// RegisterAuthRoutes mounts the sign in, sign up, sign out and password
// reset routes on app.
func RegisterAuthRoutes(app fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Get(controller.Routes.Login, controller.LoginShow).Name("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).Name("sign-in.post")
	app.Post(controller.Routes.Login+"/:provider", controller.ProviderLoginPost).Name("sign-in-provider.post")

	app.Get(controller.Routes.Logout, controller.LogOut).Name("sign-out.get")
	app.Post(controller.Routes.Logout, controller.LogOut).Name("sign-out.post")

	app.Get(controller.Routes.Register, controller.RegistrationShow).Name("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).Name("register.post")

	app.Get(controller.Routes.PasswordReset, controller.PasswordResetGet).Name("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).Name("pwd-reset.post")

	app.Post(controller.Routes.Profile,
		controller.Guard.Protect(RequireAuth()),
		controller.ProfileUpdatePost,
	).Name("profile.post")

	return controller
}

type AuthControllerRoutes struct {
	Login         string
	Logout        string
	Register      string
	PasswordReset string
	Profile       string
}

type AuthControllerViews struct {
	Login         string
	Register      string
	PasswordReset string
	Profile       string
}

// UserHook runs after an identity signs in or is created. method is
// MethodLogin, MethodPassword or the provider id.
type UserHook func(ctx context.Context, user *User, method string) error

const (
	// MethodLogin marks an email and password sign in of a known user
	MethodLogin = "login"
	// MethodPassword marks a new email and password registration
	MethodPassword = "password"
)

type AuthController struct {
	Debug        bool
	Logger       Logger
	Registry     *ClientRegistry
	Guard        *RouteGuard
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	OnUserSaved  UserHook
	AfterLogin   string
	ErrorHandler fiber.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerRegistry(registry *ClientRegistry) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Registry = registry
		return a
	}
}

func WithControllerGuard(guard *RouteGuard) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Guard = guard
		return a
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if logger != nil {
			a.Logger = logger
		}
		return a
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

// WithUserHook sets the hook that persists new users in the backend
func WithUserHook(hook UserHook) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.OnUserSaved = hook
		return a
	}
}

func WithControllerViews(views *AuthControllerViews) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if views != nil {
			a.Views = views
		}
		return a
	}
}

func WithErrorHandler(handler fiber.ErrorHandler) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if handler != nil {
			a.ErrorHandler = handler
		}
		return a
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		AfterLogin:   "/",
		Routes: &AuthControllerRoutes{
			Login:         "/login",
			Logout:        "/logout",
			Register:      "/register",
			PasswordReset: "/password-reset",
			Profile:       "/profile",
		},
		Views: &AuthControllerViews{
			Login:         "login",
			Register:      "register",
			PasswordReset: "password_reset",
			Profile:       "profile",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Registry == nil {
		panic("Missing ClientRegistry in auth controller...")
	}

	if c.Guard == nil {
		panic("Missing RouteGuard in auth controller...")
	}

	return c
}

func (a *AuthController) LoginShow(c *fiber.Ctx) error {
	client, err := a.Registry.Client(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	if client.Store.Snapshot().Authenticated() {
		return c.Redirect(a.Guard.GetRedirect(c, a.AfterLogin), fiber.StatusSeeOther)
	}

	return c.Render(a.Views.Login, MergeViewData(c, fiber.Map{
		"errors": nil,
		"record": nil,
	}))
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Login, MergeViewData(c, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		}))
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Login, MergeViewData(c, fiber.Map{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		}))
	}

	if a.Debug {
		a.Logger.Debug("login attempt", "payload", print.MaybePrettyJSON(map[string]string{"email": payload.Email}))
	}

	client, err := a.Registry.Client(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	if err := client.Store.SignIn(c.UserContext(), payload.Email, payload.Password); err != nil {
		a.Logger.Error("login error", "error", err)
		return c.Status(fiber.StatusUnauthorized).Render(a.Views.Login, MergeViewData(c, fiber.Map{
			"errors": map[string]string{"authentication": IdentityErrorMessage(err)},
			"record": payload,
		}))
	}

	a.saveUser(c.UserContext(), client.Store.User(), MethodLogin)

	redirect := a.Guard.GetRedirect(c, a.AfterLogin)
	a.Logger.Debug("redirecting", "to", redirect)

	return c.Redirect(redirect, fiber.StatusSeeOther)
}

// ProviderLoginRequest carries the credential returned by the social
// provider popup in the browser.
type ProviderLoginRequest struct {
	Credential string `form:"credential" json:"credential"`
}

func (r ProviderLoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Credential, validation.Required),
	)
}

func (a *AuthController) ProviderLoginPost(c *fiber.Ctx) error {
	providerID := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	payload := new(ProviderLoginRequest)

	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Login, MergeViewData(c, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
		}))
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Login, MergeViewData(c, fiber.Map{
			"validation": FormatValidationErrorToMap(err),
		}))
	}

	client, err := a.Registry.Client(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	ctx := c.UserContext()
	if err := client.Store.SignInWithProvider(ctx, providerID, payload.Credential); err != nil {
		a.Logger.Error("provider login error", "provider", providerID, "error", err)
		return c.Status(fiber.StatusUnauthorized).Render(a.Views.Login, MergeViewData(c, fiber.Map{
			"errors": map[string]string{"authentication": IdentityErrorMessage(err)},
		}))
	}

	a.saveUser(ctx, client.Store.User(), providerID)

	return c.Redirect(a.Guard.GetRedirect(c, a.AfterLogin), fiber.StatusSeeOther)
}

func (a *AuthController) LogOut(c *fiber.Ctx) error {
	client, err := a.Registry.Client(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	if err := client.Logout(c.UserContext()); err != nil {
		a.Logger.Error("logout error", "client", client.ID, "error", err)
	}

	return c.Redirect("/", fiber.StatusSeeOther)
}

func (a *AuthController) RegistrationShow(c *fiber.Ctx) error {
	return c.Render(a.Views.Register, MergeViewData(c, fiber.Map{
		"errors": map[string]string{},
		"record": RegistrationCreatePayload{},
	}))
}

// RegistrationCreatePayload is the form payload
type RegistrationCreatePayload struct {
	Name            string `form:"name" json:"name"`
	Email           string `form:"email" json:"email"`
	PhotoURL        string `form:"photo_url" json:"photo_url"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

var (
	hasUppercase = regexp.MustCompile(`[A-Z]`)
	hasLowercase = regexp.MustCompile(`[a-z]`)
	hasNumber    = regexp.MustCompile(`\d`)
)

// PasswordRules are the strength rules applied on sign up
func PasswordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(6, 100),
		validation.Match(hasUppercase).Error("must include at least one uppercase letter"),
		validation.Match(hasLowercase).Error("must include at least one lowercase letter"),
		validation.Match(hasNumber).Error("must include at least one number"),
	}
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(6, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.PhotoURL, is.URL),
		validation.Field(&r.Password, PasswordRules()...),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) RegistrationCreate(c *fiber.Ctx) error {
	payload := new(RegistrationCreatePayload)

	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("register user parse payload", "error", err)
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Register, MergeViewData(c, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		}))
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register user validate payload", "error", err)
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Register, MergeViewData(c, fiber.Map{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		}))
	}

	client, err := a.Registry.Client(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	ctx := c.UserContext()
	user, err := client.Store.Register(ctx, RegisterInput{
		DisplayName: strings.TrimSpace(payload.Name),
		Email:       payload.Email,
		Password:    payload.Password,
		PhotoURL:    payload.PhotoURL,
	})
	if err != nil && user == nil {
		a.Logger.Error("register user error", "error", err)
		return c.Status(registerStatus(err)).Render(a.Views.Register, MergeViewData(c, fiber.Map{
			"record": payload,
			"errors": map[string]string{"form": IdentityErrorMessage(err)},
		}))
	}

	a.saveUser(ctx, user, MethodPassword)

	if err != nil {
		// identity exists but the backend token did not follow, the gate
		// sends the user back to login
		a.Logger.Error("register token error", "error", err)
	}

	return c.Redirect(a.Guard.GetRedirect(c, a.AfterLogin), fiber.StatusSeeOther)
}

func (a *AuthController) PasswordResetGet(c *fiber.Ctx) error {
	return c.Render(a.Views.PasswordReset, MergeViewData(c, fiber.Map{
		"errors": nil,
		"sent":   false,
	}))
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AuthController) PasswordResetPost(c *fiber.Ctx) error {
	payload := new(PasswordResetRequestPayload)

	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.PasswordReset, MergeViewData(c, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		}))
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.PasswordReset, MergeViewData(c, fiber.Map{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		}))
	}

	client, err := a.Registry.Client(c)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	if err := client.Store.SendPasswordReset(c.UserContext(), payload.Email); err != nil {
		// unknown emails get the same answer as known ones
		if !HasTextCode(err, TextCodeUserNotFound) {
			a.Logger.Error("password reset error", "error", err)
			return c.Status(fiber.StatusBadGateway).Render(a.Views.PasswordReset, MergeViewData(c, fiber.Map{
				"record": payload,
				"errors": map[string]string{"form": IdentityErrorMessage(err)},
			}))
		}
	}

	return c.Render(a.Views.PasswordReset, MergeViewData(c, fiber.Map{
		"errors": nil,
		"sent":   true,
		"record": payload,
	}))
}

// ProfileUpdatePayload updates the display name and photo
type ProfileUpdatePayload struct {
	Name     string `form:"name" json:"name"`
	PhotoURL string `form:"photo_url" json:"photo_url"`
}

func (r ProfileUpdatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.PhotoURL, is.URL),
	)
}

func (a *AuthController) ProfileUpdatePost(c *fiber.Ctx) error {
	payload := new(ProfileUpdatePayload)

	if err := c.BodyParser(payload); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Profile, MergeViewData(c, fiber.Map{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		}))
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render(a.Views.Profile, MergeViewData(c, fiber.Map{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		}))
	}

	client, ok := ClientFromContext(c)
	if !ok {
		return a.ErrorHandler(c, ErrNotSignedIn)
	}

	user, err := client.Store.UpdateProfile(c.UserContext(), strings.TrimSpace(payload.Name), payload.PhotoURL)
	if err != nil {
		a.Logger.Error("profile update error", "error", err)
		return c.Status(fiber.StatusBadGateway).Render(a.Views.Profile, MergeViewData(c, fiber.Map{
			"record": payload,
			"errors": map[string]string{"form": IdentityErrorMessage(err)},
		}))
	}

	return c.Render(a.Views.Profile, MergeViewData(c, fiber.Map{
		"user":    user,
		"updated": true,
	}))
}

func (a *AuthController) saveUser(ctx context.Context, user *User, method string) {
	if a.OnUserSaved == nil || user == nil {
		return
	}
	if err := a.OnUserSaved(ctx, user, method); err != nil {
		a.Logger.Error("save user error", "email", user.Email, "method", method, "error", err)
	}
}

// IdentityErrorMessage turns identity errors into a message safe to show
func IdentityErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case HasTextCode(err, TextCodeInvalidCredentials), HasTextCode(err, TextCodeUserNotFound):
		return "Invalid email or password"
	case HasTextCode(err, TextCodeEmailInUse):
		return "An account with this email already exists"
	case HasTextCode(err, TextCodeWeakPassword):
		return "Password is too weak"
	case HasTextCode(err, TextCodeUserDisabled):
		return "This account has been disabled"
	case HasTextCode(err, TextCodeProviderRejected):
		return "Sign in with the provider was cancelled or rejected"
	case HasTextCode(err, TextCodeTokenIssueFailed), HasTextCode(err, TextCodeStorageFailed):
		return "Signed in, but the session could not be started. Please try again"
	case IsCanceled(err):
		return "The request timed out. Please try again"
	default:
		return "Authentication Error"
	}
}

func registerStatus(err error) int {
	switch {
	case HasTextCode(err, TextCodeEmailInUse):
		return fiber.StatusConflict
	case HasTextCode(err, TextCodeWeakPassword):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusBadGateway
	}
}

// FormatValidationErrorToMap flattens validation errors into field messages
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}
	out["form"] = err.Error()
	return out
}

func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func defaultErrHandler(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).Render("errors/500", fiber.Map{
		"message": fmt.Sprint(err),
	})
}
