package main

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/backend"
)

const pageSize = 10

// Handlers serves the feature pages. Protected handlers run behind the
// route guard, so the session and role in the request locals are settled.
type Handlers struct {
	public *backend.Public
	logger gate.Logger
}

func render(c *fiber.Ctx, view string, data fiber.Map) error {
	return c.Render(view, gate.MergeViewData(c, data))
}

// secureAPI returns the authenticated backend of the request client and
// the session the guard authorized.
func secureAPI(c *fiber.Ctx) (*backend.Secure, gate.Session, error) {
	session, ok := gate.SessionFromContext(c)
	if !ok || !session.Authenticated() {
		return nil, session, gate.ErrNotSignedIn
	}
	client, ok := gate.ClientFromContext(c)
	if !ok {
		return nil, session, gate.ErrNotSignedIn
	}
	api, ok := client.API.(*backend.Secure)
	if !ok {
		return nil, session, fiber.NewError(fiber.StatusInternalServerError, "backend client not configured")
	}
	return api, session, nil
}

func pageQuery(c *fiber.Ctx) backend.PageQuery {
	return backend.PageQuery{
		Page:   c.QueryInt("page", 1),
		Limit:  pageSize,
		Search: strings.TrimSpace(c.Query("search")),
	}
}

func (h *Handlers) Home(c *fiber.Ctx) error {
	ctx := c.UserContext()

	packages, err := h.public.ListPackages(ctx)
	if err != nil {
		return err
	}
	stories, err := h.public.ListStories(ctx)
	if err != nil {
		h.logger.Warn("home stories unavailable", "error", err)
	}

	return render(c, "index", fiber.Map{
		"packages": packages,
		"stories":  stories,
	})
}

func (h *Handlers) Packages(c *fiber.Ctx) error {
	packages, err := h.public.ListPackages(c.UserContext())
	if err != nil {
		return err
	}
	return render(c, "packages", fiber.Map{"packages": packages})
}

func (h *Handlers) Package(c *fiber.Ctx) error {
	pkg, err := h.public.GetPackage(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return render(c, "package", fiber.Map{"package": pkg})
}

func (h *Handlers) Stories(c *fiber.Ctx) error {
	stories, err := h.public.ListStories(c.UserContext())
	if err != nil {
		return err
	}
	return render(c, "stories", fiber.Map{"stories": stories})
}

func (h *Handlers) Story(c *fiber.Ctx) error {
	story, err := h.public.GetStory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return render(c, "story", fiber.Map{"story": story})
}

func (h *Handlers) Forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).Render("forbidden", gate.MergeViewData(c, nil))
}

func (h *Handlers) Profile(c *fiber.Ctx) error {
	session, _ := gate.SessionFromContext(c)
	return render(c, "profile", fiber.Map{"user": session.User})
}

func (h *Handlers) Dashboard(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	role := gate.RoleFromContext(c)
	stats, err := api.Stats(c.UserContext(), session.Email(), role.String())
	if err != nil {
		h.logger.Warn("dashboard stats unavailable", "email", session.Email(), "error", err)
		stats = backend.Stats{}
	}

	return render(c, "dashboard", fiber.Map{"stats": stats})
}

func (h *Handlers) MyBookings(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	q := pageQuery(c)
	page, err := api.ListBookings(c.UserContext(), session.Email(), q)
	if err != nil {
		return err
	}

	return render(c, "bookings", fiber.Map{
		"bookings": page.Bookings,
		"total":    page.Total,
		"page":     q.Page,
	})
}

// BookingPayload is the booking form posted from a package page
type BookingPayload struct {
	PackageID      string `form:"package_id" json:"package_id"`
	TourDate       string `form:"tour_date" json:"tour_date"`
	TourGuideName  string `form:"guide_name" json:"guide_name"`
	TourGuideEmail string `form:"guide_email" json:"guide_email"`
}

func (p BookingPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.PackageID, validation.Required),
		validation.Field(&p.TourDate, validation.Required, validation.Date("2006-01-02")),
		validation.Field(&p.TourGuideEmail, is.Email),
	)
}

func (h *Handlers) CreateBooking(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	payload := new(BookingPayload)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Failed to parse form")
	}

	ctx := c.UserContext()
	pkg, err := h.public.GetPackage(ctx, payload.PackageID)
	if err != nil {
		return err
	}

	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render("package", gate.MergeViewData(c, fiber.Map{
			"package":    pkg,
			"record":     payload,
			"validation": gate.FormatValidationErrorToMap(err),
		}))
	}

	user := session.User
	// name and price come from the package, never from the form
	_, err = api.CreateBooking(ctx, user.Email, backend.Booking{
		PackageID:      pkg.ID,
		PackageName:    pkg.Title,
		Price:          pkg.Price,
		TourDate:       payload.TourDate,
		TouristName:    user.DisplayName,
		TouristEmail:   user.Email,
		TouristImage:   user.PhotoURL,
		TourGuideName:  payload.TourGuideName,
		TourGuideEmail: payload.TourGuideEmail,
	})
	if err != nil {
		return err
	}

	return c.Redirect("/dashboard/bookings", fiber.StatusSeeOther)
}

type paymentIntentRequest struct {
	Price float64 `json:"price"`
}

func (h *Handlers) PaymentIntent(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	req := new(paymentIntentRequest)
	if err := c.BodyParser(req); err != nil || req.Price <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "price must be positive"})
	}

	secret, err := api.CreatePaymentIntent(c.UserContext(), session.Email(), req.Price)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"clientSecret": secret})
}

func (h *Handlers) RecordPayment(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	payment := new(backend.Payment)
	if err := c.BodyParser(payment); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payment"})
	}
	if payment.BookingID == "" || payment.TransactionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "booking and transaction are required"})
	}
	payment.Email = session.Email()

	res, err := api.RecordPayment(c.UserContext(), session.Email(), *payment)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handlers) StoryForm(c *fiber.Ctx) error {
	return render(c, "story_new", fiber.Map{"record": StoryPayload{}})
}

// StoryPayload is the story form. Images holds one URL per line.
type StoryPayload struct {
	Title       string `form:"title" json:"title"`
	Description string `form:"description" json:"description"`
	Location    string `form:"location" json:"location"`
	Images      string `form:"images" json:"images"`
}

func (p StoryPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.Required, validation.Length(3, 200)),
		validation.Field(&p.Description, validation.Required, validation.Length(10, 5000)),
		validation.Field(&p.Location, validation.Length(0, 200)),
	)
}

func (p StoryPayload) imageList() []string {
	return splitLines(p.Images)
}

func (h *Handlers) CreateStory(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	payload := new(StoryPayload)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Failed to parse form")
	}
	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render("story_new", gate.MergeViewData(c, fiber.Map{
			"record":     payload,
			"validation": gate.FormatValidationErrorToMap(err),
		}))
	}

	user := session.User
	_, err = api.CreateStory(c.UserContext(), user.Email, backend.Story{
		Title:       strings.TrimSpace(payload.Title),
		Description: strings.TrimSpace(payload.Description),
		Location:    strings.TrimSpace(payload.Location),
		Images:      payload.imageList(),
		Name:        user.DisplayName,
		Email:       user.Email,
		Photo:       user.PhotoURL,
		Role:        gate.RoleFromContext(c).String(),
	})
	if err != nil {
		return err
	}

	return c.Redirect("/stories", fiber.StatusSeeOther)
}

func (h *Handlers) AssignedTours(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	q := pageQuery(c)
	page, err := api.ListAssignedTours(c.UserContext(), session.Email(), q)
	if err != nil {
		return err
	}

	return render(c, "guide", fiber.Map{
		"tours": page.Bookings,
		"total": page.Total,
		"page":  q.Page,
	})
}

// UpdateTourStatus lets a guide accept a tour in review or reject a
// pending one.
func (h *Handlers) UpdateTourStatus(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	status := c.FormValue("status")
	switch status {
	case backend.BookingAccepted, backend.BookingRejected:
	default:
		return fiber.NewError(fiber.StatusBadRequest, "status must be accepted or rejected")
	}

	if err := api.UpdateBookingStatus(c.UserContext(), session.Email(), c.Params("id"), status); err != nil {
		return err
	}
	return c.Redirect("/dashboard/guide", fiber.StatusSeeOther)
}

func (h *Handlers) ManageUsers(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	q := pageQuery(c)
	if role, ok := gate.ParseRole(c.Query("role")); ok && role != gate.RoleUnknown {
		q.Role = role.String()
	}

	page, err := api.ListUsers(c.UserContext(), session.Email(), q)
	if err != nil {
		return err
	}

	return render(c, "admin_users", fiber.Map{
		"users":  page.Users,
		"total":  page.Total,
		"page":   q.Page,
		"search": q.Search,
		"role":   q.Role,
	})
}
