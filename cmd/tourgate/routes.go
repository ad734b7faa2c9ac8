package main

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/backend"
	"github.com/goliatone/go-auth-gate/rest"
)

// Routes mounts every page on the app server
func Routes(app *App) {
	srv := app.srv
	guard := app.guard
	h := &Handlers{public: app.public, logger: app.GetLogger("handlers")}

	srv.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(app.promReg, promhttp.HandlerOpts{})))

	gate.RegisterAuthRoutes(srv,
		gate.WithControllerRegistry(app.clients),
		gate.WithControllerGuard(guard),
		gate.WithControllerLogger(app.GetLogger("auth:http")),
		gate.WithControllerDebug(app.cfg.Debug),
		gate.WithErrorHandler(errorHandler(app.GetLogger("auth:http"))),
		gate.WithUserHook(saveUserHook(app.public)),
	)

	withClient := guard.WithClient()
	srv.Get("/", withClient, h.Home).Name("home")
	srv.Get("/packages", withClient, h.Packages).Name("packages")
	srv.Get("/packages/:id", withClient, h.Package).Name("package")
	srv.Get("/stories", withClient, h.Stories).Name("stories")
	srv.Get("/stories/:id", withClient, h.Story).Name("story")
	srv.Get("/guides/:id", withClient, h.TourGuide).Name("guide")
	srv.Get("/forbidden", withClient, h.Forbidden).Name("forbidden")

	signedIn := guard.Protect(gate.RequireAuth())
	tourist := guard.Protect(gate.RequireRole(gate.RoleTourist))
	guide := guard.Protect(gate.RequireRole(gate.RoleTourGuide))
	admin := guard.Protect(gate.RequireRole(gate.RoleAdmin))
	storyteller := guard.Protect(gate.RequireRole(gate.RoleTourist, gate.RoleTourGuide))
	anyRole := guard.Protect(gate.RequireRole(gate.GetAllRoles()...))

	srv.Get("/profile", signedIn, h.Profile).Name("profile.get")
	srv.Get("/dashboard", anyRole, h.Dashboard).Name("dashboard")

	srv.Get("/dashboard/bookings", tourist, h.MyBookings).Name("bookings")
	srv.Post("/bookings", tourist, h.CreateBooking).Name("bookings.post")
	srv.Post("/payments/intent", tourist, h.PaymentIntent).Name("payments.intent")
	srv.Post("/payments", tourist, h.RecordPayment).Name("payments.post")
	srv.Get("/dashboard/apply", tourist, h.ApplicationForm).Name("applications.new")
	srv.Post("/dashboard/apply", tourist, h.CreateApplication).Name("applications.post")

	srv.Get("/dashboard/stories", storyteller, h.MyStories).Name("stories.mine")
	srv.Get("/dashboard/stories/new", storyteller, h.StoryForm).Name("stories.new")
	srv.Post("/dashboard/stories", storyteller, h.CreateStory).Name("stories.post")
	srv.Get("/dashboard/stories/:id/edit", storyteller, h.EditStoryForm).Name("stories.edit")
	srv.Post("/dashboard/stories/:id", storyteller, h.UpdateStory).Name("stories.update")
	srv.Post("/dashboard/stories/:id/delete", storyteller, h.DeleteStory).Name("stories.delete")

	srv.Get("/dashboard/guide", guide, h.AssignedTours).Name("guide.tours")
	srv.Post("/dashboard/guide/:id/status", guide, h.UpdateTourStatus).Name("guide.tours.status")
	srv.Get("/dashboard/guide/profile", guide, h.GuideProfile).Name("guide.profile")
	srv.Post("/dashboard/guide/profile", guide, h.UpdateGuideProfile).Name("guide.profile.post")

	srv.Get("/dashboard/admin/users", admin, h.ManageUsers).Name("admin.users")
	srv.Get("/dashboard/admin/candidates", admin, h.ManageCandidates).Name("admin.candidates")
	srv.Post("/dashboard/admin/candidates/:id/accept", admin, h.AcceptCandidate).Name("admin.candidates.accept")
	srv.Post("/dashboard/admin/candidates/:id/reject", admin, h.RejectCandidate).Name("admin.candidates.reject")
	srv.Get("/dashboard/admin/packages/new", admin, h.PackageForm).Name("admin.packages.new")
	srv.Post("/dashboard/admin/packages", admin, h.CreatePackage).Name("admin.packages.post")
}

// saveUserHook creates the backend user document with the default role
// the first time an identity is seen. Password sign ins only send the
// email so the backend can record the login.
func saveUserHook(public *backend.Public) gate.UserHook {
	return func(ctx context.Context, user *gate.User, method string) error {
		if method == gate.MethodLogin {
			return public.TouchUser(ctx, user.Email)
		}
		now := time.Now().UTC()
		return public.SaveUser(ctx, backend.UserRecord{
			Email:     user.Email,
			Name:      user.DisplayName,
			Image:     user.PhotoURL,
			Role:      backend.DefaultRole,
			CreatedAt: now,
			LastLogIn: now,
		})
	}
}

func errorHandler(logger gate.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "Something went wrong"

		var ferr *fiber.Error
		switch {
		case errors.As(err, &ferr):
			status = ferr.Code
			message = ferr.Message
		case rest.StatusCode(err) == fiber.StatusNotFound:
			status = fiber.StatusNotFound
			message = "Not found"
		case rest.StatusCode(err) != 0:
			status = fiber.StatusBadGateway
			message = "The tour service is unavailable, please try again"
		case gate.HasTextCode(err, gate.TextCodeNotSignedIn):
			status = fiber.StatusUnauthorized
			message = "Please sign in"
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", "path", c.OriginalURL(), "status", status, "error", err)
		}

		if c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON {
			return c.Status(status).JSON(fiber.Map{"error": message})
		}
		return c.Status(status).Render("errors/500", gate.MergeViewData(c, fiber.Map{
			"status":  status,
			"message": message,
		}))
	}
}
