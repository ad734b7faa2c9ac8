package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/backend"
)

// minPackageImages is the number of photos a new package needs
const minPackageImages = 5

func splitLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (h *Handlers) TourGuide(c *fiber.Ctx) error {
	guide, err := h.public.GetTourGuide(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return render(c, "tour_guide", fiber.Map{"guide": guide})
}

func (h *Handlers) MyStories(c *fiber.Ctx) error {
	session, _ := gate.SessionFromContext(c)

	q := pageQuery(c)
	page, err := h.public.ListUserStories(c.UserContext(), session.Email(), q)
	if err != nil {
		return err
	}

	return render(c, "my_stories", fiber.Map{
		"stories": page.Stories,
		"total":   page.Total,
		"page":    q.Page,
	})
}

// ownStory loads the story id and checks that email shared it
func (h *Handlers) ownStory(c *fiber.Ctx, email string) (*backend.Story, error) {
	story, err := h.public.GetStory(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(story.Email, email) {
		return nil, fiber.NewError(fiber.StatusForbidden, "You can only change your own stories")
	}
	return story, nil
}

func (h *Handlers) EditStoryForm(c *fiber.Ctx) error {
	session, _ := gate.SessionFromContext(c)
	story, err := h.ownStory(c, session.Email())
	if err != nil {
		return err
	}

	return render(c, "story_edit", fiber.Map{
		"id": story.ID,
		"record": StoryPayload{
			Title:       story.Title,
			Description: story.Description,
			Location:    story.Location,
			Images:      strings.Join(story.Images, "\n"),
		},
	})
}

// UpdateStory saves the edit form. The image list posted is the full set
// the story keeps, the backend receives the difference.
func (h *Handlers) UpdateStory(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}
	story, err := h.ownStory(c, session.Email())
	if err != nil {
		return err
	}

	payload := new(StoryPayload)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Failed to parse form")
	}

	images := payload.imageList()
	err = payload.Validate()
	if err == nil && len(images) == 0 {
		err = validation.Errors{"images": errors.New("keep at least one image")}
	}
	if err != nil {
		return c.Status(fiber.StatusBadRequest).Render("story_edit", gate.MergeViewData(c, fiber.Map{
			"id":         story.ID,
			"record":     payload,
			"validation": gate.FormatValidationErrorToMap(err),
		}))
	}

	update := backend.StoryUpdate{
		Title:       strings.TrimSpace(payload.Title),
		Description: strings.TrimSpace(payload.Description),
		Location:    strings.TrimSpace(payload.Location),
	}
	for _, img := range images {
		if !slices.Contains(story.Images, img) {
			update.ImagesToAdd = append(update.ImagesToAdd, img)
		}
	}
	for _, img := range story.Images {
		if !slices.Contains(images, img) {
			update.ImagesToRemove = append(update.ImagesToRemove, img)
		}
	}

	if err := api.UpdateStory(c.UserContext(), session.Email(), story.ID, update); err != nil {
		return err
	}
	return c.Redirect("/dashboard/stories", fiber.StatusSeeOther)
}

func (h *Handlers) DeleteStory(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}
	story, err := h.ownStory(c, session.Email())
	if err != nil {
		return err
	}

	deleted, err := api.DeleteStory(c.UserContext(), session.Email(), story.ID)
	if err != nil {
		return err
	}
	if !deleted {
		h.logger.Warn("story was not deleted", "story", story.ID, "email", session.Email())
	}
	return c.Redirect("/dashboard/stories", fiber.StatusSeeOther)
}

// ApplicationPayload is the join as tour guide form
type ApplicationPayload struct {
	Title      string `form:"application_title" json:"application_title"`
	Reason     string `form:"reason" json:"reason"`
	CVLink     string `form:"cv_link" json:"cv_link"`
	Phone      string `form:"phone" json:"phone"`
	Region     string `form:"region" json:"region"`
	District   string `form:"district" json:"district"`
	Experience string `form:"experience" json:"experience"`
	Languages  string `form:"languages" json:"languages"`
	Bio        string `form:"bio" json:"bio"`
	Age        int    `form:"age" json:"age"`
}

func (p ApplicationPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.Required, validation.Length(3, 120)),
		validation.Field(&p.Reason, validation.Required, validation.Length(10, 2000)),
		validation.Field(&p.CVLink, validation.Required, is.URL),
		validation.Field(&p.Phone, validation.Required, validation.Length(6, 20)),
		validation.Field(&p.Region, validation.Required),
		validation.Field(&p.District, validation.Required),
		validation.Field(&p.Experience, validation.Required),
		validation.Field(&p.Languages, validation.Required),
		validation.Field(&p.Age, validation.Required, validation.Min(18), validation.Max(99)),
	)
}

func (h *Handlers) ApplicationForm(c *fiber.Ctx) error {
	return render(c, "apply", fiber.Map{"record": ApplicationPayload{}})
}

func (h *Handlers) CreateApplication(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	payload := new(ApplicationPayload)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Failed to parse form")
	}
	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render("apply", gate.MergeViewData(c, fiber.Map{
			"record":     payload,
			"validation": gate.FormatValidationErrorToMap(err),
		}))
	}

	user := session.User
	res, err := api.CreateApplication(c.UserContext(), user.Email, backend.Application{
		Name:             user.DisplayName,
		Email:            user.Email,
		Photo:            user.PhotoURL,
		Phone:            strings.TrimSpace(payload.Phone),
		ApplicationTitle: strings.TrimSpace(payload.Title),
		Reason:           strings.TrimSpace(payload.Reason),
		CVLink:           strings.TrimSpace(payload.CVLink),
		Region:           payload.Region,
		District:         payload.District,
		Experience:       strings.TrimSpace(payload.Experience),
		Languages:        splitList(payload.Languages),
		Bio:              strings.TrimSpace(payload.Bio),
		Age:              payload.Age,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if res.InsertedID == "" {
		return render(c, "apply", fiber.Map{
			"record": ApplicationPayload{},
			"notice": res.Message,
		})
	}
	return render(c, "apply", fiber.Map{
		"record":    ApplicationPayload{},
		"submitted": true,
	})
}

func (h *Handlers) ManageCandidates(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	q := pageQuery(c)
	q.Status = backend.ApplicationPending
	q.Region = strings.TrimSpace(c.Query("region"))

	page, err := api.ListApplications(c.UserContext(), session.Email(), q)
	if err != nil {
		return err
	}

	return render(c, "admin_candidates", fiber.Map{
		"candidates": page.Applications,
		"total":      page.Total,
		"page":       q.Page,
		"search":     q.Search,
		"region":     q.Region,
	})
}

// AcceptCandidate promotes the applicant to tour guide and removes the
// application.
func (h *Handlers) AcceptCandidate(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	candidate := strings.TrimSpace(c.FormValue("email"))
	if err := validation.Validate(candidate, validation.Required, is.Email); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "candidate email is required")
	}

	ctx := c.UserContext()
	if err := api.PromoteCandidate(ctx, session.Email(), candidate); err != nil {
		return err
	}
	if err := api.DeleteApplication(ctx, session.Email(), c.Params("id")); err != nil {
		return err
	}
	return c.Redirect("/dashboard/admin/candidates", fiber.StatusSeeOther)
}

func (h *Handlers) RejectCandidate(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}
	if err := api.DeleteApplication(c.UserContext(), session.Email(), c.Params("id")); err != nil {
		return err
	}
	return c.Redirect("/dashboard/admin/candidates", fiber.StatusSeeOther)
}

// PackagePayload is the add package form. Images holds one URL per line
// and TourPlan one day per line as "title | description".
type PackagePayload struct {
	Title       string  `form:"title" json:"title"`
	TourType    string  `form:"tour_type" json:"tour_type"`
	Location    string  `form:"location" json:"location"`
	Price       float64 `form:"price" json:"price"`
	Duration    string  `form:"duration" json:"duration"`
	Description string  `form:"description" json:"description"`
	Images      string  `form:"images" json:"images"`
	TourPlan    string  `form:"tour_plan" json:"tour_plan"`
}

func (p PackagePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.Required, validation.Length(3, 200)),
		validation.Field(&p.TourType, validation.Required),
		validation.Field(&p.Location, validation.Required),
		validation.Field(&p.Price, validation.Required, validation.Min(0.01)),
		validation.Field(&p.Duration, validation.Required),
		validation.Field(&p.Description, validation.Required, validation.Length(10, 5000)),
		validation.Field(&p.Images, validation.By(func(any) error {
			if len(splitLines(p.Images)) < minPackageImages {
				return fmt.Errorf("add at least %d images", minPackageImages)
			}
			return nil
		})),
		validation.Field(&p.TourPlan, validation.Required),
	)
}

func (p PackagePayload) tourPlan() []backend.TourPlanDay {
	var days []backend.TourPlanDay
	for i, line := range splitLines(p.TourPlan) {
		title, description, _ := strings.Cut(line, "|")
		days = append(days, backend.TourPlanDay{
			Day:         "Day " + strconv.Itoa(i+1),
			Title:       strings.TrimSpace(title),
			Description: strings.TrimSpace(description),
		})
	}
	return days
}

func (h *Handlers) PackageForm(c *fiber.Ctx) error {
	return render(c, "package_new", fiber.Map{"record": PackagePayload{}})
}

func (h *Handlers) CreatePackage(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	payload := new(PackagePayload)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Failed to parse form")
	}
	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render("package_new", gate.MergeViewData(c, fiber.Map{
			"record":     payload,
			"validation": gate.FormatValidationErrorToMap(err),
		}))
	}

	res, err := api.CreatePackage(c.UserContext(), session.Email(), backend.Package{
		Title:       strings.TrimSpace(payload.Title),
		TourType:    strings.TrimSpace(payload.TourType),
		Location:    strings.TrimSpace(payload.Location),
		Price:       payload.Price,
		Duration:    strings.TrimSpace(payload.Duration),
		Description: strings.TrimSpace(payload.Description),
		Images:      splitLines(payload.Images),
		TourPlan:    payload.tourPlan(),
	})
	if err != nil {
		return err
	}

	return c.Redirect("/packages/"+res.InsertedID, fiber.StatusSeeOther)
}

// GuideInfoPayload edits the guide profile
type GuideInfoPayload struct {
	Name       string `form:"name" json:"name"`
	Phone      string `form:"phone" json:"phone"`
	Photo      string `form:"photo" json:"photo"`
	Bio        string `form:"bio" json:"bio"`
	Age        int    `form:"age" json:"age"`
	Experience string `form:"experience" json:"experience"`
	Region     string `form:"region" json:"region"`
	District   string `form:"district" json:"district"`
	Languages  string `form:"languages" json:"languages"`
}

func (p GuideInfoPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(2, 100)),
		validation.Field(&p.Phone, validation.Required, validation.Length(6, 20)),
		validation.Field(&p.Photo, is.URL),
		validation.Field(&p.Age, validation.Required, validation.Min(18), validation.Max(99)),
		validation.Field(&p.Region, validation.Required),
		validation.Field(&p.District, validation.Required),
		validation.Field(&p.Languages, validation.Required),
	)
}

func guideInfoPayload(info *backend.GuideInfo) GuideInfoPayload {
	return GuideInfoPayload{
		Name:       info.Name,
		Phone:      info.Phone,
		Photo:      info.Photo,
		Bio:        info.Bio,
		Age:        info.Age,
		Experience: info.Experience,
		Region:     info.Region,
		District:   info.District,
		Languages:  strings.Join(info.Languages, ", "),
	}
}

func (h *Handlers) GuideProfile(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	info, err := api.GetGuideInfo(c.UserContext(), session.Email())
	if err != nil {
		return err
	}
	return render(c, "guide_profile", fiber.Map{
		"info":   info,
		"record": guideInfoPayload(info),
	})
}

func (h *Handlers) UpdateGuideProfile(c *fiber.Ctx) error {
	api, session, err := secureAPI(c)
	if err != nil {
		return err
	}

	payload := new(GuideInfoPayload)
	if err := c.BodyParser(payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Failed to parse form")
	}
	if err := payload.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).Render("guide_profile", gate.MergeViewData(c, fiber.Map{
			"record":     payload,
			"validation": gate.FormatValidationErrorToMap(err),
		}))
	}

	err = api.UpdateGuideInfo(c.UserContext(), session.Email(), backend.GuideInfo{
		Name:       strings.TrimSpace(payload.Name),
		Email:      session.Email(),
		Phone:      strings.TrimSpace(payload.Phone),
		Photo:      strings.TrimSpace(payload.Photo),
		Bio:        strings.TrimSpace(payload.Bio),
		Age:        payload.Age,
		Experience: strings.TrimSpace(payload.Experience),
		Region:     payload.Region,
		District:   payload.District,
		Languages:  splitList(payload.Languages),
	})
	if err != nil {
		return err
	}
	return c.Redirect("/dashboard/guide/profile", fiber.StatusSeeOther)
}
