package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gate "github.com/goliatone/go-auth-gate"
	"github.com/goliatone/go-auth-gate/backend"
	"github.com/goliatone/go-auth-gate/rest"
)

type recordedViews struct {
	mu   sync.Mutex
	name string
	data fiber.Map
}

func (v *recordedViews) Load() error { return nil }

func (v *recordedViews) Render(w io.Writer, name string, binding any, _ ...string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.name = name
	v.data, _ = binding.(fiber.Map)
	_, err := io.WriteString(w, "view:"+name)
	return err
}

func (v *recordedViews) Last() (string, fiber.Map) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.name, v.data
}

type backendCall struct {
	route string
	query url.Values
	body  map[string]any
}

// tourBackend answers with canned JSON per "METHOD /path" and records
// every call it receives
type tourBackend struct {
	mu        sync.Mutex
	calls     []backendCall
	responses map[string]any
}

func (b *tourBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call := backendCall{route: r.Method + " " + r.URL.Path, query: r.URL.Query()}
	_ = json.NewDecoder(r.Body).Decode(&call.body)

	b.mu.Lock()
	b.calls = append(b.calls, call)
	res, ok := b.responses[call.route]
	b.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (b *tourBackend) Calls() []backendCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backendCall(nil), b.calls...)
}

func (b *tourBackend) Routes() []string {
	var out []string
	for _, call := range b.Calls() {
		out = append(out, call.route)
	}
	return out
}

func (b *tourBackend) Last(route string) backendCall {
	calls := b.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].route == route {
			return calls[i]
		}
	}
	return backendCall{}
}

type handlerFixture struct {
	app     *fiber.App
	views   *recordedViews
	backend *tourBackend
}

// newHandlerFixture mounts the handlers behind a middleware that sets the
// locals the route guard leaves for an authorized request
func newHandlerFixture(t *testing.T, role gate.Role, responses map[string]any) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		views:   &recordedViews{},
		backend: &tourBackend{responses: responses},
	}
	srv := httptest.NewServer(f.backend)
	t.Cleanup(srv.Close)

	publicClient, err := rest.NewPublic(srv.URL)
	require.NoError(t, err)
	secureClient, err := rest.NewAuthenticated(srv.URL, rest.TokenSourceFunc(func() string { return "jwt-1" }))
	require.NoError(t, err)

	client := &gate.ClientSession{ID: "c1", API: backend.NewSecure(secureClient)}
	session := gate.Session{
		User: &gate.User{
			UID:         "u1",
			Email:       "ana@example.com",
			DisplayName: "Ana Lima",
			PhotoURL:    "https://img.test/ana.png",
		},
		AccessToken: "jwt-1",
	}

	f.app = fiber.New(fiber.Config{Views: f.views})
	f.app.Use(func(c *fiber.Ctx) error {
		c.Locals(gate.LocalsClientKey, client)
		c.Locals(gate.LocalsSessionKey, session)
		c.Locals(gate.LocalsRoleKey, role)
		return c.Next()
	})

	h := &Handlers{public: backend.NewPublic(publicClient), logger: gate.NopLogger{}}
	f.app.Get("/dashboard/stories/:id/edit", h.EditStoryForm)
	f.app.Post("/dashboard/stories/:id", h.UpdateStory)
	f.app.Post("/dashboard/stories/:id/delete", h.DeleteStory)
	f.app.Post("/dashboard/apply", h.CreateApplication)
	f.app.Post("/dashboard/admin/candidates/:id/accept", h.AcceptCandidate)
	f.app.Post("/dashboard/admin/candidates/:id/reject", h.RejectCandidate)
	f.app.Post("/dashboard/admin/packages", h.CreatePackage)
	f.app.Post("/dashboard/guide/profile", h.UpdateGuideProfile)
	f.app.Get("/guides/:id", h.TourGuide)
	return f
}

func (f *handlerFixture) post(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err := f.app.Test(req, 2000)
	require.NoError(t, err)
	return resp
}

func (f *handlerFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, path, nil), 2000)
	require.NoError(t, err)
	return resp
}

func anaStory() backend.Story {
	return backend.Story{
		ID:          "s1",
		Title:       "Rain in Sylhet",
		Description: "Tea gardens under the monsoon",
		Email:       "ana@example.com",
		Images:      []string{"https://img.test/a.png", "https://img.test/b.png"},
	}
}

func TestHandlers_EditStoryForm(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleTourist, map[string]any{
		"GET /stories/s1": anaStory(),
	})

	resp := f.get(t, "/dashboard/stories/s1/edit")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	name, data := f.views.Last()
	assert.Equal(t, "story_edit", name)
	record := data["record"].(StoryPayload)
	assert.Equal(t, "https://img.test/a.png\nhttps://img.test/b.png", record.Images)
}

func TestHandlers_UpdateStorySendsImageDiff(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleTourist, map[string]any{
		"GET /stories/s1":   anaStory(),
		"PATCH /stories/s1": map[string]int{"modifiedCount": 1},
	})

	resp := f.post(t, "/dashboard/stories/s1", url.Values{
		"title":       {"Rain in Sylhet"},
		"description": {"Tea gardens under the monsoon, again"},
		"images":      {"https://img.test/b.png\nhttps://img.test/c.png"},
	})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard/stories", resp.Header.Get(fiber.HeaderLocation))

	call := f.backend.Last("PATCH /stories/s1")
	assert.Equal(t, "ana@example.com", call.query.Get("email"))
	assert.Equal(t, []any{"https://img.test/c.png"}, call.body["imagesToAdd"])
	assert.Equal(t, []any{"https://img.test/a.png"}, call.body["imagesToRemove"])
}

func TestHandlers_UpdateStoryKeepsOneImage(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleTourist, map[string]any{
		"GET /stories/s1": anaStory(),
	})

	resp := f.post(t, "/dashboard/stories/s1", url.Values{
		"title":       {"Rain in Sylhet"},
		"description": {"Tea gardens under the monsoon"},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, data := f.views.Last()
	assert.Contains(t, data["validation"], "images")
	assert.NotContains(t, f.backend.Routes(), "PATCH /stories/s1")
}

func TestHandlers_StoryOwnedByAnotherUser(t *testing.T) {
	story := anaStory()
	story.Email = "rafi@example.com"
	f := newHandlerFixture(t, gate.RoleTourGuide, map[string]any{
		"GET /stories/s1": story,
	})

	resp := f.post(t, "/dashboard/stories/s1/delete", url.Values{})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, []string{"GET /stories/s1"}, f.backend.Routes())
}

func TestHandlers_DeleteStory(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleTourist, map[string]any{
		"GET /stories/s1":    anaStory(),
		"DELETE /stories/s1": map[string]int{"deletedCount": 1},
	})

	resp := f.post(t, "/dashboard/stories/s1/delete", url.Values{})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, []string{"GET /stories/s1", "DELETE /stories/s1"}, f.backend.Routes())
}

func applicationForm() url.Values {
	return url.Values{
		"application_title": {"Hill guide"},
		"reason":            {"I grew up walking these hills"},
		"cv_link":           {"https://cv.test/ana"},
		"phone":             {"+8801700000000"},
		"region":            {"Sylhet"},
		"district":          {"Moulvibazar"},
		"experience":        {"3"},
		"languages":         {"Bangla, English ,"},
		"bio":               {"Tea and trails"},
		"age":               {"27"},
	}
}

func TestHandlers_CreateApplication(t *testing.T) {
	t.Run("submitted", func(t *testing.T) {
		f := newHandlerFixture(t, gate.RoleTourist, map[string]any{
			"POST /applications": map[string]string{"insertedId": "a-1"},
		})

		resp := f.post(t, "/dashboard/apply", applicationForm())

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		name, data := f.views.Last()
		assert.Equal(t, "apply", name)
		assert.Equal(t, true, data["submitted"])

		call := f.backend.Last("POST /applications")
		assert.Equal(t, "Ana Lima", call.body["name"])
		assert.Equal(t, []any{"Bangla", "English"}, call.body["languages"])
		assert.Equal(t, float64(27), call.body["age"])
		assert.Equal(t, backend.ApplicationPending, call.body["status"])
	})

	t.Run("already applied", func(t *testing.T) {
		f := newHandlerFixture(t, gate.RoleTourist, map[string]any{
			"POST /applications": map[string]string{"message": "You have already applied"},
		})

		resp := f.post(t, "/dashboard/apply", applicationForm())

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_, data := f.views.Last()
		assert.Equal(t, "You have already applied", data["notice"])
		assert.Nil(t, data["submitted"])
	})

	t.Run("under age", func(t *testing.T) {
		f := newHandlerFixture(t, gate.RoleTourist, nil)
		form := applicationForm()
		form.Set("age", "15")

		resp := f.post(t, "/dashboard/apply", form)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_, data := f.views.Last()
		assert.Contains(t, data["validation"], "age")
		assert.Empty(t, f.backend.Calls())
	})
}

func TestHandlers_AcceptCandidate(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleAdmin, map[string]any{
		"PATCH /applications":     map[string]int{"modifiedCount": 1},
		"DELETE /applications/a1": map[string]int{"deletedCount": 1},
	})

	resp := f.post(t, "/dashboard/admin/candidates/a1/accept", url.Values{"email": {"rafi@example.com"}})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/dashboard/admin/candidates", resp.Header.Get(fiber.HeaderLocation))
	assert.Equal(t, []string{"PATCH /applications", "DELETE /applications/a1"}, f.backend.Routes())

	promote := f.backend.Last("PATCH /applications")
	assert.Equal(t, "rafi@example.com", promote.body["candidateEmail"])
	assert.Equal(t, backend.CandidateRole, promote.body["role"])
}

func TestHandlers_AcceptCandidateNeedsEmail(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleAdmin, nil)

	resp := f.post(t, "/dashboard/admin/candidates/a1/accept", url.Values{})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.backend.Calls())
}

func TestHandlers_RejectCandidate(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleAdmin, map[string]any{
		"DELETE /applications/a1": map[string]int{"deletedCount": 1},
	})

	resp := f.post(t, "/dashboard/admin/candidates/a1/reject", url.Values{})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, []string{"DELETE /applications/a1"}, f.backend.Routes())
}

func TestHandlers_CreatePackage(t *testing.T) {
	form := url.Values{
		"title":       {"Bandarban hills"},
		"tour_type":   {"Hiking"},
		"location":    {"Bandarban"},
		"price":       {"90.5"},
		"duration":    {"3 days"},
		"description": {"Three days between Nilgiri and Boga lake"},
		"tour_plan":   {"Nilgiri | sunrise walk\nBoga lake"},
	}

	t.Run("needs five images", func(t *testing.T) {
		f := newHandlerFixture(t, gate.RoleAdmin, nil)
		form := cloneValues(form)
		form.Set("images", "https://img.test/1.png\nhttps://img.test/2.png")

		resp := f.post(t, "/dashboard/admin/packages", form)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		name, data := f.views.Last()
		assert.Equal(t, "package_new", name)
		assert.Contains(t, data["validation"], "images")
	})

	t.Run("created", func(t *testing.T) {
		f := newHandlerFixture(t, gate.RoleAdmin, map[string]any{
			"POST /packages": map[string]string{"insertedId": "p-9"},
		})
		form := cloneValues(form)
		form.Set("images", strings.Join([]string{
			"https://img.test/1.png", "https://img.test/2.png", "https://img.test/3.png",
			"https://img.test/4.png", "https://img.test/5.png",
		}, "\n"))

		resp := f.post(t, "/dashboard/admin/packages", form)

		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/packages/p-9", resp.Header.Get(fiber.HeaderLocation))

		call := f.backend.Last("POST /packages")
		assert.Equal(t, 90.5, call.body["price"])
		assert.Len(t, call.body["images"], 5)
		assert.Equal(t, []any{
			map[string]any{"day": "Day 1", "title": "Nilgiri", "description": "sunrise walk"},
			map[string]any{"day": "Day 2", "title": "Boga lake"},
		}, call.body["tourPlan"])
	})
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func TestHandlers_UpdateGuideProfile(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleTourGuide, map[string]any{
		"PATCH /users/guide-info": map[string]int{"modifiedCount": 1},
	})

	resp := f.post(t, "/dashboard/guide/profile", url.Values{
		"name":       {"Ana Lima"},
		"phone":      {"+8801700000000"},
		"age":        {"31"},
		"experience": {"5"},
		"region":     {"Sylhet"},
		"district":   {"Sylhet"},
		"languages":  {"Bangla,English"},
	})

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	call := f.backend.Last("PATCH /users/guide-info")
	assert.Equal(t, "ana@example.com", call.query.Get("email"))
	assert.Equal(t, "ana@example.com", call.body["email"])
	assert.Equal(t, []any{"Bangla", "English"}, call.body["languages"])
}

func TestHandlers_TourGuide(t *testing.T) {
	f := newHandlerFixture(t, gate.RoleUnknown, map[string]any{
		"GET /users/tour-guide/g1": backend.TourGuide{
			ID:        "g1",
			GuideInfo: backend.GuideInfo{Name: "Rafi", Languages: []string{"Bangla"}},
		},
	})

	resp := f.get(t, "/guides/g1")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	name, data := f.views.Last()
	assert.Equal(t, "tour_guide", name)
	assert.Equal(t, "Rafi", data["guide"].(*backend.TourGuide).GuideInfo.Name)
}
