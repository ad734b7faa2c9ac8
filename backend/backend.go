// Package backend wraps the tour backend REST endpoints. Wrappers are thin:
// they only shape requests and decode responses, errors come straight from
// the rest package so callers can inspect the HTTP status.
package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-auth-gate/rest"
)

// DefaultRole is assigned to every self registered user
const DefaultRole = "tourist"

// Public calls endpoints that need no credentials
type Public struct {
	client *rest.Client
}

// NewPublic wraps an unauthenticated client
func NewPublic(client *rest.Client) *Public {
	return &Public{client: client}
}

// IssueToken exchanges email for a backend access token
func (p *Public) IssueToken(ctx context.Context, email string) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	if err := p.client.Post(ctx, "/jwt", map[string]string{"email": email}, &res); err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", goerrors.New("backend returned an empty token", goerrors.CategoryExternal).
			WithTextCode("BACKEND_EMPTY_TOKEN")
	}
	return res.Token, nil
}

// SaveUser creates the user document, the backend ignores known emails
func (p *Public) SaveUser(ctx context.Context, user UserRecord) error {
	return p.client.Post(ctx, "/users", user, nil)
}

// TouchUser records a sign in of email, the backend creates the document
// when it does not exist yet
func (p *Public) TouchUser(ctx context.Context, email string) error {
	return p.client.Post(ctx, "/users", map[string]string{"email": email}, nil)
}

func (p *Public) ListPackages(ctx context.Context) ([]Package, error) {
	var out []Package
	if err := p.client.Get(ctx, "/packages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Public) GetPackage(ctx context.Context, id string) (*Package, error) {
	out := &Package{}
	if err := p.client.Get(ctx, "/packages/"+url.PathEscape(id), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Public) ListStories(ctx context.Context) ([]Story, error) {
	var out []Story
	if err := p.client.Get(ctx, "/stories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Public) GetStory(ctx context.Context, id string) (*Story, error) {
	out := &Story{}
	if err := p.client.Get(ctx, "/stories/"+url.PathEscape(id), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListUserStories pages through the stories shared by email
func (p *Public) ListUserStories(ctx context.Context, email string, q PageQuery) (*StoryPage, error) {
	out := &StoryPage{}
	if err := p.client.Get(ctx, "/stories", pageValues(email, q), out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTourGuide returns the guide profile of the user id
func (p *Public) GetTourGuide(ctx context.Context, id string) (*TourGuide, error) {
	out := &TourGuide{}
	if err := p.client.Get(ctx, "/users/tour-guide/"+url.PathEscape(id), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Secure calls endpoints that need the bearer token. Most of them also
// take the caller email as a query parameter.
type Secure struct {
	client *rest.Client
}

// NewSecure wraps an authenticated client
func NewSecure(client *rest.Client) *Secure {
	return &Secure{client: client}
}

// FetchRole returns the raw role label for email
func (s *Secure) FetchRole(ctx context.Context, email string) (string, error) {
	var res struct {
		Role string `json:"role"`
	}
	path := "/users/" + url.PathEscape(strings.TrimSpace(email)) + "/role"
	if err := s.client.Get(ctx, path, nil, &res); err != nil {
		return "", err
	}
	return res.Role, nil
}

func (s *Secure) ListUsers(ctx context.Context, email string, q PageQuery) (*UserPage, error) {
	query := pageValues(email, q)
	if q.Role != "" {
		query.Set("role", q.Role)
	}
	out := &UserPage{}
	if err := s.client.Get(ctx, "/users", query, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Secure) CreateStory(ctx context.Context, email string, story Story) (*InsertResult, error) {
	out := &InsertResult{}
	err := s.client.Do(ctx, http.MethodPost, s.client.URL("/stories", emailValues(email)), story, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Secure) UpdateStory(ctx context.Context, email, id string, update StoryUpdate) error {
	if update.ImagesToAdd == nil {
		update.ImagesToAdd = []string{}
	}
	if update.ImagesToRemove == nil {
		update.ImagesToRemove = []string{}
	}
	target := s.client.URL("/stories/"+url.PathEscape(id), emailValues(email))
	return s.client.Do(ctx, http.MethodPatch, target, update, nil)
}

// DeleteStory reports whether the backend removed the story
func (s *Secure) DeleteStory(ctx context.Context, email, id string) (bool, error) {
	var res struct {
		DeletedCount int `json:"deletedCount"`
	}
	target := s.client.URL("/stories/"+url.PathEscape(id), emailValues(email))
	if err := s.client.Do(ctx, http.MethodDelete, target, nil, &res); err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// CreatePackage adds a package, admins only
func (s *Secure) CreatePackage(ctx context.Context, email string, pkg Package) (*InsertResult, error) {
	out := &InsertResult{}
	err := s.client.Do(ctx, http.MethodPost, s.client.URL("/packages", emailValues(email)), pkg, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateApplication submits a tour guide application. A tourist with a
// pending application gets an empty InsertedID and the reason in Message.
func (s *Secure) CreateApplication(ctx context.Context, email string, application Application) (*InsertResult, error) {
	if application.Status == "" {
		application.Status = ApplicationPending
	}
	out := &InsertResult{}
	err := s.client.Do(ctx, http.MethodPost, s.client.URL("/applications", emailValues(email)), application, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Secure) ListApplications(ctx context.Context, email string, q PageQuery) (*ApplicationPage, error) {
	query := pageValues(email, q)
	query.Set("status", q.Status)
	query.Set("region", q.Region)
	out := &ApplicationPage{}
	if err := s.client.Get(ctx, "/applications", query, out); err != nil {
		return nil, err
	}
	return out, nil
}

// PromoteCandidate gives candidateEmail the tour guide role
func (s *Secure) PromoteCandidate(ctx context.Context, email, candidateEmail string) error {
	body := map[string]string{"role": CandidateRole, "candidateEmail": candidateEmail}
	return s.client.Do(ctx, http.MethodPatch, s.client.URL("/applications", emailValues(email)), body, nil)
}

func (s *Secure) DeleteApplication(ctx context.Context, email, id string) error {
	target := s.client.URL("/applications/"+url.PathEscape(id), emailValues(email))
	return s.client.Do(ctx, http.MethodDelete, target, nil, nil)
}

func (s *Secure) GetGuideInfo(ctx context.Context, email string) (*GuideInfo, error) {
	out := &GuideInfo{}
	if err := s.client.Get(ctx, "/users/guide-info", emailValues(email), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Secure) UpdateGuideInfo(ctx context.Context, email string, info GuideInfo) error {
	target := s.client.URL("/users/guide-info", emailValues(email))
	return s.client.Do(ctx, http.MethodPatch, target, info, nil)
}

func (s *Secure) CreateBooking(ctx context.Context, email string, booking Booking) (*InsertResult, error) {
	if booking.Status == "" {
		booking.Status = BookingPending
	}
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = PaymentNotPaid
	}
	out := &InsertResult{}
	err := s.client.Do(ctx, http.MethodPost, s.client.URL("/bookings", emailValues(email)), booking, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Secure) ListBookings(ctx context.Context, email string, q PageQuery) (*BookingPage, error) {
	out := &BookingPage{}
	if err := s.client.Get(ctx, "/bookings", pageValues(email, q), out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAssignedTours returns the bookings assigned to the guide email
func (s *Secure) ListAssignedTours(ctx context.Context, email string, q PageQuery) (*BookingPage, error) {
	out := &BookingPage{}
	if err := s.client.Get(ctx, "/bookings/tourGuide/assigned", pageValues(email, q), out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateBookingStatus moves a booking to status
func (s *Secure) UpdateBookingStatus(ctx context.Context, email, bookingID, status string) error {
	target := s.client.URL("/bookings/"+url.PathEscape(bookingID), emailValues(email))
	return s.client.Do(ctx, http.MethodPatch, target, map[string]string{"status": status}, nil)
}

// Stats returns the dashboard counters of the given role
func (s *Secure) Stats(ctx context.Context, email, role string) (Stats, error) {
	var path string
	switch role {
	case "admin":
		path = "/admin/stats"
	case "tour_guide":
		path = "/tourGuide/stats"
	default:
		path = "/tourist/stats"
	}
	out := Stats{}
	if err := s.client.Get(ctx, path, emailValues(email), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePaymentIntent returns the client secret of a new payment intent
func (s *Secure) CreatePaymentIntent(ctx context.Context, email string, price float64) (string, error) {
	var res struct {
		ClientSecret string `json:"clientSecret"`
	}
	body := map[string]float64{"price": price}
	err := s.client.Do(ctx, http.MethodPost, s.client.URL("/create-payment-intent", emailValues(email)), body, &res)
	if err != nil {
		return "", err
	}
	return res.ClientSecret, nil
}

// RecordPayment stores a succeeded payment and marks the booking paid
func (s *Secure) RecordPayment(ctx context.Context, email string, payment Payment) (*PaymentResult, error) {
	out := &PaymentResult{}
	err := s.client.Do(ctx, http.MethodPost, s.client.URL("/payments", emailValues(email)), payment, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func emailValues(email string) url.Values {
	return url.Values{"email": {email}}
}

func pageValues(email string, q PageQuery) url.Values {
	v := emailValues(email)
	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	return v
}
