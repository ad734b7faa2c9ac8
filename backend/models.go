package backend

import "time"

// UserRecord is the backend user document
type UserRecord struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Image     string    `json:"image,omitempty"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	LastLogIn time.Time `json:"last_log_in,omitempty"`
}

type TourPlanDay struct {
	Day         string `json:"day"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Package is a bookable trip
type Package struct {
	ID          string        `json:"_id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Location    string        `json:"location,omitempty"`
	TourType    string        `json:"tourType,omitempty"`
	Duration    string        `json:"duration,omitempty"`
	Price       float64       `json:"price"`
	Images      []string      `json:"images,omitempty"`
	TourPlan    []TourPlanDay `json:"tourPlan,omitempty"`
}

// Story is a travel story shared by a user
type Story struct {
	ID          string    `json:"_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Images      []string  `json:"images,omitempty"`
	Name        string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Photo       string    `json:"photo,omitempty"`
	Role        string    `json:"role,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt,omitempty"`
}

// Booking of a package by a tourist
type Booking struct {
	ID             string    `json:"_id,omitempty"`
	PackageID      string    `json:"packageId"`
	PackageName    string    `json:"packageName"`
	TouristName    string    `json:"touristName,omitempty"`
	TouristEmail   string    `json:"touristEmail"`
	TouristImage   string    `json:"touristImage,omitempty"`
	Price          float64   `json:"price"`
	TourDate       string    `json:"tourDate"`
	TourGuideName  string    `json:"tourGuideName,omitempty"`
	TourGuideImage string    `json:"tourGuideImage,omitempty"`
	TourGuideEmail string    `json:"tourGuideEmail,omitempty"`
	Status         string    `json:"status,omitempty"`
	PaymentStatus  string    `json:"payment_status,omitempty"`
	BookingAt      time.Time `json:"bookingAt,omitempty"`
}

const (
	BookingPending   = "pending"
	BookingInReview  = "in review"
	BookingAccepted  = "accepted"
	BookingRejected  = "rejected"
	BookingCancelled = "cancelled"
	PaymentNotPaid   = "not_paid"
	PaymentPaid      = "paid"
)

// Payment confirms a processed payment intent
type Payment struct {
	BookingID     string   `json:"bookingId"`
	Email         string   `json:"email"`
	Price         float64  `json:"price"`
	TransactionID string   `json:"transactionId"`
	PaymentMethod []string `json:"paymentMethod,omitempty"`
}

// InsertResult is returned by create endpoints. The backend leaves
// InsertedID empty and explains why in Message when it refused the insert.
type InsertResult struct {
	InsertedID string `json:"insertedId"`
	Message    string `json:"message,omitempty"`
}

// PaymentResult is returned once a payment was recorded
type PaymentResult struct {
	InsertedID     string `json:"insertedId"`
	UpdatedBooking bool   `json:"updatedBooking"`
}

// PageQuery paginates list endpoints
type PageQuery struct {
	Page   int
	Limit  int
	Search string
	Role   string
	Status string
	Region string
}

type BookingPage struct {
	Bookings []Booking `json:"bookings"`
	Total    int       `json:"total"`
}

type UserPage struct {
	Users []UserRecord `json:"users"`
	Total int          `json:"total"`
}

// StoryUpdate edits a story. Images are added and removed by URL.
type StoryUpdate struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Location       string   `json:"location,omitempty"`
	ImagesToAdd    []string `json:"imagesToAdd"`
	ImagesToRemove []string `json:"imagesToRemove"`
}

type StoryPage struct {
	Stories []Story `json:"stories"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
}

// ApplicationPending is the status of an application waiting for review
const ApplicationPending = "pending"

// CandidateRole is the backend label given to accepted candidates
const CandidateRole = "tour guide"

// Application is a request from a tourist to become a tour guide
type Application struct {
	ID               string    `json:"_id,omitempty"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	ApplicationTitle string    `json:"applicationTitle"`
	Reason           string    `json:"reason"`
	CVLink           string    `json:"cvLink"`
	Region           string    `json:"region"`
	District         string    `json:"district"`
	Experience       string    `json:"experience"`
	Languages        []string  `json:"languages"`
	Bio              string    `json:"bio"`
	Age              int       `json:"age"`
	Photo            string    `json:"photo,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

type ApplicationPage struct {
	Applications []Application `json:"applications"`
	Total        int           `json:"total"`
}

// GuideInfo is the public profile of a tour guide
type GuideInfo struct {
	Name       string   `json:"name"`
	Email      string   `json:"email,omitempty"`
	Phone      string   `json:"phone"`
	Photo      string   `json:"photo,omitempty"`
	Bio        string   `json:"bio"`
	Age        int      `json:"age"`
	Experience string   `json:"experience"`
	Region     string   `json:"region"`
	District   string   `json:"district"`
	Languages  []string `json:"languages"`
}

// TourGuide is a guide user document with its profile
type TourGuide struct {
	ID        string    `json:"_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Image     string    `json:"image,omitempty"`
	Role      string    `json:"role,omitempty"`
	GuideInfo GuideInfo `json:"guideInfo"`
}

// Stats holds dashboard counters, the keys depend on the role
type Stats map[string]any
