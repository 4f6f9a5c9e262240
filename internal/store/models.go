package store

import (
	"encoding/json"
	"time"
)

type Organization struct {
	ID        string
	Slug      string
	Name      string
	CreatedAt time.Time
}

// Profile is a person who can sign in. Role is filled from the membership of
// the organization the profile was loaded for.
type Profile struct {
	ID                    string
	Email                 string
	DisplayName           string
	AvatarURL             string
	Locale                string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	StripeCustomerID      string
	Role                  string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Membership struct {
	OrgID       string
	OrgSlug     string
	OrgName     string
	ProfileID   string
	Email       string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

type Product struct {
	ID            string
	OrgID         string
	Name          string
	Slug          string
	Description   string
	PriceCents    int64
	Currency      string
	StripePriceID string
	ImageURL      string
	Active        bool
	Bookable      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PricingPlan struct {
	ID            string
	OrgID         string
	Name          string
	Interval      string // month, year, one_time
	PriceCents    int64
	Currency      string
	StripePriceID string
	Features      []string
	Highlighted   bool
	SortOrder     int
	CreatedAt     time.Time
}

type Competitor struct {
	ID        string
	OrgID     string
	Name      string
	Website   string
	SortOrder int
}

type CompetitorPlan struct {
	ID           string
	CompetitorID string
	Name         string
	PriceCents   int64
	Interval     string
}

type CompetitorFeature struct {
	CompetitorID string
	PlanID       string
	FeatureKey   string
	Value        string
}

type Booking struct {
	ID              string
	OrgID           string
	ProfileID       string
	ProductID       string
	StartsAt        time.Time
	EndsAt          time.Time
	Status          string // pending, confirmed, cancelled
	Notes           string
	PaymentIntentID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Post struct {
	ID            string
	OrgID         string
	Slug          string
	Title         string
	Excerpt       string
	Content       json.RawMessage
	PlainText     string
	Status        string // draft, published, archived
	CoverImageURL string
	Tags          []string
	AuthorID      string
	AuthorName    string
	PublishedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PostFilter struct {
	Status string
	Tag    string
	Limit  int
	Offset int
}

type Ticket struct {
	ID             string
	OrgID          string
	Number         int64
	Subject        string
	Body           string
	Status         string // open, pending, resolved, closed
	Priority       string // low, normal, high, urgent
	Category       string
	CustomerID     string
	CustomerName   string
	CustomerEmail  string
	AssigneeID     *string
	LastResponseAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// Unread is computed per viewer from ticket_reads.
	Unread bool
}

type TicketFilter struct {
	CustomerID string
	Status     string
	AssigneeID string
	Limit      int
	Offset     int
}

type TicketUpdate struct {
	Status     *string
	Priority   *string
	Category   *string
	AssigneeID *string
}

type TicketResponse struct {
	ID            string
	TicketID      string
	AuthorID      string
	AuthorName    string
	Body          string
	Internal      bool
	AttachmentURL string
	CreatedAt     time.Time
}

type Case struct {
	ID         string
	OrgID      string
	CustomerID string
	Title      string
	Status     string // open, in_progress, closed
	Priority   string
	OwnerID    *string
	TicketIDs  []string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ClosedAt   *time.Time
}

type CaseFilter struct {
	CustomerID string
	Status     string
	OwnerID    string
	Limit      int
	Offset     int
}

// CustomerActivity is the raw per-customer aggregate the CRM summary is built from.
type CustomerActivity struct {
	ProfileID       string
	DisplayName     string
	Email           string
	OpenCases       int
	ClosedCases     int
	TicketsByStatus map[string]int
	PaidCents       int64
	LastActivityAt  *time.Time
}

type Setting struct {
	OrgID     string
	Key       string
	Value     json.RawMessage
	Public    bool
	UpdatedAt time.Time
}

type CookieCategory struct {
	ID             string
	OrgID          string
	Key            string
	Name           string
	Description    string
	Required       bool
	DefaultEnabled bool
	SortOrder      int
}

type Order struct {
	ID                string
	OrgID             string
	ProfileID         string
	Kind              string // plan, product, booking
	ReferenceID       string
	AmountCents       int64
	Currency          string
	Status            string // pending, paid, failed, refunded
	ProviderSessionID string
	ProviderPaymentID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Subscription struct {
	ID                     string
	OrgID                  string
	ProfileID              string
	PlanID                 string
	ProviderSubscriptionID string
	Status                 string
	CurrentPeriodEnd       *time.Time
	UpdatedAt              time.Time
}

type Transcription struct {
	ID         string
	OrgID      string
	ProfileID  string
	TicketID   *string
	ProviderID string
	AudioURL   string
	Status     string
	Text       string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type RefreshSession struct {
	ProfileID string
	OrgID     string
	ExpiresAt time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
