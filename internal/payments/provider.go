// Package payments runs checkout, booking deposits, the billing portal and
// webhook settlement against a payment provider.
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConfigured    = errors.New("payments are not configured")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrNoCustomer       = errors.New("profile has no billing customer yet")
	ErrNothingToPay     = errors.New("amount must be positive")
	ErrMissingItem      = errors.New("plan or product is required")
)

const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// LineItem is either a provider price id or an inline amount.
type LineItem struct {
	PriceID     string
	Name        string
	AmountCents int64
	Currency    string
	Interval    string // month, year; empty for one-off
}

type CheckoutRequest struct {
	Mode       string
	Item       LineItem
	CustomerID string
	Email      string
	ClientRef  string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type PaymentIntentRequest struct {
	AmountCents int64
	Currency    string
	CustomerID  string
	Metadata    map[string]string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Provider is the payment platform boundary.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// Event is a verified webhook notification reduced to what settlement needs.
type Event struct {
	ID   string
	Type string

	Session      *SessionData
	Payment      *PaymentData
	Subscription *SubscriptionData
}

type SessionData struct {
	ID             string
	CustomerID     string
	PaymentID      string
	SubscriptionID string
	PaymentStatus  string
	Metadata       map[string]string
}

type PaymentData struct {
	ID       string
	Status   string
	Amount   int64
	Metadata map[string]string
}

type SubscriptionData struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd *time.Time
	Metadata         map[string]string
}

const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventPaymentSucceeded    = "payment_intent.succeeded"
	EventPaymentFailed       = "payment_intent.payment_failed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)
