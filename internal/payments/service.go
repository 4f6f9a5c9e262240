package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storefront/api/internal/store"
	"storefront/api/internal/util"
)

// Store is the persistence the payment flows need.
type Store interface {
	GetPricingPlan(ctx context.Context, orgID, planID string) (store.PricingPlan, error)
	GetProduct(ctx context.Context, orgID, productID string) (store.Product, error)
	GetBooking(ctx context.Context, orgID, bookingID string) (store.Booking, error)
	InsertOrder(ctx context.Context, o store.Order) error
	MarkOrderBySession(ctx context.Context, sessionID, status, paymentID string) (store.Order, error)
	MarkOrderByPayment(ctx context.Context, paymentID, status string) (store.Order, error)
	UpsertSubscription(ctx context.Context, sub store.Subscription) error
	UpdateSubscriptionStatus(ctx context.Context, providerSubscriptionID, status string, periodEnd *time.Time) error
	RecordPaymentEvent(ctx context.Context, eventID, eventType string) (bool, error)
	ForgetPaymentEvent(ctx context.Context, eventID string) error
	SetStripeCustomerID(ctx context.Context, profileID, customerID string) error
	// InsertBookingOrder stores the order and links its payment intent to the
	// booking atomically.
	InsertBookingOrder(ctx context.Context, o store.Order, bookingID string) error
	ConfirmBookingByPaymentIntent(ctx context.Context, paymentIntentID string) (bool, error)
}

const (
	KindPlan    = "plan"
	KindProduct = "product"
	KindBooking = "booking"

	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

// URLs are the redirect targets handed to hosted checkout and the portal.
type URLs struct {
	Success string
	Cancel  string
	Portal  string
}

type Service struct {
	provider Provider
	store    Store
	urls     URLs
	log      zerolog.Logger
}

// NewService returns a service whose operations fail with ErrNotConfigured
// when provider is nil.
func NewService(provider Provider, s Store, urls URLs, log zerolog.Logger) *Service {
	return &Service{provider: provider, store: s, urls: urls, log: log}
}

func (s *Service) Enabled() bool { return s.provider != nil }

// Payer is the signed-in profile starting a payment.
type Payer struct {
	OrgID      string
	ProfileID  string
	Email      string
	CustomerID string
}

type CheckoutInput struct {
	PlanID    string
	ProductID string
}

type CheckoutResult struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Checkout opens a hosted checkout session for a pricing plan or a product
// and records a pending order keyed by the session id.
func (s *Service) Checkout(ctx context.Context, payer Payer, in CheckoutInput) (CheckoutResult, error) {
	if s.provider == nil {
		return CheckoutResult{}, ErrNotConfigured
	}

	order := store.Order{
		ID:        util.NewID("ord"),
		OrgID:     payer.OrgID,
		ProfileID: payer.ProfileID,
		Status:    StatusPending,
	}
	req := CheckoutRequest{
		Mode:       ModePayment,
		CustomerID: payer.CustomerID,
		Email:      payer.Email,
		ClientRef:  payer.ProfileID,
		SuccessURL: s.urls.Success,
		CancelURL:  s.urls.Cancel,
	}

	switch {
	case in.PlanID != "":
		plan, err := s.store.GetPricingPlan(ctx, payer.OrgID, in.PlanID)
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("load plan: %w", err)
		}
		order.Kind, order.ReferenceID = KindPlan, plan.ID
		order.AmountCents, order.Currency = plan.PriceCents, NormalizeCurrency(plan.Currency)
		req.Item = LineItem{PriceID: plan.StripePriceID, Name: plan.Name, AmountCents: plan.PriceCents, Currency: order.Currency}
		if plan.Interval == "month" || plan.Interval == "year" {
			req.Mode = ModeSubscription
			req.Item.Interval = plan.Interval
		}
	case in.ProductID != "":
		product, err := s.store.GetProduct(ctx, payer.OrgID, in.ProductID)
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("load product: %w", err)
		}
		if !product.Active {
			return CheckoutResult{}, sql.ErrNoRows
		}
		order.Kind, order.ReferenceID = KindProduct, product.ID
		order.AmountCents, order.Currency = product.PriceCents, NormalizeCurrency(product.Currency)
		req.Item = LineItem{PriceID: product.StripePriceID, Name: product.Name, AmountCents: product.PriceCents, Currency: order.Currency}
	default:
		return CheckoutResult{}, ErrMissingItem
	}
	if req.Item.PriceID == "" && req.Item.AmountCents <= 0 {
		return CheckoutResult{}, ErrNothingToPay
	}
	req.Metadata = orderMetadata(order)

	session, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutResult{}, err
	}
	order.ProviderSessionID = session.ID
	if err := s.store.InsertOrder(ctx, order); err != nil {
		return CheckoutResult{}, err
	}

	s.log.Info().Str("org_id", order.OrgID).Str("order_id", order.ID).Str("kind", order.Kind).Msg("checkout session created")
	return CheckoutResult{OrderID: order.ID, SessionID: session.ID, URL: session.URL}, nil
}

type DepositResult struct {
	OrderID       string `json:"orderId"`
	PaymentIntent string `json:"paymentIntentId"`
	ClientSecret  string `json:"clientSecret"`
}

// BookingDeposit creates a payment intent for the booked product's price.
// The booking is confirmed when the intent succeeds.
func (s *Service) BookingDeposit(ctx context.Context, payer Payer, bookingID string) (DepositResult, error) {
	if s.provider == nil {
		return DepositResult{}, ErrNotConfigured
	}
	booking, err := s.store.GetBooking(ctx, payer.OrgID, bookingID)
	if err != nil {
		return DepositResult{}, fmt.Errorf("load booking: %w", err)
	}
	if booking.ProfileID != payer.ProfileID {
		return DepositResult{}, sql.ErrNoRows
	}
	product, err := s.store.GetProduct(ctx, payer.OrgID, booking.ProductID)
	if err != nil {
		return DepositResult{}, fmt.Errorf("load product: %w", err)
	}
	if product.PriceCents <= 0 {
		return DepositResult{}, ErrNothingToPay
	}

	order := store.Order{
		ID:          util.NewID("ord"),
		OrgID:       payer.OrgID,
		ProfileID:   payer.ProfileID,
		Kind:        KindBooking,
		ReferenceID: booking.ID,
		AmountCents: product.PriceCents,
		Currency:    NormalizeCurrency(product.Currency),
		Status:      StatusPending,
	}
	intent, err := s.provider.CreatePaymentIntent(ctx, PaymentIntentRequest{
		AmountCents: product.PriceCents,
		Currency:    order.Currency,
		CustomerID:  payer.CustomerID,
		Metadata:    orderMetadata(order),
	})
	if err != nil {
		return DepositResult{}, err
	}
	order.ProviderPaymentID = intent.ID
	if err := s.store.InsertBookingOrder(ctx, order, booking.ID); err != nil {
		return DepositResult{}, err
	}
	return DepositResult{OrderID: order.ID, PaymentIntent: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// Portal returns a billing portal URL for a profile that has paid before.
func (s *Service) Portal(ctx context.Context, payer Payer) (string, error) {
	if s.provider == nil {
		return "", ErrNotConfigured
	}
	if payer.CustomerID == "" {
		return "", ErrNoCustomer
	}
	return s.provider.CreatePortalSession(ctx, payer.CustomerID, s.urls.Portal)
}

// HandleWebhook verifies and applies one provider notification. Replays of
// an already processed event are acknowledged without side effects.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.provider == nil {
		return ErrNotConfigured
	}
	ev, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	logger := s.log.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()
	if !handled(ev.Type) {
		logger.Debug().Msg("ignoring payment event")
		return nil
	}

	first, err := s.store.RecordPaymentEvent(ctx, ev.ID, ev.Type)
	if err != nil {
		return err
	}
	if !first {
		logger.Info().Msg("payment event already processed")
		return nil
	}

	if err := s.apply(ctx, ev); err != nil {
		if ferr := s.store.ForgetPaymentEvent(ctx, ev.ID); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to release payment event")
		}
		return fmt.Errorf("apply %s: %w", ev.Type, err)
	}
	logger.Info().Msg("payment event processed")
	return nil
}

func handled(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventPaymentSucceeded, EventPaymentFailed,
		EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

func (s *Service) apply(ctx context.Context, ev Event) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		return s.checkoutCompleted(ctx, ev.Session)
	case EventPaymentSucceeded:
		return s.paymentSettled(ctx, ev.Payment, StatusPaid)
	case EventPaymentFailed:
		return s.paymentSettled(ctx, ev.Payment, StatusFailed)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		return s.subscriptionChanged(ctx, ev.Type, ev.Subscription)
	}
	return nil
}

func (s *Service) checkoutCompleted(ctx context.Context, data *SessionData) error {
	if data == nil {
		return errors.New("missing session")
	}
	status := StatusPaid
	if data.PaymentStatus == "unpaid" {
		status = StatusPending
	}
	order, err := s.store.MarkOrderBySession(ctx, data.ID, status, data.PaymentID)
	if store.IsNotFound(err) {
		s.log.Warn().Str("session_id", data.ID).Msg("checkout completed for unknown order")
		return nil
	}
	if err != nil {
		return err
	}

	if data.CustomerID != "" {
		if err := s.store.SetStripeCustomerID(ctx, order.ProfileID, data.CustomerID); err != nil {
			return err
		}
	}
	if data.SubscriptionID != "" && order.Kind == KindPlan {
		return s.store.UpsertSubscription(ctx, store.Subscription{
			ID:                     util.NewID("sub"),
			OrgID:                  order.OrgID,
			ProfileID:              order.ProfileID,
			PlanID:                 order.ReferenceID,
			ProviderSubscriptionID: data.SubscriptionID,
			Status:                 "active",
		})
	}
	return nil
}

func (s *Service) paymentSettled(ctx context.Context, data *PaymentData, status string) error {
	if data == nil {
		return errors.New("missing payment intent")
	}
	if _, err := s.store.MarkOrderByPayment(ctx, data.ID, status); err != nil && !store.IsNotFound(err) {
		return err
	}
	if status != StatusPaid || data.Metadata["kind"] != KindBooking {
		return nil
	}
	confirmed, err := s.store.ConfirmBookingByPaymentIntent(ctx, data.ID)
	if err != nil {
		return err
	}
	if !confirmed {
		s.log.Warn().Str("payment_intent", data.ID).Msg("no pending booking for payment")
	}
	return nil
}

func (s *Service) subscriptionChanged(ctx context.Context, eventType string, data *SubscriptionData) error {
	if data == nil {
		return errors.New("missing subscription")
	}
	status := data.Status
	if eventType == EventSubscriptionDeleted {
		status = "canceled"
	}
	err := s.store.UpdateSubscriptionStatus(ctx, data.ID, status, data.CurrentPeriodEnd)
	if !store.IsNotFound(err) {
		return err
	}

	// The update can arrive before checkout completion recorded the row.
	orgID, profileID, planID := data.Metadata["org_id"], data.Metadata["profile_id"], data.Metadata["reference_id"]
	if orgID == "" || profileID == "" || planID == "" {
		s.log.Warn().Str("subscription_id", data.ID).Msg("subscription event for unknown subscription")
		return nil
	}
	return s.store.UpsertSubscription(ctx, store.Subscription{
		ID:                     util.NewID("sub"),
		OrgID:                  orgID,
		ProfileID:              profileID,
		PlanID:                 planID,
		ProviderSubscriptionID: data.ID,
		Status:                 status,
		CurrentPeriodEnd:       data.CurrentPeriodEnd,
	})
}

func orderMetadata(o store.Order) map[string]string {
	return map[string]string{
		"order_id":     o.ID,
		"org_id":       o.OrgID,
		"profile_id":   o.ProfileID,
		"kind":         o.Kind,
		"reference_id": o.ReferenceID,
	}
}

// NormalizeCurrency lowercases an ISO code, defaulting to usd.
func NormalizeCurrency(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if c == "" {
		return "usd"
	}
	return c
}
