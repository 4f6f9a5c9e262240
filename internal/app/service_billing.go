package app

import (
	"context"
	"io"
	"time"

	"storefront/api/internal/integrations"
	"storefront/api/internal/media"
	"storefront/api/internal/payments"
	"storefront/api/internal/rbac"
	"storefront/api/internal/search"
)

const videoTokenTTL = time.Hour

var (
	errPaymentsUnavailable     = unavailable("PAYMENTS_UNAVAILABLE", "Payments are not configured")
	errMediaUnavailable        = unavailable("MEDIA_UNAVAILABLE", "Media storage is not configured")
	errIntegrationsUnavailable = unavailable("INTEGRATION_UNAVAILABLE", "Integration is not configured")
)

func (s *Service) paymentsEnabled() bool {
	return s.payments != nil && s.payments.Enabled()
}

func (s *Service) payer(ctx context.Context, session Session) (payments.Payer, error) {
	profile, err := s.store.GetProfile(ctx, session.ProfileID)
	if err != nil {
		return payments.Payer{}, err
	}
	return payments.Payer{
		OrgID:      session.OrgID,
		ProfileID:  profile.ID,
		Email:      profile.Email,
		CustomerID: profile.StripeCustomerID,
	}, nil
}

type CheckoutInput struct {
	PlanID    string `json:"planId" validate:"required_without=ProductID,excluded_with=ProductID"`
	ProductID string `json:"productId"`
}

func (s *Service) Checkout(ctx context.Context, session Session, in CheckoutInput) (payments.CheckoutResult, error) {
	if !s.paymentsEnabled() {
		return payments.CheckoutResult{}, errPaymentsUnavailable
	}
	payer, err := s.payer(ctx, session)
	if err != nil {
		return payments.CheckoutResult{}, err
	}
	return s.payments.Checkout(ctx, payer, payments.CheckoutInput{PlanID: in.PlanID, ProductID: in.ProductID})
}

func (s *Service) BookingDeposit(ctx context.Context, session Session, bookingID string) (payments.DepositResult, error) {
	if !s.paymentsEnabled() {
		return payments.DepositResult{}, errPaymentsUnavailable
	}
	payer, err := s.payer(ctx, session)
	if err != nil {
		return payments.DepositResult{}, err
	}
	return s.payments.BookingDeposit(ctx, payer, bookingID)
}

func (s *Service) BillingPortal(ctx context.Context, session Session) (string, error) {
	if !s.paymentsEnabled() {
		return "", errPaymentsUnavailable
	}
	payer, err := s.payer(ctx, session)
	if err != nil {
		return "", err
	}
	return s.payments.Portal(ctx, payer)
}

func (s *Service) PaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.paymentsEnabled() {
		return errPaymentsUnavailable
	}
	return s.payments.HandleWebhook(ctx, payload, signature)
}

// Orders lists the caller's orders, or every order of the org for admins
// asking for all of them.
func (s *Service) Orders(ctx context.Context, session Session, all bool) ([]map[string]any, error) {
	profileID := session.ProfileID
	if all && s.Can(session.Role, rbac.ActionAdmin) {
		profileID = ""
	}
	items, err := s.store.ListOrders(ctx, session.OrgID, profileID)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, orderJSON), nil
}

func (s *Service) Subscriptions(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListSubscriptions(ctx, session.OrgID, session.ProfileID)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, subscriptionJSON), nil
}

func (s *Service) Upload(ctx context.Context, session Session, filename, contentType string, size int64, body io.Reader) (media.Object, error) {
	if s.media == nil {
		return media.Object{}, errMediaUnavailable
	}
	return s.media.Put(ctx, media.Upload{
		OrgID:       session.OrgID,
		OwnerID:     session.ProfileID,
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
		Body:        body,
	})
}

func (s *Service) MediaURL(ctx context.Context, session Session, key string) (string, error) {
	if s.media == nil {
		return "", errMediaUnavailable
	}
	return s.media.URL(ctx, session.OrgID, key, session.ProfileID, session.Staff())
}

func (s *Service) DeleteMedia(ctx context.Context, session Session, key string) error {
	if s.media == nil {
		return errMediaUnavailable
	}
	return s.media.Delete(ctx, session.OrgID, key, session.ProfileID, s.Can(session.Role, rbac.ActionAdmin))
}

func (s *Service) IntegrationStatus() map[string]bool {
	status := map[string]bool{
		"payments": s.paymentsEnabled(),
		"media":    s.media != nil,
		"email":    s.EmailConfigured(),
	}
	if s.integrations != nil {
		for name, ok := range s.integrations.Status() {
			status[name] = ok
		}
	}
	return status
}

func (s *Service) SearchImages(ctx context.Context, provider, query string, perPage int) ([]integrations.ImageResult, error) {
	if s.integrations == nil {
		return nil, errIntegrationsUnavailable
	}
	return s.integrations.SearchImages(ctx, provider, query, perPage)
}

func (s *Service) SearchVideos(ctx context.Context, query string, limit int) ([]integrations.VideoResult, error) {
	if s.integrations == nil {
		return nil, errIntegrationsUnavailable
	}
	return s.integrations.SearchVideos(ctx, query, limit)
}

// VideoToken mints a call token for the room of a ticket the caller can see.
func (s *Service) VideoToken(ctx context.Context, session Session, ticketID string) (map[string]any, error) {
	if s.integrations == nil {
		return nil, errIntegrationsUnavailable
	}
	ticket, err := s.ticketFor(ctx, session, ticketID)
	if err != nil {
		return nil, err
	}
	room := "ticket-" + ticket.ID
	token, err := s.integrations.VideoToken(session.ProfileID, room, videoTokenTTL)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"token":     token,
		"room":      room,
		"identity":  session.ProfileID,
		"expiresAt": s.now().Add(videoTokenTTL).UTC(),
	}, nil
}

type TranscribeInput struct {
	AudioURL string `json:"audioUrl" validate:"required,url"`
	TicketID string `json:"ticketId" validate:"max=64"`
}

func (s *Service) Transcribe(ctx context.Context, session Session, in TranscribeInput) (map[string]any, error) {
	if s.integrations == nil {
		return nil, errIntegrationsUnavailable
	}
	if in.TicketID != "" {
		if _, err := s.ticketFor(ctx, session, in.TicketID); err != nil {
			return nil, err
		}
	}
	item, err := s.integrations.Transcribe(ctx, integrations.TranscriptionRequest{
		OrgID:     session.OrgID,
		ProfileID: session.ProfileID,
		TicketID:  in.TicketID,
		AudioURL:  in.AudioURL,
	})
	if err != nil {
		return nil, err
	}
	return transcriptionJSON(item), nil
}

func (s *Service) Transcription(ctx context.Context, session Session, id string) (map[string]any, error) {
	if s.integrations == nil {
		return nil, errIntegrationsUnavailable
	}
	item, err := s.integrations.Transcription(ctx, session.OrgID, id)
	if err != nil {
		return nil, err
	}
	if item.ProfileID != session.ProfileID && !s.worksTickets(session) {
		return nil, errNotFound
	}
	return transcriptionJSON(item), nil
}

// Search runs an org-scoped query. Tickets only come back to signed-in
// viewers, and customers only get their own.
func (s *Service) Search(ctx context.Context, orgID string, viewer *Session, text string, resultType search.ResultType, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	q := search.Query{OrgID: orgID, Text: text, FilterType: resultType, Limit: limit, Offset: offset}
	if viewer != nil {
		q.Viewer = search.Viewer{ProfileID: viewer.ProfileID, Staff: s.worksTickets(*viewer)}
	}
	return s.search.Search(ctx, q)
}
