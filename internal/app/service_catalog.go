package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"storefront/api/internal/payments"
	"storefront/api/internal/rbac"
	"storefront/api/internal/search"
	"storefront/api/internal/store"
	"storefront/api/internal/storefront"
	"storefront/api/internal/util"
)

const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)

type ProductInput struct {
	Name          string `json:"name" validate:"required,max=200"`
	Slug          string `json:"slug" validate:"omitempty,max=200"`
	Description   string `json:"description" validate:"max=20000"`
	PriceCents    int64  `json:"priceCents" validate:"gte=0"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
	StripePriceID string `json:"stripePriceId" validate:"max=255"`
	ImageURL      string `json:"imageUrl" validate:"omitempty,url"`
	Active        *bool  `json:"active"`
	Bookable      bool   `json:"bookable"`
}

func (in ProductInput) apply(p *store.Product) {
	p.Name = strings.TrimSpace(in.Name)
	p.Slug = util.Slugify(in.Slug)
	if p.Slug == "" {
		p.Slug = util.Slugify(p.Name)
	}
	p.Description = in.Description
	p.PriceCents = in.PriceCents
	p.Currency = payments.NormalizeCurrency(in.Currency)
	p.StripePriceID = strings.TrimSpace(in.StripePriceID)
	p.ImageURL = in.ImageURL
	if in.Active != nil {
		p.Active = *in.Active
	}
	p.Bookable = in.Bookable
}

// Products lists the catalog. Only staff with publish rights see inactive
// products.
func (s *Service) Products(ctx context.Context, orgID string, includeInactive bool) ([]map[string]any, error) {
	items, err := s.store.ListProducts(ctx, orgID, !includeInactive)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, productJSON), nil
}

func (s *Service) Product(ctx context.Context, orgID, productID string, includeInactive bool) (map[string]any, error) {
	item, err := s.store.GetProduct(ctx, orgID, productID)
	if err != nil {
		return nil, err
	}
	if !item.Active && !includeInactive {
		return nil, errNotFound
	}
	return productJSON(item), nil
}

func (s *Service) CreateProduct(ctx context.Context, session Session, in ProductInput) (map[string]any, error) {
	item := store.Product{ID: util.NewID("prd"), OrgID: session.OrgID, Active: true}
	in.apply(&item)
	created, err := s.store.InsertProduct(ctx, item)
	if err != nil {
		return nil, err
	}
	s.indexProduct(created)
	return productJSON(created), nil
}

func (s *Service) UpdateProduct(ctx context.Context, session Session, productID string, in ProductInput) (map[string]any, error) {
	item, err := s.store.GetProduct(ctx, session.OrgID, productID)
	if err != nil {
		return nil, err
	}
	in.apply(&item)
	updated, err := s.store.UpdateProduct(ctx, item)
	if err != nil {
		return nil, err
	}
	s.indexProduct(updated)
	return productJSON(updated), nil
}

func (s *Service) DeleteProduct(ctx context.Context, session Session, productID string) error {
	ok, err := s.store.DeleteProduct(ctx, session.OrgID, productID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	if s.search != nil {
		s.search.Remove(search.ResultProduct, productID)
	}
	return nil
}

func (s *Service) indexProduct(p store.Product) {
	if s.search == nil {
		return
	}
	s.search.IndexProduct(search.ProductRecord{
		ID:          p.ID,
		OrgID:       p.OrgID,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
	})
}

type PlanInput struct {
	Name          string   `json:"name" validate:"required,max=120"`
	Interval      string   `json:"interval" validate:"required,oneof=month year one_time"`
	PriceCents    int64    `json:"priceCents" validate:"gte=0"`
	Currency      string   `json:"currency" validate:"omitempty,len=3"`
	StripePriceID string   `json:"stripePriceId" validate:"max=255"`
	Features      []string `json:"features" validate:"max=100,dive,required,max=200"`
	Highlighted   bool     `json:"highlighted"`
	SortOrder     int      `json:"sortOrder"`
}

func (in PlanInput) apply(p *store.PricingPlan) {
	p.Name = strings.TrimSpace(in.Name)
	p.Interval = in.Interval
	p.PriceCents = in.PriceCents
	p.Currency = payments.NormalizeCurrency(in.Currency)
	p.StripePriceID = strings.TrimSpace(in.StripePriceID)
	p.Features = in.Features
	if p.Features == nil {
		p.Features = []string{}
	}
	p.Highlighted = in.Highlighted
	p.SortOrder = in.SortOrder
}

func (s *Service) Plans(ctx context.Context, orgID string) ([]map[string]any, error) {
	items, err := s.store.ListPricingPlans(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, planJSON), nil
}

func (s *Service) CreatePlan(ctx context.Context, session Session, in PlanInput) (map[string]any, error) {
	item := store.PricingPlan{ID: util.NewID("pln"), OrgID: session.OrgID}
	in.apply(&item)
	created, err := s.store.InsertPricingPlan(ctx, item)
	if err != nil {
		return nil, err
	}
	return planJSON(created), nil
}

func (s *Service) UpdatePlan(ctx context.Context, session Session, planID string, in PlanInput) (map[string]any, error) {
	item, err := s.store.GetPricingPlan(ctx, session.OrgID, planID)
	if err != nil {
		return nil, err
	}
	in.apply(&item)
	updated, err := s.store.UpdatePricingPlan(ctx, item)
	if err != nil {
		return nil, err
	}
	return planJSON(updated), nil
}

func (s *Service) DeletePlan(ctx context.Context, session Session, planID string) error {
	ok, err := s.store.DeletePricingPlan(ctx, session.OrgID, planID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	return nil
}

// Comparison builds the plan-versus-competitor table of an organization.
func (s *Service) Comparison(ctx context.Context, orgID string) (storefront.Table, error) {
	plans, err := s.store.ListPricingPlans(ctx, orgID)
	if err != nil {
		return storefront.Table{}, err
	}
	competitors, err := s.store.ListCompetitors(ctx, orgID)
	if err != nil {
		return storefront.Table{}, err
	}
	competitorPlans, err := s.store.ListCompetitorPlans(ctx, orgID)
	if err != nil {
		return storefront.Table{}, err
	}
	features, err := s.store.ListCompetitorFeatures(ctx, orgID)
	if err != nil {
		return storefront.Table{}, err
	}
	return storefront.ComparisonTable(plans, competitors, competitorPlans, features), nil
}

type CompetitorPlanInput struct {
	ID         string `json:"id" validate:"omitempty,max=64"`
	Name       string `json:"name" validate:"required,max=120"`
	PriceCents int64  `json:"priceCents" validate:"gte=0"`
	Interval   string `json:"interval" validate:"omitempty,oneof=month year one_time"`
}

type CompetitorFeatureInput struct {
	PlanID     string `json:"planId" validate:"max=64"`
	FeatureKey string `json:"feature" validate:"required,max=200"`
	Value      string `json:"value" validate:"max=200"`
}

type CompetitorInput struct {
	ID        string                   `json:"id" validate:"omitempty,max=64"`
	Name      string                   `json:"name" validate:"required,max=120"`
	Website   string                   `json:"website" validate:"omitempty,url"`
	SortOrder int                      `json:"sortOrder"`
	Plans     []CompetitorPlanInput    `json:"plans" validate:"max=20,dive"`
	Features  []CompetitorFeatureInput `json:"features" validate:"max=500,dive"`
}

// SaveCompetitor upserts a competitor together with its plans and feature
// values. A feature with an unknown plan id is attached to the competitor as
// a whole.
func (s *Service) SaveCompetitor(ctx context.Context, session Session, in CompetitorInput) (map[string]any, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = util.NewID("cmp")
	}
	if err := s.store.UpsertCompetitor(ctx, store.Competitor{
		ID:        id,
		OrgID:     session.OrgID,
		Name:      strings.TrimSpace(in.Name),
		Website:   in.Website,
		SortOrder: in.SortOrder,
	}); err != nil {
		return nil, err
	}

	planIDs := make(map[string]bool, len(in.Plans))
	for _, p := range in.Plans {
		planID := strings.TrimSpace(p.ID)
		if planID == "" {
			planID = util.NewID("cpl")
		}
		planIDs[planID] = true
		if err := s.store.UpsertCompetitorPlan(ctx, store.CompetitorPlan{
			ID:           planID,
			CompetitorID: id,
			Name:         strings.TrimSpace(p.Name),
			PriceCents:   p.PriceCents,
			Interval:     p.Interval,
		}); err != nil {
			return nil, err
		}
	}
	for _, f := range in.Features {
		planID := f.PlanID
		if !planIDs[planID] {
			planID = ""
		}
		if err := s.store.UpsertCompetitorFeature(ctx, store.CompetitorFeature{
			CompetitorID: id,
			PlanID:       planID,
			FeatureKey:   strings.TrimSpace(f.FeatureKey),
			Value:        strings.TrimSpace(f.Value),
		}); err != nil {
			return nil, err
		}
	}
	return map[string]any{"id": id, "name": in.Name}, nil
}

func (s *Service) DeleteCompetitor(ctx context.Context, session Session, competitorID string) error {
	ok, err := s.store.DeleteCompetitor(ctx, session.OrgID, competitorID)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	return nil
}

type BookingInput struct {
	ProductID string    `json:"productId" validate:"required"`
	StartsAt  time.Time `json:"startsAt" validate:"required"`
	EndsAt    time.Time `json:"endsAt" validate:"required"`
	Notes     string    `json:"notes" validate:"max=2000"`
}

func (s *Service) CreateBooking(ctx context.Context, session Session, in BookingInput) (map[string]any, error) {
	if !in.EndsAt.After(in.StartsAt) {
		return nil, validationError("endsAt must be after startsAt", nil)
	}
	if in.StartsAt.Before(s.now()) {
		return nil, validationError("startsAt must be in the future", nil)
	}
	product, err := s.store.GetProduct(ctx, session.OrgID, in.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Active || !product.Bookable {
		return nil, domainError(http.StatusUnprocessableEntity, "NOT_BOOKABLE", "This product cannot be booked", nil)
	}

	created, err := s.store.CreateBooking(ctx, store.Booking{
		ID:        util.NewID("bkg"),
		OrgID:     session.OrgID,
		ProfileID: session.ProfileID,
		ProductID: product.ID,
		StartsAt:  in.StartsAt.UTC(),
		EndsAt:    in.EndsAt.UTC(),
		Status:    BookingPending,
		Notes:     strings.TrimSpace(in.Notes),
	})
	if err != nil {
		return nil, err
	}
	return bookingJSON(created), nil
}

// Bookings lists upcoming bookings. Customers only see their own; staff may
// narrow the list to one profile.
func (s *Service) Bookings(ctx context.Context, session Session, profileID string) ([]map[string]any, error) {
	if !session.Staff() {
		profileID = session.ProfileID
	}
	items, err := s.store.ListBookings(ctx, session.OrgID, profileID, s.now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	return mapSlice(items, bookingJSON), nil
}

// CancelBooking is allowed for the owner and for support staff. Cancelling
// twice is not an error.
func (s *Service) CancelBooking(ctx context.Context, session Session, bookingID string) (map[string]any, error) {
	item, err := s.store.GetBooking(ctx, session.OrgID, bookingID)
	if err != nil {
		return nil, err
	}
	if item.ProfileID != session.ProfileID && !s.Can(session.Role, rbac.ActionSupport) {
		return nil, errNotFound
	}
	if item.Status == BookingCancelled {
		return bookingJSON(item), nil
	}
	ok, err := s.store.UpdateBookingStatus(ctx, session.OrgID, bookingID, BookingCancelled)
	if err != nil {
		return nil, fmt.Errorf("cancel booking: %w", err)
	}
	if !ok {
		return nil, errNotFound
	}
	item.Status = BookingCancelled
	return bookingJSON(item), nil
}
