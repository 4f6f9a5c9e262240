package app

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"storefront/api/internal/crm"
	"storefront/api/internal/rbac"
	"storefront/api/internal/store"
	"storefront/api/internal/util"
)

type CaseInput struct {
	CustomerID string  `json:"customerId" validate:"required,max=64"`
	Title      string  `json:"title" validate:"required,max=300"`
	Priority   string  `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	OwnerID    *string `json:"ownerId" validate:"omitempty,max=64"`
	Notes      string  `json:"notes" validate:"max=20000"`
}

type CaseUpdateInput struct {
	Title    *string `json:"title" validate:"omitempty,max=300"`
	Status   *string `json:"status"`
	Priority *string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	OwnerID  *string `json:"ownerId" validate:"omitempty,max=64"`
	Notes    *string `json:"notes" validate:"omitempty,max=20000"`
}

func (s *Service) Cases(ctx context.Context, session Session, filter store.CaseFilter) ([]map[string]any, error) {
	items, err := s.store.ListCases(ctx, session.OrgID, filter)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, caseJSON), nil
}

func (s *Service) Case(ctx context.Context, session Session, caseID string) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, session.OrgID, caseID)
	if err != nil {
		return nil, err
	}
	return caseJSON(item), nil
}

func (s *Service) CreateCase(ctx context.Context, session Session, in CaseInput) (map[string]any, error) {
	if _, err := s.store.GetMembership(ctx, session.OrgID, in.CustomerID); err != nil {
		if store.IsNotFound(err) {
			return nil, validationError("Customer is not a member of this organization", nil)
		}
		return nil, err
	}
	if err := s.checkCaseOwner(ctx, session, in.OwnerID); err != nil {
		return nil, err
	}
	priority := in.Priority
	if priority == "" {
		priority = "normal"
	}
	item := store.Case{
		ID:         util.NewID("cas"),
		OrgID:      session.OrgID,
		CustomerID: in.CustomerID,
		Title:      strings.TrimSpace(in.Title),
		Status:     crm.CaseOpen,
		Priority:   priority,
		OwnerID:    in.OwnerID,
		Notes:      in.Notes,
	}
	if item.OwnerID == nil {
		owner := session.ProfileID
		item.OwnerID = &owner
	}
	if err := s.store.InsertCase(ctx, item); err != nil {
		return nil, err
	}
	return s.Case(ctx, session, item.ID)
}

// UpdateCase applies the given fields. Closing stamps closed_at in the store;
// reopening clears it.
func (s *Service) UpdateCase(ctx context.Context, session Session, caseID string, in CaseUpdateInput) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, session.OrgID, caseID)
	if err != nil {
		return nil, err
	}
	if in.Status != nil {
		if !crm.ValidCaseStatus(*in.Status) {
			return nil, validationError("Invalid case status", map[string]any{"status": *in.Status})
		}
		item.Status = *in.Status
	}
	if err := s.checkCaseOwner(ctx, session, in.OwnerID); err != nil {
		return nil, err
	}
	if in.Title != nil {
		item.Title = strings.TrimSpace(*in.Title)
	}
	if in.Priority != nil {
		item.Priority = *in.Priority
	}
	if in.OwnerID != nil {
		item.OwnerID = in.OwnerID
		if *in.OwnerID == "" {
			item.OwnerID = nil
		}
	}
	if in.Notes != nil {
		item.Notes = *in.Notes
	}
	if err := s.store.UpdateCase(ctx, item); err != nil {
		return nil, err
	}
	return s.Case(ctx, session, item.ID)
}

func (s *Service) checkCaseOwner(ctx context.Context, session Session, ownerID *string) error {
	if ownerID == nil || *ownerID == "" {
		return nil
	}
	member, err := s.store.GetMembership(ctx, session.OrgID, *ownerID)
	if err != nil {
		if store.IsNotFound(err) {
			return validationError("Owner is not a member of this organization", nil)
		}
		return err
	}
	if !rbac.Can(rbac.Normalize(member.Role), rbac.ActionSupport) {
		return validationError("Owner cannot work cases", nil)
	}
	return nil
}

// LinkTicket attaches a ticket of the case's customer to the case.
func (s *Service) LinkTicket(ctx context.Context, session Session, caseID, ticketID string) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, session.OrgID, caseID)
	if err != nil {
		return nil, err
	}
	owner, err := s.store.TicketOwner(ctx, session.OrgID, ticketID)
	if err != nil {
		return nil, err
	}
	if owner != item.CustomerID {
		return nil, domainError(http.StatusUnprocessableEntity, "CUSTOMER_MISMATCH", "The ticket belongs to another customer", nil)
	}
	if err := s.store.LinkCaseTicket(ctx, item.ID, ticketID); err != nil {
		return nil, err
	}
	return s.Case(ctx, session, item.ID)
}

func (s *Service) CustomerSummaries(ctx context.Context, session Session) ([]crm.CustomerSummary, error) {
	activity, err := s.store.ListCustomerActivity(ctx, session.OrgID)
	if err != nil {
		return nil, err
	}
	return crm.Summarize(activity), nil
}

var settingKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,99}$`)

// Settings returns every setting to staff and only public ones otherwise.
func (s *Service) Settings(ctx context.Context, orgID string, publicOnly bool) (map[string]any, error) {
	items, err := s.store.ListSettings(ctx, orgID, publicOnly)
	if err != nil {
		return nil, err
	}
	if publicOnly {
		values := make(map[string]json.RawMessage, len(items))
		for _, item := range items {
			values[item.Key] = item.Value
		}
		return map[string]any{"settings": values}, nil
	}
	return map[string]any{"settings": mapSlice(items, settingJSON)}, nil
}

type SettingInput struct {
	Value  json.RawMessage `json:"value" validate:"required"`
	Public bool            `json:"public"`
}

func (s *Service) PutSetting(ctx context.Context, session Session, key string, in SettingInput) (map[string]any, error) {
	if !settingKeyPattern.MatchString(key) {
		return nil, validationError("Invalid setting key", map[string]any{"key": key})
	}
	if !json.Valid(in.Value) {
		return nil, validationError("Setting value must be JSON", nil)
	}
	item, err := s.store.UpsertSetting(ctx, store.Setting{OrgID: session.OrgID, Key: key, Value: in.Value, Public: in.Public})
	if err != nil {
		return nil, err
	}
	return settingJSON(item), nil
}

func (s *Service) DeleteSetting(ctx context.Context, session Session, key string) error {
	ok, err := s.store.DeleteSetting(ctx, session.OrgID, key)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	return nil
}

func (s *Service) CookieCategories(ctx context.Context, orgID string) ([]map[string]any, error) {
	items, err := s.store.ListCookieCategories(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, cookieCategoryJSON), nil
}

type CookieCategoryInput struct {
	Name           string `json:"name" validate:"required,max=120"`
	Description    string `json:"description" validate:"max=2000"`
	Required       bool   `json:"required"`
	DefaultEnabled bool   `json:"defaultEnabled"`
	SortOrder      int    `json:"sortOrder"`
}

// PutCookieCategory upserts a category. A required category is always
// enabled by default.
func (s *Service) PutCookieCategory(ctx context.Context, session Session, key string, in CookieCategoryInput) (map[string]any, error) {
	if !settingKeyPattern.MatchString(key) {
		return nil, validationError("Invalid category key", map[string]any{"key": key})
	}
	item := store.CookieCategory{
		ID:             util.NewID("ck"),
		OrgID:          session.OrgID,
		Key:            key,
		Name:           strings.TrimSpace(in.Name),
		Description:    in.Description,
		Required:       in.Required,
		DefaultEnabled: in.DefaultEnabled || in.Required,
		SortOrder:      in.SortOrder,
	}
	if err := s.store.UpsertCookieCategory(ctx, item); err != nil {
		return nil, err
	}
	return cookieCategoryJSON(item), nil
}

func (s *Service) DeleteCookieCategory(ctx context.Context, session Session, key string) error {
	ok, err := s.store.DeleteCookieCategory(ctx, session.OrgID, key)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound
	}
	return nil
}
