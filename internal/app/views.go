package app

import (
	"encoding/json"
	"time"

	"storefront/api/internal/store"
)

func mapSlice[T any](items []T, fn func(T) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func stringOrNil(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func profileJSON(p store.Profile, orgID string) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"email":         p.Email,
		"displayName":   p.DisplayName,
		"avatarUrl":     p.AvatarURL,
		"locale":        p.Locale,
		"emailVerified": p.IsEmailVerified,
		"hasBilling":    p.StripeCustomerID != "",
		"role":          p.Role,
		"orgId":         orgID,
	}
}

func membershipJSON(m store.Membership) map[string]any {
	return map[string]any{
		"orgId":       m.OrgID,
		"orgSlug":     m.OrgSlug,
		"orgName":     m.OrgName,
		"profileId":   m.ProfileID,
		"email":       m.Email,
		"displayName": m.DisplayName,
		"role":        m.Role,
		"joinedAt":    m.CreatedAt.UTC(),
	}
}

func productJSON(p store.Product) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"slug":        p.Slug,
		"description": p.Description,
		"priceCents":  p.PriceCents,
		"currency":    p.Currency,
		"imageUrl":    p.ImageURL,
		"active":      p.Active,
		"bookable":    p.Bookable,
		"updatedAt":   p.UpdatedAt.UTC(),
	}
}

func planJSON(p store.PricingPlan) map[string]any {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"interval":    p.Interval,
		"priceCents":  p.PriceCents,
		"currency":    p.Currency,
		"features":    features,
		"highlighted": p.Highlighted,
		"sortOrder":   p.SortOrder,
	}
}

func bookingJSON(b store.Booking) map[string]any {
	return map[string]any{
		"id":        b.ID,
		"profileId": b.ProfileID,
		"productId": b.ProductID,
		"startsAt":  b.StartsAt.UTC(),
		"endsAt":    b.EndsAt.UTC(),
		"status":    b.Status,
		"notes":     b.Notes,
		"paid":      b.PaymentIntentID != "" && b.Status == "confirmed",
		"createdAt": b.CreatedAt.UTC(),
	}
}

func postJSON(p store.Post) map[string]any {
	content := p.Content
	if len(content) == 0 {
		content = json.RawMessage("null")
	}
	return map[string]any{
		"id":            p.ID,
		"slug":          p.Slug,
		"title":         p.Title,
		"excerpt":       p.Excerpt,
		"content":       content,
		"status":        p.Status,
		"coverImageUrl": p.CoverImageURL,
		"tags":          p.Tags,
		"authorId":      p.AuthorID,
		"authorName":    p.AuthorName,
		"publishedAt":   timeOrNil(p.PublishedAt),
		"createdAt":     p.CreatedAt.UTC(),
		"updatedAt":     p.UpdatedAt.UTC(),
	}
}

// postSummaryJSON leaves the document out of list responses.
func postSummaryJSON(p store.Post) map[string]any {
	out := postJSON(p)
	delete(out, "content")
	return out
}

func commitJSON(c store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      c.Hash,
		"message":   c.Message,
		"author":    c.Author,
		"createdAt": c.CreatedAt.UTC(),
	}
}

func ticketJSON(t store.Ticket) map[string]any {
	return map[string]any{
		"id":             t.ID,
		"number":         t.Number,
		"subject":        t.Subject,
		"body":           t.Body,
		"status":         t.Status,
		"priority":       t.Priority,
		"category":       t.Category,
		"customerId":     t.CustomerID,
		"customerName":   t.CustomerName,
		"assigneeId":     stringOrNil(t.AssigneeID),
		"lastResponseAt": timeOrNil(t.LastResponseAt),
		"unread":         t.Unread,
		"createdAt":      t.CreatedAt.UTC(),
		"updatedAt":      t.UpdatedAt.UTC(),
	}
}

func responseJSON(r store.TicketResponse) map[string]any {
	return map[string]any{
		"id":            r.ID,
		"ticketId":      r.TicketID,
		"authorId":      r.AuthorID,
		"authorName":    r.AuthorName,
		"body":          r.Body,
		"internal":      r.Internal,
		"attachmentUrl": r.AttachmentURL,
		"createdAt":     r.CreatedAt.UTC(),
	}
}

func caseJSON(c store.Case) map[string]any {
	ticketIDs := c.TicketIDs
	if ticketIDs == nil {
		ticketIDs = []string{}
	}
	return map[string]any{
		"id":         c.ID,
		"customerId": c.CustomerID,
		"title":      c.Title,
		"status":     c.Status,
		"priority":   c.Priority,
		"ownerId":    stringOrNil(c.OwnerID),
		"ticketIds":  ticketIDs,
		"notes":      c.Notes,
		"createdAt":  c.CreatedAt.UTC(),
		"updatedAt":  c.UpdatedAt.UTC(),
		"closedAt":   timeOrNil(c.ClosedAt),
	}
}

func settingJSON(s store.Setting) map[string]any {
	return map[string]any{
		"key":       s.Key,
		"value":     s.Value,
		"public":    s.Public,
		"updatedAt": s.UpdatedAt.UTC(),
	}
}

func cookieCategoryJSON(c store.CookieCategory) map[string]any {
	return map[string]any{
		"key":            c.Key,
		"name":           c.Name,
		"description":    c.Description,
		"required":       c.Required,
		"defaultEnabled": c.DefaultEnabled || c.Required,
		"sortOrder":      c.SortOrder,
	}
}

func orderJSON(o store.Order) map[string]any {
	return map[string]any{
		"id":          o.ID,
		"kind":        o.Kind,
		"referenceId": o.ReferenceID,
		"amountCents": o.AmountCents,
		"currency":    o.Currency,
		"status":      o.Status,
		"createdAt":   o.CreatedAt.UTC(),
	}
}

func subscriptionJSON(s store.Subscription) map[string]any {
	return map[string]any{
		"id":               s.ID,
		"planId":           s.PlanID,
		"status":           s.Status,
		"currentPeriodEnd": timeOrNil(s.CurrentPeriodEnd),
		"updatedAt":        s.UpdatedAt.UTC(),
	}
}

func transcriptionJSON(t store.Transcription) map[string]any {
	return map[string]any{
		"id":        t.ID,
		"ticketId":  stringOrNil(t.TicketID),
		"audioUrl":  t.AudioURL,
		"status":    t.Status,
		"text":      t.Text,
		"error":     t.Error,
		"createdAt": t.CreatedAt.UTC(),
		"updatedAt": t.UpdatedAt.UTC(),
	}
}
