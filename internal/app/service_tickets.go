package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"storefront/api/internal/email"
	"storefront/api/internal/export"
	"storefront/api/internal/rbac"
	"storefront/api/internal/realtime"
	"storefront/api/internal/search"
	"storefront/api/internal/store"
	"storefront/api/internal/util"
)

const (
	TicketOpen     = "open"
	TicketPending  = "pending"
	TicketResolved = "resolved"
	TicketClosed   = "closed"
)

func validTicketStatus(status string) bool {
	switch status {
	case TicketOpen, TicketPending, TicketResolved, TicketClosed:
		return true
	}
	return false
}

func validTicketPriority(priority string) bool {
	switch priority {
	case "low", "normal", "high", "urgent":
		return true
	}
	return false
}

// worksTickets reports whether the session may see every ticket of the org.
func (s *Service) worksTickets(session Session) bool {
	return s.Can(session.Role, rbac.ActionSupport)
}

// ticketFor loads a ticket the session may see. Another customer's ticket is
// reported as missing.
func (s *Service) ticketFor(ctx context.Context, session Session, ticketID string) (store.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, session.OrgID, ticketID, session.ProfileID)
	if err != nil {
		return store.Ticket{}, err
	}
	if ticket.CustomerID != session.ProfileID && !s.worksTickets(session) {
		return store.Ticket{}, errNotFound
	}
	return ticket, nil
}

// CanWatchTicket is the ownership check of the live ticket socket.
func (s *Service) CanWatchTicket(ctx context.Context, session Session, ticketID string) (store.Ticket, error) {
	return s.ticketFor(ctx, session, ticketID)
}

type TicketInput struct {
	Subject  string `json:"subject" validate:"required,max=300"`
	Body     string `json:"body" validate:"required,max=20000"`
	Priority string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Category string `json:"category" validate:"max=100"`
	// CustomerID lets an agent open a ticket on a customer's behalf.
	CustomerID string `json:"customerId" validate:"max=64"`
}

func (s *Service) CreateTicket(ctx context.Context, session Session, in TicketInput) (map[string]any, error) {
	customerID := session.ProfileID
	if in.CustomerID != "" && in.CustomerID != session.ProfileID {
		if !s.worksTickets(session) {
			return nil, errForbidden
		}
		if _, err := s.store.GetMembership(ctx, session.OrgID, in.CustomerID); err != nil {
			return nil, err
		}
		customerID = in.CustomerID
	}
	priority := in.Priority
	if priority == "" {
		priority = "normal"
	}

	created, err := s.store.CreateTicket(ctx, store.Ticket{
		ID:         util.NewID("tkt"),
		OrgID:      session.OrgID,
		Subject:    strings.TrimSpace(in.Subject),
		Body:       strings.TrimSpace(in.Body),
		Status:     TicketOpen,
		Priority:   priority,
		Category:   strings.TrimSpace(in.Category),
		CustomerID: customerID,
	})
	if err != nil {
		return nil, err
	}
	view := ticketJSON(created)
	s.publishTicket(ctx, realtime.TicketCreated, created, session, view)
	s.indexTicket(created)
	return view, nil
}

type TicketListInput struct {
	Status     string
	AssigneeID string
	CustomerID string
	Limit      int
	Offset     int
}

func (s *Service) Tickets(ctx context.Context, session Session, in TicketListInput) ([]map[string]any, error) {
	filter := store.TicketFilter{
		CustomerID: in.CustomerID,
		Status:     in.Status,
		AssigneeID: in.AssigneeID,
		Limit:      in.Limit,
		Offset:     in.Offset,
	}
	if !s.worksTickets(session) {
		filter.CustomerID = session.ProfileID
		filter.AssigneeID = ""
	}
	items, err := s.store.ListTickets(ctx, session.OrgID, session.ProfileID, filter)
	if err != nil {
		return nil, err
	}
	return mapSlice(items, ticketJSON), nil
}

// Ticket returns a ticket and its responses. Internal notes are left out for
// anyone who does not work tickets.
func (s *Service) Ticket(ctx context.Context, session Session, ticketID string) (map[string]any, error) {
	ticket, err := s.ticketFor(ctx, session, ticketID)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListTicketResponses(ctx, ticket.ID, s.worksTickets(session))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"ticket":    ticketJSON(ticket),
		"responses": mapSlice(responses, responseJSON),
	}, nil
}

type TicketUpdateInput struct {
	Status     *string `json:"status"`
	Priority   *string `json:"priority"`
	Category   *string `json:"category" validate:"omitempty,max=100"`
	AssigneeID *string `json:"assigneeId" validate:"omitempty,max=64"`
}

// UpdateTicket lets agents change any field. A customer may only close a
// ticket of their own.
func (s *Service) UpdateTicket(ctx context.Context, session Session, ticketID string, in TicketUpdateInput) (map[string]any, error) {
	ticket, err := s.ticketFor(ctx, session, ticketID)
	if err != nil {
		return nil, err
	}
	if in.Status != nil && !validTicketStatus(*in.Status) {
		return nil, validationError("Invalid ticket status", map[string]any{"status": *in.Status})
	}
	if in.Priority != nil && !validTicketPriority(*in.Priority) {
		return nil, validationError("Invalid ticket priority", map[string]any{"priority": *in.Priority})
	}
	if !s.worksTickets(session) {
		if in.Priority != nil || in.Category != nil || in.AssigneeID != nil {
			return nil, errForbidden
		}
		if in.Status == nil || *in.Status != TicketClosed {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Customers can only close their tickets", nil)
		}
	}
	if in.AssigneeID != nil && *in.AssigneeID != "" {
		member, err := s.store.GetMembership(ctx, session.OrgID, *in.AssigneeID)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, validationError("Assignee is not a member of this organization", nil)
			}
			return nil, err
		}
		if !rbac.Can(rbac.Normalize(member.Role), rbac.ActionSupport) {
			return nil, validationError("Assignee cannot work tickets", nil)
		}
	}

	if err := s.store.UpdateTicket(ctx, session.OrgID, ticket.ID, store.TicketUpdate{
		Status:     in.Status,
		Priority:   in.Priority,
		Category:   in.Category,
		AssigneeID: in.AssigneeID,
	}); err != nil {
		return nil, err
	}
	updated, err := s.store.GetTicket(ctx, session.OrgID, ticket.ID, session.ProfileID)
	if err != nil {
		return nil, err
	}
	view := ticketJSON(updated)
	s.publishTicket(ctx, realtime.TicketUpdated, updated, session, view)
	s.indexTicket(updated)
	return view, nil
}

type ResponseInput struct {
	Body          string `json:"body" validate:"required,max=20000"`
	Internal      bool   `json:"internal"`
	AttachmentURL string `json:"attachmentUrl" validate:"omitempty,url"`
}

// nextStatus is where a ticket moves after a response. Customer replies
// reopen a ticket waiting on them; a public agent reply waits on the
// customer; internal notes leave the status alone.
func nextStatus(current string, agent, internal bool) string {
	switch {
	case internal:
		return ""
	case agent:
		if current == TicketClosed {
			return ""
		}
		return TicketPending
	case current == TicketPending || current == TicketResolved:
		return TicketOpen
	}
	return ""
}

func (s *Service) Respond(ctx context.Context, session Session, ticketID string, in ResponseInput) (map[string]any, error) {
	ticket, err := s.ticketFor(ctx, session, ticketID)
	if err != nil {
		return nil, err
	}
	agent := s.worksTickets(session)
	if in.Internal && !agent {
		return nil, errForbidden
	}
	if ticket.Status == TicketClosed && !agent {
		return nil, domainError(http.StatusConflict, "TICKET_CLOSED", "This ticket is closed", nil)
	}

	response, err := s.store.InsertTicketResponse(ctx, store.TicketResponse{
		ID:            util.NewID("rsp"),
		TicketID:      ticket.ID,
		AuthorID:      session.ProfileID,
		AuthorName:    session.Name,
		Body:          strings.TrimSpace(in.Body),
		Internal:      in.Internal,
		AttachmentURL: in.AttachmentURL,
	}, nextStatus(ticket.Status, agent, in.Internal))
	if err != nil {
		return nil, err
	}

	view := responseJSON(response)
	payload, _ := json.Marshal(view)
	s.publish(ctx, realtime.Event{
		Type:       realtime.ResponseCreated,
		OrgID:      session.OrgID,
		TicketID:   ticket.ID,
		CustomerID: ticket.CustomerID,
		ProfileID:  session.ProfileID,
		Name:       session.Name,
		Internal:   in.Internal,
		Payload:    payload,
	})
	if err := s.store.MarkTicketRead(ctx, ticket.ID, session.ProfileID, response.CreatedAt); err != nil {
		s.log.Warn().Err(err).Str("ticket_id", ticket.ID).Msg("mark own response read")
	}
	if agent && !in.Internal && ticket.CustomerID != session.ProfileID {
		s.notifyCustomer(ctx, ticket, session, response)
	}
	return view, nil
}

func (s *Service) notifyCustomer(ctx context.Context, ticket store.Ticket, session Session, response store.TicketResponse) {
	if !s.EmailConfigured() {
		return
	}
	to := email.Recipient{Email: ticket.CustomerEmail, Name: ticket.CustomerName}
	if profile, err := s.store.GetProfile(ctx, ticket.CustomerID); err == nil {
		to.Locale = profile.Locale
	}
	reply := email.TicketReply{
		Number:  ticket.Number,
		Subject: ticket.Subject,
		Agent:   session.Name,
		Excerpt: response.Body,
		URL:     s.link("/support/tickets/" + ticket.ID),
	}
	if err := s.mailer.SendTicketReplyEmail(to, s.orgName(ctx, ticket.OrgID), reply); err != nil {
		s.log.Error().Err(err).Str("ticket_id", ticket.ID).Msg("send ticket reply email")
	}
}

// MarkRead moves the caller's read marker and tells other watchers.
func (s *Service) MarkRead(ctx context.Context, session Session, ticketID string) error {
	ticket, err := s.ticketFor(ctx, session, ticketID)
	if err != nil {
		return err
	}
	if err := s.store.MarkTicketRead(ctx, ticket.ID, session.ProfileID, s.now().UTC()); err != nil {
		return err
	}
	s.publish(ctx, realtime.Event{
		Type:       realtime.Read,
		OrgID:      session.OrgID,
		TicketID:   ticket.ID,
		CustomerID: ticket.CustomerID,
		ProfileID:  session.ProfileID,
		Name:       session.Name,
	})
	return nil
}

func (s *Service) UnreadCount(ctx context.Context, session Session) (int, error) {
	customerID := ""
	if !s.worksTickets(session) {
		customerID = session.ProfileID
	}
	return s.store.UnreadTicketCount(ctx, session.OrgID, session.ProfileID, customerID)
}

// Typing forwards a typing signal of a live socket to the presence tracker.
func (s *Service) Typing(ctx context.Context, session Session, ticket store.Ticket, typing bool) {
	s.typing.Signal(ctx, realtime.Event{
		OrgID:      session.OrgID,
		TicketID:   ticket.ID,
		CustomerID: ticket.CustomerID,
		ProfileID:  session.ProfileID,
		Name:       session.Name,
	}, typing)
}

// ExportTranscript renders the ticket conversation the caller can see.
func (s *Service) ExportTranscript(ctx context.Context, session Session, ticketID, format, acceptLanguage string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, unavailable("EXPORT_UNAVAILABLE", "Export is not configured")
	}
	ticket, err := s.ticketFor(ctx, session, ticketID)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListTicketResponses(ctx, ticket.ID, s.worksTickets(session))
	if err != nil {
		return nil, err
	}

	entries := make([]export.Entry, 0, len(responses))
	for _, r := range responses {
		entries = append(entries, export.Entry{Author: r.AuthorName, Body: r.Body, Internal: r.Internal, CreatedAt: r.CreatedAt})
	}
	if format == "" {
		format = string(export.FormatPDF)
	}
	lang := s.cfg.DefaultLocale
	if s.messages != nil {
		lang = s.messages.Negotiate(acceptLanguage, s.cfg.DefaultLocale)
	}
	return s.exporter.Transcript(ctx, export.Request{
		Transcript: export.Transcript{
			OrgName:   s.orgName(ctx, session.OrgID),
			Number:    ticket.Number,
			Subject:   ticket.Subject,
			Status:    ticket.Status,
			Priority:  ticket.Priority,
			Customer:  ticket.CustomerName,
			OpenedAt:  ticket.CreatedAt,
			Body:      ticket.Body,
			Responses: entries,
		},
		Format: export.Format(format),
		Lang:   lang,
	})
}

func (s *Service) publishTicket(ctx context.Context, eventType string, ticket store.Ticket, session Session, view map[string]any) {
	payload, _ := json.Marshal(view)
	s.publish(ctx, realtime.Event{
		Type:       eventType,
		OrgID:      ticket.OrgID,
		TicketID:   ticket.ID,
		CustomerID: ticket.CustomerID,
		ProfileID:  session.ProfileID,
		Name:       session.Name,
		Payload:    payload,
	})
}

func (s *Service) indexTicket(t store.Ticket) {
	if s.search == nil {
		return
	}
	s.search.IndexTicket(search.TicketRecord{
		ID:         t.ID,
		OrgID:      t.OrgID,
		Number:     t.Number,
		Subject:    t.Subject,
		Body:       t.Body,
		Status:     t.Status,
		CustomerID: t.CustomerID,
	})
}
