package app

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"storefront/api/internal/store"
)

func (s *HTTPServer) handleTickets(w http.ResponseWriter, r *http.Request, session Session) {
	q := r.URL.Query()
	items, err := s.service.Tickets(r.Context(), session, TicketListInput{
		Status:     q.Get("status"),
		AssigneeID: q.Get("assigneeId"),
		CustomerID: q.Get("customerId"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": items})
}

func (s *HTTPServer) handleCreateTicket(w http.ResponseWriter, r *http.Request, session Session) {
	var body TicketInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.CreateTicket(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ticket": item})
}

func (s *HTTPServer) handleTicket(w http.ResponseWriter, r *http.Request, session Session) {
	item, err := s.service.Ticket(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleUpdateTicket(w http.ResponseWriter, r *http.Request, session Session) {
	var body TicketUpdateInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.UpdateTicket(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": item})
}

func (s *HTTPServer) handleRespond(w http.ResponseWriter, r *http.Request, session Session) {
	var body ResponseInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.Respond(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"response": item})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.MarkRead(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUnreadTickets(w http.ResponseWriter, r *http.Request, session Session) {
	count, err := s.service.UnreadCount(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread": count})
}

// handleExportTicket streams the transcript file instead of JSON.
func (s *HTTPServer) handleExportTicket(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.ExportTranscript(r.Context(), session, mux.Vars(r)["id"], r.URL.Query().Get("format"), r.Header.Get("Accept-Language"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleVideoToken(w http.ResponseWriter, r *http.Request, session Session) {
	item, err := s.service.VideoToken(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleCases(w http.ResponseWriter, r *http.Request, session Session) {
	q := r.URL.Query()
	items, err := s.service.Cases(r.Context(), session, store.CaseFilter{
		CustomerID: q.Get("customerId"),
		Status:     q.Get("status"),
		OwnerID:    q.Get("ownerId"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": items})
}

func (s *HTTPServer) handleCase(w http.ResponseWriter, r *http.Request, session Session) {
	item, err := s.service.Case(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": item})
}

func (s *HTTPServer) handleCreateCase(w http.ResponseWriter, r *http.Request, session Session) {
	var body CaseInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.CreateCase(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"case": item})
}

func (s *HTTPServer) handleUpdateCase(w http.ResponseWriter, r *http.Request, session Session) {
	var body CaseUpdateInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.UpdateCase(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": item})
}

func (s *HTTPServer) handleLinkCaseTicket(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		TicketID string `json:"ticketId" validate:"required"`
	}
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.LinkTicket(r.Context(), session, mux.Vars(r)["id"], body.TicketID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": item})
}

func (s *HTTPServer) handleCustomers(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.CustomerSummaries(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": items})
}

func (s *HTTPServer) handleSettings(w http.ResponseWriter, r *http.Request, session Session) {
	settings, err := s.service.Settings(r.Context(), session.OrgID, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *HTTPServer) handlePutSetting(w http.ResponseWriter, r *http.Request, session Session) {
	var body SettingInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.PutSetting(r.Context(), session, mux.Vars(r)["key"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"setting": item})
}

func (s *HTTPServer) handleDeleteSetting(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteSetting(r.Context(), session, mux.Vars(r)["key"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCookieCategories(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.CookieCategories(r.Context(), session.OrgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": items})
}

func (s *HTTPServer) handlePutCookieCategory(w http.ResponseWriter, r *http.Request, session Session) {
	var body CookieCategoryInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.PutCookieCategory(r.Context(), session, mux.Vars(r)["key"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": item})
}

func (s *HTTPServer) handleDeleteCookieCategory(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteCookieCategory(r.Context(), session, mux.Vars(r)["key"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
