package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"storefront/api/internal/rbac"
)

func (s *HTTPServer) handleProducts(w http.ResponseWriter, r *http.Request, session Session) {
	includeInactive := queryBool(r, "all") && s.service.Can(session.Role, rbac.ActionPublish)
	items, err := s.service.Products(r.Context(), session.OrgID, includeInactive)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": items})
}

func (s *HTTPServer) handleProduct(w http.ResponseWriter, r *http.Request, session Session) {
	item, err := s.service.Product(r.Context(), session.OrgID, mux.Vars(r)["id"], s.service.Can(session.Role, rbac.ActionPublish))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": item})
}

func (s *HTTPServer) handleCreateProduct(w http.ResponseWriter, r *http.Request, session Session) {
	var body ProductInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.CreateProduct(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": item})
}

func (s *HTTPServer) handleUpdateProduct(w http.ResponseWriter, r *http.Request, session Session) {
	var body ProductInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.UpdateProduct(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": item})
}

func (s *HTTPServer) handleDeleteProduct(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteProduct(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handlePlans(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.Plans(r.Context(), session.OrgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": items})
}

func (s *HTTPServer) handleCreatePlan(w http.ResponseWriter, r *http.Request, session Session) {
	var body PlanInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.CreatePlan(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"plan": item})
}

func (s *HTTPServer) handleUpdatePlan(w http.ResponseWriter, r *http.Request, session Session) {
	var body PlanInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.UpdatePlan(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plan": item})
}

func (s *HTTPServer) handleDeletePlan(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeletePlan(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleComparison(w http.ResponseWriter, r *http.Request, session Session) {
	table, err := s.service.Comparison(r.Context(), session.OrgID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comparison": table})
}

// handleSaveCompetitor serves both create and PUT /competitors/{id}; the path
// id wins over the body.
func (s *HTTPServer) handleSaveCompetitor(w http.ResponseWriter, r *http.Request, session Session) {
	var body CompetitorInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if id := mux.Vars(r)["id"]; id != "" {
		body.ID = id
		status = http.StatusOK
	}
	item, err := s.service.SaveCompetitor(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, map[string]any{"competitor": item})
}

func (s *HTTPServer) handleDeleteCompetitor(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteCompetitor(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.Bookings(r.Context(), session, r.URL.Query().Get("profileId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": items})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, session Session) {
	var body BookingInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.CreateBooking(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": item})
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request, session Session) {
	item, err := s.service.CancelBooking(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": item})
}

func (s *HTTPServer) handleBookingDeposit(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.BookingDeposit(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
