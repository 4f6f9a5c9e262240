package app

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"storefront/api/internal/media"
)

const multipartMemory = 8 << 20

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request, session Session) {
	var body CheckoutInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.Checkout(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleBillingPortal(w http.ResponseWriter, r *http.Request, session Session) {
	url, err := s.service.BillingPortal(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) handleOrders(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.Orders(r.Context(), session, queryBool(r, "all"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": items})
}

func (s *HTTPServer) handleSubscriptions(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.Subscriptions(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": items})
}

// handleStripeWebhook needs the raw body for the signature check, so it
// bypasses decodeBody.
func (s *HTTPServer) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read body", nil)
		return
	}
	if err := s.service.PaymentWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, media.ErrTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form with a file field", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Missing file field", nil)
		return
	}
	defer file.Close()

	obj, err := s.service.Upload(r.Context(), session, header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"media": obj})
}

func (s *HTTPServer) handleMediaURL(w http.ResponseWriter, r *http.Request, session Session) {
	url, err := s.service.MediaURL(r.Context(), session, mux.Vars(r)["key"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *HTTPServer) handleDeleteMedia(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteMedia(r.Context(), session, mux.Vars(r)["key"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleIntegrationStatus(w http.ResponseWriter, r *http.Request, session Session) {
	writeJSON(w, http.StatusOK, map[string]any{"integrations": s.service.IntegrationStatus()})
}

func (s *HTTPServer) handleSearchImages(w http.ResponseWriter, r *http.Request, session Session) {
	q := r.URL.Query()
	items, err := s.service.SearchImages(r.Context(), q.Get("provider"), q.Get("q"), queryInt(r, "perPage", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": items})
}

func (s *HTTPServer) handleSearchVideos(w http.ResponseWriter, r *http.Request, session Session) {
	items, err := s.service.SearchVideos(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": items})
}

func (s *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request, session Session) {
	var body TranscribeInput
	if err := decodeAndValidate(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.service.Transcribe(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"transcription": item})
}

func (s *HTTPServer) handleTranscription(w http.ResponseWriter, r *http.Request, session Session) {
	item, err := s.service.Transcription(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcription": item})
}
