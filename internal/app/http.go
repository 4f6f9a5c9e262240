package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"storefront/api/internal/auth"
	"storefront/api/internal/rbac"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
	router     *mux.Router
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, log: log.With().Str("component", "http").Logger()}
	s.router = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.router)
}

func (s *HTTPServer) routes() *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)

	// Accounts
	api.HandleFunc("/auth/signup", s.handleAuthSignUp).Methods(http.MethodPost)
	api.HandleFunc("/auth/signin", s.handleAuthSignIn).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify-email", s.handleAuthVerifyEmail).Methods(http.MethodPost)
	api.HandleFunc("/auth/resend-verification", s.handleAuthResendVerification).Methods(http.MethodPost)
	api.HandleFunc("/auth/reset-password/request", s.handleAuthRequestReset).Methods(http.MethodPost)
	api.HandleFunc("/auth/reset-password", s.handleAuthResetPassword).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	api.HandleFunc("/session/refresh", s.handleSessionRefresh).Methods(http.MethodPost)
	api.HandleFunc("/session/logout", s.authed(s.handleSessionLogout)).Methods(http.MethodPost)
	api.HandleFunc("/profile", s.authed(s.handleProfile)).Methods(http.MethodGet)
	api.HandleFunc("/profile", s.authed(s.handleUpdateProfile)).Methods(http.MethodPut)
	api.HandleFunc("/memberships", s.authed(s.handleMemberships)).Methods(http.MethodGet)
	api.HandleFunc("/members", s.allow(rbac.ActionAdmin, s.handleMembers)).Methods(http.MethodGet)
	api.HandleFunc("/members/{profileId}/role", s.allow(rbac.ActionAdmin, s.handleSetMemberRole)).Methods(http.MethodPut)

	// Anonymous storefront, resolved by org slug
	api.HandleFunc("/public/{org}", s.handlePublicOrg).Methods(http.MethodGet)
	public := api.PathPrefix("/public/{org}").Subrouter()
	public.HandleFunc("/products", s.public(s.handlePublicProducts)).Methods(http.MethodGet)
	public.HandleFunc("/products/{id}", s.public(s.handlePublicProduct)).Methods(http.MethodGet)
	public.HandleFunc("/plans", s.public(s.handlePublicPlans)).Methods(http.MethodGet)
	public.HandleFunc("/comparison", s.public(s.handlePublicComparison)).Methods(http.MethodGet)
	public.HandleFunc("/posts", s.public(s.handlePublicPosts)).Methods(http.MethodGet)
	public.HandleFunc("/posts/{slug}", s.public(s.handlePublicPost)).Methods(http.MethodGet)
	public.HandleFunc("/cookie-categories", s.public(s.handlePublicCookieCategories)).Methods(http.MethodGet)
	public.HandleFunc("/settings", s.public(s.handlePublicSettings)).Methods(http.MethodGet)
	public.HandleFunc("/search", s.public(s.handlePublicSearch)).Methods(http.MethodGet)

	// Catalog
	api.HandleFunc("/products", s.allow(rbac.ActionRead, s.handleProducts)).Methods(http.MethodGet)
	api.HandleFunc("/products", s.allow(rbac.ActionPublish, s.handleCreateProduct)).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}", s.allow(rbac.ActionRead, s.handleProduct)).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", s.allow(rbac.ActionPublish, s.handleUpdateProduct)).Methods(http.MethodPut)
	api.HandleFunc("/products/{id}", s.allow(rbac.ActionPublish, s.handleDeleteProduct)).Methods(http.MethodDelete)
	api.HandleFunc("/plans", s.allow(rbac.ActionRead, s.handlePlans)).Methods(http.MethodGet)
	api.HandleFunc("/plans", s.allow(rbac.ActionPublish, s.handleCreatePlan)).Methods(http.MethodPost)
	api.HandleFunc("/plans/{id}", s.allow(rbac.ActionPublish, s.handleUpdatePlan)).Methods(http.MethodPut)
	api.HandleFunc("/plans/{id}", s.allow(rbac.ActionPublish, s.handleDeletePlan)).Methods(http.MethodDelete)
	api.HandleFunc("/comparison", s.allow(rbac.ActionRead, s.handleComparison)).Methods(http.MethodGet)
	api.HandleFunc("/competitors", s.allow(rbac.ActionPublish, s.handleSaveCompetitor)).Methods(http.MethodPost)
	api.HandleFunc("/competitors/{id}", s.allow(rbac.ActionPublish, s.handleSaveCompetitor)).Methods(http.MethodPut)
	api.HandleFunc("/competitors/{id}", s.allow(rbac.ActionPublish, s.handleDeleteCompetitor)).Methods(http.MethodDelete)
	api.HandleFunc("/bookings", s.allow(rbac.ActionRead, s.handleBookings)).Methods(http.MethodGet)
	api.HandleFunc("/bookings", s.allow(rbac.ActionComment, s.handleCreateBooking)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/cancel", s.allow(rbac.ActionComment, s.handleCancelBooking)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}/deposit", s.allow(rbac.ActionComment, s.handleBookingDeposit)).Methods(http.MethodPost)

	// CMS
	api.HandleFunc("/posts", s.allow(rbac.ActionRead, s.handlePosts)).Methods(http.MethodGet)
	api.HandleFunc("/posts", s.allow(rbac.ActionPublish, s.handleCreatePost)).Methods(http.MethodPost)
	api.HandleFunc("/posts/{id}", s.allow(rbac.ActionPublish, s.handlePost)).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}", s.allow(rbac.ActionPublish, s.handleUpdatePost)).Methods(http.MethodPut)
	api.HandleFunc("/posts/{id}", s.allow(rbac.ActionPublish, s.handleDeletePost)).Methods(http.MethodDelete)
	api.HandleFunc("/posts/{id}/status", s.allow(rbac.ActionPublish, s.handleSetPostStatus)).Methods(http.MethodPost)
	api.HandleFunc("/posts/{id}/revisions", s.allow(rbac.ActionPublish, s.handlePostRevisions)).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}/revisions/{hash}", s.allow(rbac.ActionPublish, s.handlePostRevision)).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}/revisions/{hash}/restore", s.allow(rbac.ActionPublish, s.handleRestorePostRevision)).Methods(http.MethodPost)

	// Support
	api.HandleFunc("/tickets", s.allow(rbac.ActionComment, s.handleTickets)).Methods(http.MethodGet)
	api.HandleFunc("/tickets", s.allow(rbac.ActionComment, s.handleCreateTicket)).Methods(http.MethodPost)
	api.HandleFunc("/tickets/unread", s.allow(rbac.ActionComment, s.handleUnreadTickets)).Methods(http.MethodGet)
	api.HandleFunc("/tickets/{id}", s.allow(rbac.ActionComment, s.handleTicket)).Methods(http.MethodGet)
	api.HandleFunc("/tickets/{id}", s.allow(rbac.ActionComment, s.handleUpdateTicket)).Methods(http.MethodPatch)
	api.HandleFunc("/tickets/{id}/responses", s.allow(rbac.ActionComment, s.handleRespond)).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id}/read", s.allow(rbac.ActionComment, s.handleMarkRead)).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id}/export", s.allow(rbac.ActionComment, s.handleExportTicket)).Methods(http.MethodGet)
	api.HandleFunc("/tickets/{id}/video-token", s.allow(rbac.ActionComment, s.handleVideoToken)).Methods(http.MethodPost)
	api.HandleFunc("/tickets/{id}/live", s.handleTicketLive).Methods(http.MethodGet)

	// CRM
	api.HandleFunc("/cases", s.allow(rbac.ActionSupport, s.handleCases)).Methods(http.MethodGet)
	api.HandleFunc("/cases", s.allow(rbac.ActionSupport, s.handleCreateCase)).Methods(http.MethodPost)
	api.HandleFunc("/cases/{id}", s.allow(rbac.ActionSupport, s.handleCase)).Methods(http.MethodGet)
	api.HandleFunc("/cases/{id}", s.allow(rbac.ActionSupport, s.handleUpdateCase)).Methods(http.MethodPatch)
	api.HandleFunc("/cases/{id}/tickets", s.allow(rbac.ActionSupport, s.handleLinkCaseTicket)).Methods(http.MethodPost)
	api.HandleFunc("/customers", s.allow(rbac.ActionSupport, s.handleCustomers)).Methods(http.MethodGet)

	// Site settings and cookie consent
	api.HandleFunc("/settings", s.allow(rbac.ActionAdmin, s.handleSettings)).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", s.allow(rbac.ActionAdmin, s.handlePutSetting)).Methods(http.MethodPut)
	api.HandleFunc("/settings/{key}", s.allow(rbac.ActionAdmin, s.handleDeleteSetting)).Methods(http.MethodDelete)
	api.HandleFunc("/cookie-categories", s.allow(rbac.ActionRead, s.handleCookieCategories)).Methods(http.MethodGet)
	api.HandleFunc("/cookie-categories/{key}", s.allow(rbac.ActionAdmin, s.handlePutCookieCategory)).Methods(http.MethodPut)
	api.HandleFunc("/cookie-categories/{key}", s.allow(rbac.ActionAdmin, s.handleDeleteCookieCategory)).Methods(http.MethodDelete)

	// Payments
	api.HandleFunc("/payments/checkout", s.allow(rbac.ActionComment, s.handleCheckout)).Methods(http.MethodPost)
	api.HandleFunc("/payments/portal", s.allow(rbac.ActionComment, s.handleBillingPortal)).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.allow(rbac.ActionRead, s.handleOrders)).Methods(http.MethodGet)
	api.HandleFunc("/subscriptions", s.allow(rbac.ActionRead, s.handleSubscriptions)).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/stripe", s.handleStripeWebhook).Methods(http.MethodPost)

	// Media and third-party integrations
	api.HandleFunc("/media", s.allow(rbac.ActionComment, s.handleUpload)).Methods(http.MethodPost)
	api.HandleFunc("/media/{key:.+}", s.allow(rbac.ActionRead, s.handleMediaURL)).Methods(http.MethodGet)
	api.HandleFunc("/media/{key:.+}", s.allow(rbac.ActionComment, s.handleDeleteMedia)).Methods(http.MethodDelete)
	api.HandleFunc("/integrations", s.allow(rbac.ActionRead, s.handleIntegrationStatus)).Methods(http.MethodGet)
	api.HandleFunc("/integrations/images", s.allow(rbac.ActionPublish, s.handleSearchImages)).Methods(http.MethodGet)
	api.HandleFunc("/integrations/videos", s.allow(rbac.ActionPublish, s.handleSearchVideos)).Methods(http.MethodGet)
	api.HandleFunc("/integrations/transcriptions", s.allow(rbac.ActionComment, s.handleTranscribe)).Methods(http.MethodPost)
	api.HandleFunc("/integrations/transcriptions/{id}", s.allow(rbac.ActionComment, s.handleTranscription)).Methods(http.MethodGet)

	api.HandleFunc("/search", s.allow(rbac.ActionRead, s.handleSearch)).Methods(http.MethodGet)

	return router
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if configured, err := s.service.PingRedis(ctx); configured {
		checks["redis"] = map[string]any{"status": "ok"}
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["redis"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, session Session)

// authed requires a valid access token.
func (s *HTTPServer) authed(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next(w, r, session)
	}
}

// allow requires a session whose role may perform action.
func (s *HTTPServer) allow(action rbac.Action, next sessionHandler) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, session Session) {
		if !s.service.Can(session.Role, action) {
			s.forbid(w, r, session, action)
			return
		}
		next(w, r, session)
	})
}

type orgHandler func(w http.ResponseWriter, r *http.Request, orgID string)

// public resolves the {org} slug of an anonymous route.
func (s *HTTPServer) public(next orgHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		org, err := s.service.Org(r.Context(), mux.Vars(r)["org"])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		noteOrg(r.Context(), org.ID)
		next(w, r, org.ID)
	}
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.log.Debug().
		Str("request_id", requestID(r.Context())).
		Str("profile_id", session.ProfileID).
		Str("role", string(session.Role)).
		Str("action", string(action)).
		Str("path", r.URL.Path).
		Msg("forbidden")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.log.Error().Err(err).Str("request_id", requestID(r.Context())).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	noteOrg(r.Context(), session.OrgID)
	return session, true
}

// fail writes err through the error contract. Server errors are logged with
// the request id since the client only sees a generic message.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		meta := &requestMeta{}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = context.WithValue(ctx, requestMetaKey{}, meta)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Str("org_id", meta.orgID).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestMeta collects what handlers learn about a request for the access log.
type requestMeta struct {
	orgID string
}

type requestMetaKey struct{}

func noteOrg(ctx context.Context, orgID string) {
	if meta, ok := ctx.Value(requestMetaKey{}).(*requestMeta); ok {
		meta.orgID = orgID
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap lets the websocket upgrader reach the hijacker underneath.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Accept-Language")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

var errInvalidBody = domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return errInvalidBody
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// decodeAndValidate decodes the JSON body and runs the struct's validate
// tags. Field errors come back as a 422 listing each failed field.
func decodeAndValidate(r *http.Request, target any) error {
	if err := decodeBody(r, target); err != nil {
		return err
	}
	return validateInput(target)
}

func validateInput(target any) error {
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	details := make([]map[string]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		detail := map[string]string{
			"field": strings.TrimPrefix(fe.Namespace(), rootNamespace(fe)),
			"rule":  fe.Tag(),
		}
		if fe.Param() != "" {
			detail["param"] = fe.Param()
		}
		details = append(details, detail)
	}
	return validationError("Validation failed", details)
}

// rootNamespace is the struct name prefix of a field error namespace.
func rootNamespace(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[:i+1]
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
