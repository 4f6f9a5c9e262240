package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"storefront/api/internal/auth"
	"storefront/api/internal/authpw"
	"storefront/api/internal/export"
	"storefront/api/internal/integrations"
	"storefront/api/internal/media"
	"storefront/api/internal/payments"
	"storefront/api/internal/revisions"
	"storefront/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errForbidden    = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
)

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func unavailable(code, message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, code, message, nil)
}

// mapError translates an error from any layer into the JSON error contract.
// Unknown errors become a generic 500; the caller logs the original.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, revisions.ErrNotFound), errors.Is(err, media.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, store.ErrBookingConflict):
		return http.StatusConflict, "BOOKING_CONFLICT", "The requested time overlaps an existing booking", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "A record with the same key already exists", nil

	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil
	case errors.Is(err, authpw.ErrNotMember):
		return http.StatusForbidden, "NOT_A_MEMBER", "You are not a member of this organization", nil
	case errors.Is(err, authpw.ErrUnknownOrg):
		return http.StatusNotFound, "ORG_NOT_FOUND", "Organization not found", nil
	case errors.Is(err, authpw.ErrInvalidToken):
		return http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil
	case errors.Is(err, authpw.ErrMissingFields), errors.Is(err, authpw.ErrWeakPassword):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil

	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds the upload limit", nil
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "File type is not allowed", nil
	case errors.Is(err, media.ErrEmpty):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "File is empty", nil
	case errors.Is(err, media.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil

	case errors.Is(err, payments.ErrNotConfigured):
		return http.StatusServiceUnavailable, "PAYMENTS_UNAVAILABLE", "Payments are not configured", nil
	case errors.Is(err, payments.ErrInvalidSignature):
		return http.StatusBadRequest, "INVALID_SIGNATURE", "Webhook signature verification failed", nil
	case errors.Is(err, payments.ErrNoCustomer):
		return http.StatusConflict, "NO_BILLING_CUSTOMER", "No billing account exists yet", nil
	case errors.Is(err, payments.ErrMissingItem), errors.Is(err, payments.ErrNothingToPay):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil

	case errors.Is(err, integrations.ErrNotConfigured):
		return http.StatusServiceUnavailable, "INTEGRATION_UNAVAILABLE", "Integration is not configured", nil
	case errors.Is(err, integrations.ErrUnknownProvider), errors.Is(err, integrations.ErrEmptyQuery):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, integrations.ErrUpstream):
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream service failed", nil

	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
