// Package common holds helpers shared by the feature handlers.
package common

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tendant/nodeclaim/internal/httputil"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// StatusFor maps a domain error to its HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidChallengeFormat),
		errors.Is(err, domain.ErrInvalidMethod),
		errors.Is(err, domain.ErrInvalidDomain),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNodeNotFound),
		errors.Is(err, domain.ErrModerationItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrDuplicatePending):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOriginMismatch),
		errors.Is(err, domain.ErrInvalidOTP),
		errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOTPRequired),
		errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSignatureMismatch),
		errors.Is(err, domain.ErrIdentityMismatch),
		errors.Is(err, domain.ErrRecordNotFound),
		errors.Is(err, domain.ErrIPMismatch),
		errors.Is(err, domain.ErrTagMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrResolverUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing text for err. Internal failures are not
// described beyond fallback.
func Message(err error, fallback string) string {
	if StatusFor(err) == http.StatusInternalServerError {
		return fallback
	}
	for _, known := range []error{
		domain.ErrResolverUnavailable,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}

// WriteError writes err as {"error": ...}. 500s are logged with the cause.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, fallback string) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error(fallback, "error", err)
	}
	httputil.Error(w, status, Message(err, fallback))
}
