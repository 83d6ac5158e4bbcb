package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"crate/internal/access"
	"crate/internal/checkout"
	"crate/internal/database"
	"crate/internal/ledger"

	"github.com/sirupsen/logrus"
)

// Machine-readable error codes returned in the "code" field.
const (
	codeUnauthenticated       = "UNAUTHENTICATED"
	codeUnknownBundle         = "UNKNOWN_BUNDLE"
	codeFreeBundleNotCartable = "FREE_BUNDLE_NOT_CARTABLE"
	codeCartFull              = "CART_FULL"
	codeCartWouldExceedLimit  = "CART_WOULD_EXCEED_LIMIT"
	codeEmptyCart             = "EMPTY_CART"
	codePaymentNotCompleted   = "PAYMENT_NOT_COMPLETED"
	codePaymentRequired       = "PAYMENT_REQUIRED"
	codeStoreUnavailable      = "STORE_UNAVAILABLE"
	codeCheckoutFailed        = "CHECKOUT_FAILED"
	codeInvalidRequest        = "INVALID_REQUEST"
	codeRateLimited           = "RATE_LIMITED"
	codeInternal              = "INTERNAL_ERROR"
)

const (
	maxBundleIDLength = 64
	maxBodyBytes      = 64 << 10
)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Code   string            `json:"code"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ErrorResponse is the JSON envelope for every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Success bool   `json:"success"`
}

// respondJSON writes v as JSON with the given status.
func (ms *StoreServer) respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ms.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// respondWithValidationError sends a structured validation error response
func (ms *StoreServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors []ValidationError) {
	ms.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	ms.respondJSON(w, http.StatusBadRequest, ValidationResult{
		Valid:  false,
		Code:   codeInvalidRequest,
		Errors: errors,
	})
}

// respondWithError sends a structured error response
func (ms *StoreServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, err error) {
	logEntry := ms.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"code":        code,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error(message)
	} else {
		logEntry.Warn(message)
	}

	ms.respondJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    code,
		Success: false,
	})
}

// classifyError maps a domain error onto an HTTP status, a code and a user-facing message.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		return http.StatusUnauthorized, codeUnauthenticated, "Authentication required"
	case errors.Is(err, ledger.ErrUnknownBundle):
		return http.StatusBadRequest, codeUnknownBundle, "Invalid tracklist"
	case errors.Is(err, ledger.ErrFreeBundleNotCartable):
		return http.StatusBadRequest, codeFreeBundleNotCartable, "Free tracklists cannot be added to cart"
	case errors.Is(err, ledger.ErrCartFull):
		return http.StatusConflict, codeCartFull, "Cart full (max 12)"
	case errors.Is(err, ledger.ErrCartWouldExceedLimit):
		return http.StatusConflict, codeCartWouldExceedLimit, "Cart would exceed max 12"
	case errors.Is(err, ledger.ErrPaymentRequired):
		return http.StatusPaymentRequired, codePaymentRequired, "This tracklist must be bought through checkout"
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusBadRequest, codeEmptyCart, "No premium tracklists in cart"
	case errors.Is(err, checkout.ErrPaymentNotCompleted):
		return http.StatusPaymentRequired, codePaymentNotCompleted, "Payment not completed"
	case errors.Is(err, database.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, codeStoreUnavailable, "Store temporarily unavailable"
	case errors.Is(err, checkout.ErrCheckoutFailed):
		if errors.Is(err, checkout.ErrProcessorUnavailable) {
			return http.StatusServiceUnavailable, codeCheckoutFailed, "Payments are not available"
		}
		return http.StatusBadGateway, codeCheckoutFailed, "Checkout failed"
	default:
		return http.StatusInternalServerError, codeInternal, "Internal server error"
	}
}

// respondWithDomainError classifies err and sends the error envelope.
func (ms *StoreServer) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) string {
	status, code, message := classifyError(err)
	ms.respondWithError(w, r, status, code, message, err)
	return code
}

// validateBundleID checks a tracklist identifier from a request body
func validateBundleID(id string) *ValidationError {
	if id == "" {
		return &ValidationError{
			Field:   "tracklistName",
			Message: "Tracklist name is required",
			Code:    "MISSING_TRACKLIST",
		}
	}

	if len(id) > maxBundleIDLength {
		return &ValidationError{
			Field:   "tracklistName",
			Message: "Tracklist name too long",
			Code:    "TRACKLIST_NAME_TOO_LONG",
		}
	}

	if strings.ContainsAny(id, "\x00\n\r") {
		return &ValidationError{
			Field:   "tracklistName",
			Message: "Tracklist name contains invalid characters",
			Code:    "INVALID_TRACKLIST_CHARACTERS",
		}
	}

	return nil
}

// validatePage parses a 1-based page number. Empty means page 1.
func validatePage(raw string) (int, *ValidationError) {
	if raw == "" {
		return 1, nil
	}

	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{
			Field:   "page",
			Message: "Page must be a valid integer",
			Code:    "INVALID_PAGE_FORMAT",
		}
	}

	if page <= 0 {
		return 0, &ValidationError{
			Field:   "page",
			Message: "Page must be positive",
			Code:    "INVALID_PAGE_VALUE",
		}
	}

	return page, nil
}

// pageParam is the lenient page reader used for redirects: anything
// unparseable becomes page 1.
func pageParam(r *http.Request) int {
	page, verr := validatePage(r.URL.Query().Get("page"))
	if verr != nil {
		return 1
	}
	return page
}

// safeRedirect accepts only local absolute paths so /login cannot be used
// as an open redirect.
func safeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	return input
}

// decodeJSON reads a small JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
