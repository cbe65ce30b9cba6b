// Package handler provides the HTTP surface of the vault service.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"tokenvault/pkg/errors"
	"tokenvault/pkg/logger"
)

// errorStatus maps error taxonomy tags to HTTP statuses. Unknown tags are 500.
var errorStatus = map[string]int{
	errors.CodeUnauthorized:        http.StatusForbidden,
	errors.CodeAlreadyInitialized:  http.StatusConflict,
	errors.CodeRequestPending:      http.StatusConflict,
	errors.CodeNoPendingRequest:    http.StatusConflict,
	errors.CodeWithdrawDisabled:    http.StatusConflict,
	errors.CodeReentrantCall:       http.StatusConflict,
	errors.CodeInsufficientBalance: http.StatusUnprocessableEntity,
	errors.CodeInvalidParameter:    http.StatusUnprocessableEntity,
	errors.CodeDelayNotMet:         http.StatusTooEarly,
	errors.CodeDepositsPaused:      http.StatusLocked,
	errors.CodeTransferFailed:      http.StatusBadGateway,
	errors.CodeInsufficientReserve: http.StatusServiceUnavailable,
	errors.CodeNotInitialized:      http.StatusServiceUnavailable,
	errors.CodeNotSupported:        http.StatusNotImplemented,
}

// StatusFor returns the HTTP status for a vault error.
func StatusFor(err error) int {
	if status, ok := errorStatus[errors.Code(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func respondJSON(log logger.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("json encode failed", map[string]interface{}{"error": err.Error()})
	}
}

func respondError(log logger.Logger, w http.ResponseWriter, status int, message string) {
	respondJSON(log, w, status, errorResponse{Error: message})
}

func respondValidationErrors(log logger.Logger, w http.ResponseWriter, fields map[string]string) {
	respondJSON(log, w, http.StatusBadRequest, errorResponse{
		Error:  "Validation failed",
		Code:   errors.CodeInvalidParameter,
		Fields: fields,
	})
}

// respondVaultError renders a vault error with its taxonomy tag. Internal
// errors hide their message.
func respondVaultError(log logger.Logger, w http.ResponseWriter, err error) {
	code := errors.Code(err)
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("vault operation failed", map[string]interface{}{"error": err.Error()})
		message = "Internal server error"
	}
	respondJSON(log, w, status, errorResponse{
		Error:     message,
		Code:      code,
		Retryable: errors.Retryable(err),
	})
}

// decodeJSON reads a bounded body into dst, rejecting unknown fields. An
// empty body leaves dst untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			if allowEmpty {
				return "", true
			}
			return "Request body is required", false
		}
		return "Invalid request body", false
	}
	return "", true
}
