package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/akmatori/contractmon/internal/utils"
)

// RequestIDHeader carries the request ID set by the request-id middleware.
// Error bodies echo it so operators can find the matching log line.
const RequestIDHeader = "X-Request-ID"

// Machine-readable error codes
const (
	CodeBadRequest      = "bad_request"
	CodeValidation      = "validation_error"
	CodeInvalidContract = "invalid_contract"
	CodeNotFound        = "not_found"
	CodeNoData          = "no_data"
	CodeUnavailable     = "unavailable"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodeInternal        = "internal_error"
)

// ErrorResponse is the error envelope of every endpoint
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Details   map[string]string `json:"details,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// RespondJSON writes data as a JSON response with the given status code
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Warning: API: failed to encode response: %v", err)
	}
}

// RespondError writes an error envelope. The message is sanitized, so error
// text from the registry, the store or a decoder may be passed as is.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:     utils.SanitizeText(message),
		Code:      code,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// RespondFailure logs err against the failed operation and answers with the
// operation only. Backend error text never reaches the client.
func RespondFailure(w http.ResponseWriter, status int, operation string, err error) {
	requestID := w.Header().Get(RequestIDHeader)
	log.Printf("Warning: API: %s failed (request %s): %s", operation, requestID, utils.SanitizeError(err))

	code := CodeInternal
	if status == http.StatusServiceUnavailable {
		code = CodeUnavailable
	}
	RespondJSON(w, status, ErrorResponse{
		Error:     "Failed to " + operation,
		Code:      code,
		RequestID: requestID,
	})
}

// RespondValidationError writes field errors as a 422 response
func RespondValidationError(w http.ResponseWriter, fieldErrors map[string]string) {
	RespondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:     "Validation failed",
		Code:      CodeValidation,
		Details:   fieldErrors,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// RespondNoContent writes a 204 with no body
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
