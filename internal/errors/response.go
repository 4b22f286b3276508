package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the standardized error format returned by the backend.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code, message, and optional context.
type ErrorDetail struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string, details map[string]any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: code.IsRetryable(),
			Details:   details,
		},
	}
}

// WriteJSON writes the error response with the status mapped from its code.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Error.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(e)
}

// WriteError writes an error response in one call. Non-string causes are run
// through Describe so clients always get a readable message.
func WriteError(w http.ResponseWriter, code ErrorCode, cause any, details map[string]any) {
	NewErrorResponse(code, Describe(cause), details).WriteJSON(w)
}

// WriteSimpleError writes an error with no additional details.
func WriteSimpleError(w http.ResponseWriter, code ErrorCode, message string) {
	WriteError(w, code, message, nil)
}
