package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Display       string                 `json:"display"`
	InternalError string                 `json:"internal_error,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse converts any error into an ErrorResponse. Internal messages are
// only included for errors that are not marked as internal or database failures.
func NewErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Display: "An unexpected error occurred",
		},
	}
	if err == nil {
		return resp
	}

	var ie *InternalError
	if errors.As(err, &ie) {
		resp.Error.Display = ie.DisplayError
		resp.Error.Details = ie.ReportableDetails
	}
	if !IsInternal(err) && !IsDatabase(err) && !errors.Is(err, ErrSystem) {
		resp.Error.InternalError = err.Error()
	}
	return resp
}

// HTTPStatusFromErr maps a marked error onto an HTTP status code.
func HTTPStatusFromErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDatabase):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
