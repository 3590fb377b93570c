package server

import (
	"errors"

	"github.com/localrivet/codebridge/internal/errortypes"
)

// ErrorResponse is the structured form of an error reported to a tool
// caller.
type ErrorResponse struct {
	Status  string                 `json:"status"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error response codes
const (
	StatusCodeValidationError = "VALIDATION_ERROR"
	StatusCodePermissionError = "PERMISSION_ERROR"
	StatusCodeDatabaseError   = "DATABASE_ERROR"
	StatusCodeInternalError   = "INTERNAL_ERROR"
	StatusCodeConfigError     = "CONFIG_ERROR"
	StatusCodeUnknownError    = "UNKNOWN_ERROR"
)

// ErrorCode maps an error to the code reported in tool responses.
func ErrorCode(err error) string {
	var appErr *errortypes.AppError
	if !errors.As(err, &appErr) {
		return StatusCodeUnknownError
	}

	switch appErr.Type {
	case errortypes.ErrorTypeValidation:
		return StatusCodeValidationError
	case errortypes.ErrorTypePermission:
		return StatusCodePermissionError
	case errortypes.ErrorTypeDatabase:
		return StatusCodeDatabaseError
	case errortypes.ErrorTypeInternal:
		return StatusCodeInternalError
	case errortypes.ErrorTypeConfig:
		return StatusCodeConfigError
	default:
		return StatusCodeUnknownError
	}
}

// errorToResponse converts an error to a standardized ErrorResponse.
// Stack traces stay in the log and are never sent to the caller.
func errorToResponse(err error) ErrorResponse {
	resp := ErrorResponse{
		Status:  "error",
		Code:    ErrorCode(err),
		Message: err.Error(),
	}

	var appErr *errortypes.AppError
	if errors.As(err, &appErr) && len(appErr.Fields) > 0 {
		resp.Details = make(map[string]interface{}, len(appErr.Fields))
		for k, v := range appErr.Fields {
			resp.Details[k] = v
		}
	}
	return resp
}
