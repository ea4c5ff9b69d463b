package core

import "fmt"

// Error codes shared across the pipeline. These mirror the error taxonomy:
// denials are terminal and fail-closed, degradation codes are absorbed locally
// and flagged on the result.
const (
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeScopeViolation      = "SCOPE_VIOLATION"
	ErrCodeRetrievalDegraded   = "RETRIEVAL_DEGRADED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeModelNotPermitted   = "MODEL_NOT_PERMITTED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Error is the structured error envelope crossing component boundaries.
// User-visible failures are always one of these, never a raw panic.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewError wraps err into a structured envelope with a stable code.
func NewError(err error, code string, details map[string]any) *Error {
	msg := ""
	if err != nil {
		msg = RedactError(err)
	}
	return &Error{
		Code:    code,
		Message: msg,
		Details: details,
		cause:   err,
	}
}

// IsCode reports whether err is a structured error carrying the given code.
func IsCode(err error, code string) bool {
	var coreErr *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			coreErr = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return coreErr != nil && coreErr.Code == code
}
