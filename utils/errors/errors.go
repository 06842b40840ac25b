package errors

import (
	"fmt"
	"net/http"
)

// APIError is the typed failure surfaced by services and rendered by the HTTP layer.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`

	cause error
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// Is matches on Code so a sentinel still compares equal after WithDetails or Wrap.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of e carrying details.
func (e *APIError) WithDetails(format string, args ...any) *APIError {
	cp := *e
	cp.Details = fmt.Sprintf(format, args...)
	return &cp
}

func NewAPIError(code, message string, status int, details ...string) *APIError {
	err := &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

var (
	ErrInvalidInput = NewAPIError("INVALID_INPUT", "Invalid request data", http.StatusBadRequest)
	ErrUnauthorized = NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrForbidden    = NewAPIError("FORBIDDEN", "Operation not permitted", http.StatusForbidden)
	ErrNotFound     = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrInternal     = NewAPIError("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrConflict     = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)
	ErrStore        = NewAPIError("STORE_ERROR", "Document store failure", http.StatusBadGateway)

	ErrInvalidCredentials = NewAPIError("INVALID_CREDENTIALS", "Invalid email or password", http.StatusUnauthorized)
	ErrUsernameTaken      = NewAPIError("USERNAME_TAKEN", "Username is already taken", http.StatusConflict)

	ErrDuplicateRequest  = NewAPIError("DUPLICATE_REQUEST", "Friend request already sent", http.StatusConflict)
	ErrAlreadyFriends    = NewAPIError("ALREADY_FRIENDS", "Already friends with this user", http.StatusConflict)
	ErrBlocked           = NewAPIError("BLOCKED", "Friend request not allowed", http.StatusForbidden)
	ErrInvalidTransition = NewAPIError("INVALID_TRANSITION", "Friend request is no longer pending", http.StatusConflict)

	ErrBenderEnded = NewAPIError("BENDER_ENDED", "Bender has already ended", http.StatusConflict)
)

func Wrap(err error, code, message string, status int) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return &APIError{Code: code, Message: message, Status: status, Details: err.Error(), cause: err}
}

// StoreError wraps a backend failure, keeping the backend message.
func StoreError(err error) *APIError {
	return Wrap(err, ErrStore.Code, ErrStore.Message, ErrStore.Status)
}
