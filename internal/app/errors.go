package app

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds surfaced to callers. Every DomainError unwraps to one of them.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
)

var kindStatus = map[error]int{
	ErrUnauthorized:    http.StatusUnauthorized,
	ErrForbidden:       http.StatusForbidden,
	ErrNotFound:        http.StatusNotFound,
	ErrInvalidArgument: http.StatusUnprocessableEntity,
	ErrConflict:        http.StatusConflict,
	ErrUnavailable:     http.StatusServiceUnavailable,
}

type DomainError struct {
	Kind    error
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

func (e *DomainError) Unwrap() error {
	return e.Kind
}

func domainError(kind error, code, message string, details any) *DomainError {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &DomainError{
		Kind:    kind,
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func unauthorized() *DomainError {
	return domainError(ErrUnauthorized, "UNAUTHORIZED", "Sign in to continue", nil)
}

func invalidArgument(message string, details any) *DomainError {
	return domainError(ErrInvalidArgument, "VALIDATION_ERROR", message, details)
}

func notFound(what string) *DomainError {
	return domainError(ErrNotFound, "NOT_FOUND", what+" not found", nil)
}
