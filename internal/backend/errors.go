package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("already exists")
	ErrNoSession = errors.New("not signed in")
)

// APIError is a structured error response from the platform. Callers can
// use errors.As to inspect it; errors.Is maps 404 to ErrNotFound, 409 and
// unique-violation codes to ErrConflict, 401 to ErrNoSession.
type APIError struct {
	StatusCode int
	// Code is the platform error code, e.g. "23505" or "invalid_credentials".
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %s (%d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// uniqueViolation is the PostgreSQL SQLSTATE the REST layer passes through.
const uniqueViolation = "23505"

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict || e.Code == uniqueViolation
	case ErrNoSession:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// IsAPIError checks whether err is an *APIError with the given code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// Auth error codes shared by both platforms.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeUserExists         = "user_already_exists"
	CodeWeakPassword       = "weak_password"
	CodeValidation         = "validation_failed"
)
