package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTransport wraps every failure that happened before a response was received.
	ErrTransport = errors.New("remote: transport error")
	ErrNotFound  = errors.New("remote: entry not found")
)

const (
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeHashMismatch   = "E_HASH_MISMATCH"
	CodeNotFound       = "E_NOT_FOUND"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeUnavailable    = "E_UNAVAILABLE"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeUnknownError   = "E_UNKNOWN_ERR"
)

// APIError is an error response returned by the remote service
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s - %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && (e.Status == http.StatusNotFound || e.Code == CodeNotFound)
}

// IsTransient reports whether retrying the same request may succeed:
// transport failures, timeouts, throttling and server side errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError ||
			apiErr.Status == http.StatusTooManyRequests ||
			apiErr.Status == http.StatusRequestTimeout ||
			apiErr.Code == CodeRateLimited ||
			apiErr.Code == CodeUnavailable
	}

	if errors.Is(err, ErrTransport) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
