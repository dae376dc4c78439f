package request

import (
	"errors"
	"fmt"
	"net/http"
)

// Reserved error codes. Callers use them to tell "will be sent later" apart
// from "failed".
const (
	CodeOfflineQueued = "OFFLINE_QUEUED"
	CodeNoConnection  = "NO_CONNECTION"
	CodeNetworkError  = "NETWORK_ERROR"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeHTTPError     = "HTTP_ERROR"
)

// reservedCode reports whether code is one the layer assigns itself. A
// backend cannot claim them.
func reservedCode(code string) bool {
	switch code {
	case CodeOfflineQueued, CodeNoConnection, CodeNetworkError, CodeUnauthorized:
		return true
	}
	return false
}

// APIError is the only error shape surfaced to callers, whatever the origin.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
	// RequestID is the queue id when Code is OFFLINE_QUEUED.
	RequestID string `json:"requestId,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsQueued reports whether err means the request was queued for later and
// returns the queue id.
func IsQueued(err error) (string, bool) {
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.Code != CodeOfflineQueued || apiErr.RequestID == "" {
		return "", false
	}
	return apiErr.RequestID, true
}

// statusError is a non-2xx response from one attempt.
type statusError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: status=%d", e.StatusCode)
}

// networkError is a failure with no response at all.
type networkError struct {
	Err error
}

func (e *networkError) Error() string { return "network error: " + e.Err.Error() }

func (e *networkError) Unwrap() error { return e.Err }

// retryable reports whether an attempt error is transient: connection-level
// failures, 5xx, 408 and 429.
func retryable(err error) bool {
	var netErr *networkError
	if errors.As(err, &netErr) {
		return true
	}
	var stErr *statusError
	if errors.As(err, &stErr) {
		s := stErr.StatusCode
		return s == http.StatusRequestTimeout ||
			s == http.StatusTooManyRequests ||
			(s >= 500 && s <= 599)
	}
	return false
}

func isUnauthorized(err error) bool {
	var stErr *statusError
	return errors.As(err, &stErr) && stErr.StatusCode == http.StatusUnauthorized
}

// toAPIError formats an attempt error for callers.
func toAPIError(err error) *APIError {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}
	var stErr *statusError
	if errors.As(err, &stErr) {
		apiErr := describeBody(stErr.StatusCode, stErr.Header.Get("Content-Type"), stErr.Body)
		if stErr.StatusCode == http.StatusUnauthorized {
			apiErr.Code = CodeUnauthorized
		}
		return apiErr
	}
	var netErr *networkError
	if errors.As(err, &netErr) {
		return &APIError{
			Code:    CodeNetworkError,
			Message: "Network error: " + netErr.Err.Error(),
		}
	}
	return &APIError{Code: CodeNetworkError, Message: err.Error()}
}
