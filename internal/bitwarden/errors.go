package bitwarden

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials indicates the provider rejected the supplied
	// client credentials (4xx on the token endpoint). The raw provider
	// response is carried for server-side logging and must never reach a
	// client response body.
	ErrInvalidCredentials = errors.New("provider rejected client credentials")

	// ErrProviderUnavailable indicates the provider could not be reached or
	// answered with a server error, including timeouts.
	ErrProviderUnavailable = errors.New("credential provider unavailable")
)

// APIError wraps a failed provider interaction with the HTTP status the
// provider returned (0 for transport failures) and an underlying sentinel
// matched with errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// wrapRejected classifies a non-success response from the token endpoint.
// Any HTTP-level rejection of the exchange means the credentials are wrong
// from the caller's point of view; only transport failures count as the
// provider being down.
func wrapRejected(statusCode int, message string) *APIError {
	return &APIError{StatusCode: statusCode, Message: message, Err: ErrInvalidCredentials}
}

// wrapStatus classifies a non-2xx response from the vault API as provider
// unavailability.
func wrapStatus(statusCode int, message string) *APIError {
	return &APIError{StatusCode: statusCode, Message: message, Err: ErrProviderUnavailable}
}

// wrapTransport classifies a transport-level failure (DNS, connect, timeout)
// as provider unavailability.
func wrapTransport(message string, err error) *APIError {
	return &APIError{Message: fmt.Sprintf("%s: %v", message, err), Err: ErrProviderUnavailable}
}
