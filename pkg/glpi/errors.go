package glpi

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the session manager, the request executor and
// the engines built on top of them.
var (
	// ErrConfiguration is returned when the client is missing static
	// credentials. It is never retried.
	ErrConfiguration = errors.New("glpi configuration error")

	// ErrAuthentication is returned when the remote rejects the login.
	ErrAuthentication = errors.New("glpi authentication failed")

	// ErrTransport marks connection-level failures (refused, reset, timeout).
	ErrTransport = errors.New("glpi transport error")

	// ErrDataShape marks responses that are missing expected fields or do
	// not decode.
	ErrDataShape = errors.New("glpi unexpected response shape")
)

// APIError is returned when GLPI answers with a non-success status code.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("GLPI error (status %d) on %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("GLPI error (status %d): %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 answer from GLPI.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}
