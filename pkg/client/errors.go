package client

import (
	"errors"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/glpi"
)

// ErrorClass represents a classification of GLPI call failures.
type ErrorClass string

const (
	// ErrorClassUnauthorized represents 401 responses (expired or revoked session).
	ErrorClassUnauthorized ErrorClass = "unauthorized"

	// ErrorClassClient represents other 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

func classifyStatus(status int) ErrorClass {
	switch {
	case status == 401:
		return ErrorClassUnauthorized
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Classify returns the class of an error returned by the executor, or ""
// when it does not map to a class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, glpi.ErrTransport) {
		return ErrorClassNetwork
	}
	var apiErr *glpi.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	return ""
}
