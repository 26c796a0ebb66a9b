package httperror

import (
	"fmt"
	"net/http"
)

// APIError is returned by the client when the daemon (or something in
// front of it) answers with a non-2xx status and a body that isn't one
// of our JSON errors.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", err.Status, err.Body)
}

// IsUnavailable is true when the daemon couldn't be reached through a
// gateway, or is restarting; worth trying again.
func (err *APIError) IsUnavailable() bool {
	switch err.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsMissing usually means bluegreenctl is talking to a daemon of a
// different version, or to something else entirely.
func (err *APIError) IsMissing() bool {
	return err.StatusCode == http.StatusNotFound
}
