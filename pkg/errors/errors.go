package errors

import (
	"encoding/json"
	"errors"
)

// Error is how errors cross the API. The Type says whose move it is:
// retry later (server), fix the request (user), or stop asking about
// something that is not there (missing).
type Error struct {
	Type Type
	// a message that can be printed out for the operator
	Help string `json:"help"`
	// the underlying error, for logs
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Type) + ": " + e.Help
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Type string

const (
	// The operation looked fine on paper, but something went wrong
	Server Type = "server"
	// The run (or route) asked about doesn't exist
	Missing Type = "missing"
	// The request was well-formed, but can't happen now; e.g., the
	// service already has a run in progress, or the run is not
	// waiting at the gate named
	User Type = "user"
)

func IsMissing(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == Missing
}

func IsUser(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == User
}

// wireError is the JSON body of an error response. Err only carries
// the message; its type does not survive the trip.
type wireError struct {
	Type Type   `json:"type"`
	Help string `json:"help"`
	Err  string `json:"error,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{Type: e.Type, Help: e.Help}
	if e.Err != nil {
		w.Err = e.Err.Error()
	}
	return json.Marshal(w)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Type, e.Help, e.Err = w.Type, w.Help, nil
	if w.Err != "" {
		e.Err = errors.New(w.Err)
	}
	return nil
}

func CoverAllError(err error) *Error {
	return &Error{
		Type: Server,
		Err:  err,
		Help: `Error: ` + err.Error() + `

The daemon could not complete the request. If the message above does
not say what to change, check the daemon's log for the same error;
runs are kept in the store, so the request is safe to repeat.
`,
	}
}
