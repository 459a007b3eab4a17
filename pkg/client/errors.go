package client

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportTimeout is returned when a single attempt gets no reply
	// in time. It is logged and the next server is tried.
	ErrTransportTimeout = errors.New("request timed out")

	// ErrTransportExhausted is surfaced once every candidate server failed
	ErrTransportExhausted = errors.New("Error accessing chat server")

	// ErrNoCompletion means a reply script loaded but never completed the
	// request it was fetched for
	ErrNoCompletion = errors.New("reply did not complete the request")

	ErrEmptyMessage = errors.New("message is empty")
	ErrNoServers    = errors.New("no chat servers configured")
	ErrNoReAcquire  = errors.New("no re-acquire URL configured")
)

// ServerError carries an error reported by the chat server (or the host's
// re-acquire endpoint) through a <op>Error call. The text is shown verbatim.
type ServerError struct {
	Op      string
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// IsServerError reports whether err was reported by the server
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// attemptError wraps a failed attempt with the URL it was made against
func attemptError(url string, err error) error {
	return fmt.Errorf("%s: %w", url, err)
}
