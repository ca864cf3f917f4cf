package trackmilter

import (
	"errors"
	"fmt"
)

// ErrServerClosed is returned by the Server's Serve and ListenAndServe
// methods after a call to Shutdown.
var ErrServerClosed = errors.New("milter: Server closed")

// ProtocolError means the MTA violated the milter protocol. It is fatal to
// the connection it happened on and to nothing else.
type ProtocolError struct {
	Command byte   // The command byte being processed, 0 if unknown
	Message string // What exactly went wrong
}

// Error returns a string representation of the protocol error
func (e ProtocolError) Error() string {
	if e.Command == 0 {
		return fmt.Sprintf("milter protocol error: %s", e.Message)
	}
	return fmt.Sprintf("milter protocol error in %q: %s", e.Command, e.Message)
}
