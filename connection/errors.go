package connection

import (
	"fmt"
	"time"

	"github.com/quillmq/quillmq-go/connection/frame"
)

// The ConnectionClosedError is used when the transport reports closed while
// the connection still expected traffic. It is fatal: the reader loop
// terminates and any caller blocked on a correlated reply receives it.
type ConnectionClosedError struct {
	Reason string
}

func (e *ConnectionClosedError) Error() string {
	if e.Reason == "" {
		return "connection closed unexpectedly"
	}
	return fmt.Sprintf("connection closed: %s", e.Reason)
}

func (e *ConnectionClosedError) Unwrap() error { return nil }

// The BadResponseError is used when a correlated reply signals an
// application-level error for the transmitted command. It is local to that
// transmit call; the connection remains usable.
type BadResponseError struct {
	Command string
	Reply   *frame.Frame
}

func (e *BadResponseError) Error() string {
	return fmt.Sprintf("error reply to %s: %s", e.Command, e.Reply.Content())
}

func (e *BadResponseError) Unwrap() error { return nil }

// The NoResponseError is used when a command that requires a reply received
// none within its wait budget. Local to that transmit call.
type NoResponseError struct {
	Command string
	Wait    time.Duration
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("no reply to %s within %s", e.Command, e.Wait)
}

func (e *NoResponseError) Unwrap() error { return nil }
