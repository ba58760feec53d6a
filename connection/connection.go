/*
The connection package defines the contract for a single persistent
connection to a quillmq daemon.

Layers of the connection architecture:
1. Transport (raw socket, optionally rewrapped with compression/TLS)
2. Frame codec
3. Connection (handshake, reader loop, command/reply correlation) <- this is us

A connection is created against a host/port, initialized exactly once (the
handshake negotiates capabilities and may swap the transport before the
reader loop starts), and then carries three classes of traffic over one
ordered byte stream: correlated command replies, heartbeats, and
asynchronously pushed messages.
*/
package connection

import (
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/quillmq/quillmq-go/connection/command"
	"github.com/quillmq/quillmq-go/connection/frame"
	"github.com/quillmq/quillmq-go/connection/negotiate"
	"github.com/quillmq/quillmq-go/connection/queue"
)

const (
	DefaultDialTimeout      = 5 * time.Second
	DefaultResponseWait     = time.Second
	DefaultErrorWait        = 300 * time.Millisecond
	DefaultResponseInterval = 100 * time.Millisecond
)

// Notifier is signalled, fire-and-forget, for every pushed message the
// reader loop enqueues.
type Notifier interface {
	Signal(message *frame.Message)
}

// InboundHandler observes every non-heartbeat frame before dispatch and may
// transform or replace it by returning a non-nil frame.
type InboundHandler func(f *frame.Frame) *frame.Frame

type Connection interface {
	Init() error
	Transmit(cmd *command.Command) (*frame.Frame, error)
	Messages() *queue.Queue[*frame.Message]
	EndpointSettings() negotiate.Settings
	Ready() bool
	Done() <-chan struct{}
	Err() error
	Stats() json.RawMessage
	Close(reason error, timeout time.Duration)
}

type Options struct {
	Host string
	Port int

	// Protocol version token; defaults to the current protocol revision
	Version   string
	UserAgent string

	// Per-capability feature request merged over host defaults during
	// the handshake
	Features        map[string]any
	EnforceFeatures bool

	DeflateLevel int
	TLSConfig    *tls.Config

	DialTimeout time.Duration

	// Correlated-reply wait budgets and the poll granularity
	ResponseWait     time.Duration
	ErrorWait        time.Duration
	ResponseInterval time.Duration

	OnInbound InboundHandler
	Notifier  Notifier

	// Overrides the connection-owned pushed-message queue
	MessageQueue *queue.Queue[*frame.Message]
}
