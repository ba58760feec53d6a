/*
This package is the concrete connection to a quillmq daemon. It owns the
transport, runs the handshake (which may rewrap the transport with
compression and/or TLS before any background reads happen), and then runs a
single reader loop that demultiplexes the inbound stream: heartbeats are
acknowledged and dropped, pushed messages land on the message queue, and
everything else lands on the reply queue for the transmit path to correlate.

See connection/connection.go for the interface and the overall
architecture notes.
*/
package daemonconnection

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"github.com/quillmq/quillmq-go/connection"
	"github.com/quillmq/quillmq-go/connection/command"
	"github.com/quillmq/quillmq-go/connection/frame"
	"github.com/quillmq/quillmq-go/connection/negotiate"
	"github.com/quillmq/quillmq-go/connection/queue"
	"github.com/quillmq/quillmq-go/connection/transport"
	"github.com/quillmq/quillmq-go/logger"
	"github.com/quillmq/quillmq-go/telemetry/throughputstats"
)

var errNoReply = errors.New("no reply yet")

type DaemonConnection struct {
	tmb    tomb.Tomb
	logger *logger.Logger
	opts   connection.Options

	// Replaced only during capability activation, which happens strictly
	// before the reader loop starts; effectively immutable afterwards.
	transport transport.Transport
	settings  negotiate.Settings

	// Serializes whole Transmit calls: the protocol supports one
	// outstanding correlated reply at a time.
	transmitLock sync.Mutex

	// Serializes raw writes between the transmit path and the reader
	// loop's heartbeat acknowledgements.
	writeLock sync.Mutex

	responses *queue.Queue[*frame.Frame]
	messages  *queue.Queue[*frame.Message]

	stats *throughputstats.ThroughputStats

	initialized atomic.Bool
	ready       atomic.Bool
	closeOnce   sync.Once
}

// New dials the daemon immediately; the returned connection still needs
// Init to handshake and start its reader loop.
func New(logger *logger.Logger, opts connection.Options) (*DaemonConnection, error) {
	applyDefaults(&opts)

	t, err := transport.Dial(opts.Host, opts.Port, opts.DialTimeout)
	if err != nil {
		return nil, err
	}

	return newConnection(logger, t, opts), nil
}

// NewWithTransport builds a connection over an already-established
// transport. Used by collaborators that manage their own dialing and by
// tests running over in-memory pipes.
func NewWithTransport(logger *logger.Logger, t transport.Transport, opts connection.Options) *DaemonConnection {
	applyDefaults(&opts)
	return newConnection(logger, t, opts)
}

func newConnection(logger *logger.Logger, t transport.Transport, opts connection.Options) *DaemonConnection {
	logger.AddConnectionId(uuid.New().String())

	messages := opts.MessageQueue
	if messages == nil {
		messages = queue.New[*frame.Message]()
	}

	return &DaemonConnection{
		logger:    logger,
		opts:      opts,
		transport: t,
		responses: queue.New[*frame.Frame](),
		messages:  messages,
		stats:     throughputstats.New("frames"),
	}
}

func applyDefaults(opts *connection.Options) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = connection.DefaultDialTimeout
	}
	if opts.ResponseWait == 0 {
		opts.ResponseWait = connection.DefaultResponseWait
	}
	if opts.ErrorWait == 0 {
		opts.ErrorWait = connection.DefaultErrorWait
	}
	if opts.ResponseInterval == 0 {
		opts.ResponseInterval = connection.DefaultResponseInterval
	}
}

// Init performs the handshake and starts the reader loop. The handshake
// completes first, so no push traffic or heartbeat is ever dispatched
// against an un-negotiated transport.
func (c *DaemonConnection) Init() error {
	if !c.initialized.CompareAndSwap(false, true) {
		return fmt.Errorf("connection already initialized")
	}

	negotiator := negotiate.New(c.logger.GetComponentLogger("Negotiator"), negotiate.Options{
		Version:         c.opts.Version,
		UserAgent:       c.opts.UserAgent,
		Features:        c.opts.Features,
		EnforceFeatures: c.opts.EnforceFeatures,
		DeflateLevel:    c.opts.DeflateLevel,
		TLSConfig:       c.opts.TLSConfig,
	})

	upgraded, settings, err := negotiator.Run(c.transport)
	if err != nil {
		c.transport.Close()
		c.initialized.Store(false)
		return err
	}

	c.transport = upgraded
	c.settings = settings
	c.ready.Store(true)

	c.tmb.Go(c.readLoop)
	c.logger.Infof("Connection has started")

	return nil
}

// readLoop is the sole reader of the transport after the handshake. It
// runs until teardown or until the transport reports closed.
func (c *DaemonConnection) readLoop() error {
	c.logger.Infof("Reader loop has started")
	defer c.logger.Infof("Reader loop has stopped")

	for {
		f, err := frame.Read(c.transport)
		if err != nil {
			select {
			case <-c.tmb.Dying():
				return nil
			default:
			}

			c.ready.Store(false)
			c.transport.Close()
			return &connection.ConnectionClosedError{Reason: err.Error()}
		}
		c.stats.CountInbound(1)

		if f.IsHeartbeat() {
			if err := c.write(command.Nop()); err != nil {
				c.logger.Errorf("failed to acknowledge heartbeat: %s", err)
			}
			continue
		}

		if c.opts.OnInbound != nil {
			if transformed := c.opts.OnInbound(f); transformed != nil {
				f = transformed
			}
		}

		if f.Type == frame.TypeMessage {
			c.messages.Push(f.Message)
			if c.opts.Notifier != nil {
				c.opts.Notifier.Signal(f.Message)
			}
		} else {
			c.responses.Push(f)
		}
	}
}

func (c *DaemonConnection) write(cmd *command.Command) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if _, err := c.transport.Write(cmd.Serialize()); err != nil {
		return err
	}
	c.stats.CountOutbound(1)
	return nil
}

// Transmit writes the command and, depending on its declared response
// expectation, waits for the correlated reply. Fire-and-forget commands
// return a nil frame immediately after the write.
func (c *DaemonConnection) Transmit(cmd *command.Command) (*frame.Frame, error) {
	c.transmitLock.Lock()
	defer c.transmitLock.Unlock()

	if !c.initialized.Load() {
		return nil, fmt.Errorf("connection not initialized")
	}
	if !c.tmb.Alive() {
		return nil, &connection.ConnectionClosedError{Reason: "connection is closed"}
	}

	expectation := cmd.ResponseExpectation()

	var wait time.Duration
	switch expectation {
	case command.Required:
		wait = c.opts.ResponseWait
	case command.ErrorOnly:
		wait = c.opts.ErrorWait
	}

	// Replies to previously timed-out commands must not be correlated
	// with this one.
	if expectation != command.None {
		if stale := c.responses.Drain(); len(stale) > 0 {
			c.logger.Debugf("Discarded %d stale replies", len(stale))
		}
	}

	if err := c.write(cmd); err != nil {
		return nil, &connection.ConnectionClosedError{Reason: fmt.Sprintf("write failed: %s", err)}
	}

	if expectation == command.None {
		return nil, nil
	}

	reply, err := c.awaitReply(wait)
	if err != nil {
		var closed *connection.ConnectionClosedError
		if errors.As(err, &closed) {
			return nil, closed
		}
		if expectation == command.ErrorOnly {
			// silence is the expected outcome
			return nil, nil
		}
		return nil, &connection.NoResponseError{Command: cmd.String(), Wait: wait}
	}

	if command.IsErrorReply(reply) {
		return nil, &connection.BadResponseError{Command: cmd.String(), Reply: reply}
	}
	return reply, nil
}

// awaitReply polls the reply queue at the configured interval until a reply
// arrives, the attempt budget runs out, or the connection dies. Polling
// keeps the correlator decoupled from the reader loop's scheduling at the
// cost of up to one interval of latency.
func (c *DaemonConnection) awaitReply(wait time.Duration) (*frame.Frame, error) {
	attempts := uint64(math.Ceil(float64(wait) / float64(c.opts.ResponseInterval)))
	if attempts < 1 {
		attempts = 1
	}

	var reply *frame.Frame
	poll := func() error {
		select {
		case <-c.tmb.Dying():
			return backoff.Permanent(&connection.ConnectionClosedError{Reason: "connection closed while awaiting reply"})
		default:
		}

		if f, ok := c.responses.TryPop(); ok {
			reply = f
			return nil
		}
		return errNoReply
	}

	schedule := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.ResponseInterval), attempts-1)
	if err := backoff.Retry(poll, schedule); err != nil {
		return nil, err
	}
	return reply, nil
}

// Messages is the queue of pushed messages; safe for concurrent poppers.
func (c *DaemonConnection) Messages() *queue.Queue[*frame.Message] {
	return c.messages
}

// EndpointSettings returns the daemon's negotiated capability response.
// Read-only after Init.
func (c *DaemonConnection) EndpointSettings() negotiate.Settings {
	return c.settings
}

func (c *DaemonConnection) Ready() bool {
	return c.ready.Load() && c.tmb.Alive()
}

func (c *DaemonConnection) Done() <-chan struct{} {
	return c.tmb.Dead()
}

func (c *DaemonConnection) Err() error {
	return c.tmb.Err()
}

func (c *DaemonConnection) Stats() json.RawMessage {
	m := map[string]any{
		"connected":  c.Ready(),
		"throughput": c.stats.Digest(),
	}

	if mBytes, err := json.Marshal(m); err != nil {
		c.logger.Errorf("failed to marshal stats object: %s", err)
		return []byte{}
	} else {
		return mBytes
	}
}

// Close tears the connection down: a best-effort polite close command, then
// the reader loop is killed and the transport closed. Idempotent; safe to
// call concurrently with an in-flight Transmit or the reader loop.
func (c *DaemonConnection) Close(reason error, timeout time.Duration) {
	c.closeOnce.Do(func() {
		c.logger.Infof("Connection closing because: %s", reason)
		c.ready.Store(false)

		// the daemon may already be gone; a failed goodbye is not an error
		if err := c.write(command.Close()); err != nil {
			c.logger.Debugf("Best-effort close command failed: %s", err)
		}

		c.tmb.Kill(reason)
		c.transport.Close()
	})

	if !c.initialized.Load() {
		return
	}

	select {
	case <-c.tmb.Dead():
	case <-time.After(timeout):
		c.logger.Infof("Timed out after %s waiting for connection to close", timeout.String())
	}
}
