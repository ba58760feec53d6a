/*
The transport package establishes and ferries raw bytes across the underlying
stream socket. In terms of the overall connection layer architecture, this
package is at the lowest layer, providing the byte stream that the framing
and negotiation layers parse.

A transport can be re-wrapped mid-handshake when the daemon accepts a
compression or TLS capability: the decorator takes ownership of the layer it
wraps and the connection carries on through the new one with the same
blocking read/write contract.
*/
package transport

import (
	"fmt"
	"net"
	"time"
)

// Transport is the swappable byte-stream owned by a connection. Reads block
// until data or error; Close unblocks any pending read or write.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type tcpTransport struct {
	conn net.Conn
}

// Dial opens the raw TCP transport to the daemon.
func Dial(host string, port int, timeout time.Duration) (Transport, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("error dialing %s: %w", addr, err)
	}

	return &tcpTransport{conn: conn}, nil
}

// New wraps an already-established stream connection. Used by collaborators
// that manage their own dialing and by tests running over in-memory pipes.
func New(conn net.Conn) Transport {
	return &tcpTransport{conn: conn}
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}
