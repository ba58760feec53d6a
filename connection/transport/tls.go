package transport

import (
	"crypto/tls"
	"net"
	"time"
)

type tlsTransport struct {
	inner  Transport
	client *tls.Conn
}

// WrapTLS layers a TLS client session over the transport, taking ownership
// of the wrapped layer. The handshake itself is driven by the first read or
// write through the new layer, which in practice is the post-activation
// confirmation read performed by the negotiator.
func WrapTLS(inner Transport, config *tls.Config) Transport {
	return &tlsTransport{
		inner:  inner,
		client: tls.Client(&streamConn{transport: inner}, config),
	}
}

func (t *tlsTransport) Read(p []byte) (int, error) {
	return t.client.Read(p)
}

func (t *tlsTransport) Write(p []byte) (int, error) {
	return t.client.Write(p)
}

func (t *tlsTransport) Close() error {
	t.client.Close()
	return t.inner.Close()
}

// streamConn adapts a Transport to net.Conn so crypto/tls can run over a
// possibly already-wrapped layer. Deadlines are not supported; cancellation
// happens by closing the transport, which unblocks pending I/O.
type streamConn struct {
	transport Transport
}

func (c *streamConn) Read(p []byte) (int, error)  { return c.transport.Read(p) }
func (c *streamConn) Write(p []byte) (int, error) { return c.transport.Write(p) }
func (c *streamConn) Close() error                { return c.transport.Close() }

func (c *streamConn) LocalAddr() net.Addr  { return streamAddr{} }
func (c *streamConn) RemoteAddr() net.Addr { return streamAddr{} }

func (c *streamConn) SetDeadline(t time.Time) error      { return nil }
func (c *streamConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return nil }

type streamAddr struct{}

func (streamAddr) Network() string { return "stream" }
func (streamAddr) String() string  { return "stream" }
