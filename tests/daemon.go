/*
The tests package provides an in-memory quillmqd stand-in for exercising the
connection stack without a network. A FakeDaemon owns the daemon side of a
net.Pipe and exposes scripted reads and writes in terms of the wire
protocol; tests drive it from a goroutine.
*/
package tests

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/quillmq/quillmq-go/connection/command"
	"github.com/quillmq/quillmq-go/connection/frame"
	"github.com/quillmq/quillmq-go/connection/transport"
)

// ClientCommand is one request unit as read off the wire by the fake
// daemon.
type ClientCommand struct {
	Name   string
	Params []string
	Body   []byte
}

type FakeDaemon struct {
	conn   net.Conn
	stream transport.Transport
	reader *bufio.Reader

	// The feature request received in the last IDENTIFY
	Identify map[string]any
}

// NewFakeDaemon returns the daemon half and the client half of an
// in-memory connection.
func NewFakeDaemon() (*FakeDaemon, net.Conn) {
	server, client := net.Pipe()

	d := &FakeDaemon{conn: server}
	d.stream = transport.New(server)
	d.reader = bufio.NewReader(d.stream)

	return d, client
}

func (d *FakeDaemon) Close() {
	d.conn.Close()
}

// ReadVersion consumes the 4-byte protocol version magic.
func (d *FakeDaemon) ReadVersion() (string, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(d.reader, magic); err != nil {
		return "", err
	}
	return string(magic), nil
}

// ReadCommand consumes one client command, including its length-prefixed
// body when the command carries one.
func (d *FakeDaemon) ReadCommand() (*ClientCommand, error) {
	line, err := d.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}

	parts := strings.Split(strings.TrimSuffix(line, "\n"), " ")
	cmd := &ClientCommand{Name: parts[0], Params: parts[1:]}

	if command.HasBody(cmd.Name) {
		size := make([]byte, 4)
		if _, err := io.ReadFull(d.reader, size); err != nil {
			return nil, err
		}
		cmd.Body = make([]byte, binary.BigEndian.Uint32(size))
		if _, err := io.ReadFull(d.reader, cmd.Body); err != nil {
			return nil, err
		}
	}

	return cmd, nil
}

func (d *FakeDaemon) WriteFrame(f *frame.Frame) error {
	_, err := d.stream.Write(frame.Encode(f))
	return err
}

func (d *FakeDaemon) WriteResponse(content string) error {
	return d.WriteFrame(frame.Response(content))
}

func (d *FakeDaemon) WriteError(content string) error {
	return d.WriteFrame(frame.Error(content))
}

func (d *FakeDaemon) WriteHeartbeat() error {
	return d.WriteFrame(frame.Response(frame.HeartbeatContent))
}

func (d *FakeDaemon) WriteMessage(m *frame.Message) error {
	return d.WriteFrame(&frame.Frame{
		Type: frame.TypeMessage,
		Body: frame.EncodeMessage(m),
	})
}

// Negotiate plays the daemon side of the handshake: it consumes the version
// magic and the IDENTIFY command, then answers with the given settings (or
// a bare OK when the client disabled negotiation). The identify payload is
// retained for assertions.
func (d *FakeDaemon) Negotiate(settings map[string]any) error {
	if _, err := d.ReadVersion(); err != nil {
		return fmt.Errorf("error reading version magic: %w", err)
	}

	identify, err := d.ReadCommand()
	if err != nil {
		return fmt.Errorf("error reading identify: %w", err)
	}
	if identify.Name != "IDENTIFY" {
		return fmt.Errorf("expected IDENTIFY, got %s", identify.Name)
	}
	if err := json.Unmarshal(identify.Body, &d.Identify); err != nil {
		return fmt.Errorf("error parsing identify payload: %w", err)
	}

	if negotiate, ok := d.Identify["feature_negotiation"].(bool); !ok || !negotiate {
		return d.WriteResponse("OK")
	}

	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return d.WriteFrame(frame.Response(string(payload)))
}

// UpgradeSnappy rewraps the daemon side after a snappy activation has been
// announced, then confirms the swap through the new layer.
func (d *FakeDaemon) UpgradeSnappy() error {
	d.stream = transport.WrapSnappy(d.stream)
	d.reader = bufio.NewReader(d.stream)
	return d.WriteResponse("OK")
}

// UpgradeDeflate rewraps the daemon side after a deflate activation.
func (d *FakeDaemon) UpgradeDeflate(level int) error {
	stream, err := transport.WrapDeflate(d.stream, level)
	if err != nil {
		return err
	}
	d.stream = stream
	d.reader = bufio.NewReader(d.stream)
	return d.WriteResponse("OK")
}

// UpgradeTLS rewraps the raw daemon side with a TLS server session. Only
// valid as the first upgrade on the connection.
func (d *FakeDaemon) UpgradeTLS(config *tls.Config) error {
	d.stream = transport.New(tls.Server(d.conn, config))
	d.reader = bufio.NewReader(d.stream)
	return d.WriteResponse("OK")
}

// SelfSignedTLSConfig generates a throwaway server certificate for TLS
// handshake tests.
func SelfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "quillmqd-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
	}, nil
}
