/*
The command package holds the client half of the quillmq vocabulary: the
request units written down the connection. A command serializes to its name
and space-separated params terminated by a newline, followed, for commands
that carry one, by a 4-byte big-endian body length and the body itself.

Each command declares what it expects back from the daemon, and the
connection's transmit path branches solely on that declaration.
*/
package command

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/quillmq/quillmq-go/connection/frame"
)

// Expectation is a command's declared response contract.
type Expectation int

const (
	// None means fire-and-forget: transmit returns as soon as the bytes
	// are written.
	None Expectation = iota

	// ErrorOnly means the daemon only ever answers with an error frame;
	// silence within the error wait is success.
	ErrorOnly

	// Required means the daemon always answers; silence is a failure.
	Required
)

const (
	nameIdentify     = "IDENTIFY"
	nameSubscribe    = "SUB"
	namePublish      = "PUB"
	nameMultiPublish = "MPUB"
	nameReady        = "RDY"
	nameFinish       = "FIN"
	nameRequeue      = "REQ"
	nameTouch        = "TOUCH"
	nameNop          = "NOP"
	nameClose        = "CLS"
)

type Command struct {
	Name   string
	Params []string
	Body   []byte
}

func (c *Command) String() string {
	out := c.Name
	for _, param := range c.Params {
		out += " " + param
	}
	return out
}

// Serialize renders the command to wire bytes.
func (c *Command) Serialize() []byte {
	var buf bytes.Buffer

	buf.WriteString(c.Name)
	for _, param := range c.Params {
		buf.WriteByte(' ')
		buf.WriteString(param)
	}
	buf.WriteByte('\n')

	if c.Body != nil {
		size := make([]byte, 4)
		binary.BigEndian.PutUint32(size, uint32(len(c.Body)))
		buf.Write(size)
		buf.Write(c.Body)
	}

	return buf.Bytes()
}

// ResponseExpectation reports the declared response contract by command
// name; unknown names are treated as Required so a reply is never dropped.
func (c *Command) ResponseExpectation() Expectation {
	switch c.Name {
	case nameReady, nameNop:
		return None
	case nameFinish, nameRequeue, nameTouch:
		return ErrorOnly
	default:
		return Required
	}
}

// IsErrorReply reports whether a correlated reply signals an
// application-level failure for the command it answers.
func IsErrorReply(reply *frame.Frame) bool {
	return reply.Type == frame.TypeError
}

// Identify sends the capability-negotiation payload during handshake.
func Identify(body []byte) *Command {
	return &Command{Name: nameIdentify, Body: body}
}

func Subscribe(topic string, channel string) *Command {
	return &Command{Name: nameSubscribe, Params: []string{topic, channel}}
}

func Publish(topic string, body []byte) *Command {
	return &Command{Name: namePublish, Params: []string{topic}, Body: body}
}

func MultiPublish(topic string, bodies [][]byte) *Command {
	var buf bytes.Buffer

	count := make([]byte, 4)
	binary.BigEndian.PutUint32(count, uint32(len(bodies)))
	buf.Write(count)

	size := make([]byte, 4)
	for _, body := range bodies {
		binary.BigEndian.PutUint32(size, uint32(len(body)))
		buf.Write(size)
		buf.Write(body)
	}

	return &Command{Name: nameMultiPublish, Params: []string{topic}, Body: buf.Bytes()}
}

// Ready tells the daemon how many in-flight messages this connection will
// accept.
func Ready(count int) *Command {
	return &Command{Name: nameReady, Params: []string{strconv.Itoa(count)}}
}

func Finish(id frame.MessageId) *Command {
	return &Command{Name: nameFinish, Params: []string{id.String()}}
}

func Requeue(id frame.MessageId, delay time.Duration) *Command {
	return &Command{Name: nameRequeue, Params: []string{id.String(), strconv.FormatInt(delay.Milliseconds(), 10)}}
}

func Touch(id frame.MessageId) *Command {
	return &Command{Name: nameTouch, Params: []string{id.String()}}
}

// Nop acknowledges a heartbeat. The daemon never answers it.
func Nop() *Command {
	return &Command{Name: nameNop}
}

// Close asks the daemon for a clean shutdown of the connection.
func Close() *Command {
	return &Command{Name: nameClose}
}

// HasBody reports whether the named command carries a length-prefixed body
// on the wire. Used by anything parsing the client side of the protocol.
func HasBody(name string) bool {
	switch name {
	case nameIdentify, namePublish, nameMultiPublish:
		return true
	default:
		return false
	}
}
