/*
The frame package implements the quillmq wire unit. Every frame on the wire is
an 8-byte header (4-byte big-endian body size, 4-byte big-endian type tag)
followed by exactly size body bytes. The type tag classifies the frame as a
daemon response, a daemon error, or a pushed message.
*/
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	HeaderLen = 8

	TypeResponse uint32 = 0
	TypeError    uint32 = 1
	TypeMessage  uint32 = 2

	// Periodic liveness probe from the daemon, answered with a NOP and
	// never surfaced to application code.
	HeartbeatContent = "_heartbeat_"
)

// MalformedHeaderError indicates the codec was handed fewer than 8 header
// bytes. Framing corruption is fatal to the connection.
type MalformedHeaderError struct {
	Have int
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed frame header: got %d of %d bytes", e.Have, HeaderLen)
}

func (e *MalformedHeaderError) Unwrap() error { return nil }

// UnknownFrameTypeError indicates a type tag outside the protocol's three
// frame classes. Also fatal to the connection.
type UnknownFrameTypeError struct {
	TypeTag uint32
}

func (e *UnknownFrameTypeError) Error() string {
	return fmt.Sprintf("unknown frame type tag: %d", e.TypeTag)
}

func (e *UnknownFrameTypeError) Unwrap() error { return nil }

// Frame is one decoded protocol unit. Message is non-nil exactly when Type
// is TypeMessage.
type Frame struct {
	Type    uint32
	Body    []byte
	Message *Message
}

// Content returns the frame body as a string, e.g. "OK" or an error code.
func (f *Frame) Content() string {
	return string(f.Body)
}

func (f *Frame) IsHeartbeat() bool {
	return f.Type == TypeResponse && f.Content() == HeartbeatContent
}

// DecodeHeader splits the 8-byte header into body size and type tag.
func DecodeHeader(buf []byte) (size uint32, typeTag uint32, err error) {
	if len(buf) < HeaderLen {
		return 0, 0, &MalformedHeaderError{Have: len(buf)}
	}
	return binary.BigEndian.Uint32(buf[:4]), binary.BigEndian.Uint32(buf[4:8]), nil
}

// Classify builds the typed frame for a decoded header and its body. The
// caller must have read exactly the declared number of body bytes.
func Classify(typeTag uint32, body []byte) (*Frame, error) {
	switch typeTag {
	case TypeResponse, TypeError:
		return &Frame{Type: typeTag, Body: body}, nil
	case TypeMessage:
		message, err := DecodeMessage(body)
		if err != nil {
			return nil, err
		}
		return &Frame{Type: typeTag, Body: body, Message: message}, nil
	default:
		return nil, &UnknownFrameTypeError{TypeTag: typeTag}
	}
}

// Read consumes exactly one frame from the stream.
func Read(r io.Reader) (*Frame, error) {
	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	size, typeTag, err := DecodeHeader(header)
	if err != nil {
		return nil, err
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return Classify(typeTag, body)
}

// Encode renders the frame back to wire bytes. Used by tests and by anything
// that plays the daemon side of the protocol.
func Encode(f *Frame) []byte {
	buf := make([]byte, HeaderLen+len(f.Body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(f.Body)))
	binary.BigEndian.PutUint32(buf[4:8], f.Type)
	copy(buf[HeaderLen:], f.Body)
	return buf
}

// Response builds a response frame with the given status content.
func Response(content string) *Frame {
	return &Frame{Type: TypeResponse, Body: []byte(content)}
}

// Error builds an error frame with the given error code content.
func Error(content string) *Frame {
	return &Frame{Type: TypeError, Body: []byte(content)}
}
