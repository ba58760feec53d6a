package frame

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	MessageIdLen = 16

	// timestamp (8) + attempts (2) + id (16)
	messageEnvelopeLen = 26
)

type MessageId [MessageIdLen]byte

func (id MessageId) String() string {
	return hex.EncodeToString(id[:])
}

// Message is the delivery envelope for a pushed message: a nanosecond
// timestamp, the daemon's delivery attempt count, a 16-byte id used to
// finish or requeue the message, and the opaque body.
type Message struct {
	Id        MessageId
	Timestamp time.Time
	Attempts  uint16
	Body      []byte
}

// DecodeMessage parses a message frame body into its delivery envelope.
func DecodeMessage(body []byte) (*Message, error) {
	if len(body) < messageEnvelopeLen {
		return nil, fmt.Errorf("message envelope too short: got %d of %d bytes", len(body), messageEnvelopeLen)
	}

	message := &Message{
		Timestamp: time.Unix(0, int64(binary.BigEndian.Uint64(body[:8]))),
		Attempts:  binary.BigEndian.Uint16(body[8:10]),
		Body:      body[messageEnvelopeLen:],
	}
	copy(message.Id[:], body[10:messageEnvelopeLen])

	return message, nil
}

// EncodeMessage renders the envelope back to a message frame body.
func EncodeMessage(m *Message) []byte {
	body := make([]byte, messageEnvelopeLen+len(m.Body))
	binary.BigEndian.PutUint64(body[:8], uint64(m.Timestamp.UnixNano()))
	binary.BigEndian.PutUint16(body[8:10], m.Attempts)
	copy(body[10:messageEnvelopeLen], m.Id[:])
	copy(body[messageEnvelopeLen:], m.Body)
	return body
}
