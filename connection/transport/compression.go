package transport

import (
	"compress/flate"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// The two compression decorators are mutually exclusive; the negotiator
// guarantees at most one is ever activated on a connection.
//
// Every Write flushes the compressor so a serialized command is never
// stranded in its buffer waiting for more data that will not come.

type snappyTransport struct {
	inner  Transport
	reader *snappy.Reader
	writer *snappy.Writer
}

// WrapSnappy layers snappy framing over the transport, taking ownership of
// the wrapped layer.
func WrapSnappy(inner Transport) Transport {
	return &snappyTransport{
		inner:  inner,
		reader: snappy.NewReader(inner),
		writer: snappy.NewBufferedWriter(inner),
	}
}

func (t *snappyTransport) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

func (t *snappyTransport) Write(p []byte) (int, error) {
	n, err := t.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, t.writer.Flush()
}

func (t *snappyTransport) Close() error {
	t.writer.Close()
	return t.inner.Close()
}

type deflateTransport struct {
	inner  Transport
	reader io.ReadCloser
	writer *flate.Writer
}

// WrapDeflate layers deflate streams over the transport at the given
// compression level, taking ownership of the wrapped layer.
func WrapDeflate(inner Transport, level int) (Transport, error) {
	writer, err := flate.NewWriter(inner, level)
	if err != nil {
		return nil, fmt.Errorf("error initializing deflate level %d: %w", level, err)
	}

	return &deflateTransport{
		inner:  inner,
		reader: flate.NewReader(inner),
		writer: writer,
	}, nil
}

func (t *deflateTransport) Read(p []byte) (int, error) {
	return t.reader.Read(p)
}

func (t *deflateTransport) Write(p []byte) (int, error) {
	n, err := t.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, t.writer.Flush()
}

func (t *deflateTransport) Close() error {
	t.writer.Close()
	return t.inner.Close()
}
