package bridge

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/flate"
)

// DefaultMaxMessageSize caps the serialized form of one message at 1 MiB.
const DefaultMaxMessageSize = 1 * 1024 * 1024

// DefaultCompressionThreshold is the serialized size above which the codec
// deflates the frame when compression is enabled.
const DefaultCompressionThreshold = 8 * 1024

// compressedMarker prefixes deflated frames. Plain frames start with '{'
// (JSON object), so the marker is unambiguous on both ends.
const compressedMarker = 0x01

// Codec serializes messages for the transport binding, enforcing the size
// limit before anything leaves the process.
type Codec struct {
	MaxMessageSize       int
	EnableCompression    bool
	CompressionThreshold int
}

// NewCodec returns a codec with the default 1 MiB limit and no compression.
func NewCodec() Codec {
	return Codec{
		MaxMessageSize:       DefaultMaxMessageSize,
		CompressionThreshold: DefaultCompressionThreshold,
	}
}

// Encode validates and serializes a message. Oversized messages are
// rejected here, before any transport call, with an error naming the limit.
func (c Codec) Encode(msg *Message) ([]byte, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}

	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	if len(data) > c.MaxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds limit %d", len(data), c.MaxMessageSize)
	}

	if c.EnableCompression && len(data) > c.CompressionThreshold {
		compressed, err := deflate(data)
		if err != nil {
			return nil, fmt.Errorf("compress message: %w", err)
		}
		// Deflate can grow small incompressible frames; keep the original then.
		if len(compressed) < len(data) {
			return compressed, nil
		}
	}
	return data, nil
}

// Decode parses an inbound frame, inflating it first when compressed.
// Inflated output is capped at the size limit.
func (c Codec) Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if len(data) > c.MaxMessageSize {
		return nil, fmt.Errorf("frame size %d exceeds limit %d", len(data), c.MaxMessageSize)
	}

	if data[0] == compressedMarker {
		raw, err := inflate(data[1:], int64(c.MaxMessageSize))
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		data = raw
	}

	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	if err := Validate(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(compressedMarker)
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte, limit int64) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("inflated frame exceeds limit %d", limit)
	}
	return out, nil
}
