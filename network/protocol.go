package network

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// MessageType identifies the semantic meaning of a message
type MessageType uint8

const (
	MsgChunk       MessageType = 0x10 // Master -> worker: particles to advance
	MsgChunkResult MessageType = 0x11 // Worker -> master: advanced particles
	MsgError       MessageType = 0x12 // Worker -> master: chunk rejected, payload is the reason
)

func (t MessageType) String() string {
	switch t {
	case MsgChunk:
		return "chunk"
	case MsgChunkResult:
		return "chunk-result"
	case MsgError:
		return "error"
	default:
		return "unknown"
	}
}

// Header precedes every message on the wire
// Fixed 10 bytes: [Type:1][Flags:1][Seq:4][Len:4]
const HeaderSize = 10

// Header flags
const (
	FlagNone uint8 = 0x00
)

// Message represents a framed exchange message
type Message struct {
	Type    MessageType
	Flags   uint8
	Seq     uint32 // Request sequence, echoed by the reply
	Payload []byte
}

// Encode writes the header and payload to w
func (m *Message) Encode(w io.Writer) error {
	payloadLen := len(m.Payload)
	if uint64(payloadLen) > math.MaxUint32 {
		return newError(ErrSerialization, "encode", errors.Errorf("payload of %d bytes", payloadLen))
	}

	var header [HeaderSize]byte
	header[0] = byte(m.Type)
	header[1] = m.Flags
	binary.BigEndian.PutUint32(header[2:6], m.Seq)
	binary.BigEndian.PutUint32(header[6:10], uint32(payloadLen))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	if payloadLen > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return err
		}
	}

	return nil
}

// Decode reads one message from r
// Payloads larger than maxPayload fail with ErrSerialization; I/O errors are returned as-is
func Decode(r io.Reader, maxPayload int) (*Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	payloadLen := binary.BigEndian.Uint32(header[6:10])
	if maxPayload > 0 && uint64(payloadLen) > uint64(maxPayload) {
		return nil, newError(ErrSerialization, "decode",
			errors.Errorf("payload of %d bytes exceeds limit %d", payloadLen, maxPayload))
	}

	m := &Message{
		Type:  MessageType(header[0]),
		Flags: header[1],
		Seq:   binary.BigEndian.Uint32(header[2:6]),
	}

	if payloadLen > 0 {
		m.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// NewMessage creates a message with the given type and payload
func NewMessage(t MessageType, seq uint32, payload []byte) *Message {
	return &Message{
		Type:    t,
		Flags:   FlagNone,
		Seq:     seq,
		Payload: payload,
	}
}
