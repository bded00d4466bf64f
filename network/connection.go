package network

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/particle"
)

// Conn is the master side of a persistent channel to one worker
// One round trip at a time; an exchange abandoned by its caller keeps the
// slot until its reply is fully read so framing stays aligned
type Conn struct {
	index  int
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	config *Config

	slot chan struct{}

	seq     atomic.Uint32
	broken  atomic.Bool
	lastRTT atomic.Int64 // Nanoseconds

	closeOnce sync.Once
}

// NewConn wraps an established connection to the worker at index
func NewConn(index int, conn net.Conn, cfg *Config) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Conn{
		index:  index,
		addr:   conn.RemoteAddr().String(),
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
		writer: bufio.NewWriterSize(conn, 64*1024),
		config: cfg,
		slot:   make(chan struct{}, 1),
	}
}

// Index returns the worker index (arrival order)
func (c *Conn) Index() int {
	return c.index
}

// Addr returns the remote address
func (c *Conn) Addr() string {
	return c.addr
}

// Broken reports whether an I/O failure has torn the connection down
func (c *Conn) Broken() bool {
	return c.broken.Load()
}

// LastRTT returns the duration of the last successful round trip
func (c *Conn) LastRTT() time.Duration {
	return time.Duration(c.lastRTT.Load())
}

// Exchange sends chunk to the worker and returns the advanced particles
// ctx bounds waiting for the connection slot only; once the request is on the
// wire the round trip completes or fails on the configured I/O deadlines
func (c *Conn) Exchange(ctx context.Context, chunk []particle.Particle) ([]particle.Particle, error) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, newError(ErrTimeout, "acquire", ctx.Err())
	}
	defer func() { <-c.slot }()

	if err := ctx.Err(); err != nil {
		return nil, newError(ErrTimeout, "acquire", err)
	}
	if c.broken.Load() {
		return nil, newError(ErrConnection, "exchange", errors.New("connection closed"))
	}

	payload := EncodeParticles(chunk)
	if c.config.MaxPayloadSize > 0 && len(payload) > c.config.MaxPayloadSize {
		return nil, newError(ErrSerialization, "encode",
			errors.Errorf("chunk of %d particles exceeds payload limit", len(chunk)))
	}

	start := time.Now()
	seq := c.seq.Add(1)

	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(start.Add(c.config.WriteTimeout))
	}
	if err := NewMessage(MsgChunk, seq, payload).Encode(c.writer); err != nil {
		c.fail()
		return nil, newError(ErrConnection, "send", err)
	}
	if err := c.writer.Flush(); err != nil {
		c.fail()
		return nil, newError(ErrConnection, "send", err)
	}

	if c.config.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
	reply, err := Decode(c.reader, c.config.MaxPayloadSize)
	if err != nil {
		// Stream position is unknown after a failed read
		c.fail()
		if errors.Is(err, ErrSerialization) {
			return nil, err
		}
		return nil, newError(ErrConnection, "receive", err)
	}

	if reply.Seq != seq {
		c.fail()
		return nil, newError(ErrSerialization, "receive",
			errors.Errorf("reply seq %d, want %d", reply.Seq, seq))
	}

	switch reply.Type {
	case MsgChunkResult:
		updated, err := DecodeParticles(reply.Payload)
		if err != nil {
			return nil, err
		}
		c.lastRTT.Store(int64(time.Since(start)))
		return updated, nil

	case MsgError:
		return nil, newError(ErrSerialization, "worker", errors.New(string(reply.Payload)))

	default:
		return nil, newError(ErrSerialization, "receive",
			errors.Errorf("unexpected message type 0x%02x", uint8(reply.Type)))
	}
}

// fail marks the connection broken and closes it
func (c *Conn) fail() {
	c.broken.Store(true)
	c.Close()
}

// Close tears the connection down; safe to call multiple times
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.broken.Store(true)
		err = c.conn.Close()
	})
	return err
}

// ServerConn is the worker side of the channel
type ServerConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	config *Config

	closeOnce sync.Once
}

// NewServerConn wraps a connection dialed by the worker
func NewServerConn(conn net.Conn, cfg *Config) *ServerConn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &ServerConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 64*1024),
		writer: bufio.NewWriterSize(conn, 64*1024),
		config: cfg,
	}
}

// Receive blocks until the next message arrives
// The worker idles without a deadline; the master may pause between ticks
func (s *ServerConn) Receive() (*Message, error) {
	msg, err := Decode(s.reader, s.config.MaxPayloadSize)
	if err != nil {
		if errors.Is(err, ErrSerialization) {
			return nil, err
		}
		return nil, newError(ErrConnection, "receive", err)
	}
	return msg, nil
}

// Reply writes msg and flushes it
func (s *ServerConn) Reply(msg *Message) error {
	if s.config.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := msg.Encode(s.writer); err != nil {
		return newError(ErrConnection, "reply", err)
	}
	if err := s.writer.Flush(); err != nil {
		return newError(ErrConnection, "reply", err)
	}
	return nil
}

// Close closes the underlying connection
func (s *ServerConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
