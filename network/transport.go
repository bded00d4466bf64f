package network

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Transport is the master's listening endpoint
// Accepts a fixed number of workers at startup; no discovery, no reconnection
type Transport struct {
	config   *Config
	listener net.Listener

	mu    sync.Mutex
	conns []*Conn

	running atomic.Bool
}

// NewTransport creates a transport with the given configuration
func NewTransport(cfg *Config) *Transport {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Transport{config: cfg}
}

// Listen binds the configured address
func (t *Transport) Listen() error {
	if !t.running.CompareAndSwap(false, true) {
		return nil // Already listening
	}

	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), "tcp", t.config.Address)
	if err != nil {
		t.running.Store(false)
		return newError(ErrConnection, "listen", err)
	}
	if t.config.TLS != nil {
		ln = tls.NewListener(ln, t.config.TLS)
	}

	t.listener = ln
	return nil
}

// Addr returns the bound address, nil before Listen
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Accept waits for exactly n workers; worker index is arrival order
// The listener is closed once n workers are connected or ctx ends
func (t *Transport) Accept(ctx context.Context, n int) ([]*Conn, error) {
	if t.listener == nil {
		return nil, errors.New("transport not listening")
	}
	if n < 1 {
		return nil, errors.Errorf("worker count %d, need at least 1", n)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.listener.Close()
		case <-done:
		}
	}()

	conns := make([]*Conn, 0, n)
	for len(conns) < n {
		raw, err := t.listener.Accept()
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			if ctx.Err() != nil {
				return nil, newError(ErrTimeout, "accept", ctx.Err())
			}
			return nil, newError(ErrConnection, "accept", err)
		}

		t.tune(raw)
		c := NewConn(len(conns), raw, t.config)
		conns = append(conns, c)
		log.Printf("[network] worker %d connected from %s", c.Index(), c.Addr())
	}

	t.listener.Close()

	t.mu.Lock()
	t.conns = conns
	t.mu.Unlock()

	return conns, nil
}

// tune applies socket buffer sizes when the connection is plain TCP
func (t *Transport) tune(conn net.Conn) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcp.SetNoDelay(true)
	if t.config.ReadBufferSize > 0 {
		tcp.SetReadBuffer(t.config.ReadBufferSize)
	}
	if t.config.WriteBufferSize > 0 {
		tcp.SetWriteBuffer(t.config.WriteBufferSize)
	}
}

// Conns returns the accepted worker connections in index order
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Conn(nil), t.conns...)
}

// Stop closes the listener and every worker connection
func (t *Transport) Stop() error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	if t.listener != nil {
		t.listener.Close()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		c.Close()
	}
	t.conns = nil

	return nil
}

// IsRunning returns transport state
func (t *Transport) IsRunning() bool {
	return t.running.Load()
}

// Dial establishes the worker's connection to the master, with optional TLS
func Dial(ctx context.Context, cfg *Config) (net.Conn, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dialer := &net.Dialer{
		Timeout: cfg.ConnectTimeout,
	}

	var (
		conn net.Conn
		err  error
	)
	if cfg.TLS != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: cfg.TLS}
		conn, err = td.DialContext(ctx, "tcp", cfg.Address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Address)
	}
	if err != nil {
		return nil, newError(ErrConnection, "dial", err)
	}
	return conn, nil
}
