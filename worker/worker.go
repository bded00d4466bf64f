// Package worker is the remote side of the chunk exchange: receive a chunk,
// step it once, send it back
package worker

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/network"
	"github.com/lixenwraith/particle-engine/particle"
)

// State is the worker's position in its receive/process cycle
type State uint32

const (
	StateIdle State = iota
	StateProcessing
)

func (s State) String() string {
	if s == StateProcessing {
		return "processing"
	}
	return "idle"
}

// Option configures a Worker
type Option func(*Worker)

// WithStep replaces the per-chunk update, used by tests to inject faults
func WithStep(fn func([]particle.Particle)) Option {
	return func(w *Worker) {
		w.step = fn
	}
}

// Worker serves chunk requests on one connection to the master
type Worker struct {
	conn *network.ServerConn
	step func([]particle.Particle)

	state   atomic.Uint32
	handled atomic.Int64
	stepped atomic.Int64

	closeOnce sync.Once
}

// New wraps conn, usually the result of network.Dial
func New(conn net.Conn, cfg *network.Config, opts ...Option) *Worker {
	w := &Worker{
		conn: network.NewServerConn(conn, cfg),
		step: particle.StepAll,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current state
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Handled returns the number of chunks answered
func (w *Worker) Handled() int64 {
	return w.handled.Load()
}

// Stepped returns the number of particles advanced
func (w *Worker) Stepped() int64 {
	return w.stepped.Load()
}

// Serve runs the receive/process loop until the channel fails or ctx is cancelled
// A malformed chunk is answered with MsgError and the loop continues
// Returns nil when stopped through ctx
func (w *Worker) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { w.Close() })
	defer stop()

	for {
		msg, err := w.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "worker receive")
		}

		w.state.Store(uint32(StateProcessing))
		reply := w.process(msg)
		err = w.conn.Reply(reply)
		w.state.Store(uint32(StateIdle))

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "worker reply")
		}
	}
}

// process builds the reply for one request, echoing its sequence number
func (w *Worker) process(msg *network.Message) *network.Message {
	if msg.Type != network.MsgChunk {
		log.Printf("[worker] unexpected %s message seq=%d", msg.Type, msg.Seq)
		return network.NewMessage(network.MsgError, msg.Seq, []byte("unexpected message type "+msg.Type.String()))
	}

	ps, err := network.DecodeParticles(msg.Payload)
	if err != nil {
		log.Printf("[worker] rejecting chunk seq=%d: %v", msg.Seq, err)
		return network.NewMessage(network.MsgError, msg.Seq, []byte(err.Error()))
	}

	w.step(ps)
	w.handled.Add(1)
	w.stepped.Add(int64(len(ps)))

	return network.NewMessage(network.MsgChunkResult, msg.Seq, network.EncodeParticles(ps))
}

// Close closes the connection; Serve returns once its pending read fails
func (w *Worker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.conn.Close()
	})
	return err
}
