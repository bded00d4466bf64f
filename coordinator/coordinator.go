// Package coordinator fans one tick's particle update out to remote workers
// and splices their results back into the master's collection
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/core"
	"github.com/lixenwraith/particle-engine/network"
	"github.com/lixenwraith/particle-engine/particle"
	"github.com/lixenwraith/particle-engine/status"
)

// DefaultTaskTimeout bounds how long a tick waits for worker results
const DefaultTaskTimeout = 1000 * time.Millisecond

// Exchanger performs one round trip with a worker
// *network.Conn is the production implementation
type Exchanger interface {
	Exchange(ctx context.Context, chunk []particle.Particle) ([]particle.Particle, error)
}

// Config holds coordinator tunables
type Config struct {
	// TaskTimeout is the deadline for all worker results of one tick
	TaskTimeout time.Duration
	// Fallback applies to chunks whose worker failed
	Fallback Fallback
	// Style is stamped on particles written back from workers
	Style particle.Style
}

// DefaultConfig returns the 1000ms timeout, freeze fallback, distributed style
func DefaultConfig() Config {
	return Config{
		TaskTimeout: DefaultTaskTimeout,
		Fallback:    FallbackFreeze,
		Style:       particle.StyleDistributed,
	}
}

// ChunkResult is the outcome of one worker's chunk for one tick
type ChunkResult struct {
	Worker   int
	Range    Range
	Kind     Kind
	Err      error
	Duration time.Duration
}

// OK reports whether the chunk was advanced by its worker
// Empty ranges are never sent and count as OK
func (c ChunkResult) OK() bool {
	return c.Kind == KindNone
}

// Report summarises one DistributeUpdate call
type Report struct {
	Tick   uint64
	Chunks []ChunkResult
	// Advanced counts particles written back from workers
	Advanced int
	// Local counts particles stepped on the master under FallbackLocal
	Local int
	// Frozen counts particles left in their pre-tick state
	Frozen int
	// Recovered counts workers that went from Degraded to Healthy this tick
	Recovered int
	Duration  time.Duration
}

// Failed returns the chunks that did not come back advanced
func (r Report) Failed() []ChunkResult {
	var out []ChunkResult
	for _, c := range r.Chunks {
		if !c.OK() {
			out = append(out, c)
		}
	}
	return out
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithRegistry publishes coordinator metrics to reg
func WithRegistry(reg *status.Registry) Option {
	return func(c *Coordinator) {
		c.registry = reg
	}
}

// workerMetrics caches registry cells for one worker
type workerMetrics struct {
	health   *status.AtomicString
	failures *atomic.Int64
	rttMs    *status.AtomicFloat
}

// Coordinator implements emitter.Strategy over a fixed set of workers
// DistributeUpdate must not be called concurrently; the frame loop is the single caller
type Coordinator struct {
	conns []Exchanger
	cfg   Config

	registry *status.Registry
	ticks    *atomic.Int64
	frozen   *atomic.Int64
	workers  []workerMetrics

	mu          sync.RWMutex
	health      []Health
	last        Report
	onDegraded  func(worker int, err error)
	onRecovered func(worker int)

	tick atomic.Uint64
}

// New binds a coordinator to conns, index i serving chunk i
func New(conns []Exchanger, cfg Config, opts ...Option) (*Coordinator, error) {
	if len(conns) < 1 {
		return nil, errors.New("coordinator: at least one worker required")
	}
	for i, c := range conns {
		if c == nil {
			return nil, errors.Errorf("coordinator: worker %d is nil", i)
		}
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}

	c := &Coordinator{
		conns:  conns,
		cfg:    cfg,
		health: make([]Health, len(conns)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = status.NewRegistry()
	}

	c.ticks = c.registry.Ints.Get("coordinator.ticks")
	c.frozen = c.registry.Ints.Get("coordinator.frozen")
	c.workers = make([]workerMetrics, len(conns))
	for i := range conns {
		prefix := fmt.Sprintf("coordinator.worker.%d.", i)
		c.workers[i] = workerMetrics{
			health:   c.registry.Strings.Get(prefix + "health"),
			failures: c.registry.Ints.Get(prefix + "failures"),
			rttMs:    c.registry.Floats.Get(prefix + "rtt_ms"),
		}
		c.workers[i].health.Store(Healthy.String())
	}

	return c, nil
}

// FromConns adapts network connections to the Exchanger slice New expects
func FromConns(conns []*network.Conn) []Exchanger {
	out := make([]Exchanger, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}

// Name implements emitter.Strategy
func (c *Coordinator) Name() string {
	return "distributed"
}

// Advance implements emitter.Strategy
// Worker failures are absorbed into the report and never fail the tick
func (c *Coordinator) Advance(ctx context.Context, ps []particle.Particle) error {
	rep := c.DistributeUpdate(ctx, ps)
	if failed := rep.Failed(); len(failed) > 0 {
		log.Printf("[coordinator] tick %d: %d/%d chunks failed, %d frozen, %d local",
			rep.Tick, len(failed), len(rep.Chunks), rep.Frozen, rep.Local)
	}
	return nil
}

// Workers returns the number of bound workers
func (c *Coordinator) Workers() int {
	return len(c.conns)
}

// Config returns the effective configuration
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Health returns worker i's current health
func (c *Coordinator) Health(i int) Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health[i]
}

// Healths returns a copy of every worker's health, by index
func (c *Coordinator) Healths() []Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Health, len(c.health))
	copy(out, c.health)
	return out
}

// LastReport returns the report of the most recent tick
func (c *Coordinator) LastReport() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// OnDegraded registers fn, called when a worker transitions from Healthy to Degraded
// fn runs on the coordinator goroutine and must not block
func (c *Coordinator) OnDegraded(fn func(worker int, err error)) {
	c.mu.Lock()
	c.onDegraded = fn
	c.mu.Unlock()
}

// OnRecovered registers fn, called when a worker transitions from Degraded to Healthy
func (c *Coordinator) OnRecovered(fn func(worker int)) {
	c.mu.Lock()
	c.onRecovered = fn
	c.mu.Unlock()
}

// taskResult is what a worker task hands back to the coordinator goroutine
type taskResult struct {
	worker   int
	out      []particle.Particle
	err      error
	duration time.Duration
}

// DistributeUpdate advances ps by one tick across the workers
// Tasks work on copies and report through a channel; only this goroutine writes ps
// Results arriving after the deadline are discarded with their chunk left as it was
func (c *Coordinator) DistributeUpdate(ctx context.Context, ps []particle.Particle) Report {
	began := time.Now()
	ranges := Partition(len(ps), len(c.conns))

	rep := Report{
		Tick:   c.tick.Add(1),
		Chunks: make([]ChunkResult, len(ranges)),
	}

	tickCtx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	// Buffered to the worker count so abandoned tasks never block on send
	results := make(chan taskResult, len(ranges))
	settled := make([]bool, len(ranges))
	pending := 0

	for i, r := range ranges {
		rep.Chunks[i] = ChunkResult{Worker: i, Range: r}
		if r.Len() == 0 {
			settled[i] = true
			continue
		}

		chunk := make([]particle.Particle, r.Len())
		copy(chunk, ps[r.Start:r.End])

		pending++
		worker, conn := i, c.conns[i]
		core.Go(func() {
			start := time.Now()
			out, err := conn.Exchange(tickCtx, chunk)
			results <- taskResult{worker: worker, out: out, err: err, duration: time.Since(start)}
		})
	}

	var (
		degraded  []*WorkerError
		recovered []int
	)
	record := func(res taskResult) {
		// A cancelled caller is shutdown, not a worker fault
		if res.err != nil && ctx.Err() != nil {
			c.abandon(&rep, res.worker, ctx.Err())
			return
		}
		werr, back := c.apply(ps, &rep, res)
		if werr != nil {
			degraded = append(degraded, werr)
		}
		if back {
			recovered = append(recovered, res.worker)
		}
	}

collect:
	for pending > 0 {
		select {
		case res := <-results:
			pending--
			settled[res.worker] = true
			record(res)
		case <-tickCtx.Done():
			break collect
		}
	}

	for i, done := range settled {
		if done {
			continue
		}
		if ctx.Err() != nil {
			c.abandon(&rep, i, ctx.Err())
			continue
		}
		err := errors.Wrapf(network.ErrTimeout, "no result within %s", c.cfg.TaskTimeout)
		record(taskResult{worker: i, err: err, duration: time.Since(began)})
	}

	rep.Duration = time.Since(began)
	c.ticks.Add(1)
	c.frozen.Store(int64(rep.Frozen))

	c.mu.Lock()
	c.last = rep
	onDegraded, onRecovered := c.onDegraded, c.onRecovered
	c.mu.Unlock()

	if onDegraded != nil {
		for _, werr := range degraded {
			onDegraded(werr.Worker, werr)
		}
	}
	if onRecovered != nil {
		for _, w := range recovered {
			onRecovered(w)
		}
	}

	return rep
}

// apply writes a task outcome into ps and the report
// Reports the worker's health transition: a WorkerError when it just became
// Degraded, true when it just recovered
func (c *Coordinator) apply(ps []particle.Particle, rep *Report, res taskResult) (*WorkerError, bool) {
	chunk := &rep.Chunks[res.worker]
	chunk.Duration = res.duration
	r := chunk.Range

	err := res.err
	if err == nil && len(res.out) != r.Len() {
		err = errors.Wrapf(ErrLengthMismatch, "sent %d, received %d", r.Len(), len(res.out))
	}

	if err == nil {
		dst := ps[r.Start:r.End]
		for j := range res.out {
			res.out[j].Style = c.cfg.Style
		}
		copy(dst, res.out)
		rep.Advanced += r.Len()

		c.workers[res.worker].rttMs.Set(float64(res.duration.Microseconds()) / 1000)
		if c.setHealth(res.worker, Healthy) {
			rep.Recovered++
			log.Printf("[coordinator] worker %d recovered", res.worker)
			return nil, true
		}
		return nil, false
	}

	chunk.Kind = Classify(err)
	chunk.Err = err
	c.workers[res.worker].failures.Add(1)
	log.Printf("[coordinator] worker %d %s on %s: %v", res.worker, chunk.Kind, r, err)

	switch c.cfg.Fallback {
	case FallbackLocal:
		particle.StepAll(ps[r.Start:r.End])
		rep.Local += r.Len()
	default:
		rep.Frozen += r.Len()
	}

	if c.setHealth(res.worker, Degraded) {
		return &WorkerError{Worker: res.worker, Kind: chunk.Kind, Err: err}, false
	}
	return nil, false
}

// abandon records a chunk left unfinished because the caller's context ended
// The chunk is frozen; health, failure counts and fallback are untouched
func (c *Coordinator) abandon(rep *Report, worker int, cause error) {
	chunk := &rep.Chunks[worker]
	chunk.Kind = Classify(cause)
	chunk.Err = errors.Wrap(cause, "tick cancelled")
	rep.Frozen += chunk.Range.Len()
}

// setHealth stores h for worker i and reports whether it changed
func (c *Coordinator) setHealth(i int, h Health) bool {
	c.mu.Lock()
	changed := c.health[i] != h
	c.health[i] = h
	c.mu.Unlock()

	if changed {
		c.workers[i].health.Store(h.String())
	}
	return changed
}
