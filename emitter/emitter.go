// Package emitter owns a particle collection and advances it through a pluggable strategy
package emitter

import (
	"context"
	"math/rand/v2"

	"github.com/lixenwraith/particle-engine/particle"
)

// Strategy advances a particle slice by one tick in place
// Implementations must not retain the slice after Advance returns
type Strategy interface {
	Name() string
	Advance(ctx context.Context, ps []particle.Particle) error
}

// Emitter spawns particles at a fixed origin and removes expired ones
// Not safe for concurrent use; the frame loop is the single owner
type Emitter struct {
	x, y      float64
	style     particle.Style
	strategy  Strategy
	rng       *rand.Rand
	particles []particle.Particle
}

// Option configures an Emitter
type Option func(*Emitter)

// WithRand sets the velocity source, used by tests for determinism
func WithRand(rng *rand.Rand) Option {
	return func(e *Emitter) {
		e.rng = rng
	}
}

// WithStyle overrides the style derived from the strategy name
func WithStyle(s particle.Style) Option {
	return func(e *Emitter) {
		e.style = s
	}
}

// New creates an emitter at {x, y}
func New(x, y float64, strategy Strategy, opts ...Option) *Emitter {
	e := &Emitter{
		x:        x,
		y:        y,
		strategy: strategy,
	}
	if s, ok := particle.ParseStyle(strategy.Name()); ok {
		e.style = s
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit appends count new particles at the origin
func (e *Emitter) Emit(count int) {
	for i := 0; i < count; i++ {
		e.particles = append(e.particles, particle.Spawn(e.x, e.y, e.style, e.rng))
	}
}

// Update advances every particle through the strategy, then drops dead ones
// Compaction runs even when the strategy reports an error
func (e *Emitter) Update(ctx context.Context) error {
	err := e.strategy.Advance(ctx, e.particles)
	e.compact()
	return err
}

// compact removes dead particles in place, keeping survivor order
func (e *Emitter) compact() {
	live := e.particles[:0]
	for _, p := range e.particles {
		if p.IsAlive() {
			live = append(live, p)
		}
	}
	// Zero the tail so the backing array holds no stale state
	clear(e.particles[len(live):])
	e.particles = live
}

// Particles returns the live collection; callers must not keep it across ticks
func (e *Emitter) Particles() []particle.Particle {
	return e.particles
}

// Len returns the current particle count
func (e *Emitter) Len() int {
	return len(e.particles)
}

// Strategy returns the active execution strategy
func (e *Emitter) Strategy() Strategy {
	return e.strategy
}

// Snapshots appends the drawable view of every particle to dst
func (e *Emitter) Snapshots(dst []particle.Snapshot) []particle.Snapshot {
	for _, p := range e.particles {
		dst = append(dst, p.Snapshot())
	}
	return dst
}

// Origin returns the spawn point
func (e *Emitter) Origin() (float64, float64) {
	return e.x, e.y
}
