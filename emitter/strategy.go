package emitter

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/lixenwraith/particle-engine/particle"
)

// Sequential steps particles one after another on the caller goroutine
type Sequential struct{}

// NewSequential creates the sequential strategy
func NewSequential() *Sequential {
	return &Sequential{}
}

// Name implements Strategy
func (s *Sequential) Name() string {
	return "sequential"
}

// Advance implements Strategy
func (s *Sequential) Advance(ctx context.Context, ps []particle.Particle) error {
	particle.StepAll(ps)
	return nil
}

// DefaultParallelism caps goroutine fan-out at four, or fewer on small machines
func DefaultParallelism() int {
	return min(4, runtime.NumCPU())
}

// Parallel steps disjoint chunks of the slice on concurrent goroutines
type Parallel struct {
	workers int
}

// NewParallel creates a parallel strategy; workers < 1 selects DefaultParallelism
func NewParallel(workers int) *Parallel {
	if workers < 1 {
		workers = DefaultParallelism()
	}
	return &Parallel{workers: workers}
}

// Name implements Strategy
func (p *Parallel) Name() string {
	return "parallel"
}

// Workers returns the goroutine count used per tick
func (p *Parallel) Workers() int {
	return p.workers
}

// Advance implements Strategy
// Chunk size is rounded up so at most p.workers goroutines run
func (p *Parallel) Advance(ctx context.Context, ps []particle.Particle) error {
	n := len(ps)
	if n == 0 {
		return nil
	}

	chunk := (n + p.workers - 1) / p.workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		part := ps[start:end]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			particle.StepAll(part)
			return nil
		})
	}

	return g.Wait()
}
