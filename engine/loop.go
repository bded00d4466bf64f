// Package engine drives the fixed-rate frame loop: emit, update, render
package engine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/core"
	"github.com/lixenwraith/particle-engine/emitter"
	"github.com/lixenwraith/particle-engine/particle"
	"github.com/lixenwraith/particle-engine/render"
	"github.com/lixenwraith/particle-engine/status"
)

// LoopConfig holds frame loop tunables
type LoopConfig struct {
	TickInterval time.Duration
	EmitPerTick  int
}

// DefaultLoopConfig returns a 16ms tick emitting 100 particles
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		TickInterval: 16 * time.Millisecond,
		EmitPerTick:  100,
	}
}

// FrameLoop ticks an emitter at a fixed interval and hands each frame to a renderer
// Deadlines advance by exactly one interval per tick; a loop more than two
// intervals late resets its deadline instead of bursting to catch up
type FrameLoop struct {
	cfg      LoopConfig
	emitter  *emitter.Emitter
	renderer render.Renderer
	clock    Clock

	paused    *atomic.Bool
	tickCount atomic.Uint64

	// Owned by the loop goroutine
	nextTickDeadline time.Time
	snapshots        []particle.Snapshot

	// Control
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	errMu    sync.Mutex
	err      error

	// Cached metric pointers
	statTicks     *atomic.Int64
	statBehind    *atomic.Int64
	statParticles *atomic.Int64
	statUpdateErr *atomic.Int64
	statFrozen    *atomic.Int64
	statTickMs    *status.AtomicFloat
}

// NewFrameLoop binds a loop; nil clock uses the system clock
func NewFrameLoop(cfg LoopConfig, em *emitter.Emitter, r render.Renderer, reg *status.Registry, clock Clock) *FrameLoop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultLoopConfig().TickInterval
	}
	if clock == nil {
		clock = NewTimeProvider()
	}
	if reg == nil {
		reg = status.NewRegistry()
	}
	return &FrameLoop{
		cfg:           cfg,
		emitter:       em,
		renderer:      r,
		clock:         clock,
		paused:        reg.Bools.Get("engine.paused"),
		done:          make(chan struct{}),
		statTicks:     reg.Ints.Get("engine.ticks"),
		statBehind:    reg.Ints.Get("engine.ticks_behind"),
		statParticles: reg.Ints.Get("engine.particles"),
		statUpdateErr: reg.Ints.Get("engine.update_errors"),
		statFrozen:    reg.Ints.Get("coordinator.frozen"),
		statTickMs:    reg.Floats.Get("engine.tick_ms"),
	}
}

// Tick runs one frame: emit, advance through the strategy, render
// Strategy errors are logged and counted; only render errors are returned
func (l *FrameLoop) Tick(ctx context.Context) error {
	began := time.Now()
	n := l.tickCount.Add(1)

	l.emitter.Emit(l.cfg.EmitPerTick)
	if err := l.emitter.Update(ctx); err != nil {
		l.statUpdateErr.Add(1)
		log.Printf("[engine] tick %d update: %v", n, err)
	}

	l.snapshots = l.emitter.Snapshots(l.snapshots[:0])
	frame := render.Frame{
		Tick:      n,
		Strategy:  l.emitter.Strategy().Name(),
		Particles: l.snapshots,
		Frozen:    int(l.statFrozen.Load()),
	}

	l.statTicks.Add(1)
	l.statParticles.Store(int64(len(l.snapshots)))

	if l.renderer != nil {
		if err := l.renderer.Render(frame); err != nil {
			return errors.Wrapf(err, "render tick %d", n)
		}
	}

	l.statTickMs.Set(float64(time.Since(began).Microseconds()) / 1000)
	return nil
}

// Start launches the loop goroutine
func (l *FrameLoop) Start() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	core.Go(func() { l.run(ctx) })
}

// Stop cancels the in-flight tick and waits for the loop to exit
func (l *FrameLoop) Stop() {
	l.stopOnce.Do(func() {
		if l.running.Load() {
			l.cancel()
			<-l.done
		}
	})
}

// Done is closed when the loop exits, by Stop or a render failure
func (l *FrameLoop) Done() <-chan struct{} {
	return l.done
}

// Err returns the render error that ended the loop, if any
func (l *FrameLoop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// SetPaused suspends ticking; the deadline is re-anchored on resume
func (l *FrameLoop) SetPaused(paused bool) {
	l.paused.Store(paused)
}

// TogglePaused flips the pause state and returns the new one
func (l *FrameLoop) TogglePaused() bool {
	for {
		old := l.paused.Load()
		if l.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// IsPaused reports the pause state
func (l *FrameLoop) IsPaused() bool {
	return l.paused.Load()
}

// Ticks returns the number of ticks run
func (l *FrameLoop) Ticks() uint64 {
	return l.tickCount.Load()
}

func (l *FrameLoop) run(ctx context.Context) {
	defer close(l.done)

	l.nextTickDeadline = l.clock.Now().Add(l.cfg.TickInterval)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		var sleepDuration time.Duration
		now := l.clock.Now()

		if l.paused.Load() {
			// Longer sleep while paused; keep the deadline anchored to now
			sleepDuration = l.cfg.TickInterval * 2
			l.nextTickDeadline = now.Add(l.cfg.TickInterval)
		} else if !now.Before(l.nextTickDeadline) {
			if err := l.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.errMu.Lock()
				l.err = err
				l.errMu.Unlock()
				log.Printf("[engine] stopping: %v", err)
				return
			}
			sleepDuration = l.advanceDeadline(l.clock.Now())
		} else {
			sleepDuration = l.nextTickDeadline.Sub(now)
		}

		if sleepDuration > 0 {
			timer.Reset(sleepDuration)
			select {
			case <-timer.C:
			case <-ctx.Done():
				return
			}
		}
	}
}

// advanceDeadline schedules the next tick after one completed at now
// Returns how long to sleep until it
func (l *FrameLoop) advanceDeadline(now time.Time) time.Duration {
	l.nextTickDeadline = l.nextTickDeadline.Add(l.cfg.TickInterval)

	maxBehind := l.cfg.TickInterval * 2
	if now.Sub(l.nextTickDeadline) > maxBehind {
		l.nextTickDeadline = now.Add(l.cfg.TickInterval)
		l.statBehind.Add(1)
	}

	sleep := l.nextTickDeadline.Sub(now)
	if sleep < 0 {
		sleep = 0
	}
	return sleep
}
