// Package particle holds the point-mass model shared by every execution strategy
package particle

import (
	"math/rand/v2"
)

const (
	// DefaultTTL is the lifetime, in ticks, of a freshly spawned particle
	DefaultTTL = 80.0

	// Gravity is added to DY on every step
	Gravity = 0.1

	// MaxSpeed bounds each spawn velocity component to [-MaxSpeed, MaxSpeed]
	MaxSpeed = 3.5
)

// Particle is a point with velocity and a remaining-lifetime counter
// Value type: chunks are copied across goroutines and the wire, never shared
type Particle struct {
	X, Y   float64
	DX, DY float64
	TTL    float64
	Style  Style
}

// Spawn creates a particle at the origin with a random velocity
// A nil rng uses the package-level source
func Spawn(x, y float64, style Style, rng *rand.Rand) Particle {
	var dx, dy float64
	if rng != nil {
		dx = (rng.Float64() - 0.5) * 2 * MaxSpeed
		dy = (rng.Float64() - 0.5) * 2 * MaxSpeed
	} else {
		dx = (rand.Float64() - 0.5) * 2 * MaxSpeed
		dy = (rand.Float64() - 0.5) * 2 * MaxSpeed
	}

	return Particle{
		X:     x,
		Y:     y,
		DX:    dx,
		DY:    dy,
		TTL:   DefaultTTL,
		Style: style,
	}
}

// Step advances the particle one tick in place
func (p *Particle) Step() {
	p.X += p.DX
	p.Y += p.DY
	p.DY += Gravity
	p.TTL = max(0, p.TTL-1)
}

// IsAlive reports whether the particle has lifetime left
func (p Particle) IsAlive() bool {
	return p.TTL > 0
}

// Alpha maps remaining lifetime to opacity in [0, 1]
func (p Particle) Alpha() float64 {
	a := p.TTL / DefaultTTL
	if a < 0 {
		return 0
	}
	if a > 1 {
		return 1
	}
	return a
}

// Snapshot returns the drawable view of the particle
func (p Particle) Snapshot() Snapshot {
	return Snapshot{
		X:     p.X,
		Y:     p.Y,
		Alpha: p.Alpha(),
		Style: p.Style,
	}
}

// StepAll advances every particle in the slice
func StepAll(ps []Particle) {
	for i := range ps {
		ps[i].Step()
	}
}

// Snapshot is the render-side view of a particle
type Snapshot struct {
	X, Y  float64
	Alpha float64
	Style Style
}
