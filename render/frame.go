// Package render draws engine frames: a tcell terminal view, a headless log
// summary, and a fan-out to several of them
package render

import (
	"errors"

	"github.com/lixenwraith/particle-engine/particle"
)

// World dimensions in particle coordinates
const (
	DefaultWorldWidth  = 800.0
	DefaultWorldHeight = 600.0
)

// Frame is one tick's render input
// Particles is reused by the frame loop; renderers must not retain it after Render returns
type Frame struct {
	Tick      uint64
	Strategy  string
	Particles []particle.Snapshot
	// Frozen counts particles whose worker failed this tick
	Frozen int
}

// Renderer consumes frames on the frame loop goroutine
type Renderer interface {
	Render(f Frame) error
}

// Multi renders to each member in order; member failures are joined
type Multi []Renderer

// Render implements Renderer
func (m Multi) Render(f Frame) error {
	var errs []error
	for _, r := range m {
		if err := r.Render(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
