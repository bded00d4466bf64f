package render

import (
	"log"
	"sync/atomic"
)

// Headless logs a one-line summary every N frames instead of drawing
type Headless struct {
	every  uint64
	frames atomic.Uint64
}

// NewHeadless logs every n-th frame; n < 1 logs every frame
func NewHeadless(every uint64) *Headless {
	if every < 1 {
		every = 1
	}
	return &Headless{every: every}
}

// Render implements Renderer
func (h *Headless) Render(f Frame) error {
	n := h.frames.Add(1)
	if n%h.every == 0 {
		log.Printf("[render] tick %d %s particles=%d frozen=%d", f.Tick, f.Strategy, len(f.Particles), f.Frozen)
	}
	return nil
}

// Frames returns the number of frames received
func (h *Headless) Frames() uint64 {
	return h.frames.Load()
}
