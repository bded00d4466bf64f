package render

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/core"
	"github.com/lixenwraith/particle-engine/particle"
	"github.com/lixenwraith/particle-engine/status"
)

// EventKind is a user command read from the terminal
type EventKind uint8

const (
	EventQuit EventKind = iota
	EventPause
)

// Event is delivered on Terminal.Events
type Event struct {
	Kind EventKind
}

// TerminalOption configures a Terminal
type TerminalOption func(*Terminal)

// WithWorld sets the world extent mapped onto the screen
func WithWorld(width, height float64) TerminalOption {
	return func(t *Terminal) {
		if width > 0 && height > 0 {
			t.worldW, t.worldH = width, height
		}
	}
}

// Terminal draws frames into a tcell screen
// The bottom row is the status bar; the rest is the scaled world
type Terminal struct {
	screen   tcell.Screen
	registry *status.Registry
	worldW   float64
	worldH   float64

	palette map[particle.Style]colorful.Color
	paused  *atomic.Bool

	events    chan Event
	closeOnce sync.Once
	closed    atomic.Bool

	// FPS tracking
	frameCount    int
	lastFpsUpdate time.Time
	currentFps    int
}

// NewTerminal takes ownership of an initialized screen
func NewTerminal(screen tcell.Screen, reg *status.Registry, opts ...TerminalOption) *Terminal {
	if reg == nil {
		reg = status.NewRegistry()
	}
	t := &Terminal{
		screen:        screen,
		registry:      reg,
		worldW:        DefaultWorldWidth,
		worldH:        DefaultWorldHeight,
		palette:       make(map[particle.Style]colorful.Color),
		paused:        reg.Bools.Get("engine.paused"),
		events:        make(chan Event, 8),
		lastFpsUpdate: time.Now(),
	}
	for _, s := range []particle.Style{particle.StyleSequential, particle.StyleParallel, particle.StyleDistributed} {
		t.palette[s] = StyleColor(s)
	}
	for _, opt := range opts {
		opt(t)
	}

	screen.SetStyle(tcell.StyleDefault.Background(RgbBackground))
	screen.HideCursor()
	core.RegisterCrashScreen(screen)
	return t
}

// OpenTerminal creates and initializes the process terminal
func OpenTerminal(reg *status.Registry, opts ...TerminalOption) (*Terminal, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, errors.Wrap(err, "create screen")
	}
	if err := screen.Init(); err != nil {
		return nil, errors.Wrap(err, "init screen")
	}
	return NewTerminal(screen, reg, opts...), nil
}

// Events returns user commands; closed when the terminal closes
func (t *Terminal) Events() <-chan Event {
	return t.events
}

// Start begins polling terminal input
func (t *Terminal) Start() {
	core.Go(t.pollLoop)
}

func (t *Terminal) pollLoop() {
	defer close(t.events)
	for {
		ev := t.screen.PollEvent()
		if ev == nil {
			return // Screen finalized
		}
		switch ev := ev.(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyEscape, ev.Key() == tcell.KeyCtrlC,
				ev.Key() == tcell.KeyRune && ev.Rune() == 'q':
				t.send(Event{Kind: EventQuit})
			case ev.Key() == tcell.KeyRune && ev.Rune() == ' ':
				t.send(Event{Kind: EventPause})
			}
		case *tcell.EventResize:
			t.screen.Sync()
		}
	}
}

// send drops the event when the consumer is behind
func (t *Terminal) send(ev Event) {
	select {
	case t.events <- ev:
	default:
	}
}

// Render implements Renderer
func (t *Terminal) Render(f Frame) error {
	if t.closed.Load() {
		return errors.New("terminal closed")
	}

	t.frameCount++
	if now := time.Now(); now.Sub(t.lastFpsUpdate) >= time.Second {
		t.currentFps = t.frameCount
		t.frameCount = 0
		t.lastFpsUpdate = now
	}

	width, height := t.screen.Size()
	rows := height - 1
	bg := tcell.StyleDefault.Background(RgbBackground)
	t.screen.Fill(' ', bg)

	if width > 0 && rows > 0 {
		for _, s := range f.Particles {
			x, y, ok := t.cell(s.X, s.Y, width, rows)
			if !ok {
				continue
			}
			base, found := t.palette[s.Style]
			if !found {
				base = StyleColor(s.Style)
			}
			t.screen.SetContent(x, y, Glyph(s.Style), nil, bg.Foreground(blend(base, s.Alpha)))
		}
	}

	if height > 0 {
		t.drawStatusBar(f, width, height-1)
	}

	t.screen.Show()
	return nil
}

// cell maps world coordinates onto the drawable area
func (t *Terminal) cell(wx, wy float64, width, rows int) (int, int, bool) {
	if wx < 0 || wy < 0 || wx >= t.worldW || wy >= t.worldH {
		return 0, 0, false
	}
	x := int(wx / t.worldW * float64(width))
	y := int(wy / t.worldH * float64(rows))
	if x >= width || y >= rows {
		return 0, 0, false
	}
	return x, y, true
}

// drawStatusBar writes the summary row: mode, counts, worker health, host load
func (t *Terminal) drawStatusBar(f Frame, width, y int) {
	barStyle := tcell.StyleDefault.Background(RgbStatusBg).Foreground(RgbStatusText)
	for x := 0; x < width; x++ {
		t.screen.SetContent(x, y, ' ', nil, barStyle)
	}

	x := 0
	if t.paused.Load() {
		x = t.drawText(x, y, width, " PAUSED ", barStyle.Background(RgbPausedBg))
	}

	text := fmt.Sprintf(" %s | tick %d | %d particles | fps %d ", f.Strategy, f.Tick, len(f.Particles), t.currentFps)
	x = t.drawText(x, y, width, text, barStyle)

	if f.Frozen > 0 {
		x = t.drawText(x, y, width, fmt.Sprintf(" frozen %d ", f.Frozen), barStyle.Background(RgbDegradedBg))
	}

	t.registry.Strings.Range(func(key string, v *status.AtomicString) {
		if !strings.HasPrefix(key, "coordinator.worker.") || !strings.HasSuffix(key, ".health") {
			return
		}
		idx := strings.TrimSuffix(strings.TrimPrefix(key, "coordinator.worker."), ".health")
		health := v.Load()
		style := barStyle
		if health != "healthy" {
			style = barStyle.Background(RgbDegradedBg)
		}
		x = t.drawText(x, y, width, fmt.Sprintf(" w%s %s ", idx, health), style)
	})

	if t.registry.Floats.Has(status.KeyHostCPU) {
		host := fmt.Sprintf(" cpu %.1f%% rss %.1fMB ",
			t.registry.Floats.Get(status.KeyHostCPU).Get(),
			t.registry.Floats.Get(status.KeyHostRSS).Get())
		t.drawText(x, y, width, host, barStyle)
	}
}

func (t *Terminal) drawText(x, y, width int, text string, style tcell.Style) int {
	for _, ch := range text {
		if x >= width {
			break
		}
		t.screen.SetContent(x, y, ch, nil, style)
		x++
	}
	return x
}

// Close restores the terminal; Render fails afterwards
func (t *Terminal) Close() {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		core.RegisterCrashScreen(nil)
		t.screen.Fini()
	})
}
