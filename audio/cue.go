// Package audio plays short alert tones when worker health changes
package audio

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

const (
	sampleRate   = beep.SampleRate(48000)
	toneDuration = 90 * time.Millisecond
	minGap       = 500 * time.Millisecond
)

// Cue owns the speaker and a mixer that alert tones are queued onto
// Every method is a no-op until Init succeeds; audio failures never reach the engine
type Cue struct {
	mu          sync.Mutex
	mixer       *beep.Mixer
	initialized bool
	muted       bool
	lastPlayed  time.Time
	played      int

	now   func() time.Time
	init  func(beep.SampleRate, int) error
	play  func(...beep.Streamer)
	close func()
}

// NewCue creates a silent cue; muted cues never touch the sound device
func NewCue(muted bool) *Cue {
	return &Cue{
		mixer: &beep.Mixer{},
		muted: muted,
		now:   time.Now,
		init:  speaker.Init,
		play:  speaker.Play,
		close: speaker.Close,
	}
}

// Name implements service.Service
func (c *Cue) Name() string {
	return "audio"
}

// Dependencies implements service.Service
func (c *Cue) Dependencies() []string {
	return nil
}

// Init implements service.Service
// A missing sound device is logged and leaves the cue silent
func (c *Cue) Init(args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized || c.muted {
		return nil
	}
	if err := c.init(sampleRate, sampleRate.N(100*time.Millisecond)); err != nil {
		log.Printf("[audio] speaker unavailable, running silent: %v", err)
		return nil
	}
	c.play(c.mixer)
	c.initialized = true
	return nil
}

// Start implements service.Service
func (c *Cue) Start() error {
	return nil
}

// Stop implements service.Service
func (c *Cue) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		speaker.Lock()
		c.mixer.Clear()
		speaker.Unlock()
		c.close()
		c.initialized = false
	}
	return nil
}

// Degraded plays a falling two-tone alert
func (c *Cue) Degraded(worker int) {
	c.enqueue(beep.Seq(Tone(660, toneDuration), Tone(440, toneDuration)))
}

// Recovered plays a rising two-tone chime
func (c *Cue) Recovered(worker int) {
	c.enqueue(beep.Seq(Tone(440, toneDuration), Tone(660, toneDuration)))
}

// Played returns how many alerts reached the mixer
func (c *Cue) Played() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.played
}

// enqueue adds s to the mixer unless another alert played within minGap
func (c *Cue) enqueue(s beep.Streamer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return
	}
	now := c.now()
	if !c.lastPlayed.IsZero() && now.Sub(c.lastPlayed) < minGap {
		return
	}
	c.lastPlayed = now
	c.played++

	speaker.Lock()
	c.mixer.Add(s)
	speaker.Unlock()
}

// Tone returns a sine tone of freq Hz lasting d, shaped to avoid clicks
func Tone(freq float64, d time.Duration) beep.Streamer {
	n := sampleRate.N(d)
	return beep.Take(n, &toneGenerator{sr: sampleRate, freq: freq, total: n})
}

// toneGenerator is a sine oscillator with a linear attack and release
type toneGenerator struct {
	sr    beep.SampleRate
	freq  float64
	total int
	pos   int
}

func (g *toneGenerator) Stream(samples [][2]float64) (n int, ok bool) {
	ramp := g.sr.N(5 * time.Millisecond)
	for i := range samples {
		t := float64(g.pos) / float64(g.sr)
		env := 1.0
		if g.pos < ramp {
			env = float64(g.pos) / float64(ramp)
		}
		if rem := g.total - g.pos; rem < ramp {
			env = math.Max(0, float64(rem)/float64(ramp))
		}
		sample := 0.25 * env * math.Sin(2*math.Pi*g.freq*t)
		samples[i][0] = sample
		samples[i][1] = sample
		g.pos++
	}
	return len(samples), true
}

func (g *toneGenerator) Err() error {
	return nil
}
