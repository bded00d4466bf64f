// Package config resolves engine and worker settings from defaults, an
// optional TOML file and command-line flags, in increasing precedence
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/coordinator"
	"github.com/lixenwraith/particle-engine/network"
)

// Execution modes
const (
	ModeSequential  = "sequential"
	ModeParallel    = "parallel"
	ModeDistributed = "distributed"
)

// Render targets
const (
	RenderAuto     = "auto"
	RenderTerminal = "terminal"
	RenderHeadless = "headless"
)

// NetworkSection tunes the worker exchange transport
type NetworkSection struct {
	ConnectTimeoutMs int `toml:"connect_timeout_ms"`
	ReadTimeoutMs    int `toml:"read_timeout_ms"`
	WriteTimeoutMs   int `toml:"write_timeout_ms"`
	MaxPayloadMB     int `toml:"max_payload_mb"`
}

// Config is the resolved runtime configuration for both binaries
type Config struct {
	Mode            string  `toml:"mode"`
	Workers         int     `toml:"workers"`
	ParallelWorkers int     `toml:"parallel_workers"`
	Address         string  `toml:"address"`
	MasterAddress   string  `toml:"master_address"`
	TickMs          int     `toml:"tick_ms"`
	TaskTimeoutMs   int     `toml:"task_timeout_ms"`
	AcceptTimeoutMs int     `toml:"accept_timeout_ms"`
	EmitPerTick     int     `toml:"emit_per_tick"`
	OriginX         float64 `toml:"origin_x"`
	OriginY         float64 `toml:"origin_y"`
	WorldWidth      float64 `toml:"world_width"`
	WorldHeight     float64 `toml:"world_height"`
	Fallback        string  `toml:"fallback"`
	Render          string  `toml:"render"`
	HeadlessEvery   int     `toml:"headless_every"`
	StreamAddress   string  `toml:"stream_address"`
	HostSampleMs    int     `toml:"host_sample_ms"`
	Mute            bool    `toml:"mute"`
	Debug           bool    `toml:"debug"`

	Network NetworkSection `toml:"network"`
}

// Default returns the stock configuration: two workers on :5001, 16ms ticks,
// 1000ms worker deadline, 100 particles per tick from (400, 250)
func Default() Config {
	return Config{
		Mode:            ModeSequential,
		Workers:         2,
		ParallelWorkers: 0,
		Address:         ":5001",
		MasterAddress:   "localhost:5001",
		TickMs:          16,
		TaskTimeoutMs:   int(coordinator.DefaultTaskTimeout / time.Millisecond),
		AcceptTimeoutMs: 0,
		EmitPerTick:     100,
		OriginX:         400,
		OriginY:         250,
		WorldWidth:      800,
		WorldHeight:     600,
		Fallback:        "freeze",
		Render:          RenderAuto,
		HeadlessEvery:   60,
		StreamAddress:   "",
		HostSampleMs:    1000,
		Network: NetworkSection{
			ConnectTimeoutMs: 5000,
			ReadTimeoutMs:    30000,
			WriteTimeoutMs:   5000,
			MaxPayloadMB:     16,
		},
	}
}

// LoadFile overlays the TOML file at path onto cfg
// Keys absent from the file keep their current values
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// Validate rejects settings the engine cannot run with
func (c Config) Validate() error {
	switch c.Mode {
	case ModeSequential, ModeParallel, ModeDistributed:
	default:
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	switch c.Render {
	case RenderAuto, RenderTerminal, RenderHeadless:
	default:
		return errors.Errorf("unknown render target %q", c.Render)
	}
	if _, ok := coordinator.ParseFallback(c.Fallback); !ok {
		return errors.Errorf("unknown fallback %q", c.Fallback)
	}
	if c.Mode == ModeDistributed && c.Workers < 1 {
		return errors.Errorf("distributed mode needs at least one worker, got %d", c.Workers)
	}
	if c.TickMs <= 0 {
		return errors.Errorf("tick_ms must be positive, got %d", c.TickMs)
	}
	if c.TaskTimeoutMs <= 0 {
		return errors.Errorf("task_timeout_ms must be positive, got %d", c.TaskTimeoutMs)
	}
	if c.EmitPerTick < 0 {
		return errors.Errorf("emit_per_tick must not be negative, got %d", c.EmitPerTick)
	}
	if c.WorldWidth <= 0 || c.WorldHeight <= 0 {
		return errors.Errorf("world size %vx%v", c.WorldWidth, c.WorldHeight)
	}
	if c.Network.MaxPayloadMB <= 0 {
		return errors.Errorf("network.max_payload_mb must be positive, got %d", c.Network.MaxPayloadMB)
	}
	return nil
}

// TickInterval returns the frame loop period
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// TaskTimeout returns the per-tick worker deadline
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMs) * time.Millisecond
}

// AcceptTimeout returns how long the master waits for workers, 0 meaning forever
func (c Config) AcceptTimeout() time.Duration {
	return time.Duration(c.AcceptTimeoutMs) * time.Millisecond
}

// HostSampleInterval returns the host metrics period
func (c Config) HostSampleInterval() time.Duration {
	return time.Duration(c.HostSampleMs) * time.Millisecond
}

// FallbackPolicy returns the parsed fallback; Validate guarantees it is known
func (c Config) FallbackPolicy() coordinator.Fallback {
	f, _ := coordinator.ParseFallback(c.Fallback)
	return f
}

// NetworkConfig builds the transport configuration bound to addr
func (c Config) NetworkConfig(addr string) *network.Config {
	nc := network.DefaultConfig()
	nc.Address = addr
	nc.ConnectTimeout = time.Duration(c.Network.ConnectTimeoutMs) * time.Millisecond
	nc.ReadTimeout = time.Duration(c.Network.ReadTimeoutMs) * time.Millisecond
	nc.WriteTimeout = time.Duration(c.Network.WriteTimeoutMs) * time.Millisecond
	nc.MaxPayloadSize = c.Network.MaxPayloadMB << 20
	return nc
}

// ResolveRender turns "auto" into terminal or headless using isTTY
func (c Config) ResolveRender(isTTY bool) string {
	if c.Render != RenderAuto {
		return c.Render
	}
	if isTTY {
		return RenderTerminal
	}
	return RenderHeadless
}
