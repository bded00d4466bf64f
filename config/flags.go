package config

import (
	"flag"
	"io"
)

// Role selects which flags a binary exposes
type Role uint8

const (
	RoleEngine Role = iota
	RoleWorker
)

// Parse resolves the configuration for a binary: defaults, then the file named
// by -config, then any flag given explicitly on the command line
func Parse(name string, role Role, args []string, output io.Writer) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	def := Default()
	var (
		path     = fs.String("config", "", "TOML configuration file")
		debug    = fs.Bool("debug", false, "write logs to logs/"+name+".log")
		addr     = new(string)
		mode     = new(string)
		workers  = new(int)
		render   = new(string)
		stream   = new(string)
		fallback = new(string)
		timeout  = new(int)
		tick     = new(int)
		emit     = new(int)
		mute     = new(bool)
	)

	switch role {
	case RoleEngine:
		fs.StringVar(addr, "addr", def.Address, "worker listen address")
		fs.StringVar(mode, "mode", def.Mode, "execution mode: sequential, parallel, distributed")
		fs.IntVar(workers, "workers", def.Workers, "number of workers to accept in distributed mode")
		fs.StringVar(render, "render", def.Render, "render target: auto, terminal, headless")
		fs.StringVar(stream, "stream", def.StreamAddress, "spectator websocket address, empty disables")
		fs.StringVar(fallback, "fallback", def.Fallback, "failed chunk policy: freeze, local")
		fs.IntVar(timeout, "timeout", def.TaskTimeoutMs, "worker deadline per tick in ms")
		fs.IntVar(tick, "tick", def.TickMs, "tick interval in ms")
		fs.IntVar(emit, "emit", def.EmitPerTick, "particles emitted per tick")
		fs.BoolVar(mute, "mute", false, "disable audio cues")
	case RoleWorker:
		fs.StringVar(addr, "addr", def.MasterAddress, "master address to connect to")
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := def
	if *path != "" {
		if err := LoadFile(&cfg, *path); err != nil {
			return Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "debug":
			cfg.Debug = *debug
		case "addr":
			if role == RoleWorker {
				cfg.MasterAddress = *addr
			} else {
				cfg.Address = *addr
			}
		case "mode":
			cfg.Mode = *mode
		case "workers":
			cfg.Workers = *workers
		case "render":
			cfg.Render = *render
		case "stream":
			cfg.StreamAddress = *stream
		case "fallback":
			cfg.Fallback = *fallback
		case "timeout":
			cfg.TaskTimeoutMs = *timeout
		case "tick":
			cfg.TickMs = *tick
		case "emit":
			cfg.EmitPerTick = *emit
		case "mute":
			cfg.Mute = *mute
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
