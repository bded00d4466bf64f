// Command particle-engine runs the particle emitter with a selectable
// execution strategy and renders it to the terminal or the log
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/lixenwraith/particle-engine/audio"
	"github.com/lixenwraith/particle-engine/config"
	"github.com/lixenwraith/particle-engine/coordinator"
	"github.com/lixenwraith/particle-engine/core"
	"github.com/lixenwraith/particle-engine/emitter"
	"github.com/lixenwraith/particle-engine/engine"
	"github.com/lixenwraith/particle-engine/network"
	"github.com/lixenwraith/particle-engine/particle"
	"github.com/lixenwraith/particle-engine/render"
	"github.com/lixenwraith/particle-engine/service"
	"github.com/lixenwraith/particle-engine/status"
	"github.com/lixenwraith/particle-engine/stream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			core.HandleCrash(r)
		}
	}()

	cfg, err := config.Parse("particle-engine", config.RoleEngine, os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "particle-engine: %v\n", err)
		os.Exit(2)
	}

	if logFile := setupLogging(cfg.Debug); logFile != nil {
		defer logFile.Close()
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "particle-engine: %v\n", err)
		os.Exit(1)
	}
}

// app holds the pieces run wires together
type app struct {
	cfg      config.Config
	registry *status.Registry
	hub      *service.Hub
	network  *network.Service
	cue      *audio.Cue
	stream   *stream.Hub
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:      cfg,
		registry: status.NewRegistry(),
		hub:      service.NewHub(),
	}
	if err := a.registerServices(); err != nil {
		return err
	}
	if err := a.hub.InitAll(); err != nil {
		return errors.Wrap(err, "init services")
	}
	if err := a.hub.StartAll(); err != nil {
		return errors.Wrap(err, "start services")
	}
	defer a.hub.StopAll()

	strategy, err := a.strategy(ctx)
	if err != nil {
		return err
	}
	em := emitter.New(cfg.OriginX, cfg.OriginY, strategy)

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	var (
		renderers render.Multi
		terminal  *render.Terminal
	)
	switch cfg.ResolveRender(isTTY) {
	case config.RenderTerminal:
		terminal, err = render.OpenTerminal(a.registry, render.WithWorld(cfg.WorldWidth, cfg.WorldHeight))
		if err != nil {
			return errors.Wrap(err, "open terminal")
		}
		defer terminal.Close()
		terminal.Start()
		renderers = append(renderers, terminal)
	default:
		// Nothing owns the terminal, so frame summaries may go to stderr
		if !cfg.Debug {
			log.SetOutput(os.Stderr)
		}
		renderers = append(renderers, render.NewHeadless(uint64(cfg.HeadlessEvery)))
	}
	if a.stream != nil {
		renderers = append(renderers, a.stream)
	}

	loop := engine.NewFrameLoop(engine.LoopConfig{
		TickInterval: cfg.TickInterval(),
		EmitPerTick:  cfg.EmitPerTick,
	}, em, renderers, a.registry, nil)
	log.Printf("[main] %s mode, tick %s, %d per tick", strategy.Name(), cfg.TickInterval(), cfg.EmitPerTick)
	loop.Start()
	defer loop.Stop()

	var events <-chan render.Event
	if terminal != nil {
		events = terminal.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-loop.Done():
			return loop.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case render.EventQuit:
				return nil
			case render.EventPause:
				paused := loop.TogglePaused()
				log.Printf("[main] paused=%v", paused)
			}
		}
	}
}

// registerServices adds every long-lived component to the hub
func (a *app) registerServices() error {
	workers := 0
	if a.cfg.Mode == config.ModeDistributed {
		workers = a.cfg.Workers
	}
	a.network = network.NewService(a.cfg.NetworkConfig(a.cfg.Address), workers)
	a.cue = audio.NewCue(a.cfg.Mute)

	svcs := []service.Service{a.network, a.cue}

	if sampler, err := status.NewHostSampler(a.registry, a.cfg.HostSampleInterval()); err == nil {
		svcs = append(svcs, sampler)
	} else {
		log.Printf("[main] host metrics unavailable: %v", err)
	}

	if a.cfg.StreamAddress != "" {
		a.stream = stream.NewHub(0)
		svcs = append(svcs, stream.NewServer(a.cfg.StreamAddress, a.stream))
	}

	for _, s := range svcs {
		if err := a.hub.Register(s); err != nil {
			return errors.Wrapf(err, "register %s", s.Name())
		}
	}
	return nil
}

// strategy builds the execution strategy for the configured mode
// Distributed mode blocks here until every worker has connected
func (a *app) strategy(ctx context.Context) (emitter.Strategy, error) {
	switch a.cfg.Mode {
	case config.ModeParallel:
		return emitter.NewParallel(a.cfg.ParallelWorkers), nil
	case config.ModeDistributed:
		return a.distributed(ctx)
	default:
		return emitter.NewSequential(), nil
	}
}

func (a *app) distributed(ctx context.Context) (*coordinator.Coordinator, error) {
	acceptCtx := ctx
	if d := a.cfg.AcceptTimeout(); d > 0 {
		var cancel context.CancelFunc
		acceptCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	fmt.Fprintf(os.Stderr, "waiting for %d workers on %s\n", a.cfg.Workers, a.network.Transport().Addr())
	conns, err := a.network.AcceptWorkers(acceptCtx)
	if err != nil {
		return nil, errors.Wrap(err, "accept workers")
	}

	coord, err := coordinator.New(coordinator.FromConns(conns), coordinator.Config{
		TaskTimeout: a.cfg.TaskTimeout(),
		Fallback:    a.cfg.FallbackPolicy(),
		Style:       particle.StyleDistributed,
	}, coordinator.WithRegistry(a.registry))
	if err != nil {
		return nil, err
	}
	coord.OnDegraded(func(worker int, err error) {
		a.cue.Degraded(worker)
	})
	coord.OnRecovered(a.cue.Recovered)
	return coord, nil
}
