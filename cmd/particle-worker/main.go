// Command particle-worker connects to a particle-engine master and advances
// the chunks it is sent until the connection ends
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

	"github.com/lixenwraith/particle-engine/config"
	"github.com/lixenwraith/particle-engine/core"
	"github.com/lixenwraith/particle-engine/network"
	"github.com/lixenwraith/particle-engine/worker"
)

const (
	logDir      = "logs"
	logFileName = "particle-worker.log"
)

func main() {
	cfg, err := config.Parse("particle-worker", config.RoleWorker, os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "particle-worker: %v\n", err)
		os.Exit(2)
	}

	if logFile := core.SetupLogging(logDir, logFileName, cfg.Debug); logFile != nil {
		defer logFile.Close()
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "particle-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	netCfg := cfg.NetworkConfig(cfg.MasterAddress)
	conn, err := network.Dial(ctx, netCfg)
	if err != nil {
		return errors.Wrapf(err, "connect %s", cfg.MasterAddress)
	}
	fmt.Fprintf(os.Stderr, "connected to %s\n", cfg.MasterAddress)

	w := worker.New(conn, netCfg)
	defer w.Close()

	err = w.Serve(ctx)
	log.Printf("[worker] served %d chunks, %d particles", w.Handled(), w.Stepped())
	return err
}
