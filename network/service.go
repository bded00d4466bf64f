package network

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Service wraps the master Transport as a hub-managed service
// Start binds the listener; the worker set is accepted separately through AcceptWorkers
type Service struct {
	config    *Config
	workers   int
	transport *Transport

	disabled atomic.Bool
}

// NewService creates a listening service expecting workers connections
// workers <= 0 disables it (non-distributed modes)
func NewService(cfg *Config, workers int) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{config: cfg, workers: workers}
}

// Name implements service.Service
func (s *Service) Name() string {
	return "network"
}

// Dependencies implements service.Service
func (s *Service) Dependencies() []string {
	return nil
}

// Init implements service.Service
// args[0]: *Config (optional, overrides the constructor config)
func (s *Service) Init(args ...any) error {
	if len(args) > 0 {
		if cfg, ok := args[0].(*Config); ok && cfg != nil {
			s.config = cfg
		}
	}

	if s.workers <= 0 {
		s.disabled.Store(true)
		return nil
	}

	s.transport = NewTransport(s.config)
	return nil
}

// Start implements service.Service
func (s *Service) Start() error {
	if s.disabled.Load() || s.transport == nil {
		return nil
	}
	if err := s.transport.Listen(); err != nil {
		return err
	}
	log.Printf("[network] listening on %s for %d workers", s.transport.Addr(), s.workers)
	return nil
}

// Stop implements service.Service
func (s *Service) Stop() error {
	if s.transport != nil {
		return s.transport.Stop()
	}
	return nil
}

// AcceptWorkers blocks until the configured number of workers connected
func (s *Service) AcceptWorkers(ctx context.Context) ([]*Conn, error) {
	if s.disabled.Load() || s.transport == nil {
		return nil, errors.New("network service disabled")
	}
	return s.transport.Accept(ctx, s.workers)
}

// Transport returns the underlying transport, nil while disabled
func (s *Service) Transport() *Transport {
	return s.transport
}

// Workers returns the expected worker count
func (s *Service) Workers() int {
	return s.workers
}
