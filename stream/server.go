package stream

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/core"
)

// Path is the websocket endpoint
const Path = "/ws"

// Server exposes a Hub over HTTP as a hub-managed service
type Server struct {
	addr     string
	hub      *Hub
	server   *http.Server
	listener net.Listener
}

// NewServer serves hub on addr
func NewServer(addr string, hub *Hub) *Server {
	return &Server{addr: addr, hub: hub}
}

// Name implements service.Service
func (s *Server) Name() string {
	return "stream"
}

// Dependencies implements service.Service
func (s *Server) Dependencies() []string {
	return nil
}

// Init implements service.Service
func (s *Server) Init(args ...any) error {
	mux := http.NewServeMux()
	mux.Handle(Path, s.hub)
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Start implements service.Service
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "stream listen %s", s.addr)
	}
	s.listener = ln
	log.Printf("[stream] serving %s%s", ln.Addr(), Path)

	core.Go(func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[stream] serve: %v", err)
		}
	})
	return nil
}

// Stop implements service.Service
func (s *Server) Stop() error {
	s.hub.Close()
	if s.server == nil || s.listener == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.listener = nil
	return err
}

// Addr returns the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
