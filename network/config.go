package network

import (
	"crypto/tls"
	"time"
)

// Config holds exchange transport configuration shared by master and worker
type Config struct {
	// Address to bind (master) or connect to (worker)
	Address string

	// TLS configuration (nil = plaintext)
	TLS *tls.Config

	// Timing
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // Master waiting for a chunk reply; 0 = no deadline
	WriteTimeout   time.Duration

	// Socket buffer sizes, 0 keeps the OS default
	ReadBufferSize  int
	WriteBufferSize int

	// Largest accepted frame payload in bytes
	MaxPayloadSize int
}

// DefaultConfig returns the defaults used by both binaries
func DefaultConfig() *Config {
	return &Config{
		Address:         ":5001",
		TLS:             nil,
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Second,
		ReadBufferSize:  256 * 1024,
		WriteBufferSize: 256 * 1024,
		MaxPayloadSize:  16 << 20,
	}
}

// DebugConfig returns defaults bound to addr, used by tests and local runs
func DebugConfig(addr string) *Config {
	cfg := DefaultConfig()
	cfg.Address = addr
	return cfg
}
