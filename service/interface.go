// Package service orders the startup and shutdown of long-lived subsystems:
// the worker listener, the spectator stream, the host sampler, the audio cue
package service

// Service is the lifecycle contract managed by Hub
//
// Lifecycle:
//  1. Construction
//  2. Init(args...) - configuration handed down from the binary
//  3. Start() - bind sockets, launch goroutines
//  4. [runtime operation]
//  5. Stop() - halt goroutines, release resources; must be idempotent
type Service interface {
	// Name returns the unique identifier for this service
	Name() string

	// Dependencies returns names of services that must start before this one
	Dependencies() []string

	Init(args ...any) error
	Start() error
	Stop() error
}
