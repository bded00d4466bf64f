package service

import (
	"log"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Hub owns registered services and drives them in dependency order
type Hub struct {
	mu       sync.RWMutex
	services map[string]Service
	order    []string // Dependency order, computed on InitAll
	started  []string // Completed Start, for rollback and StopAll
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		services: make(map[string]Service),
	}
}

// Register adds svc; names must be unique
func (h *Hub) Register(svc Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := svc.Name()
	if _, exists := h.services[name]; exists {
		return errors.Errorf("service already registered: %s", name)
	}

	h.services[name] = svc
	h.order = nil
	return nil
}

// Get retrieves a service by name
func (h *Hub) Get(name string) (Service, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	svc, ok := h.services[name]
	return svc, ok
}

// MustGet retrieves a service and asserts it to T
// Panics on a missing name or a type mismatch
func MustGet[T any](h *Hub, name string) T {
	svc, ok := h.Get(name)
	if !ok {
		panic("service not found: " + name)
	}
	typed, ok := svc.(T)
	if !ok {
		panic(errors.Errorf("service %s: type mismatch, got %T", name, svc))
	}
	return typed
}

// InitAll calls Init(args...) on every service in dependency order
// On failure, already-initialized services are stopped in reverse order
func (h *Hub) InitAll(args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.order == nil {
		order, err := h.sortLocked()
		if err != nil {
			return err
		}
		h.order = order
	}

	var initialized []string
	for _, name := range h.order {
		if err := h.services[name].Init(args...); err != nil {
			h.stopLocked(initialized)
			return errors.Wrapf(err, "service %s init failed", name)
		}
		initialized = append(initialized, name)
	}
	return nil
}

// StartAll calls Start in dependency order
// On failure, already-started services are stopped in reverse order
func (h *Hub) StartAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.order == nil {
		return errors.New("StartAll before InitAll")
	}

	h.started = nil
	for _, name := range h.order {
		if err := h.services[name].Start(); err != nil {
			h.stopLocked(h.started)
			h.started = nil
			return errors.Wrapf(err, "service %s start failed", name)
		}
		h.started = append(h.started, name)
	}
	return nil
}

// StopAll stops started services in reverse order
// Every service gets Stop called; failures are logged
func (h *Hub) StopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked(h.started)
	h.started = nil
}

func (h *Hub) stopLocked(names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		if err := h.services[names[i]].Stop(); err != nil {
			log.Printf("[service] %s stop: %v", names[i], err)
		}
	}
}

// sortLocked computes a dependency order with Kahn's algorithm
// Ties are broken by name so startup order is reproducible
func (h *Hub) sortLocked() ([]string, error) {
	inDegree := make(map[string]int, len(h.services))
	dependents := make(map[string][]string)

	for name := range h.services {
		inDegree[name] = 0
	}
	for name, svc := range h.services {
		for _, dep := range svc.Dependencies() {
			if _, exists := h.services[dep]; !exists {
				return nil, errors.Errorf("service %s depends on unregistered service: %s", name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	result := make([]string, 0, len(h.services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		result = append(result, name)

		var next []string
		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
	}

	if len(result) != len(h.services) {
		return nil, errors.New("circular dependency detected in services")
	}
	return result, nil
}

// Names returns registered service names, sorted
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.services))
	for name := range h.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
