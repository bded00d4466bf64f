package status

import (
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// AtomicFloat stores a float64 as its bit pattern
// Zero value is ready to use and reads as 0.0
type AtomicFloat struct {
	bits atomic.Uint64
}

// Set stores val
func (f *AtomicFloat) Set(val float64) {
	f.bits.Store(math.Float64bits(val))
}

// Get loads the current value
func (f *AtomicFloat) Get() float64 {
	return math.Float64frombits(f.bits.Load())
}

// Add adds delta with a CAS loop and returns the new value
func (f *AtomicFloat) Add(delta float64) float64 {
	for {
		old := f.bits.Load()
		next := math.Float64frombits(old) + delta
		if f.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return next
		}
	}
}

// MaxStringLen bounds stored strings so status rows stay one line
const MaxStringLen = 32

// AtomicString holds a short label, truncated to MaxStringLen
type AtomicString struct {
	ptr atomic.Pointer[string]
}

// Store sets the label
func (s *AtomicString) Store(val string) {
	if len(val) > MaxStringLen {
		val = val[:MaxStringLen]
	}
	s.ptr.Store(&val)
}

// Load returns the label, empty when never stored
func (s *AtomicString) Load() string {
	if p := s.ptr.Load(); p != nil {
		return *p
	}
	return ""
}

// MetricMap maps keys to metric cells of type T
// Lookups take the lock; writers cache the returned pointer and skip it afterwards
type MetricMap[T any] struct {
	mu    sync.RWMutex
	items map[string]*T
}

// NewMetricMap creates an empty map
func NewMetricMap[T any]() *MetricMap[T] {
	return &MetricMap[T]{items: make(map[string]*T)}
}

// Get returns the cell for key, allocating it on first use
func (m *MetricMap[T]) Get(key string) *T {
	m.mu.RLock()
	cell := m.items[key]
	m.mu.RUnlock()
	if cell != nil {
		return cell
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cell = m.items[key]; cell == nil {
		cell = new(T)
		m.items[key] = cell
	}
	return cell
}

// Has reports whether key was ever requested
func (m *MetricMap[T]) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[key]
	return ok
}

// Range visits cells in sorted key order
// fn runs outside the lock and may call Get
func (m *MetricMap[T]) Range(fn func(key string, ptr *T)) {
	m.mu.RLock()
	keys := slices.Sorted(maps.Keys(m.items))
	cells := make([]*T, len(keys))
	for i, k := range keys {
		cells[i] = m.items[k]
	}
	m.mu.RUnlock()

	for i, k := range keys {
		fn(k, cells[i])
	}
}

// Count returns the number of cells
func (m *MetricMap[T]) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
