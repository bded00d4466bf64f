package status

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAtomicFloat_ConcurrentAdd(t *testing.T) {
	var f AtomicFloat
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				f.Add(0.5)
			}
		}()
	}
	wg.Wait()

	if got := f.Get(); got != 4000 {
		t.Errorf("Get() = %v, want 4000", got)
	}
	f.Set(-1.25)
	if f.Get() != -1.25 {
		t.Errorf("Set/Get = %v", f.Get())
	}
}

func TestAtomicString_Truncates(t *testing.T) {
	var s AtomicString
	if s.Load() != "" {
		t.Error("zero value should load empty")
	}
	s.Store(strings.Repeat("x", MaxStringLen+10))
	if len(s.Load()) != MaxStringLen {
		t.Errorf("len = %d, want %d", len(s.Load()), MaxStringLen)
	}
}

func TestMetricMap_GetReturnsStablePointer(t *testing.T) {
	m := NewMetricMap[AtomicFloat]()
	a := m.Get("coordinator.frozen")
	b := m.Get("coordinator.frozen")
	if a != b {
		t.Fatal("Get returned different pointers for the same key")
	}
	if !m.Has("coordinator.frozen") || m.Has("missing") {
		t.Error("Has mismatch")
	}

	m.Get("b")
	m.Get("a")
	var keys []string
	m.Range(func(k string, _ *AtomicFloat) { keys = append(keys, k) })
	if strings.Join(keys, ",") != "a,b,coordinator.frozen" {
		t.Errorf("Range order = %v", keys)
	}
	if m.Count() != 3 {
		t.Errorf("Count = %d", m.Count())
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Ints.Get("engine.ticks").Store(12)
	r.Floats.Get("host.cpu_percent").Set(3.14159)
	r.Bools.Get("engine.paused").Store(true)
	r.Strings.Get("coordinator.worker.0.health").Store("healthy")

	snap := r.Snapshot()
	want := map[string]string{
		"engine.ticks":                "12",
		"host.cpu_percent":            "3.1",
		"engine.paused":               "true",
		"coordinator.worker.0.health": "healthy",
	}
	for k, v := range want {
		if snap[k] != v {
			t.Errorf("snap[%q] = %q, want %q", k, snap[k], v)
		}
	}
	if r.TotalCount() != 4 {
		t.Errorf("TotalCount = %d, want 4", r.TotalCount())
	}
}

func TestHostSampler_PublishesMetrics(t *testing.T) {
	r := NewRegistry()
	h, err := NewHostSampler(r, 10*time.Millisecond)
	if err != nil {
		t.Skipf("process metrics unavailable: %v", err)
	}

	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := h.Stop(); err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{KeyHostCPU, KeyHostRSS, KeyHostMemPercent} {
		if !r.Floats.Has(key) {
			t.Errorf("metric %s not registered", key)
		}
	}
	if r.Floats.Get(KeyHostRSS).Get() <= 0 {
		t.Error("RSS should be positive for a running process")
	}
	if h.Name() != "host-sampler" || h.Dependencies() != nil {
		t.Error("service metadata mismatch")
	}
}
