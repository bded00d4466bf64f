package status

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Host metric keys
const (
	KeyHostCPU        = "host.cpu_percent"
	KeyHostRSS        = "host.rss_mb"
	KeyHostMemPercent = "host.mem_percent"
)

// HostSampler periodically publishes process CPU, RSS and host memory usage
type HostSampler struct {
	interval time.Duration
	proc     *process.Process

	cpu    *AtomicFloat
	rss    *AtomicFloat
	memPct *AtomicFloat

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHostSampler binds a sampler for the current process to reg
func NewHostSampler(reg *Registry, interval time.Duration) (*HostSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &HostSampler{
		interval: interval,
		proc:     proc,
		cpu:      reg.Floats.Get(KeyHostCPU),
		rss:      reg.Floats.Get(KeyHostRSS),
		memPct:   reg.Floats.Get(KeyHostMemPercent),
	}, nil
}

// Name implements service.Service
func (h *HostSampler) Name() string {
	return "host-sampler"
}

// Dependencies implements service.Service
func (h *HostSampler) Dependencies() []string {
	return nil
}

// Init implements service.Service
func (h *HostSampler) Init(args ...any) error {
	return nil
}

// Start implements service.Service
func (h *HostSampler) Start() error {
	var ctx context.Context
	ctx, h.cancel = context.WithCancel(context.Background())
	h.Sample()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.Sample()
			}
		}
	}()
	return nil
}

// Stop implements service.Service
func (h *HostSampler) Stop() error {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.wg.Wait()
	return nil
}

// Sample takes one reading; failures are logged and leave the previous values
func (h *HostSampler) Sample() {
	// Percent(0) reports usage since the previous call
	if pct, err := h.proc.Percent(0); err == nil {
		h.cpu.Set(pct)
	} else {
		log.Printf("[status] cpu sample: %v", err)
	}

	if mi, err := h.proc.MemoryInfo(); err == nil {
		h.rss.Set(float64(mi.RSS) / (1 << 20))
	} else {
		log.Printf("[status] rss sample: %v", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		h.memPct.Set(vm.UsedPercent)
	} else {
		log.Printf("[status] memory sample: %v", err)
	}
}
