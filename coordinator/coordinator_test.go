package coordinator

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/lixenwraith/particle-engine/network"
	"github.com/lixenwraith/particle-engine/particle"
	"github.com/lixenwraith/particle-engine/status"
	"github.com/lixenwraith/particle-engine/worker"
)

// ============================================================================
// Fakes
// ============================================================================

// fakeWorker implements Exchanger with a pluggable reply
type fakeWorker struct {
	reply func(ctx context.Context, chunk []particle.Particle) ([]particle.Particle, error)

	mu    sync.Mutex
	calls int
	sent  []int
}

func (f *fakeWorker) Exchange(ctx context.Context, chunk []particle.Particle) ([]particle.Particle, error) {
	f.mu.Lock()
	f.calls++
	f.sent = append(f.sent, len(chunk))
	f.mu.Unlock()
	return f.reply(ctx, chunk)
}

func (f *fakeWorker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// stepping advances its chunk the way a real worker does
func stepping() *fakeWorker {
	return &fakeWorker{reply: func(_ context.Context, chunk []particle.Particle) ([]particle.Particle, error) {
		out := make([]particle.Particle, len(chunk))
		copy(out, chunk)
		particle.StepAll(out)
		for i := range out {
			out[i].Style = 0
		}
		return out, nil
	}}
}

// failing returns err for every exchange
func failing(err error) *fakeWorker {
	return &fakeWorker{reply: func(context.Context, []particle.Particle) ([]particle.Particle, error) {
		return nil, err
	}}
}

// stalled blocks until release closes, then returns a stepped copy
func stalled(release <-chan struct{}, done chan<- struct{}) *fakeWorker {
	return &fakeWorker{reply: func(_ context.Context, chunk []particle.Particle) ([]particle.Particle, error) {
		<-release
		out := make([]particle.Particle, len(chunk))
		copy(out, chunk)
		particle.StepAll(out)
		for i := range out {
			out[i].X = -9999
		}
		if done != nil {
			close(done)
		}
		return out, nil
	}}
}

func makeParticles(n int) []particle.Particle {
	ps := make([]particle.Particle, n)
	for i := range ps {
		ps[i] = particle.Particle{
			X:     float64(i),
			Y:     float64(2 * i),
			DX:    0.5,
			DY:    -1,
			TTL:   particle.DefaultTTL,
			Style: particle.StyleDistributed,
		}
	}
	return ps
}

func stepped(ps []particle.Particle) []particle.Particle {
	out := make([]particle.Particle, len(ps))
	copy(out, ps)
	particle.StepAll(out)
	return out
}

func newTestCoordinator(t *testing.T, cfg Config, workers ...Exchanger) *Coordinator {
	t.Helper()
	c, err := New(workers, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// ============================================================================
// Partition
// ============================================================================

func TestPartition_Examples(t *testing.T) {
	tests := []struct {
		name   string
		length int
		n      int
		want   []Range
	}{
		{"even", 100, 2, []Range{{0, 50}, {50, 100}}},
		{"remainder to last", 101, 2, []Range{{0, 50}, {50, 101}}},
		{"fewer than workers", 3, 5, []Range{{0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 3}}},
		{"empty", 0, 3, []Range{{0, 0}, {0, 0}, {0, 0}}},
		{"single worker", 7, 1, []Range{{0, 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Partition(tt.length, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("range %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPartition_CoversContiguously(t *testing.T) {
	for n := 1; n <= 12; n++ {
		for length := 0; length <= 150; length++ {
			ranges := Partition(length, n)
			if len(ranges) != n {
				t.Fatalf("L=%d N=%d: %d ranges", length, n, len(ranges))
			}
			if ranges[0].Start != 0 || ranges[n-1].End != length {
				t.Fatalf("L=%d N=%d: bounds %v", length, n, ranges)
			}
			total := 0
			for i, r := range ranges {
				if r.Len() < 0 {
					t.Fatalf("L=%d N=%d: negative range %s", length, n, r)
				}
				if i > 0 && r.Start != ranges[i-1].End {
					t.Fatalf("L=%d N=%d: gap before range %d", length, n, i)
				}
				if i < n-1 && r.Len() != length/n {
					t.Fatalf("L=%d N=%d: range %d len %d", length, n, i, r.Len())
				}
				total += r.Len()
			}
			if total != length {
				t.Fatalf("L=%d N=%d: covered %d", length, n, total)
			}
			if ranges[n-1].Len() != length/n+length%n {
				t.Fatalf("L=%d N=%d: last range does not absorb remainder", length, n)
			}
		}
	}
}

func TestPartition_PanicsOnZeroWorkers(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Partition(10, 0) did not panic")
		}
	}()
	Partition(10, 0)
}

// ============================================================================
// Classification
// ============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{errors.Wrap(network.ErrConnection, "send"), KindConnection},
		{errors.Wrap(network.ErrSerialization, "decode"), KindSerialization},
		{errors.Wrap(network.ErrTimeout, "acquire"), KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{errors.Wrap(ErrLengthMismatch, "sent 3"), KindLengthMismatch},
		{errors.New("something else"), KindConnection},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

// ============================================================================
// DistributeUpdate
// ============================================================================

func TestDistributeUpdate_AllHealthy(t *testing.T) {
	w0, w1 := stepping(), stepping()
	c := newTestCoordinator(t, DefaultConfig(), w0, w1)

	ps := makeParticles(101)
	want := stepped(ps)

	rep := c.DistributeUpdate(context.Background(), ps)

	for i := range ps {
		if ps[i] != want[i] {
			t.Fatalf("particle %d = %+v, want %+v", i, ps[i], want[i])
		}
	}
	if rep.Advanced != 101 || rep.Frozen != 0 || len(rep.Failed()) != 0 {
		t.Errorf("report advanced=%d frozen=%d failed=%d", rep.Advanced, rep.Frozen, len(rep.Failed()))
	}
	if w0.sent[0] != 50 || w1.sent[0] != 51 {
		t.Errorf("sent sizes %v / %v, want 50 / 51", w0.sent, w1.sent)
	}
	if rep.Chunks[1].Range != (Range{50, 101}) {
		t.Errorf("chunk 1 range = %s", rep.Chunks[1].Range)
	}
}

func TestDistributeUpdate_FailingWorkerLeavesChunkUnchanged(t *testing.T) {
	w0 := stepping()
	w1 := failing(errors.Wrap(network.ErrConnection, "send: broken pipe"))
	c := newTestCoordinator(t, DefaultConfig(), w0, w1)

	ps := makeParticles(100)
	orig := make([]particle.Particle, len(ps))
	copy(orig, ps)
	want := stepped(ps)

	rep := c.DistributeUpdate(context.Background(), ps)

	for i := 0; i < 50; i++ {
		if ps[i] != want[i] {
			t.Fatalf("worker 0 particle %d not advanced: %+v", i, ps[i])
		}
	}
	for i := 50; i < 100; i++ {
		if ps[i] != orig[i] {
			t.Fatalf("worker 1 particle %d changed: %+v, want %+v", i, ps[i], orig[i])
		}
	}

	if c.Health(0) != Healthy || c.Health(1) != Degraded {
		t.Errorf("healths = %v, want [healthy degraded]", c.Healths())
	}
	failed := rep.Failed()
	if len(failed) != 1 || failed[0].Worker != 1 || failed[0].Kind != KindConnection {
		t.Fatalf("failed = %+v", failed)
	}
	if rep.Frozen != 50 || rep.Advanced != 50 {
		t.Errorf("frozen=%d advanced=%d, want 50/50", rep.Frozen, rep.Advanced)
	}
}

func TestDistributeUpdate_TimeoutDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	lateDone := make(chan struct{})
	w0 := stepping()
	w1 := stalled(release, lateDone)

	cfg := DefaultConfig()
	cfg.TaskTimeout = 50 * time.Millisecond
	c := newTestCoordinator(t, cfg, w0, w1)

	ps := makeParticles(10)
	orig := make([]particle.Particle, len(ps))
	copy(orig, ps)

	start := time.Now()
	rep := c.DistributeUpdate(context.Background(), ps)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("DistributeUpdate took %s, deadline not enforced", elapsed)
	}

	if rep.Chunks[1].Kind != KindTimeout {
		t.Errorf("chunk 1 kind = %s, want timeout", rep.Chunks[1].Kind)
	}
	if c.Health(1) != Degraded {
		t.Error("timed-out worker not degraded")
	}

	// Let the abandoned task finish; its result must never reach ps
	close(release)
	<-lateDone
	time.Sleep(20 * time.Millisecond)

	for i := 5; i < 10; i++ {
		if ps[i] != orig[i] {
			t.Fatalf("late result leaked into particle %d: %+v", i, ps[i])
		}
	}
}

func TestDistributeUpdate_CallerCancelKeepsHealth(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	w0 := stalled(release, nil)
	w1 := stepping()
	reg := status.NewRegistry()
	c, err := New([]Exchanger{w0, w1}, DefaultConfig(), WithRegistry(reg))
	if err != nil {
		t.Fatal(err)
	}
	fired := 0
	c.OnDegraded(func(int, error) { fired++ })

	ps := makeParticles(10)
	orig := make([]particle.Particle, len(ps))
	copy(orig, ps)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	rep := c.DistributeUpdate(ctx, ps)
	if elapsed := time.Since(start); elapsed >= DefaultTaskTimeout {
		t.Errorf("DistributeUpdate took %s, cancellation not honored", elapsed)
	}

	chunk := rep.Chunks[0]
	if !errors.Is(chunk.Err, context.Canceled) {
		t.Errorf("chunk 0 err = %v, want context.Canceled", chunk.Err)
	}
	if chunk.OK() || rep.Frozen != 5 {
		t.Errorf("chunk 0 kind=%s frozen=%d, want failed and 5 frozen", chunk.Kind, rep.Frozen)
	}
	for i := 0; i < 5; i++ {
		if ps[i] != orig[i] {
			t.Fatalf("cancelled chunk particle %d changed", i)
		}
	}

	if h := c.Healths(); h[0] != Healthy || h[1] != Healthy {
		t.Errorf("healths = %v, want both healthy", h)
	}
	if fired != 0 {
		t.Errorf("OnDegraded fired %d times on cancellation", fired)
	}
	if n := reg.Ints.Get("coordinator.worker.0.failures").Load(); n != 0 {
		t.Errorf("failures = %d, want 0", n)
	}
}

func TestDistributeUpdate_LengthMismatchDiscarded(t *testing.T) {
	short := &fakeWorker{reply: func(_ context.Context, chunk []particle.Particle) ([]particle.Particle, error) {
		return stepped(chunk)[:len(chunk)-1], nil
	}}
	c := newTestCoordinator(t, DefaultConfig(), stepping(), short)

	ps := makeParticles(8)
	orig := make([]particle.Particle, len(ps))
	copy(orig, ps)

	rep := c.DistributeUpdate(context.Background(), ps)

	if rep.Chunks[1].Kind != KindLengthMismatch {
		t.Errorf("kind = %s, want length_mismatch", rep.Chunks[1].Kind)
	}
	if !errors.Is(rep.Chunks[1].Err, ErrLengthMismatch) {
		t.Errorf("err = %v, want ErrLengthMismatch", rep.Chunks[1].Err)
	}
	for i := 4; i < 8; i++ {
		if ps[i] != orig[i] {
			t.Fatalf("particle %d modified by mismatched reply", i)
		}
	}
}

func TestDistributeUpdate_LocalFallbackAdvancesFailedChunk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fallback = FallbackLocal
	c := newTestCoordinator(t, cfg, stepping(), failing(errors.Wrap(network.ErrSerialization, "bad reply")))

	ps := makeParticles(6)
	want := stepped(ps)

	rep := c.DistributeUpdate(context.Background(), ps)

	for i := range ps {
		if ps[i] != want[i] {
			t.Fatalf("particle %d = %+v, want %+v", i, ps[i], want[i])
		}
	}
	if rep.Local != 3 || rep.Frozen != 0 || rep.Advanced != 3 {
		t.Errorf("local=%d frozen=%d advanced=%d", rep.Local, rep.Frozen, rep.Advanced)
	}
	if c.Health(1) != Degraded {
		t.Error("worker should still be degraded under local fallback")
	}
}

func TestDistributeUpdate_RestoresStyle(t *testing.T) {
	c := newTestCoordinator(t, DefaultConfig(), stepping())
	ps := makeParticles(4)
	c.DistributeUpdate(context.Background(), ps)
	for i, p := range ps {
		if p.Style != particle.StyleDistributed {
			t.Errorf("particle %d style = %s", i, p.Style)
		}
	}
}

func TestDistributeUpdate_EmptyRangesNotSent(t *testing.T) {
	workers := []*fakeWorker{stepping(), stepping(), stepping()}
	c := newTestCoordinator(t, DefaultConfig(), workers[0], workers[1], workers[2])

	ps := makeParticles(2)
	rep := c.DistributeUpdate(context.Background(), ps)

	if workers[0].callCount() != 0 || workers[1].callCount() != 0 {
		t.Error("empty ranges were sent")
	}
	if workers[2].callCount() != 1 {
		t.Errorf("last worker calls = %d, want 1", workers[2].callCount())
	}
	if len(rep.Failed()) != 0 {
		t.Errorf("empty ranges reported as failures: %+v", rep.Failed())
	}
}

func TestDistributeUpdate_EachIndexSentOnce(t *testing.T) {
	workers := make([]*fakeWorker, 4)
	ex := make([]Exchanger, 4)
	for i := range workers {
		workers[i] = stepping()
		ex[i] = workers[i]
	}
	c := newTestCoordinator(t, DefaultConfig(), ex...)

	ps := makeParticles(37)
	c.DistributeUpdate(context.Background(), ps)

	total := 0
	for _, w := range workers {
		for _, n := range w.sent {
			total += n
		}
	}
	if total != 37 {
		t.Errorf("sent %d particles, want 37", total)
	}
}

func TestDistributeUpdate_RecoveryAndHook(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	flaky := &fakeWorker{reply: func(ctx context.Context, chunk []particle.Particle) ([]particle.Particle, error) {
		if fail.Load() {
			return nil, errors.Wrap(network.ErrConnection, "reset")
		}
		return stepped(chunk), nil
	}}

	reg := status.NewRegistry()
	c, err := New([]Exchanger{flaky}, DefaultConfig(), WithRegistry(reg))
	if err != nil {
		t.Fatal(err)
	}

	var hookCalls, recoveredCalls []int
	c.OnDegraded(func(worker int, err error) {
		hookCalls = append(hookCalls, worker)
	})
	c.OnRecovered(func(worker int) {
		recoveredCalls = append(recoveredCalls, worker)
	})

	ps := makeParticles(4)
	c.DistributeUpdate(context.Background(), ps)
	c.DistributeUpdate(context.Background(), ps)

	if len(hookCalls) != 1 {
		t.Errorf("hook called %d times, want 1 (transition only)", len(hookCalls))
	}
	if got := reg.Strings.Get("coordinator.worker.0.health").Load(); got != "degraded" {
		t.Errorf("health metric = %q", got)
	}
	if got := reg.Ints.Get("coordinator.worker.0.failures").Load(); got != 2 {
		t.Errorf("failures metric = %d, want 2", got)
	}

	fail.Store(false)
	rep := c.DistributeUpdate(context.Background(), ps)
	if rep.Recovered != 1 || c.Health(0) != Healthy {
		t.Errorf("recovered=%d health=%s", rep.Recovered, c.Health(0))
	}
	if len(recoveredCalls) != 1 || recoveredCalls[0] != 0 {
		t.Errorf("recovered hook calls = %v", recoveredCalls)
	}
	if got := reg.Ints.Get("coordinator.ticks").Load(); got != 3 {
		t.Errorf("ticks metric = %d, want 3", got)
	}
	if c.LastReport().Tick != 3 {
		t.Errorf("LastReport tick = %d", c.LastReport().Tick)
	}
}

func TestAdvance_NeverFailsTick(t *testing.T) {
	c := newTestCoordinator(t, DefaultConfig(), failing(errors.Wrap(network.ErrConnection, "down")))
	if err := c.Advance(context.Background(), makeParticles(3)); err != nil {
		t.Errorf("Advance = %v, want nil", err)
	}
	if c.Name() != "distributed" {
		t.Errorf("Name = %q", c.Name())
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("New with no workers should fail")
	}
	if _, err := New([]Exchanger{nil}, DefaultConfig()); err == nil {
		t.Error("New with nil worker should fail")
	}
	c, err := New([]Exchanger{stepping()}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Config().TaskTimeout != DefaultTaskTimeout {
		t.Errorf("zero timeout not defaulted: %s", c.Config().TaskTimeout)
	}
}

// ============================================================================
// End to end over real connections
// ============================================================================

func TestDistributeUpdate_RealWorkers(t *testing.T) {
	const n = 3
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conns := make([]*network.Conn, n)
	for i := 0; i < n; i++ {
		a, b := net.Pipe()
		cfg := network.DebugConfig("pipe")
		conns[i] = network.NewConn(i, a, cfg)
		w := worker.New(b, cfg)
		go w.Serve(ctx)
		defer conns[i].Close()
	}

	c, err := New(FromConns(conns), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ps := makeParticles(20)
	want := stepped(stepped(ps))

	c.DistributeUpdate(ctx, ps)
	rep := c.DistributeUpdate(ctx, ps)

	if len(rep.Failed()) != 0 {
		t.Fatalf("failures: %+v", rep.Failed())
	}
	for i := range ps {
		if ps[i] != want[i] {
			t.Fatalf("particle %d = %+v, want %+v", i, ps[i], want[i])
		}
	}
}

func TestDistributeUpdate_BrokenWorkerConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a0, b0 := net.Pipe()
	a1, b1 := net.Pipe()
	cfg := network.DebugConfig("pipe")
	healthy := network.NewConn(0, a0, cfg)
	broken := network.NewConn(1, a1, cfg)
	defer healthy.Close()
	defer broken.Close()

	go worker.New(b0, cfg).Serve(ctx)
	b1.Close()

	c, err := New(FromConns([]*network.Conn{healthy, broken}), DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ps := makeParticles(10)
	orig := make([]particle.Particle, len(ps))
	copy(orig, ps)
	rep := c.DistributeUpdate(ctx, ps)

	if rep.Chunks[1].Kind != KindConnection {
		t.Errorf("kind = %s, want connection", rep.Chunks[1].Kind)
	}
	if ps[0].TTL != particle.DefaultTTL-1 {
		t.Errorf("healthy chunk not advanced: ttl %v", ps[0].TTL)
	}
	for i := 5; i < 10; i++ {
		if ps[i] != orig[i] {
			t.Fatalf("broken chunk particle %d changed", i)
		}
	}
}
