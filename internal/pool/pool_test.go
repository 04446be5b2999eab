package pool_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TTT3216/ic2/internal/pool"
	"github.com/TTT3216/ic2/internal/work"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// gateExecutor blocks every item until release is closed.
type gateExecutor struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{release: make(chan struct{})}
}

func (g *gateExecutor) Execute(ctx context.Context, item pool.WorkItem) (work.Output, error) {
	g.calls.Add(1)
	n := g.running.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer g.running.Add(-1)

	select {
	case <-g.release:
	case <-ctx.Done():
		return work.Output{}, ctx.Err()
	}
	return work.Output{Message: item.TaskID}, nil
}

func newTestPool(t *testing.T, cfg pool.Config, exec pool.Executor) *pool.Pool {
	t.Helper()
	p := pool.New(cfg, exec, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Close(ctx)
	})
	return p
}

func waitDone(t *testing.T, h *pool.Handle) pool.Result {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("work item did not finish within 5s")
	}
	r, ok := h.Result()
	if !ok {
		t.Fatal("Result() reports unfinished after Done closed")
	}
	return r
}

func TestDefaultWorkersFloor(t *testing.T) {
	if got := pool.DefaultWorkers(); got < 2 {
		t.Errorf("DefaultWorkers() = %d, want >= 2", got)
	}
}

func TestNewAppliesDefaultWorkers(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 0}, pool.NewInProcess(testRegistry()))
	if p.Workers() != pool.DefaultWorkers() {
		t.Errorf("Workers() = %d, want %d", p.Workers(), pool.DefaultWorkers())
	}
}

func TestSubmitSuccess(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 2, QueueSize: 4}, pool.NewInProcess(testRegistry()))

	h, err := p.Submit(pool.WorkItem{TaskID: "t1", Kind: "echo", Input: []byte("hello")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r := waitDone(t, h)
	if r.Err != nil {
		t.Fatalf("Err = %v, want nil", r.Err)
	}
	if len(r.Output.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(r.Output.Artifacts))
	}
	if string(r.Output.Artifacts[0].Data) != "hello" {
		t.Errorf("artifact data = %q, want %q", r.Output.Artifacts[0].Data, "hello")
	}
}

func TestSubmitWorkError(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 1}, pool.NewInProcess(testRegistry()))

	h, err := p.Submit(pool.WorkItem{TaskID: "t1", Kind: "fail"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := waitDone(t, h)
	if r.Err == nil || r.Err.Error() != "encoder rejected input" {
		t.Errorf("Err = %v, want encoder rejected input", r.Err)
	}
}

func TestSubmitPanicBecomesWorkFault(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 1}, pool.NewInProcess(testRegistry()))

	h, err := p.Submit(pool.WorkItem{TaskID: "t1", Kind: "panic"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := waitDone(t, h)
	if !errors.Is(r.Err, pool.ErrWorkFault) {
		t.Errorf("Err = %v, want ErrWorkFault", r.Err)
	}

	// The worker must survive the panic and keep serving.
	h2, err := p.Submit(pool.WorkItem{TaskID: "t2", Kind: "echo", Input: []byte("x")})
	if err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	if r2 := waitDone(t, h2); r2.Err != nil {
		t.Errorf("second item Err = %v, want nil", r2.Err)
	}
}

// panicExecutor panics outside any work function.
type panicExecutor struct{}

func (panicExecutor) Execute(context.Context, pool.WorkItem) (work.Output, error) {
	panic("executor bug")
}

func TestExecutorPanicStillCompletes(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 1}, panicExecutor{})

	h, err := p.Submit(pool.WorkItem{TaskID: "t1", Kind: "any"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r := waitDone(t, h); !errors.Is(r.Err, pool.ErrWorkFault) {
		t.Errorf("Err = %v, want ErrWorkFault", r.Err)
	}
}

func TestUnknownKindFails(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 1}, pool.NewInProcess(testRegistry()))

	h, _ := p.Submit(pool.WorkItem{TaskID: "t1", Kind: "transcode"})
	if r := waitDone(t, h); !errors.Is(r.Err, work.ErrUnknownKind) {
		t.Errorf("Err = %v, want ErrUnknownKind", r.Err)
	}
}

func TestSubmitDoesNotBlock(t *testing.T) {
	g := newGateExecutor()
	p := newTestPool(t, pool.Config{Workers: 1, QueueSize: 1}, g)
	defer close(g.release)

	start := time.Now()
	h, err := p.Submit(pool.WorkItem{TaskID: "t1"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Submit blocked on execution")
	}
	select {
	case <-h.Done():
		t.Fatal("item finished before release")
	default:
	}
}

func TestQueueFull(t *testing.T) {
	g := newGateExecutor()
	p := newTestPool(t, pool.Config{Workers: 1, QueueSize: 1}, g)
	defer close(g.release)

	if _, err := p.Submit(pool.WorkItem{TaskID: "running"}); err != nil {
		t.Fatalf("Submit running: %v", err)
	}
	// Wait until the worker has taken the first item off the queue.
	deadline := time.Now().Add(5 * time.Second)
	for g.running.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := p.Submit(pool.WorkItem{TaskID: "queued"}); err != nil {
		t.Fatalf("Submit queued: %v", err)
	}

	_, err := p.Submit(pool.WorkItem{TaskID: "overflow"})
	if !errors.Is(err, pool.ErrQueueFull) {
		t.Fatalf("Submit overflow error = %v, want ErrQueueFull", err)
	}
}

func TestWorkerCountBoundsConcurrency(t *testing.T) {
	g := newGateExecutor()
	p := newTestPool(t, pool.Config{Workers: 3, QueueSize: 20}, g)

	const k = 12
	handles := make([]*pool.Handle, k)
	for i := range handles {
		h, err := p.Submit(pool.WorkItem{TaskID: "t"})
		if err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
		handles[i] = h
	}

	time.Sleep(50 * time.Millisecond)
	close(g.release)

	for _, h := range handles {
		waitDone(t, h)
	}
	if peak := g.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
	if calls := g.calls.Load(); calls != k {
		t.Errorf("executions = %d, want %d", calls, k)
	}
}

func TestOnCompleteExactlyOnce(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 1}, pool.NewInProcess(testRegistry()))

	h, _ := p.Submit(pool.WorkItem{TaskID: "t1", Kind: "echo"})
	var early atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	h.OnComplete(func(pool.Result) {
		early.Add(1)
		wg.Done()
	})
	waitDone(t, h)
	wg.Wait()

	// Registering after completion still fires, once.
	var late atomic.Int32
	wg.Add(1)
	h.OnComplete(func(r pool.Result) {
		if r.Err != nil {
			t.Errorf("late callback Err = %v", r.Err)
		}
		late.Add(1)
		wg.Done()
	})
	wg.Wait()

	time.Sleep(20 * time.Millisecond)
	if early.Load() != 1 || late.Load() != 1 {
		t.Errorf("callbacks fired early=%d late=%d, want 1 each", early.Load(), late.Load())
	}
}

func TestCallbackPanicDoesNotKillWorker(t *testing.T) {
	p := newTestPool(t, pool.Config{Workers: 1}, pool.NewInProcess(testRegistry()))

	h, _ := p.Submit(pool.WorkItem{TaskID: "t1", Kind: "echo"})
	h.OnComplete(func(pool.Result) { panic("callback bug") })
	waitDone(t, h)

	h2, err := p.Submit(pool.WorkItem{TaskID: "t2", Kind: "echo"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, h2)
}

func TestCloseDrainsQueue(t *testing.T) {
	p := pool.New(pool.Config{Workers: 2, QueueSize: 10}, pool.NewInProcess(testRegistry()), testLogger())

	var handles []*pool.Handle
	for i := 0; i < 6; i++ {
		h, err := p.Submit(pool.WorkItem{TaskID: "t", Kind: "echo"})
		if err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
		handles = append(handles, h)
	}

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, h := range handles {
		if _, ok := h.Result(); !ok {
			t.Errorf("handle %d not finished after Close", i)
		}
	}

	if _, err := p.Submit(pool.WorkItem{TaskID: "late", Kind: "echo"}); !errors.Is(err, pool.ErrPoolClosed) {
		t.Errorf("Submit after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestCloseDeadlineCancelsRunning(t *testing.T) {
	g := newGateExecutor()
	p := pool.New(pool.Config{Workers: 1, QueueSize: 1}, g, testLogger())

	h, _ := p.Submit(pool.WorkItem{TaskID: "stuck"})
	deadline := time.Now().Add(5 * time.Second)
	for g.running.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close error = %v, want DeadlineExceeded", err)
	}

	r := waitDone(t, h)
	if !errors.Is(r.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", r.Err)
	}
}
