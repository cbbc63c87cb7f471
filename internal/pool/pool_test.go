package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubExecutor lets tests script unit behavior per task.
type stubExecutor struct {
	mu       sync.Mutex
	executed int
	warmed   int32
	warmErr  error
	onTask   func(Task) (*TaskResult, error)
}

func (s *stubExecutor) Execute(_ context.Context, task Task) (*TaskResult, error) {
	s.mu.Lock()
	s.executed++
	s.mu.Unlock()
	if s.onTask != nil {
		return s.onTask(task)
	}
	return &TaskResult{Format: task.Format, ByteSize: len(task.Source)}, nil
}

func (s *stubExecutor) Warm(context.Context) error {
	atomic.AddInt32(&s.warmed, 1)
	return s.warmErr
}

func (s *stubExecutor) executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name                                string
		minCount, itemCount, cpuHint, memHint int
		want                                int
	}{
		{"empty pool floors at two", 0, 0, 8, 8, 2},
		{"items capped by cpu", 0, 10, 4, 8, 4},
		{"items capped by memory", 0, 10, 8, 3, 3},
		{"minCount raises", 6, 1, 8, 8, 6},
		{"hard cap", 0, 100, 64, 64, 16},
		{"floor beats single-cpu cap", 0, 0, 1, 1, 2},
		{"cap respects cpu hint", 0, 100, 4, 64, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetSize(tt.minCount, tt.itemCount, tt.cpuHint, tt.memHint)
			if got != tt.want {
				t.Errorf("TargetSize(%d, %d, %d, %d) = %d, want %d",
					tt.minCount, tt.itemCount, tt.cpuHint, tt.memHint, got, tt.want)
			}
		})
	}
}

func TestDispatchRoundTrip(t *testing.T) {
	exec := &stubExecutor{}
	p := New(exec, WithHints(4, 8))
	defer p.Close()

	res, err := p.Dispatch(context.Background(), Task{Mode: ModeFixed, Format: "jpeg", Source: []byte("abc")})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if res.ByteSize != 3 {
		t.Errorf("ByteSize = %d, want 3", res.ByteSize)
	}
	if exec.executions() != 1 {
		t.Errorf("executor ran %d times, want 1", exec.executions())
	}
}

func TestDispatchGrowsEmptyPool(t *testing.T) {
	p := New(&stubExecutor{}, WithHints(4, 8))
	defer p.Close()

	if p.Size() != 0 {
		t.Fatalf("fresh pool size = %d, want 0", p.Size())
	}
	if _, err := p.Dispatch(context.Background(), Task{Mode: ModeFixed, Format: "jpeg"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if p.Size() != 2 {
		t.Errorf("pool size after lazy growth = %d, want 2", p.Size())
	}
}

func TestGrowNeverShrinks(t *testing.T) {
	p := New(&stubExecutor{}, WithHints(4, 8))
	defer p.Close()

	p.Grow(0, 10)
	if p.Size() != 4 {
		t.Fatalf("pool size = %d, want 4", p.Size())
	}

	p.Grow(0, 1)
	if p.Size() != 4 {
		t.Errorf("pool shrank to %d, must stay at 4", p.Size())
	}
}

func TestDispatchConcurrent(t *testing.T) {
	exec := &stubExecutor{}
	p := New(exec, WithHints(4, 8))
	defer p.Close()
	p.Grow(0, 8)

	const calls = 20
	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Dispatch(context.Background(), Task{Mode: ModeFixed, Format: "webp"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}
	if exec.executions() != calls {
		t.Errorf("executor ran %d times, want %d", exec.executions(), calls)
	}
}

func TestFaultRejectsPendingAndReplacesUnit(t *testing.T) {
	exec := &stubExecutor{
		onTask: func(task Task) (*TaskResult, error) {
			if task.Format == "poison" {
				panic("decoder blew the stack")
			}
			return &TaskResult{Format: task.Format}, nil
		},
	}
	p := New(exec, WithHints(4, 8))
	defer p.Close()
	p.Grow(0, 4)
	sizeBefore := p.Size()

	_, err := p.Dispatch(context.Background(), Task{Mode: ModeFixed, Format: "poison"})
	if err == nil {
		t.Fatal("dispatch to a faulting unit should fail")
	}
	var wf *WorkerFault
	if !errors.As(err, &wf) {
		t.Fatalf("error = %v (%T), want *WorkerFault", err, err)
	}

	if p.Size() != sizeBefore {
		t.Errorf("pool size changed across fault: %d -> %d", sizeBefore, p.Size())
	}

	// The replacement unit on the same slot keeps serving.
	for i := 0; i < sizeBefore*2; i++ {
		if _, err := p.Dispatch(context.Background(), Task{Mode: ModeFixed, Format: "jpeg"}); err != nil {
			t.Fatalf("dispatch %d after fault: %v", i, err)
		}
	}
}

func TestWarmupBestEffort(t *testing.T) {
	exec := &stubExecutor{warmErr: errors.New("no vips")}
	p := New(exec, WithHints(4, 8))
	defer p.Close()

	p.Warmup(0, 10)
	if p.Size() != 4 {
		t.Fatalf("pool size after warmup = %d, want 4", p.Size())
	}

	// Warm failure must not break dispatch.
	if _, err := p.Dispatch(context.Background(), Task{Mode: ModeFixed, Format: "jpeg"}); err != nil {
		t.Fatalf("Dispatch() after failed warmup: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&exec.warmed) == 0 {
		select {
		case <-deadline:
			t.Fatal("warmup request never reached a unit")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWarmupOnce(t *testing.T) {
	exec := &stubExecutor{}
	p := New(exec, WithHints(4, 8))
	defer p.Close()

	p.Warmup(0, 4)
	p.Warmup(0, 4)

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&exec.warmed) == 0 {
		select {
		case <-deadline:
			t.Fatal("warmup request never reached a unit")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// Settle, then confirm no second warmup arrived.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&exec.warmed); got != 1 {
		t.Errorf("executor warmed %d times, want 1", got)
	}
}

func TestWarmupAbandonedOnClose(t *testing.T) {
	base := runtime.NumGoroutine()

	block := make(chan struct{})
	exec := &stubExecutor{
		onTask: func(Task) (*TaskResult, error) {
			<-block
			return &TaskResult{}, nil
		},
	}
	p := New(exec, WithHints(2, 2))
	p.Grow(0, 2)

	// Occupy unit 0 so the warmup request cannot be received.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Dispatch(ctx, Task{Mode: ModeFixed, Format: "jpeg"})
	}()

	deadline := time.After(2 * time.Second)
	for exec.executions() == 0 {
		select {
		case <-deadline:
			t.Fatal("blocking task never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Warmup(0, 0)
	time.Sleep(20 * time.Millisecond)

	p.Close()
	cancel()
	close(block)
	wg.Wait()

	// The warmup sender and every unit goroutine must wind down; a
	// sender parked on the busy unit's channel would keep the count up.
	deadline = time.After(2 * time.Second)
	for runtime.NumGoroutine() > base {
		select {
		case <-deadline:
			t.Fatalf("%d goroutines still live, want at most %d", runtime.NumGoroutine(), base)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := atomic.LoadInt32(&exec.warmed); got != 0 {
		t.Errorf("executor warmed %d times after close, want 0", got)
	}
}

func TestDispatchContextCancelled(t *testing.T) {
	block := make(chan struct{})
	exec := &stubExecutor{
		onTask: func(Task) (*TaskResult, error) {
			<-block
			return &TaskResult{}, nil
		},
	}
	p := New(exec, WithHints(2, 2))
	defer p.Close()
	defer close(block)
	p.Grow(0, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := p.Dispatch(ctx, Task{Mode: ModeFixed, Format: "jpeg"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dispatch() error = %v, want deadline exceeded", err)
	}
}
