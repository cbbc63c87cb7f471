package pool

import (
	"context"
	"fmt"
	"sync"

	"pixelpress/internal/formats"
	"pixelpress/internal/logging"
	"pixelpress/internal/metrics"
)

// Mode selects how a unit processes a task.
type Mode string

const (
	// ModeFixed encodes once at the task's quality.
	ModeFixed Mode = "fixed"
	// ModeTargetSize searches quality and dimensions toward TargetBytes.
	ModeTargetSize Mode = "target_size"
)

// Task is one unit of work. Immutable once dispatched.
type Task struct {
	Mode        Mode
	Source      []byte
	Format      formats.Format
	Quality     float64
	TargetBytes int
	MaxWidth    int
	MaxHeight   int
}

// TaskResult is a unit's successful reply.
type TaskResult struct {
	Bytes       []byte
	ByteSize    int
	Format      formats.Format
	Width       int
	Height      int
	Displayable bool
	Converged   bool
	// Preview is a small jpeg rendition, set only when Format is not
	// directly displayable.
	Preview []byte
}

// WorkerFault reports that the unit executing a call crashed before
// replying. The task may or may not have had an effect.
type WorkerFault struct {
	Unit   int
	Reason string
}

func (f *WorkerFault) Error() string {
	return fmt.Sprintf("worker unit %d faulted: %s", f.Unit, f.Reason)
}

// Executor runs tasks inside a unit. Implementations must be safe for
// concurrent use across units.
type Executor interface {
	Execute(ctx context.Context, task Task) (*TaskResult, error)
	// Warm pre-initializes heavyweight resources (codec libraries).
	Warm(ctx context.Context) error
}

// warmupID is the reserved correlation id for the warmup round trip; real
// calls start above it.
const warmupID uint64 = 0

type request struct {
	ctx    context.Context
	id     uint64
	warmup bool
	task   Task
}

type reply struct {
	id     uint64
	unit   int
	result *TaskResult
	err    error
}

type fault struct {
	unit   int
	reason string
}

// unit is one execution slot. The request channel survives goroutine
// replacement so dispatchers blocked on a send are picked up by the
// successor.
type unit struct {
	slot int
	reqs chan request
}

type pendingCall struct {
	unit int
	ch   chan reply
}

// Pool owns a growing set of isolated execution units and correlates their
// asynchronous replies to outstanding Dispatch calls.
type Pool struct {
	exec Executor

	// cpuHint and memHint override hardware detection; zero means auto.
	cpuHint int
	memHint int

	mu       sync.Mutex
	units    []*unit
	pending  map[uint64]pendingCall
	nextID   uint64
	nextUnit int
	warmed   bool

	replies chan reply
	faults  chan fault
	done    chan struct{}
}

// Option tunes pool construction.
type Option func(*Pool)

// WithHints fixes the CPU and memory sizing hints, mainly for tests.
func WithHints(cpu, mem int) Option {
	return func(p *Pool) {
		p.cpuHint = cpu
		p.memHint = mem
	}
}

// New creates an empty pool. Units are spawned by Warmup or lazily by the
// first Dispatch.
func New(exec Executor, opts ...Option) *Pool {
	p := &Pool{
		exec:    exec,
		pending: make(map[uint64]pendingCall),
		nextID:  warmupID + 1,
		replies: make(chan reply, 16),
		faults:  make(chan fault, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.correlate()
	return p
}

// Grow brings the pool up to the size computed from minCount and itemCount.
// The pool never shrinks; a target below the current size is a no-op.
func (p *Pool) Grow(minCount, itemCount int) {
	target := TargetSize(minCount, itemCount, p.cpuHintValue(), p.memHintValue())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.growLocked(target)
}

func (p *Pool) growLocked(target int) {
	for len(p.units) < target {
		u := &unit{slot: len(p.units), reqs: make(chan request)}
		p.units = append(p.units, u)
		go p.runUnit(u)
	}
	metrics.PoolUnits.Set(float64(len(p.units)))
}

// Size returns the current number of live units.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.units)
}

// Warmup grows the pool and asks the first unit to pre-load codec
// libraries. Best effort: a warmup failure is logged and later dispatches
// fall back to on-demand initialization.
func (p *Pool) Warmup(minCount, itemCount int) {
	p.Grow(minCount, itemCount)

	p.mu.Lock()
	if p.warmed || len(p.units) == 0 {
		p.mu.Unlock()
		return
	}
	p.warmed = true
	first := p.units[0]
	p.mu.Unlock()

	go func() {
		select {
		case first.reqs <- request{ctx: context.Background(), id: warmupID, warmup: true}:
		case <-p.done:
		}
	}()
}

// Dispatch sends task to the next unit round-robin and blocks until its
// reply arrives, the unit faults, or ctx ends. An empty pool grows first.
func (p *Pool) Dispatch(ctx context.Context, task Task) (*TaskResult, error) {
	p.mu.Lock()
	if len(p.units) == 0 {
		p.growLocked(TargetSize(0, 1, p.cpuHintValue(), p.memHintValue()))
	}
	u := p.units[p.nextUnit%len(p.units)]
	p.nextUnit++

	id := p.nextID
	p.nextID++
	ch := make(chan reply, 1)
	p.pending[id] = pendingCall{unit: u.slot, ch: ch}
	p.mu.Unlock()
	metrics.PoolPendingCalls.Inc()

	select {
	case u.reqs <- request{ctx: ctx, id: id, task: task}:
	case <-ctx.Done():
		p.unregister(id)
		return nil, ctx.Err()
	}

	select {
	case rep := <-ch:
		status := "ok"
		if rep.err != nil {
			status = "error"
		}
		metrics.PoolTasksTotal.WithLabelValues(string(task.Mode), status).Inc()
		return rep.result, rep.err
	case <-ctx.Done():
		p.unregister(id)
		return nil, ctx.Err()
	}
}

// Close stops the correlation loop. Outstanding dispatches are not waited
// for; intended for process shutdown.
func (p *Pool) Close() {
	close(p.done)
}

func (p *Pool) unregister(id uint64) {
	p.mu.Lock()
	_, ok := p.pending[id]
	delete(p.pending, id)
	p.mu.Unlock()
	if ok {
		metrics.PoolPendingCalls.Dec()
	}
}

// runUnit is a unit goroutine's task loop. A panic in the executor
// surfaces as a fault message and ends the goroutine; the pool replaces it
// on the same slot.
func (p *Pool) runUnit(u *unit) {
	defer func() {
		if r := recover(); r != nil {
			p.faults <- fault{unit: u.slot, reason: fmt.Sprint(r)}
		}
	}()

	for {
		select {
		case req := <-u.reqs:
			if req.warmup {
				err := p.exec.Warm(req.ctx)
				p.replies <- reply{id: warmupID, unit: u.slot, err: err}
				continue
			}
			res, err := p.exec.Execute(req.ctx, req.task)
			p.replies <- reply{id: req.id, unit: u.slot, result: res, err: err}
		case <-p.done:
			return
		}
	}
}

// correlate is the pool's single bookkeeping loop: it routes replies to
// pending calls and handles unit faults.
func (p *Pool) correlate() {
	for {
		select {
		case rep := <-p.replies:
			p.handleReply(rep)
		case f := <-p.faults:
			p.handleFault(f)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) handleReply(rep reply) {
	if rep.id == warmupID {
		if rep.err != nil {
			logging.Warn("Codec warmup on unit %d failed, falling back to lazy init: %v", rep.unit, rep.err)
		} else {
			logging.Debug("Codec warmup complete on unit %d", rep.unit)
		}
		return
	}

	p.mu.Lock()
	call, ok := p.pending[rep.id]
	delete(p.pending, rep.id)
	p.mu.Unlock()

	if !ok {
		// Already settled, e.g. via fault recovery.
		logging.Debug("Dropping reply for unknown call %d from unit %d", rep.id, rep.unit)
		return
	}
	metrics.PoolPendingCalls.Dec()
	call.ch <- rep
}

func (p *Pool) handleFault(f fault) {
	metrics.PoolFaultsTotal.Inc()

	p.mu.Lock()
	var orphaned []pendingCall
	for id, call := range p.pending {
		if call.unit == f.unit {
			orphaned = append(orphaned, call)
			delete(p.pending, id)
		}
	}
	// Replace the dead goroutine on the same slot, reusing its request
	// channel so blocked senders carry over.
	u := p.units[f.unit]
	go p.runUnit(u)
	p.mu.Unlock()

	if len(orphaned) == 0 {
		logging.Debug("Unit %d faulted with no pending work: %s", f.unit, f.reason)
		return
	}

	logging.Warn("Unit %d faulted, rejecting %d pending call(s): %s", f.unit, len(orphaned), f.reason)
	err := &WorkerFault{Unit: f.unit, Reason: f.reason}
	for _, call := range orphaned {
		metrics.PoolPendingCalls.Dec()
		call.ch <- reply{unit: f.unit, err: err}
	}
}

func (p *Pool) cpuHintValue() int {
	if p.cpuHint > 0 {
		return p.cpuHint
	}
	return detectCPUHint()
}

func (p *Pool) memHintValue() int {
	if p.memHint > 0 {
		return p.memHint
	}
	return detectMemHint()
}
