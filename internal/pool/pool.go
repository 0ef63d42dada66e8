package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"runtime/pprof"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultIdleTimeout is how long a worker waits for work before exiting
// when Config.IdleTimeout is zero.
const DefaultIdleTimeout = 60 * time.Second

const defaultNamePrefix = "worker"

var (
	// ErrInvalidConfig is returned by New for unusable pool sizing.
	ErrInvalidConfig = errors.New("invalid pool configuration")

	// ErrPoolClosed is returned for work submitted after Shutdown.
	ErrPoolClosed = errors.New("pool is shut down")

	// ErrShutdownTimeout is returned when Shutdown gives up waiting for workers.
	ErrShutdownTimeout = errors.New("error in shutting down: timeout reached")
)

// Config describes a pool. It is copied by New and not consulted again.
type Config struct {
	// MaxWorkers bounds the number of concurrently running tasks. Required.
	MaxWorkers int

	// IdleTimeout is how long a worker may sit without work before it
	// exits. Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration

	// NamePrefix is used to name workers <NamePrefix>-<n>. Defaults to "worker".
	NamePrefix string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	MaxWorkers int   `json:"max_workers"`
	Workers    int   `json:"workers"`
	Active     int   `json:"active"`
	Idle       int   `json:"idle"`
	Queued     int   `json:"queued"`
	Completed  int64 `json:"completed"`
}

type worker struct {
	seq  int64
	name string
}

// Pool is a bounded, self-shrinking set of worker goroutines fed from an
// unbounded FIFO backlog. It is safe for concurrent use.
type Pool struct {
	maxWorkers  int
	idleTimeout time.Duration
	names       *NameSequence
	logger      *slog.Logger
	metrics     poolMetrics

	mu      sync.Mutex
	queue   []func()
	workers map[string]*worker
	idle    int
	closed  bool

	// wakeup is closed, then replaced, whenever idle workers should look
	// at the queue again.
	wakeup chan struct{}

	// done is closed once the pool is shut down and the last worker exited.
	done chan struct{}

	completed atomic.Int64
}

// New builds a pool from cfg. No workers are started until work arrives.
func New(cfg Config) (*Pool, error) {
	if cfg.MaxWorkers <= 0 {
		return nil, fmt.Errorf("%w: max workers must be positive, got %d", ErrInvalidConfig, cfg.MaxWorkers)
	}
	if cfg.IdleTimeout < 0 {
		return nil, fmt.Errorf("%w: idle timeout must not be negative, got %s", ErrInvalidConfig, cfg.IdleTimeout)
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = DefaultIdleTimeout
	}
	prefix := cfg.NamePrefix
	if prefix == "" {
		prefix = defaultNamePrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		maxWorkers:  cfg.MaxWorkers,
		idleTimeout: idle,
		names:       NewNameSequence(prefix),
		logger:      logger.With("pool", prefix),
		metrics:     newPoolMetrics(prefix),
		workers:     make(map[string]*worker),
		wakeup:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	p.observeLocked()
	return p, nil
}

// Name returns the pool's worker name prefix.
func (p *Pool) Name() string {
	return p.names.Prefix()
}

// Instance distinguishes this pool from others with the same name in
// metrics.
func (p *Pool) Instance() string {
	return p.metrics.instance()
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MaxWorkers returns the configured bound.
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}

// IdleTimeout returns the effective idle timeout.
func (p *Pool) IdleTimeout() time.Duration {
	return p.idleTimeout
}

// Execute schedules task. If fewer than MaxWorkers workers are alive a new
// one is started for it; otherwise it joins the backlog. Execute never
// blocks on the task itself.
func (p *Pool) Execute(task func()) error {
	if task == nil {
		return errors.New("nil task")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	if len(p.workers) < p.maxWorkers {
		p.spawnLocked(task)
		p.observeLocked()
		return nil
	}

	p.queue = append(p.queue, task)
	if p.idle > 0 {
		p.wakeLocked()
	}
	p.observeLocked()
	return nil
}

func (p *Pool) spawnLocked(first func()) {
	seq, name := p.names.next()
	w := &worker{seq: seq, name: name}
	p.workers[name] = w

	go pprof.Do(context.Background(), pprof.Labels("pool", p.Name(), "worker", name), func(context.Context) {
		p.run(w, first)
	})
}

func (p *Pool) wakeLocked() {
	close(p.wakeup)
	p.wakeup = make(chan struct{})
}

// run is the worker loop.
func (p *Pool) run(w *worker, task func()) {
	p.logger.Debug("worker started", "worker", w.name)
	for task != nil {
		p.runTask(w, task)
		task = p.next(w)
	}
}

func (p *Pool) runTask(w *worker, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker", w.name, "panic", r, "stack", string(debug.Stack()))
		}
		p.completed.Add(1)
		p.metrics.completed.Inc()
	}()
	task()
}

// next hands the worker its next task, waiting up to the idle timeout. A nil
// result means the worker has been removed from the pool and must exit.
func (p *Pool) next(w *worker) func() {
	deadline := time.Now().Add(p.idleTimeout)

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if len(p.queue) > 0 {
			task := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.observeLocked()
			return task
		}

		if p.closed {
			p.removeLocked(w, "shutdown")
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.removeLocked(w, "idle")
			return nil
		}

		wake := p.wakeup
		p.idle++
		p.observeLocked()
		p.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()

		p.mu.Lock()
		p.idle--
	}
}

func (p *Pool) removeLocked(w *worker, reason string) {
	delete(p.workers, w.name)
	p.observeLocked()
	p.logger.Debug("worker stopped", "worker", w.name, "reason", reason)

	if p.closed && len(p.workers) == 0 {
		p.finishLocked()
	}
}

// finishLocked runs once, when the closed pool loses its last worker.
func (p *Pool) finishLocked() {
	close(p.done)
	p.metrics.delete()
}

func (p *Pool) observeLocked() {
	p.metrics.workers.Set(float64(len(p.workers)))
	p.metrics.active.Set(float64(len(p.workers) - p.idle))
	p.metrics.queued.Set(float64(len(p.queue)))
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxWorkers: p.maxWorkers,
		Workers:    len(p.workers),
		Active:     len(p.workers) - p.idle,
		Idle:       p.idle,
		Queued:     len(p.queue),
		Completed:  p.completed.Load(),
	}
}

// Size returns the number of live workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// QueueLen returns the number of tasks waiting for a worker.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// CompletedCount returns the number of tasks that have finished running.
func (p *Pool) CompletedCount() int64 {
	return p.completed.Load()
}

// WorkerNames returns the names of live workers in creation order.
func (p *Pool) WorkerNames() []string {
	p.mu.Lock()
	ws := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		ws = append(ws, w)
	}
	p.mu.Unlock()

	slices.SortFunc(ws, func(a, b *worker) int {
		return int(a.seq - b.seq)
	})
	names := make([]string, len(ws))
	for i, w := range ws {
		names[i] = w.name
	}
	return names
}

// Shutdown stops accepting work, lets the workers drain the backlog and
// waits for them to exit or for ctx to be done. Calling it again returns
// ErrPoolClosed.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	p.wakeLocked()
	if len(p.workers) == 0 {
		p.finishLocked()
	}
	queued := len(p.queue)
	p.mu.Unlock()

	p.logger.Info("shutting down pool", "queued", queued)

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
	}
}

// Done is closed after Shutdown once every worker has exited.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}
