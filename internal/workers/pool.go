// Package workers runs keyed tasks on ordered lanes. Tasks that share a key
// run one at a time in submission order; different keys run concurrently.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// PoolConfig configures the lane pool
type PoolConfig struct {
	Name            string        `json:"name" mapstructure:"name" yaml:"name"`
	NumLanes        int           `json:"numLanes" mapstructure:"num_lanes" yaml:"num_lanes"`
	LaneQueueSize   int           `json:"laneQueueSize" mapstructure:"lane_queue_size" yaml:"lane_queue_size"` // per lane
	ShutdownTimeout time.Duration `json:"shutdownTimeout" mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	PanicRecovery   bool          `json:"panicRecovery" mapstructure:"panic_recovery" yaml:"panic_recovery"`
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig(name string) PoolConfig {
	return PoolConfig{
		Name:            name,
		NumLanes:        runtime.NumCPU() * 2,
		LaneQueueSize:   1024,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolStats contains pool statistics
type PoolStats struct {
	Lanes          int           `json:"lanes"`
	Queued         int           `json:"queued"`
	TasksSubmitted int64         `json:"tasksSubmitted"`
	TasksCompleted int64         `json:"tasksCompleted"`
	TasksFailed    int64         `json:"tasksFailed"`
	TasksRejected  int64         `json:"tasksRejected"`
	PanicRecovered int64         `json:"panicRecovered"`
	Uptime         time.Duration `json:"uptime"`
}

type job struct {
	key  string
	task Task
	done chan error // nil for fire-and-forget
}

// LanePool hashes each key onto a fixed lane. A lane is a single goroutine
// draining a bounded FIFO queue.
type LanePool struct {
	logger *zap.Logger
	config PoolConfig

	mu      sync.RWMutex // guards lanes against close during send
	lanes   []chan job
	wg      sync.WaitGroup
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// NewLanePool creates a lane pool
func NewLanePool(logger *zap.Logger, config PoolConfig) *LanePool {
	if config.NumLanes <= 0 {
		config.NumLanes = 1
	}
	if config.LaneQueueSize <= 0 {
		config.LaneQueueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LanePool{
		logger: logger.Named("lanes"),
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the lane goroutines
func (p *LanePool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running.Load() {
		return
	}

	p.logger.Info("starting lane pool",
		zap.String("name", p.config.Name),
		zap.Int("lanes", p.config.NumLanes),
		zap.Int("laneQueueSize", p.config.LaneQueueSize),
	)

	p.started = time.Now()
	p.lanes = make([]chan job, p.config.NumLanes)
	for i := range p.lanes {
		ch := make(chan job, p.config.LaneQueueSize)
		p.lanes[i] = ch
		p.wg.Add(1)
		go p.run(i, ch)
	}
	p.running.Store(true)
}

func (p *LanePool) run(id int, queue <-chan job) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("lane", id))
	for j := range queue {
		err := p.execute(logger, j)
		if j.done != nil {
			j.done <- err
		}
	}
}

func (p *LanePool) execute(logger *zap.Logger, j job) (err error) {
	if p.config.PanicRecovery {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				logger.Error("lane recovered from panic",
					zap.String("key", j.key),
					zap.Any("panic", r),
				)
				err = &PanicError{Recovered: r}
			}
		}()
	}

	err = j.task.Execute(p.ctx)
	if err != nil {
		p.failed.Add(1)
		logger.Debug("task failed", zap.String("key", j.key), zap.Error(err))
	} else {
		p.completed.Add(1)
	}
	return err
}

// Lane returns the lane index key maps to.
func (p *LanePool) Lane(key string) int {
	return int(xxhash.Sum64String(key) % uint64(p.config.NumLanes))
}

func (p *LanePool) enqueue(j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.lanes[p.Lane(j.key)] <- j:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Submit queues task behind every earlier task with the same key. It never
// blocks; a full lane returns ErrQueueFull.
func (p *LanePool) Submit(key string, task Task) error {
	return p.enqueue(job{key: key, task: task})
}

// SubmitFunc submits a function as a task
func (p *LanePool) SubmitFunc(key string, fn func(ctx context.Context) error) error {
	return p.Submit(key, TaskFunc(fn))
}

// SubmitWait submits a task and waits for it to run.
func (p *LanePool) SubmitWait(ctx context.Context, key string, task Task) error {
	done := make(chan error, 1)
	if err := p.enqueue(job{key: key, task: task, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting work, drains queued tasks and waits for the lanes
// to exit.
func (p *LanePool) Stop() error {
	p.mu.Lock()
	if !p.running.Swap(false) {
		p.mu.Unlock()
		return nil
	}
	for _, ch := range p.lanes {
		close(ch)
	}
	p.mu.Unlock()

	p.logger.Info("stopping lane pool", zap.String("name", p.config.Name))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("lane pool stopped gracefully", zap.String("name", p.config.Name))
		return nil

	case <-time.After(p.config.ShutdownTimeout):
		p.cancel()
		p.logger.Warn("lane pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// QueueLength returns the number of queued tasks across lanes
func (p *LanePool) QueueLength() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, ch := range p.lanes {
		n += len(ch)
	}
	return n
}

// IsRunning returns whether the pool is running
func (p *LanePool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics
func (p *LanePool) Stats() PoolStats {
	var uptime time.Duration
	if p.running.Load() {
		uptime = time.Since(p.started)
	}
	return PoolStats{
		Lanes:          p.config.NumLanes,
		Queued:         p.QueueLength(),
		TasksSubmitted: p.submitted.Load(),
		TasksCompleted: p.completed.Load(),
		TasksFailed:    p.failed.Load(),
		TasksRejected:  p.rejected.Load(),
		PanicRecovered: p.panics.Load(),
		Uptime:         uptime,
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "lane queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return "panic recovered"
}
