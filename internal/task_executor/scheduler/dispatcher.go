package scheduler

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"rtmpipe/internal/common"
	"rtmpipe/pkg/queue"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrQueueFull     = errors.New("run queue is full")
	ErrStopped       = errors.New("dispatcher stopped")
)

// Runner executes one run to completion.
type Runner interface {
	SchedulePipeline(ctx context.Context, req *queue.RunRequest) (*Outcome, error)
}

// Dispatcher feeds run requests to a single worker so at most one run is
// active. With the reject policy a request arriving while a run is active
// fails; with the queue policy it waits its turn (FIFO).
type Dispatcher struct {
	runner   Runner
	policy   string
	capacity int
	requests chan *queue.RunRequest
	onDone   func(*queue.RunRequest, *Outcome, error)
	logger   *zap.Logger

	mu       sync.Mutex
	inflight int
	active   string
	stopped  bool
}

func NewDispatcher(runner Runner, policy string, size int, logger *zap.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := 1
	if policy == common.QueuePolicyQueue {
		capacity = size + 1
	}
	return &Dispatcher{
		runner:   runner,
		policy:   policy,
		capacity: capacity,
		requests: make(chan *queue.RunRequest, capacity),
		logger:   logger,
	}
}

// OnDone registers a hook called after each run.
func (d *Dispatcher) OnDone(fn func(*queue.RunRequest, *Outcome, error)) {
	d.onDone = fn
}

// Submit accepts req. queued reports whether it has to wait for another run.
func (d *Dispatcher) Submit(req *queue.RunRequest) (queued bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false, ErrStopped
	}
	if d.inflight >= d.capacity {
		if d.policy == common.QueuePolicyQueue {
			return false, ErrQueueFull
		}
		return false, ErrRunInProgress
	}
	queued = d.inflight > 0
	d.inflight++
	d.requests <- req
	return queued, nil
}

// Active returns the id of the running run, if any.
func (d *Dispatcher) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Pending is the number of accepted runs that have not finished.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight
}

// Run works the queue until ctx is done. Cancelling ctx also cancels the
// active run; requests still waiting are dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	defer func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		for {
			select {
			case req := <-d.requests:
				d.drop(req)
			default:
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			// select 可能在 ctx 结束后仍选中排队的请求
			if ctx.Err() != nil {
				d.drop(req)
				return
			}
			d.execute(ctx, req)
		}
	}
}

func (d *Dispatcher) drop(req *queue.RunRequest) {
	d.mu.Lock()
	d.inflight--
	d.mu.Unlock()
	d.logger.Warn("queued run dropped", zap.String("run_id", req.RunID))
	if d.onDone != nil {
		d.onDone(req, nil, ErrStopped)
	}
}

func (d *Dispatcher) execute(ctx context.Context, req *queue.RunRequest) {
	d.mu.Lock()
	d.active = req.RunID
	d.mu.Unlock()

	outcome, err := d.runner.SchedulePipeline(ctx, req)
	if err != nil {
		d.logger.Error("run not started", zap.String("run_id", req.RunID), zap.Error(err))
	}

	d.mu.Lock()
	d.active = ""
	d.inflight--
	d.mu.Unlock()

	if d.onDone != nil {
		d.onDone(req, outcome, err)
	}
}
