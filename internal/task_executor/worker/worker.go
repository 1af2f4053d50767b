// Package worker moves run requests through Redis: the server side
// enqueues, a single-concurrency asynq server executes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"rtmpipe/internal/common"
	"rtmpipe/internal/task_executor/scheduler"
	"rtmpipe/pkg/queue"
)

const QueueName = "rtmpipe"

func RedisOpt(cfg common.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
}

// NewRunTask wraps req as an asynq task. Runs are never retried.
func NewRunTask(req *queue.RunRequest) (*asynq.Task, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(queue.RUN_EXECUTE, payload, asynq.Queue(QueueName), asynq.MaxRetry(0)), nil
}

// Client enqueues runs; it mirrors the local dispatcher's Submit.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	policy    string
}

func NewClient(cfg common.QueueConfig) *Client {
	opt := RedisOpt(cfg)
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		policy:    cfg.Policy,
	}
}

func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// busy reports whether a run is active or waiting in the queue.
func (c *Client) busy() (bool, error) {
	info, err := c.inspector.GetQueueInfo(QueueName)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return false, nil
		}
		return false, err
	}
	return info.Active+info.Pending > 0, nil
}

func (c *Client) Submit(req *queue.RunRequest) (queued bool, err error) {
	busy, err := c.busy()
	if err != nil {
		return false, fmt.Errorf("inspecting queue: %w", err)
	}
	if busy && c.policy == common.QueuePolicyReject {
		return false, scheduler.ErrRunInProgress
	}
	task, err := NewRunTask(req)
	if err != nil {
		return false, err
	}
	if _, err := c.client.Enqueue(task, asynq.TaskID(req.RunID)); err != nil {
		return false, fmt.Errorf("enqueue run %s: %w", req.RunID, err)
	}
	return busy, nil
}

// Worker executes queued runs one at a time.
type Worker struct {
	srv    *asynq.Server
	runner scheduler.Runner
	logger *zap.Logger
}

func NewWorker(cfg common.QueueConfig, runner scheduler.Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{QueueName: 1},
	})
	return &Worker{srv: srv, runner: runner, logger: logger}
}

// HandleRun executes one queued run. An empty trigger type is left to the
// scheduler, which treats it as manual. A failed run is a completed task; only
// a run that could not start is reported back to asynq.
func (w *Worker) HandleRun(ctx context.Context, t *asynq.Task) error {
	var req queue.RunRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("decoding run request: %v: %w", err, asynq.SkipRetry)
	}
	outcome, err := w.runner.SchedulePipeline(ctx, &req)
	if err != nil {
		w.logger.Error("run not started", zap.String("run_id", req.RunID), zap.Error(err))
		return fmt.Errorf("run %s: %v: %w", req.RunID, err, asynq.SkipRetry)
	}
	w.logger.Info("run finished",
		zap.String("run_id", outcome.RunID),
		zap.String("state", string(outcome.State)),
		zap.String("failed_stage", outcome.FailedStage),
	)
	return nil
}

func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.RUN_EXECUTE, w.HandleRun)
	return mux
}

// Run blocks until the process receives a termination signal.
func (w *Worker) Run() error {
	return w.srv.Run(w.Mux())
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}
