// Package scheduler turns the cron triggers of the pipeline definition
// into submitted runs.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"rtmpipe/internal/server/handler"
	"rtmpipe/pkg/queue"
)

type SchedulerService struct {
	cron      *cron.Cron
	submitter handler.Submitter
	logger    *zap.Logger

	mu            sync.Mutex
	scheduledJobs map[string]cron.EntryID // cron spec -> entry
}

func NewSchedulerService(submitter handler.Submitter, logger *zap.Logger) *SchedulerService {
	return &SchedulerService{
		cron:          cron.New(),
		submitter:     submitter,
		logger:        logger,
		scheduledJobs: make(map[string]cron.EntryID),
	}
}

func (s *SchedulerService) Start() {
	s.logger.Info("starting scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop waits for a running job to return.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()
}

// LoadSchedules replaces every registered job with the cron triggers of
// pipeline.
func (s *SchedulerService) LoadSchedules(pipeline *queue.PipelineConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for spec, id := range s.scheduledJobs {
		s.cron.Remove(id)
		delete(s.scheduledJobs, spec)
	}

	for _, trigger := range pipeline.Triggers {
		if trigger.Cron == "" {
			continue
		}
		if _, exists := s.scheduledJobs[trigger.Cron]; exists {
			continue
		}
		params := pipeline.Params
		id, err := s.cron.AddFunc(trigger.Cron, func() { s.fire(params) })
		if err != nil {
			return fmt.Errorf("cron trigger %q: %w", trigger.Cron, err)
		}
		s.scheduledJobs[trigger.Cron] = id
		s.logger.Info("scheduled run", zap.String("cron", trigger.Cron))
	}
	return nil
}

func (s *SchedulerService) fire(params queue.Params) {
	req := &queue.RunRequest{
		RunID:       uuid.NewString(),
		TriggerType: queue.TriggerCron,
		Params:      params,
	}
	queued, err := s.submitter.Submit(req)
	if err != nil {
		// 上一次运行尚未结束时跳过本次触发
		s.logger.Warn("cron run not started", zap.String("run_id", req.RunID), zap.Error(err))
		return
	}
	s.logger.Info("cron run submitted", zap.String("run_id", req.RunID), zap.Bool("queued", queued))
}
