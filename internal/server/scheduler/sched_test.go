package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rtmpipe/pkg/queue"
)

type fakeSubmitter struct {
	err  error
	reqs []*queue.RunRequest
}

func (f *fakeSubmitter) Submit(req *queue.RunRequest) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.reqs = append(f.reqs, req)
	return true, nil
}

func TestLoadSchedules(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewSchedulerService(sub, zap.NewNop())

	pipeline := &queue.PipelineConfig{
		Triggers: []queue.Trigger{{Cron: "0 6 * * *"}, {Webhook: "/webhook/rtm"}, {Cron: "0 6 * * *"}, {Cron: "30 18 * * 1-5"}},
		Params:   queue.Params{ProjectKey: "QA", ExecutionKey: "QA-TE-1"},
	}
	require.NoError(t, s.LoadSchedules(pipeline))
	assert.Len(t, s.cron.Entries(), 2)

	pipeline.Triggers = pipeline.Triggers[:1]
	require.NoError(t, s.LoadSchedules(pipeline))
	assert.Len(t, s.cron.Entries(), 1)

	pipeline.Triggers = []queue.Trigger{{Cron: "every day"}}
	assert.Error(t, s.LoadSchedules(pipeline))
}

func TestFire(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewSchedulerService(sub, zap.NewNop())

	s.fire(queue.Params{ProjectKey: "QA", ExecutionKey: "QA-TE-1"})
	require.Len(t, sub.reqs, 1)
	assert.Equal(t, queue.TriggerCron, sub.reqs[0].TriggerType)
	assert.NotEmpty(t, sub.reqs[0].RunID)

	sub.err = errors.New("busy")
	s.fire(queue.Params{ProjectKey: "QA", ExecutionKey: "QA-TE-1"})
	assert.Len(t, sub.reqs, 1)
}
