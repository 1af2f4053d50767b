package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rtmpipe/pkg/api"
)

func TestRenderRuns(t *testing.T) {
	assert.Equal(t, "no runs yet", RenderRuns(nil))

	out := RenderRuns([]api.RunBrief{
		{RunID: "r-1", Status: "failed", TriggerType: "cron", ProjectKey: "QA", ExecutionKey: "QA-TE-1", FailedStage: "fetch", ErrorKind: "FetchError"},
		{RunID: "r-2", Status: "success", TriggerType: "manual", ProjectKey: "QA", ExecutionKey: "QA-TE-2"},
	})
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "r-1")
	assert.Contains(t, out, "fetch: FetchError")
	assert.Contains(t, out, "QA-TE-2")
}

func TestRenderRunDetail(t *testing.T) {
	out := RenderRunDetail(&api.RunDetail{
		RunBrief: api.RunBrief{RunID: "r-1", Status: "failed", ErrorKind: "RenderError"},
		Error:    "exit status 2",
		Stages: []api.StageDetail{
			{Stage: "render", Status: "failed", ExitCode: 2, Tail: "Traceback\nKeyError: 'steps'\n"},
			{Stage: "publish", Status: "skipped"},
		},
	})
	assert.Contains(t, out, "RenderError: exit status 2")
	assert.Contains(t, out, "render output")
	assert.Contains(t, out, "KeyError: 'steps'")
	assert.NotContains(t, out, "publish output")
}
