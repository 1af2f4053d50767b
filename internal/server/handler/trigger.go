package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rtmpipe/internal/common"
	"rtmpipe/internal/task_executor/scheduler"
	"rtmpipe/pkg/api"
	"rtmpipe/pkg/queue"
)

// Submitter hands a run to the executor: the local dispatcher or the
// asynq client.
type Submitter interface {
	Submit(req *queue.RunRequest) (queued bool, err error)
}

type RunHandler struct {
	submitter     Submitter
	pipeline      *queue.PipelineConfig
	webhookSecret string
}

func NewRunHandler(submitter Submitter, pipeline *queue.PipelineConfig, webhookSecret string) *RunHandler {
	return &RunHandler{submitter: submitter, pipeline: pipeline, webhookSecret: webhookSecret}
}

func (h *RunHandler) TriggerRun(c *gin.Context) {
	var req api.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	if !remoteFormat(req.ReportFormat) {
		common.Error(c, common.NewErrNo(common.ParamsInvalid))
		return
	}
	h.start(c, queue.TriggerManual, queue.Params{
		ProjectKey:   req.ProjectKey,
		ExecutionKey: req.ExecutionKey,
		Recipients:   req.Recipients,
		TriggerToken: req.Token,
		ReportFormat: req.ReportFormat,
	})
}

// remoteFormat reports whether a remote caller may ask for format. Both
// formats are a pipeline setting, callers pick one.
func remoteFormat(format string) bool {
	return format == "" || format == queue.FormatHTML || format == queue.FormatPDF
}

func (h *RunHandler) start(c *gin.Context, trigger string, params queue.Params) {
	params = params.WithDefaults(h.pipeline.Params)
	if err := params.Validate(); err != nil {
		common.Error(c, common.WrapErrNo(common.ParamsInvalid, err))
		return
	}
	if err := h.pipeline.ValidateParams(params); err != nil {
		common.Error(c, common.WrapErrNo(common.ParamsInvalid, err))
		return
	}

	runID := uuid.NewString()
	queued, err := h.submitter.Submit(&queue.RunRequest{RunID: runID, TriggerType: trigger, Params: params})
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) || errors.Is(err, scheduler.ErrQueueFull) {
			common.Error(c, common.NewErrNo(common.RunInProgress))
			return
		}
		common.GetLogger().Error("submit run failed", zap.String("run_id", runID), zap.Error(err))
		common.Error(c, common.NewErrNo(common.RunStartFail))
		return
	}
	common.GetLogger().Info("run submitted",
		zap.String("run_id", runID),
		zap.String("trigger", trigger),
		zap.Bool("queued", queued),
	)
	common.Success(c, api.TriggerResponse{RunID: runID, Queued: queued})
}

func Healthz(c *gin.Context) {
	common.Success(c, gin.H{"status": "ok"})
}
