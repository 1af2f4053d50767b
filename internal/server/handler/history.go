package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"rtmpipe/internal/common"
	"rtmpipe/internal/server/dao"
	"rtmpipe/pkg/api"
)

const timeLayout = "2006-01-02 15:04:05"

func ListRunHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	runs, err := dao.NewRunExecDao().GetLatestRuns(c, limit)
	if err != nil {
		common.Error(c, common.NewErrNo(common.GetHistoryFail))
		return
	}

	// first output running, then output other status
	runningList := make([]api.RunBrief, 0)
	otherList := make([]api.RunBrief, 0)
	for _, run := range runs {
		brief := api.RunBrief{
			RunID:        run.RunUUID,
			Status:       run.Status,
			TriggerType:  run.TriggerType,
			ProjectKey:   run.ProjectKey,
			ExecutionKey: run.ExecutionKey,
			FailedStage:  run.FailedStage,
			ErrorKind:    run.ErrorKind,
			StartTime:    run.CreatedAt.Format(timeLayout),
		}
		if run.EndedAt != nil {
			brief.EndTime = run.EndedAt.Format(timeLayout)
		}
		if brief.Status == "running" {
			runningList = append(runningList, brief)
		} else {
			otherList = append(otherList, brief)
		}
	}
	common.Success(c, append(runningList, otherList...))
}

func GetRunHistoryDetail(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	run, err := dao.NewRunExecDao().GetRunByUUID(c, runID)
	if err != nil {
		if common.ConvertErr(err).ErrCode == common.RunNotExists {
			common.Error(c, err)
			return
		}
		common.Error(c, common.NewErrNo(common.GetHistoryDetailFail))
		return
	}

	stageExecs, err := dao.NewStageExecDao().GetStagesByRunUUID(c, runID)
	if err != nil {
		common.Error(c, common.NewErrNo(common.GetHistoryDetailFail))
		return
	}

	detail := &api.RunDetail{
		RunBrief: api.RunBrief{
			RunID:        run.RunUUID,
			Status:       run.Status,
			TriggerType:  run.TriggerType,
			ProjectKey:   run.ProjectKey,
			ExecutionKey: run.ExecutionKey,
			FailedStage:  run.FailedStage,
			ErrorKind:    run.ErrorKind,
			StartTime:    run.CreatedAt.Format(timeLayout),
		},
		Params:      run.Params,
		Error:       run.Error,
		ArchivePath: run.ArchiveDir,
		Stages:      make([]api.StageDetail, 0, len(stageExecs)),
	}
	if run.EndedAt != nil {
		detail.EndTime = run.EndedAt.Format(timeLayout)
	}
	for _, se := range stageExecs {
		sd := api.StageDetail{
			Stage:    se.Stage,
			Status:   se.Status,
			ExitCode: se.ExitCode,
			Tail:     se.Tail,
		}
		if se.StartedAt != nil {
			sd.StartTime = se.StartedAt.Format(timeLayout)
		}
		if se.EndedAt != nil {
			sd.EndTime = se.EndedAt.Format(timeLayout)
		}
		detail.Stages = append(detail.Stages, sd)
	}
	common.Success(c, detail)
}
