package dao

import (
	"context"
	"encoding/json"

	"rtmpipe/internal/server/model"
	"rtmpipe/internal/task_executor/scheduler"
	"rtmpipe/internal/task_executor/stage"
)

func stageSeq(name string) int {
	for i, s := range stage.Order {
		if s == name {
			return i
		}
	}
	return len(stage.Order)
}

// RunStatus maps a scheduler state onto the coarse history status.
func RunStatus(s scheduler.State) string {
	switch s {
	case scheduler.StateSucceeded:
		return "success"
	case scheduler.StateFailed:
		return "failed"
	default:
		return "running"
	}
}

// NewRunRecorder returns a status callback that keeps the run history in
// step with the scheduler.
func NewRunRecorder() func(*scheduler.StatusUpdate) error {
	runs := NewRunExecDao()
	stages := NewStageExecDao()

	return func(u *scheduler.StatusUpdate) error {
		ctx := context.Background()
		at := u.Time

		switch {
		case u.Stage != "":
			se := &model.StageExecution{
				RunUUID:  u.RunID,
				Stage:    u.Stage,
				Seq:      stageSeq(u.Stage),
				Status:   u.StageStatus,
				ExitCode: u.ExitCode,
				Tail:     u.Tail,
			}
			if u.StageStatus == stage.StatusRunning {
				se.StartedAt = &at
			} else {
				se.EndedAt = &at
			}
			if err := stages.Upsert(ctx, se); err != nil {
				return err
			}
			return runs.Upsert(ctx, &model.RunExecution{RunUUID: u.RunID, Status: RunStatus(u.State), State: string(u.State)})

		case u.State == scheduler.StatePending:
			p := u.Params
			p.TriggerToken = ""
			params, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := runs.Upsert(ctx, &model.RunExecution{
				RunUUID:      u.RunID,
				TriggerType:  u.TriggerType,
				ProjectKey:   u.Params.ProjectKey,
				ExecutionKey: u.Params.ExecutionKey,
				Params:       string(params),
				Status:       RunStatus(u.State),
				State:        string(u.State),
			}); err != nil {
				return err
			}
			for i, name := range stage.Order {
				if err := stages.Upsert(ctx, &model.StageExecution{RunUUID: u.RunID, Stage: name, Seq: i, Status: stage.StatusPending}); err != nil {
					return err
				}
			}
			return nil

		default:
			return runs.Upsert(ctx, &model.RunExecution{
				RunUUID:     u.RunID,
				Status:      RunStatus(u.State),
				State:       string(u.State),
				FailedStage: u.FailedStage,
				ErrorKind:   string(u.Kind),
				Error:       u.Error,
				ArchiveDir:  u.ArchiveDir,
				EndedAt:     &at,
			})
		}
	}
}
