package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"rtmpipe/internal/common"
	"rtmpipe/internal/server/model"
)

type RunExecDao interface {
	// create or update run
	Upsert(ctx context.Context, run *model.RunExecution) error
	GetRunByUUID(ctx context.Context, uuid string) (*model.RunExecution, error)
	// most recent first
	GetLatestRuns(ctx context.Context, limit int) ([]*model.RunExecution, error)
}

type runExecDAO struct {
}

func NewRunExecDao() RunExecDao {
	return &runExecDAO{}
}

func (d *runExecDAO) Upsert(ctx context.Context, run *model.RunExecution) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var runExec model.RunExecution
		if err := tx.Where("run_uuid = ?", run.RunUUID).Take(&runExec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(run).Error
			}
			return err
		}

		runExec.Status = run.Status
		runExec.State = run.State
		if run.TriggerType != "" {
			runExec.TriggerType = run.TriggerType
		}
		if run.Params != "" {
			runExec.Params = run.Params
			runExec.ProjectKey = run.ProjectKey
			runExec.ExecutionKey = run.ExecutionKey
		}
		if run.FailedStage != "" {
			runExec.FailedStage = run.FailedStage
			runExec.ErrorKind = run.ErrorKind
			runExec.Error = run.Error
		}
		if run.ArchiveDir != "" {
			runExec.ArchiveDir = run.ArchiveDir
		}
		if run.EndedAt != nil {
			runExec.EndedAt = run.EndedAt
		}
		return tx.Save(&runExec).Error
	})
}

func (d *runExecDAO) GetRunByUUID(ctx context.Context, uuid string) (*model.RunExecution, error) {
	var runExec model.RunExecution
	if err := db.WithContext(ctx).Where("run_uuid = ?", uuid).Take(&runExec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NewErrNo(common.RunNotExists)
		}
		return nil, err
	}
	return &runExec, nil
}

func (d *runExecDAO) GetLatestRuns(ctx context.Context, limit int) ([]*model.RunExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []*model.RunExecution
	if err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}
