package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"rtmpipe/internal/server/model"
)

type StageExecDao interface {
	Upsert(ctx context.Context, stageExec *model.StageExecution) error
	GetStagesByRunUUID(ctx context.Context, uuid string) ([]*model.StageExecution, error)
}

type stageExecDAO struct {
}

func NewStageExecDao() StageExecDao {
	return &stageExecDAO{}
}

func (d *stageExecDAO) Upsert(ctx context.Context, newStageExec *model.StageExecution) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stageExec model.StageExecution
		if err := tx.Where("run_uuid = ? AND stage = ?", newStageExec.RunUUID, newStageExec.Stage).Take(&stageExec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return tx.Create(newStageExec).Error
			}
			return err
		}

		stageExec.Status = newStageExec.Status
		stageExec.ExitCode = newStageExec.ExitCode
		stageExec.Tail = newStageExec.Tail
		if newStageExec.StartedAt != nil {
			stageExec.StartedAt = newStageExec.StartedAt
		}
		if newStageExec.EndedAt != nil {
			stageExec.EndedAt = newStageExec.EndedAt
		}
		return tx.Save(&stageExec).Error
	})
}

func (d *stageExecDAO) GetStagesByRunUUID(ctx context.Context, uuid string) ([]*model.StageExecution, error) {
	var stages []*model.StageExecution
	if err := db.WithContext(ctx).Where("run_uuid = ?", uuid).Order("seq").Find(&stages).Error; err != nil {
		return nil, err
	}
	return stages, nil
}
