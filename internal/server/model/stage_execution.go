package model

import (
	"time"

	"gorm.io/gorm"
)

type StageExecution struct {
	gorm.Model
	RunUUID   string `gorm:"not null;type:varchar(64);uniqueIndex:idx_run_uuid_stage"`
	Stage     string `gorm:"type:varchar(32);not null;uniqueIndex:idx_run_uuid_stage"`
	Seq       int    `gorm:"not null"`
	Status    string `gorm:"type:varchar(16);not null"` // pending, running, success, failed, skipped
	ExitCode  int
	Tail      string `gorm:"type:text"`
	StartedAt *time.Time
	EndedAt   *time.Time
}
