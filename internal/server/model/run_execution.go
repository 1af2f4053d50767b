package model

import (
	"time"

	"gorm.io/gorm"
)

type RunExecution struct {
	gorm.Model
	RunUUID      string `gorm:"type:varchar(64);not null;uniqueIndex"`
	TriggerType  string `gorm:"type:varchar(16);not null"` // manual, cron, webhook
	ProjectKey   string `gorm:"type:varchar(128)"`
	ExecutionKey string `gorm:"type:varchar(128)"`
	Params       string `gorm:"type:text"`                  // JSON, trigger token redacted
	Status       string `gorm:"type:varchar(16);not null"`  // running, success, failed
	State        string `gorm:"type:varchar(32);not null"`
	FailedStage  string `gorm:"type:varchar(32)"`
	ErrorKind    string `gorm:"type:varchar(32)"`
	Error        string `gorm:"type:text"`
	ArchiveDir   string `gorm:"type:varchar(512)"`
	EndedAt      *time.Time
}
