package model

import "gorm.io/gorm"

const (
	RoleViewer   = "viewer"
	RoleExecutor = "executor"
)

type User struct {
	gorm.Model
	Username string `gorm:"type:varchar(255);uniqueIndex;not null"`
	Password string `gorm:"type:varchar(255);not null"`
	Role     string `gorm:"type:varchar(16);not null;default:'viewer'"` // viewer, executor
}
