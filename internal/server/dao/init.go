package dao

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rtmpipe/internal/common"
	"rtmpipe/internal/server/model"
)

var db *gorm.DB

// InitDB opens the history database and migrates the schema.
func InitDB(cfg common.DBConfig) error {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return fmt.Errorf("creating db dir: %w", err)
		}
		dialector = sqlite.Open(cfg.DSN)
	}
	database, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	return SetDB(database)
}

// SetDB installs database and migrates it.
func SetDB(database *gorm.DB) error {
	if err := database.AutoMigrate(&model.RunExecution{}, &model.StageExecution{}, &model.User{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db = database
	return nil
}

// Ready reports whether a database has been installed.
func Ready() bool {
	return db != nil
}
