package app

import (
	"fmt"
	glog "log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

// openDB connects to Postgres when cfg.PostgresDSN is set, falling
// back to a local sqlite file for development. The gorm logger is
// tuned to ignore record-not-found noise from a polling worker's
// frequent empty lookups.
func openDB(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		glog.New(os.Stdout, "\r\n", glog.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormCfg := &gorm.Config{Logger: gormLog, TranslateError: true}

	if cfg.PostgresDSN != "" {
		log.Info("connecting to postgres")
		db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return db, nil
	}

	sqliteFile := cfg.SqliteFile
	if sqliteFile == "" {
		sqliteFile = "pipeline.db"
	}
	log.Warn("DATABASE_URL unset, falling back to sqlite", "file", sqliteFile)
	db, err := gorm.Open(sqlite.Open(sqliteFile), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	return db, nil
}
