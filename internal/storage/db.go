package storage

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cnap-oss/devkit/internal/common"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// IsPostgresDSN은 DSN이 PostgreSQL 연결 문자열인지 판별합니다.
func IsPostgresDSN(dsn string) bool {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}

// NewGormLogger는 w로 출력하는 GORM logger를 생성합니다.
// slug 조회처럼 정상 흐름에서 나오는 record not found는 기록하지 않습니다.
func NewGormLogger(w io.Writer, level gormlogger.LogLevel) gormlogger.Interface {
	return gormlogger.New(log.New(w, "\r\n", log.LstdFlags), gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Open은 Config에 맞는 드라이버로 gorm DB를 엽니다.
// postgres DSN이 아니면 SQLite 파일로 간주하고 상위 디렉토리를 생성합니다.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage: empty DSN")
	}

	gormCfg := &gorm.Config{
		Logger:               NewGormLogger(os.Stderr, cfg.LogLevel),
		PrepareStmt:          cfg.PrepareStmt,
		DisableAutomaticPing: cfg.DisableAutomaticPing,
	}

	var dialector gorm.Dialector
	if IsPostgresDSN(cfg.DSN) {
		dialector = postgres.Open(cfg.DSN)
	} else {
		if !strings.HasPrefix(cfg.DSN, "file:") && cfg.DSN != ":memory:" {
			if err := common.EnsureDir(filepath.Dir(cfg.DSN)); err != nil {
				return nil, fmt.Errorf("storage: create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// AutoMigrate는 모든 devkit 테이블 스키마를 생성/갱신합니다.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("storage: nil db handle")
	}
	return db.AutoMigrate(
		&Project{},
		&ProjectFunction{},
		&ProjectFunctionPhase{},
		&ProjectFunctionPhaseTask{},
		&Checkcard{},
	)
}

// Close는 내부 sql.DB 연결을 닫습니다.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
