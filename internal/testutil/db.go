package testutil

import (
	"fmt"
	"testing"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewTestRepository는 테스트마다 독립된 SQLite 인메모리 DB로 Repository를 생성합니다.
// 테스트 종료 시 연결을 닫습니다.
func NewTestRepository(t *testing.T) *storage.Repository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// SQLite 쓰기 잠금 충돌을 피하기 위해 연결 하나만 사용합니다.
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, storage.AutoMigrate(db))

	repo, err := storage.NewRepository(db)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = storage.Close(db)
	})
	return repo
}
