package lock

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pu-ac-cn/uac-ticket/internal/clock"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 创建测试用的 SQLite 数据库
func setupTestDB(t *testing.T) *gorm.DB {
	path := filepath.Join(t.TempDir(), "lock.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.LockRecord{}))
	return db
}

func TestDatabaseLockingStrategy_AcquireRelease(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	a := NewDatabaseLockingStrategy(db, "node-a", time.Minute, clk)
	b := NewDatabaseLockingStrategy(db, "node-b", time.Minute, clk)

	ok, err := a.Acquire(ctx, "cleaner")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, "cleaner")
	require.NoError(t, err)
	assert.False(t, ok)

	// 非持有者释放不影响锁
	require.NoError(t, b.Release(ctx, "cleaner"))
	var record model.LockRecord
	require.NoError(t, db.First(&record, "name = ?", "cleaner").Error)
	assert.Equal(t, "node-a", record.Owner)

	require.NoError(t, a.Release(ctx, "cleaner"))
	ok, err = b.Acquire(ctx, "cleaner")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDatabaseLockingStrategy_TakeOverExpired(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	crashed := NewDatabaseLockingStrategy(db, "node-a", time.Minute, clk)
	survivor := NewDatabaseLockingStrategy(db, "node-b", time.Minute, clk)

	ok, err := crashed.Acquire(ctx, "cleaner")
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(59 * time.Second)
	ok, err = survivor.Acquire(ctx, "cleaner")
	require.NoError(t, err)
	assert.False(t, ok)

	clk.Advance(time.Second)
	ok, err = survivor.Acquire(ctx, "cleaner")
	require.NoError(t, err)
	assert.True(t, ok, "过期的锁应可被接管")

	var record model.LockRecord
	require.NoError(t, db.First(&record, "name = ?", "cleaner").Error)
	assert.Equal(t, "node-b", record.Owner)
	assert.True(t, record.ExpiresAt.Equal(clk.Now().Add(time.Minute)))

	// 原持有者恢复后释放，不应删除新持有者的锁
	require.NoError(t, crashed.Release(ctx, "cleaner"))
	var count int64
	require.NoError(t, db.Model(&model.LockRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDatabaseLockingStrategy_ConcurrentAcquire(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 8; i++ {
		s := NewDatabaseLockingStrategy(db, NewOwnerID(), time.Minute, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Acquire(ctx, "cleaner")
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
