package service

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"github.com/pu-ac-cn/uac-ticket/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 每种注册表都解码出独立副本，并发语义必须由注册表自身保证
func ticketRegistryBackends() map[string]func(t *testing.T) repository.TicketRegistry {
	return map[string]func(t *testing.T) repository.TicketRegistry{
		"memory": func(t *testing.T) repository.TicketRegistry {
			return repository.NewMemoryTicketRegistry()
		},
		"redis": func(t *testing.T) repository.TicketRegistry {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { client.Close() })
			return repository.NewRedisTicketRegistry(client, nil)
		},
		"database": func(t *testing.T) repository.TicketRegistry {
			path := filepath.Join(t.TempDir(), "tickets.db")
			db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			require.NoError(t, err)
			sqlDB, err := db.DB()
			require.NoError(t, err)
			sqlDB.SetMaxOpenConns(1)
			t.Cleanup(func() { sqlDB.Close() })
			require.NoError(t, db.AutoMigrate(&model.TicketRecord{}))

			codec, err := repository.NewTicketCodec(repository.CodecCBOR)
			require.NoError(t, err)
			return repository.NewDatabaseTicketRegistry(db, codec)
		},
	}
}
