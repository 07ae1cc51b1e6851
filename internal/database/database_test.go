package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pu-ac-cn/uac-ticket/internal/config"
)

// 测试用的数据库配置
// PostgreSQL / MySQL 测试需要通过环境变量提供地址，未提供时跳过
func getTestPostgresConfig(t *testing.T) *config.DatabaseConfig {
	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("跳过测试：未设置 TEST_POSTGRES_HOST")
	}
	return &config.DatabaseConfig{
		Driver: "postgres",
		Postgres: config.PostgresConfig{
			Host:     host,
			Port:     5432,
			User:     os.Getenv("TEST_POSTGRES_USER"),
			Password: os.Getenv("TEST_POSTGRES_PASSWORD"),
			DBName:   os.Getenv("TEST_POSTGRES_DB"),
			SSLMode:  "disable",
		},
	}
}

func getTestMySQLConfig(t *testing.T) *config.DatabaseConfig {
	host := os.Getenv("TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("跳过测试：未设置 TEST_MYSQL_HOST")
	}
	return &config.DatabaseConfig{
		Driver: "mysql",
		MySQL: config.MySQLConfig{
			Host:      host,
			Port:      3306,
			User:      os.Getenv("TEST_MYSQL_USER"),
			Password:  os.Getenv("TEST_MYSQL_PASSWORD"),
			DBName:    os.Getenv("TEST_MYSQL_DB"),
			Charset:   "utf8mb4",
			ParseTime: true,
			Loc:       "Local",
		},
	}
}

func getTestSQLiteConfig(t *testing.T) *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}
}

// TestInitPostgres 测试 PostgreSQL 初始化
func TestInitPostgres(t *testing.T) {
	if err := Init(getTestPostgresConfig(t)); err != nil {
		t.Skipf("跳过测试：无法连接 PostgreSQL: %v", err)
	}
	defer Close()

	if GetDB() == nil {
		t.Error("GetDB() 返回 nil")
	}
}

// TestInitMySQL 测试 MySQL 初始化
func TestInitMySQL(t *testing.T) {
	if err := Init(getTestMySQLConfig(t)); err != nil {
		t.Skipf("跳过测试：无法连接 MySQL: %v", err)
	}
	defer Close()

	if GetDB() == nil {
		t.Error("GetDB() 返回 nil")
	}
}

// TestInitSQLite 测试 SQLite 初始化
func TestInitSQLite(t *testing.T) {
	if err := Init(getTestSQLiteConfig(t)); err != nil {
		t.Fatalf("初始化 SQLite 失败: %v", err)
	}
	defer Close()

	if GetDB() == nil {
		t.Fatal("GetDB() 返回 nil")
	}
	if err := Ping(); err != nil {
		t.Errorf("Ping 失败: %v", err)
	}
}

// TestInitUnsupportedDriver 测试不支持的数据库驱动
func TestInitUnsupportedDriver(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver: "unsupported",
	}
	if err := Init(cfg); err == nil {
		t.Error("期望返回错误，但没有")
	}
}

// TestPingNotInitialized 测试未初始化时的 Ping
func TestPingNotInitialized(t *testing.T) {
	// 重置数据库实例
	db = nil

	if err := Ping(); err == nil {
		t.Error("期望返回错误，但没有")
	}
}

// TestCloseNil 测试关闭未初始化的连接
func TestCloseNil(t *testing.T) {
	db = nil

	if err := Close(); err != nil {
		t.Errorf("Close nil 数据库应该不报错: %v", err)
	}
}

// TestAutoMigrate 测试票据表迁移
func TestAutoMigrate(t *testing.T) {
	if err := Init(getTestSQLiteConfig(t)); err != nil {
		t.Fatalf("初始化 SQLite 失败: %v", err)
	}
	defer Close()

	if err := AutoMigrate(Models()...); err != nil {
		t.Fatalf("AutoMigrate 失败: %v", err)
	}

	for _, table := range []string{"tickets", "locks"} {
		if !GetDB().Migrator().HasTable(table) {
			t.Errorf("迁移后缺少表 %s", table)
		}
	}
}

// TestAutoMigrateNotInitialized 测试未初始化时的自动迁移
func TestAutoMigrateNotInitialized(t *testing.T) {
	db = nil

	if err := AutoMigrate(Models()...); err == nil {
		t.Error("期望返回错误，但没有")
	}
}
