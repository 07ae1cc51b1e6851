package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("创建测试配置文件失败: %v", err)
	}
	return configPath
}

// TestLoad 测试配置加载
func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  addr: ":9090"
  mode: "release"

database:
  driver: "sqlite"
  sqlite:
    path: "/tmp/tickets.db"

redis:
  addr: "testredis:6380"
  db: 1

ticket:
  tgt:
    max_time_to_live: "10h"
    time_to_kill: "2h"
  st:
    time_to_kill: "30s"
    consumed_grace_period: "15s"
  registry:
    type: "redis"
    codec: "cbor"
  cleaner:
    enabled: false
    start_delay: "5s"
    repeat_interval: "2m"

lock:
  type: "redis"
  name: "cleaner"
  ttl: "3m"
  owner: "node-a"

logout:
  type: "http"
  signing_key: "secret"

ops:
  signing_key: "ops-secret"
  token_ttl: "30m"
`)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	// 验证服务器配置
	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr 期望 :9090, 实际 %s", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.SQLite.Path != "/tmp/tickets.db" {
		t.Errorf("Database 配置错误: %+v", cfg.Database)
	}
	if cfg.Redis.Addr != "testredis:6380" || cfg.Redis.DB != 1 {
		t.Errorf("Redis 配置错误: %+v", cfg.Redis)
	}

	// 验证票据配置
	if cfg.Ticket.TGT.MaxTimeToLive != 10*time.Hour {
		t.Errorf("TGT.MaxTimeToLive 期望 10h, 实际 %v", cfg.Ticket.TGT.MaxTimeToLive)
	}
	if cfg.Ticket.ST.TimeToKill != 30*time.Second {
		t.Errorf("ST.TimeToKill 期望 30s, 实际 %v", cfg.Ticket.ST.TimeToKill)
	}
	if cfg.Ticket.ST.ConsumedGracePeriod != 15*time.Second {
		t.Errorf("ST.ConsumedGracePeriod 期望 15s, 实际 %v", cfg.Ticket.ST.ConsumedGracePeriod)
	}
	if cfg.Ticket.Registry.Type != "redis" || cfg.Ticket.Registry.Codec != "cbor" {
		t.Errorf("Registry 配置错误: %+v", cfg.Ticket.Registry)
	}
	if cfg.Ticket.Cleaner.Enabled {
		t.Error("Cleaner.Enabled 期望 false")
	}
	if cfg.Ticket.Cleaner.RepeatInterval != 2*time.Minute {
		t.Errorf("Cleaner.RepeatInterval 期望 2m, 实际 %v", cfg.Ticket.Cleaner.RepeatInterval)
	}

	// 验证锁配置
	if cfg.Lock.Type != "redis" || cfg.Lock.Name != "cleaner" || cfg.Lock.TTL != 3*time.Minute || cfg.Lock.Owner != "node-a" {
		t.Errorf("Lock 配置错误: %+v", cfg.Lock)
	}
	if cfg.Logout.Type != "http" || cfg.Logout.SigningKey != "secret" {
		t.Errorf("Logout 配置错误: %+v", cfg.Logout)
	}
	if cfg.Ops.SigningKey != "ops-secret" || cfg.Ops.TokenTTL != 30*time.Minute || cfg.Ops.Issuer != "unified-auth-center" {
		t.Errorf("Ops 配置错误: %+v", cfg.Ops)
	}
}

// TestLoadDefaults 测试默认配置
func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, "")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("默认 Server.Addr 期望 :8080, 实际 %s", cfg.Server.Addr)
	}
	if !cfg.Ticket.Cleaner.Enabled {
		t.Error("默认 Cleaner.Enabled 期望 true")
	}
	if cfg.Ticket.Cleaner.StartDelay != 20*time.Second {
		t.Errorf("默认 StartDelay 期望 20s, 实际 %v", cfg.Ticket.Cleaner.StartDelay)
	}
	if cfg.Ticket.Cleaner.RepeatInterval != time.Minute {
		t.Errorf("默认 RepeatInterval 期望 1m, 实际 %v", cfg.Ticket.Cleaner.RepeatInterval)
	}
	if cfg.Ticket.Registry.Type != "memory" {
		t.Errorf("默认 Registry.Type 期望 memory, 实际 %s", cfg.Ticket.Registry.Type)
	}
	if cfg.Lock.Type != "none" || cfg.Lock.TTL != 5*time.Minute {
		t.Errorf("默认 Lock 配置错误: %+v", cfg.Lock)
	}
	if cfg.Ticket.TGT.TimeToKill != 2*time.Hour || cfg.Ticket.TGT.MaxTimeToLive != 8*time.Hour {
		t.Errorf("默认 TGT 配置错误: %+v", cfg.Ticket.TGT)
	}
}

// TestLoadEnvOverride 测试环境变量覆盖
func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, "")
	t.Setenv("TICKET_CLEANER_REPEAT_INTERVAL", "90s")
	t.Setenv("LOCK_TYPE", "database")

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Ticket.Cleaner.RepeatInterval != 90*time.Second {
		t.Errorf("RepeatInterval 期望 90s, 实际 %v", cfg.Ticket.Cleaner.RepeatInterval)
	}
	if cfg.Lock.Type != "database" {
		t.Errorf("Lock.Type 期望 database, 实际 %s", cfg.Lock.Type)
	}
}

// TestLoadInvalid 测试非法配置
func TestLoadInvalid(t *testing.T) {
	configPath := writeConfig(t, `
ticket:
  cleaner:
    repeat_interval: "0s"
lock:
  type: "redis"
  ttl: "0s"
`)

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("期望返回错误，但没有")
	}
}

// TestGet 测试获取全局配置
func TestGet(t *testing.T) {
	configPath := writeConfig(t, `
server:
  addr: ":8888"
`)

	if _, err := LoadFromFile(configPath); err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() 返回 nil")
	}
	if cfg.Server.Addr != ":8888" {
		t.Errorf("Get().Server.Addr 期望 :8888, 实际 %s", cfg.Server.Addr)
	}
}

// TestLoadFromFileNotFound 测试加载不存在的配置文件
func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("期望返回错误，但没有")
	}
}
