package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Ticket   TicketConfig   `mapstructure:"ticket"`
	Lock     LockConfig     `mapstructure:"lock"`
	Logout   LogoutConfig   `mapstructure:"logout"`
	Ops      OpsConfig      `mapstructure:"ops"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"dbname"`
	Charset   string `mapstructure:"charset"`
	ParseTime bool   `mapstructure:"parse_time"`
	Loc       string `mapstructure:"loc"`
}

// SQLiteConfig SQLite 配置（单机部署与测试）
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug / info / warn / error
	Format string `mapstructure:"format"` // json / console
}

// TicketConfig 票据配置
type TicketConfig struct {
	TGT      TGTConfig      `mapstructure:"tgt"`
	PGT      TGTConfig      `mapstructure:"pgt"`
	ST       STConfig       `mapstructure:"st"`
	Registry RegistryConfig `mapstructure:"registry"`
	Cleaner  CleanerConfig  `mapstructure:"cleaner"`
}

// TGTConfig TGT / PGT 过期参数
type TGTConfig struct {
	MaxTimeToLive time.Duration `mapstructure:"max_time_to_live"`
	TimeToKill    time.Duration `mapstructure:"time_to_kill"` // 空闲超时
}

// STConfig ST 过期参数
type STConfig struct {
	TimeToKill time.Duration `mapstructure:"time_to_kill"`
	// ConsumedGracePeriod 已使用的 ST 保留多久后才被清理，0 表示下一次清理即删除
	ConsumedGracePeriod time.Duration `mapstructure:"consumed_grace_period"`
}

// RegistryConfig 注册表配置
type RegistryConfig struct {
	Type  string `mapstructure:"type"`  // memory / redis / database
	Codec string `mapstructure:"codec"` // json / cbor
}

// CleanerConfig 清理器配置
type CleanerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	StartDelay     time.Duration `mapstructure:"start_delay"`
	RepeatInterval time.Duration `mapstructure:"repeat_interval"`
}

// LockConfig 集群锁配置
type LockConfig struct {
	Type  string        `mapstructure:"type"` // none / redis / database
	Name  string        `mapstructure:"name"`
	TTL   time.Duration `mapstructure:"ttl"`
	Owner string        `mapstructure:"owner"` // 为空时自动生成
}

// LogoutConfig 单点登出通知配置
type LogoutConfig struct {
	Type       string        `mapstructure:"type"` // none / log / http
	Timeout    time.Duration `mapstructure:"timeout"`
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
}

// OpsConfig 运维接口配置
type OpsConfig struct {
	SigningKey string        `mapstructure:"signing_key"` // 为空时不开放运维接口
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load 加载配置
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile 从指定文件加载配置
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return unmarshal(v)
}

// Get 获取最近一次加载的配置
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

func newViper() *viper.Viper {
	v := viper.New()

	// 支持环境变量覆盖，如 TICKET_CLEANER_ENABLED
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	globalConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// Validate 校验配置之间的约束
func (c *Config) Validate() error {
	var errs []error

	cleaner := c.Ticket.Cleaner
	if cleaner.Enabled && cleaner.RepeatInterval <= 0 {
		errs = append(errs, errors.New("ticket.cleaner.repeat_interval 必须大于 0"))
	}
	if cleaner.StartDelay < 0 {
		errs = append(errs, errors.New("ticket.cleaner.start_delay 不能为负数"))
	}
	if c.Lock.Type != "none" && c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl 必须大于 0"))
	}
	if c.Lock.Name == "" {
		errs = append(errs, errors.New("lock.name 不能为空"))
	}
	if c.Ticket.ST.ConsumedGracePeriod < 0 {
		errs = append(errs, errors.New("ticket.st.consumed_grace_period 不能为负数"))
	}

	return errors.Join(errs...)
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	// 数据库默认配置
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "unified_auth")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.mysql.charset", "utf8mb4")
	v.SetDefault("database.mysql.parse_time", true)
	v.SetDefault("database.mysql.loc", "Local")
	v.SetDefault("database.sqlite.path", "uac-ticket.db")

	// Redis 默认配置
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// 票据默认配置
	v.SetDefault("ticket.tgt.max_time_to_live", "8h")
	v.SetDefault("ticket.tgt.time_to_kill", "2h")
	v.SetDefault("ticket.pgt.max_time_to_live", "8h")
	v.SetDefault("ticket.pgt.time_to_kill", "2h")
	v.SetDefault("ticket.st.time_to_kill", "10s")
	v.SetDefault("ticket.st.consumed_grace_period", "0s")
	v.SetDefault("ticket.registry.type", "memory")
	v.SetDefault("ticket.registry.codec", "json")
	v.SetDefault("ticket.cleaner.enabled", true)
	v.SetDefault("ticket.cleaner.start_delay", "20s")
	v.SetDefault("ticket.cleaner.repeat_interval", "60s")

	// 集群锁默认配置，TTL 需要大于单次清理的最长耗时
	v.SetDefault("lock.type", "none")
	v.SetDefault("lock.name", "ticket-registry-cleaner")
	v.SetDefault("lock.ttl", "5m")
	v.SetDefault("lock.owner", "")

	// 单点登出默认配置
	v.SetDefault("logout.type", "log")
	v.SetDefault("logout.timeout", "5s")
	v.SetDefault("logout.issuer", "unified-auth-center")

	// 运维接口默认配置
	v.SetDefault("ops.signing_key", "")
	v.SetDefault("ops.issuer", "unified-auth-center")
	v.SetDefault("ops.token_ttl", "1h")
}
