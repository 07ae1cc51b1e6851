package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/uac-ticket/internal/clock"
	"github.com/pu-ac-cn/uac-ticket/internal/config"
	"github.com/pu-ac-cn/uac-ticket/internal/database"
	"github.com/pu-ac-cn/uac-ticket/internal/handler"
	"github.com/pu-ac-cn/uac-ticket/internal/lock"
	"github.com/pu-ac-cn/uac-ticket/internal/logger"
	"github.com/pu-ac-cn/uac-ticket/internal/middleware"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"github.com/pu-ac-cn/uac-ticket/internal/redis"
	"github.com/pu-ac-cn/uac-ticket/internal/repository"
	"github.com/pu-ac-cn/uac-ticket/internal/scheduler"
	"github.com/pu-ac-cn/uac-ticket/internal/service"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// 加载配置
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()
	lg := logger.Get()

	// 按需初始化数据库和 Redis
	if usesBackend(cfg, "database") {
		if err := database.Init(&cfg.Database); err != nil {
			lg.Fatal("初始化数据库失败", zap.Error(err))
		}
		defer database.Close()
		if err := database.AutoMigrate(database.Models()...); err != nil {
			lg.Fatal("数据库迁移失败", zap.Error(err))
		}
		lg.Info("数据库连接成功", zap.String("driver", cfg.Database.Driver))
	}
	if usesBackend(cfg, "redis") {
		if err := redis.Init(&cfg.Redis); err != nil {
			lg.Fatal("初始化 Redis 失败", zap.Error(err))
		}
		defer redis.Close()
		lg.Info("Redis 连接成功", zap.String("addr", cfg.Redis.Addr))
	}

	clk := clock.Real()

	// 注册表、锁策略、登出通知器在启动时一次性选定
	registry, err := newTicketRegistry(cfg)
	if err != nil {
		lg.Fatal("初始化票据注册表失败", zap.Error(err))
	}
	locking, err := newLockingStrategy(cfg, clk, lg)
	if err != nil {
		lg.Fatal("初始化集群锁失败", zap.Error(err))
	}
	notifier, err := newLogoutNotifier(cfg, clk, lg)
	if err != nil {
		lg.Fatal("初始化登出通知失败", zap.Error(err))
	}

	hostname, _ := os.Hostname()
	tickets := service.NewTicketService(registry, notifier, &service.TicketServiceConfig{
		TGTPolicy:   model.TicketGrantingTicketPolicy(cfg.Ticket.TGT.MaxTimeToLive, cfg.Ticket.TGT.TimeToKill),
		PGTPolicy:   model.TicketGrantingTicketPolicy(cfg.Ticket.PGT.MaxTimeToLive, cfg.Ticket.PGT.TimeToKill),
		STPolicy:    model.ServiceTicketPolicy(cfg.Ticket.ST.TimeToKill),
		IDGenerator: service.NewTicketIDGenerator(hostname),
		Clock:       clk,
		Logger:      lg,
	})

	var cleaner service.TicketRegistryCleaner = service.NewNoOpTicketRegistryCleaner(clk)
	if cfg.Ticket.Cleaner.Enabled {
		cleaner = service.NewTicketRegistryCleaner(registry, locking, notifier, &service.TicketRegistryCleanerConfig{
			LockName:            cfg.Lock.Name,
			ConsumedGracePeriod: cfg.Ticket.ST.ConsumedGracePeriod,
			Clock:               clk,
			Logger:              lg,
		})
	}

	sched := scheduler.New(cleaner, cfg.Ticket.Cleaner.StartDelay, cfg.Ticket.Cleaner.RepeatInterval, clk, lg)
	if err := sched.Start(context.Background()); err != nil {
		lg.Fatal("启动清理调度器失败", zap.Error(err))
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())

	healthHandler := handler.NewHealthHandler(healthChecks(cfg))
	router.GET("/health", healthHandler.Health)

	// 运维接口
	if cfg.Ops.SigningKey != "" {
		cleanerHandler := handler.NewCleanerHandler(cleaner, sched, cfg.Ticket.Cleaner.Enabled)
		sessionHandler := handler.NewSessionHandler(tickets)

		api := router.Group("/api/v1")
		api.Use(middleware.OpsAuth([]byte(cfg.Ops.SigningKey), cfg.Ops.Issuer))
		{
			api.GET("/cleaner", cleanerHandler.Status)
			api.POST("/cleaner/run", cleanerHandler.Run)
			api.GET("/sessions/:id", sessionHandler.GetSession)
			api.DELETE("/sessions/:id", sessionHandler.DestroySession)
		}
	} else {
		lg.Warn("未配置 ops.signing_key，运维接口未开放")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("服务启动", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		lg.Error("服务关闭失败", zap.Error(err))
	}

	// 先停止清理，确保锁在连接关闭前释放
	sched.Stop()

	lg.Info("服务已关闭")
}

// usesBackend 注册表或集群锁是否使用指定的后端
func usesBackend(cfg *config.Config, backend string) bool {
	return cfg.Ticket.Registry.Type == backend || cfg.Lock.Type == backend
}

func newTicketRegistry(cfg *config.Config) (repository.TicketRegistry, error) {
	codec, err := repository.NewTicketCodec(cfg.Ticket.Registry.Codec)
	if err != nil {
		return nil, err
	}

	switch cfg.Ticket.Registry.Type {
	case "memory":
		return repository.NewMemoryTicketRegistry(), nil
	case "redis":
		return repository.NewRedisTicketRegistry(redis.GetClient(), codec), nil
	case "database":
		return repository.NewDatabaseTicketRegistry(database.GetDB(), codec), nil
	default:
		return nil, fmt.Errorf("不支持的注册表类型: %s", cfg.Ticket.Registry.Type)
	}
}

func newLockingStrategy(cfg *config.Config, clk clock.Clock, lg *zap.Logger) (lock.LockingStrategy, error) {
	owner := cfg.Lock.Owner
	if owner == "" {
		owner = lock.NewOwnerID()
	}

	switch cfg.Lock.Type {
	case "none":
		return lock.NewNoOpLockingStrategy(), nil
	case "redis":
		lg.Info("使用 Redis 集群锁", zap.String("owner", owner), zap.Duration("ttl", cfg.Lock.TTL))
		return lock.NewRedisLockingStrategy(redis.GetClient(), owner, cfg.Lock.TTL), nil
	case "database":
		lg.Info("使用数据库集群锁", zap.String("owner", owner), zap.Duration("ttl", cfg.Lock.TTL))
		return lock.NewDatabaseLockingStrategy(database.GetDB(), owner, cfg.Lock.TTL, clk), nil
	default:
		return nil, fmt.Errorf("不支持的锁类型: %s", cfg.Lock.Type)
	}
}

func newLogoutNotifier(cfg *config.Config, clk clock.Clock, lg *zap.Logger) (service.LogoutNotifier, error) {
	switch cfg.Logout.Type {
	case "none":
		return service.NoOpLogoutNotifier{}, nil
	case "log":
		return service.NewLoggingLogoutNotifier(lg), nil
	case "http":
		var key []byte
		if cfg.Logout.SigningKey != "" {
			key = []byte(cfg.Logout.SigningKey)
		}
		return service.NewHTTPLogoutNotifier(&service.HTTPLogoutNotifierConfig{
			Timeout:    cfg.Logout.Timeout,
			SigningKey: key,
			Issuer:     cfg.Logout.Issuer,
			Clock:      clk,
			Logger:     lg,
		}), nil
	default:
		return nil, fmt.Errorf("不支持的登出通知类型: %s", cfg.Logout.Type)
	}
}

func healthChecks(cfg *config.Config) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{}
	if usesBackend(cfg, "database") {
		checks["database"] = func(context.Context) error { return database.Ping() }
	}
	if usesBackend(cfg, "redis") {
		checks["redis"] = redis.Ping
	}
	return checks
}
