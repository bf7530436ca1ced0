package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/health"
	"timecapsule/backend/internal/logger"
	"timecapsule/backend/internal/media"
	"timecapsule/backend/internal/middleware"
	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/notify"
	"timecapsule/backend/internal/objectstore"
	"timecapsule/backend/internal/pool"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/storage"
	"timecapsule/backend/internal/storage/memory"
	"timecapsule/backend/internal/storage/postgres"
	"timecapsule/backend/internal/storage/redis"
	sqlstore "timecapsule/backend/internal/storage/sql"
	httptransport "timecapsule/backend/internal/transport/http"
	"timecapsule/backend/internal/websocket"
)

// @title TimeCapsule Backend API
// @version 1.0
// @description 时间胶囊服务：封存留言与媒体附件，到时揭示，可选口令锁定
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT 认证令牌，格式: Bearer {token}

// main 启动时间胶囊 HTTP 服务与揭示调度器。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting timecapsule server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化胶囊存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}

	// 初始化 Redis（可选：解锁限流的跨实例共享计数）
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.New(&cfg.Redis, log)
		if err != nil {
			panic(fmt.Sprintf("failed to connect redis: %v", err))
		}
		log.Info("redis connected", zap.String("address", cfg.Redis.Address))
	}

	// 初始化对象存储（附件落盘）
	objects, err := objectstore.New(ctx, cfg.ObjectStore, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize object store: %v", err))
	}
	log.Info("object store initialized", zap.String("driver", cfg.ObjectStore.Driver))

	// 初始化媒体管线
	transcoder := media.NewFFmpeg(cfg.Media, log)
	imagePipeline := media.NewImagePipeline(cfg.Media, objects, log)
	videoPipeline := media.NewVideoPipeline(cfg.Media, objects, transcoder, log)

	// 口令校验协程池：bcrypt 校验不占用请求协程
	workers := pool.NewWorkerPool(cfg.Unlock.Workers, cfg.Unlock.QueueSize)

	// 解锁尝试限流器：Redis 部署跨实例共享计数，否则退回进程内窗口
	var throttle service.UnlockThrottle
	var memoryThrottle *service.MemoryThrottle
	if redisClient != nil {
		throttle = redis.NewLimiter(redisClient, cfg.Unlock.AttemptLimit, cfg.Unlock.AttemptWindow, "unlock")
		log.Info("using redis unlock throttle")
	} else {
		memoryThrottle = service.NewMemoryThrottle(cfg.Unlock.AttemptLimit, cfg.Unlock.AttemptWindow)
		throttle = memoryThrottle
		log.Info("using in-memory unlock throttle")
	}

	// 初始化服务层
	verifier := auth.NewVerifier(cfg.Unlock.BcryptCost)
	capsuleService := service.NewCapsuleService(store, objects, verifier, workers, throttle, &cfg.Unlock, log)
	mediaService := service.NewMediaService(imagePipeline, videoPipeline, objects, log)

	// 初始化认证
	jwtManager := auth.NewJWTManager(&cfg.JWT)
	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
	)

	// 创建 WebSocket Hub（揭示事件实时推送）
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, log)

	// 揭示调度器：周期扫描到时胶囊并发出通知
	notifiers := []service.RevealNotifier{wsHub}
	if cfg.Notify.SMTPEnabled {
		notifiers = append(notifiers, notify.NewMailer(&cfg.Notify, log))
		log.Info("smtp reveal notification enabled", zap.String("addr", cfg.Notify.SMTPAddr))
	}
	scheduler := service.NewRevealScheduler(store, cfg.Notify.Interval, log, notifiers...)

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	monitor := middleware.NewMonitoringMiddleware(metrics, workers, log)

	// 初始化告警系统
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0)) // 512MB
	alertManager.AddRule(monitoring.StorageHealthRule(store))
	alertManager.AddRule(monitoring.ObjectStoreHealthRule(objects))
	alertManager.AddRule(monitoring.VerifyQueueBacklogRule(workers, cfg.Unlock.QueueSize/2))

	// 初始化健康检查
	healthChecker := health.NewChecker(store, objects, redisClient, log)

	log.Info("monitoring system initialized")

	// 请求限流（按客户端 IP）
	var rateLimiter *middleware.IPRateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		log.Info("ip rate limiting enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst))
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		CapsuleService: capsuleService,
		MediaService:   mediaService,
		JWTManager:     jwtManager,
		WebSocketHub:   wsHub,
		Metrics:        metrics,
		Monitor:        monitor,
		RateLimiter:    rateLimiter,
		Logger:         log,
	})

	// 健康检查处理器（用于 Kubernetes 等）
	router.GET("/health/live", gin.WrapH(healthChecker.LiveHandler()))
	router.GET("/health/ready", gin.WrapH(healthChecker.ReadyHandler()))

	// Prometheus 指标端点
	router.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// 口令校验协程池
	workers.Start(groupCtx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 揭示调度 goroutine
	group.Go(func() error {
		log.Info("starting reveal scheduler", zap.Duration("interval", cfg.Notify.Interval))
		return scheduler.Run(groupCtx)
	})

	// 告警监控 goroutine
	group.Go(func() error {
		log.Info("starting alert monitoring")
		alertManager.StartMonitoring(groupCtx, 1*time.Minute)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 排空校验队列后再放存储走
		workers.Stop()

		if memoryThrottle != nil {
			memoryThrottle.Close()
		}
		if rateLimiter != nil {
			rateLimiter.Close()
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				log.Warn("redis close warning", zap.Error(err))
			}
		}
		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择胶囊存储实现
//
// 未配置数据库时使用内存存储（开发环境）；"mysql" 与 "postgres"
// 走 database/sql 通用实现，"pgx" 走原生 pgx 连接池实现。
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	switch cfg.Database.Type {
	case "mysql", "postgres":
		store, err := sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create sql store: %w", err)
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
		return store, nil
	case "pgx":
		store, err := postgres.NewStore(&cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx store: %w", err)
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres, pgx)", cfg.Database.Type)
	}
}
