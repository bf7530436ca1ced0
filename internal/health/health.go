package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"timecapsule/backend/internal/objectstore"
	"timecapsule/backend/internal/storage"
	"timecapsule/backend/internal/storage/redis"
)

// Checker 健康检查器
//
// 存活检查只看进程自身（goroutine 数量），就绪检查探测全部
// 外部依赖：胶囊存储、对象存储，以及可选的 Redis。
type Checker struct {
	health  healthcheck.Handler
	store   storage.Store
	objects objectstore.Store
	redis   *redis.Client // 可为 nil（未启用解锁限流共享计数）
	logger  *zap.Logger
}

// NewChecker 创建健康检查器
func NewChecker(store storage.Store, objects objectstore.Store, redisClient *redis.Client, logger *zap.Logger) *Checker {
	c := &Checker{
		health:  healthcheck.NewHandler(),
		store:   store,
		objects: objects,
		redis:   redisClient,
		logger:  logger,
	}
	c.addChecks()
	return c
}

func (c *Checker) addChecks() {
	c.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))

	c.health.AddReadinessCheck("storage", func() error {
		return c.store.Health()
	})

	c.health.AddReadinessCheck("objectstore", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.objects.Ping(ctx)
	})

	if c.redis != nil {
		c.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return c.redis.Ping(ctx)
		})
	}
}

// LiveHandler 返回存活检查处理器
func (c *Checker) LiveHandler() http.Handler {
	return http.HandlerFunc(c.health.LiveEndpoint)
}

// ReadyHandler 返回就绪检查处理器
func (c *Checker) ReadyHandler() http.Handler {
	return http.HandlerFunc(c.health.ReadyEndpoint)
}
