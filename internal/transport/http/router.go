package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/middleware"
	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/websocket"
)

// 媒体上传请求体的额外余量：原始字节上限之外的头部开销
const uploadBodyHeadroom = 1 << 20

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	capsules *service.CapsuleService
	media    *service.MediaService
	metrics  *monitoring.Metrics // 可为 nil（测试）
	logger   *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	CapsuleService *service.CapsuleService
	MediaService   *service.MediaService
	JWTManager     *auth.JWTManager
	WebSocketHub   *websocket.Hub
	Metrics        *monitoring.Metrics
	Monitor        *middleware.MonitoringMiddleware
	RateLimiter    *middleware.IPRateLimiter
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	if deps.Monitor != nil {
		router.Use(deps.Monitor.PanicRecovery())
		router.Use(deps.Monitor.HTTPMetrics())
		router.Use(deps.Monitor.SystemMetrics())
	} else {
		router.Use(middleware.RecoveryHandler(log))
	}
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())

	if deps.RateLimiter != nil {
		router.Use(deps.RateLimiter.Middleware())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Filename"},
		ExposeHeaders: []string{
			"Content-Length",
			"X-Max-Body-Size",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		capsules: deps.CapsuleService,
		media:    deps.MediaService,
		metrics:  deps.Metrics,
		logger:   log,
	}

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log)

	// 请求体上限：JSON 路由收紧，媒体路由按原始字节上限放宽
	jsonLimit := middleware.BodySizeLimit(deps.Config.Server.MaxBodySize)
	imageLimit := middleware.BodySizeLimit(deps.Config.Media.MaxImageBytes + uploadBodyHeadroom)
	videoLimit := middleware.BodySizeLimit(deps.Config.Media.MaxVideoBytes + uploadBodyHeadroom)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Capsule Routes ==========
		capsuleRoutes := v1.Group("/capsules")
		{
			capsuleRoutes.POST("", jwtAuth.OptionalAuth(), jsonLimit, handler.createCapsule)
			capsuleRoutes.GET("", jwtAuth.RequireAuth(), handler.listCapsules)
			capsuleRoutes.GET("/:id", jwtAuth.OptionalAuth(), handler.getCapsule)
			capsuleRoutes.POST("/:id/unlock", jwtAuth.OptionalAuth(), jsonLimit, handler.unlockCapsule)
			capsuleRoutes.DELETE("/:id", jwtAuth.RequireAuth(), handler.deleteCapsule)
		}

		// ========== Media Routes ==========
		mediaRoutes := v1.Group("/media")
		{
			mediaRoutes.POST("/images", jwtAuth.OptionalAuth(), imageLimit, handler.uploadImage)
			mediaRoutes.POST("/videos", jwtAuth.OptionalAuth(), videoLimit, handler.uploadVideo)
			mediaRoutes.GET("/download", jwtAuth.OptionalAuth(), handler.signDownload)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
