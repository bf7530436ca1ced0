package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
)

// ContextOwnerID gin 上下文中所有者标识的键
const ContextOwnerID = "ownerID"

// JWTAuth JWT 认证中间件
//
// 服务只消费身份：令牌由外部身份系统签发，这里只验签并把
// 其中的所有者标识放进请求上下文。
type JWTAuth struct {
	tokens *auth.JWTManager
	log    *zap.Logger
}

// NewJWTAuth 创建 JWT 认证中间件
func NewJWTAuth(tokens *auth.JWTManager, log *zap.Logger) *JWTAuth {
	return &JWTAuth{tokens: tokens, log: log}
}

// RequireAuth 要求携带有效令牌，否则 401
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "需要登录认证",
			})
			return
		}

		claims, err := ja.tokens.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.Error(err),
				zap.String("ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"msg":  "无效的访问令牌",
			})
			return
		}

		c.Set(ContextOwnerID, claims.OwnerID)
		c.Next()
	}
}

// OptionalAuth 可选认证：令牌有效则注入所有者标识，缺失或无效放行
//
// 读取与创建端点使用：匿名胶囊合法，门控与归属校验在服务层完成。
func (ja *JWTAuth) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		if claims, err := ja.tokens.ValidateToken(token); err == nil {
			c.Set(ContextOwnerID, claims.OwnerID)
		}

		c.Next()
	}
}

// OwnerID 从请求上下文取出所有者标识，匿名请求返回 nil
func OwnerID(c *gin.Context) *string {
	if v, exists := c.Get(ContextOwnerID); exists {
		if id, ok := v.(string); ok && id != "" {
			return &id
		}
	}
	return nil
}

// extractToken 从 Authorization 头或 cookie 提取令牌
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	return ""
}
