package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// BodySizeLimit 限制请求体大小的中间件
//
// Content-Length 超限时在读取任何字节之前即返回 413——媒体上传
// 路由靠它保证超大载荷不会触碰解码器或落盘。声明长度合法的
// 请求再经 MaxBytesReader 兜底，防止谎报长度的流式写入。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code": http.StatusRequestEntityTooLarge,
				"msg":  fmt.Sprintf("请求体超出 %d 字节上限", maxBytes),
				"data": gin.H{
					"limit": maxBytes,
					"size":  c.Request.ContentLength,
				},
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}
