package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// 业务状态码定义
const (
	// 成功状态码 2xx
	CodeSuccess   = 200 // 成功
	CodeCreated   = 201 // 创建成功
	CodeNoContent = 204 // 无内容（删除成功）

	// 客户端错误 4xx
	CodeBadRequest      = 400 // 请求参数错误
	CodeUnauthorized    = 401 // 未认证
	CodeForbidden       = 403 // 门控拒绝（锁定/未到时/口令错误）
	CodeNotFound        = 404 // 资源不存在
	CodePayloadTooLarge = 413 // 载荷超出上限
	CodeTooManyRequests = 429 // 请求过于频繁

	// 服务器错误 5xx
	CodeInternalError      = 500 // 服务器内部错误
	CodeBadGateway         = 502 // 上游依赖故障
	CodeServiceUnavailable = 503 // 服务过载，可重试
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  "成功",
		Data: data,
	})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: CodeCreated,
		Msg:  "创建成功",
		Data: data,
	})
}

// NoContent 无内容响应（204）- 通常用于删除成功
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Code: CodeBadRequest,
		Msg:  msg,
	})
}

// Unauthorized 未认证错误（401）
func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, Response{
		Code: CodeUnauthorized,
		Msg:  msg,
	})
}

// Gated 门控拒绝响应（403）
//
// 携带受限投影：调用方能看到胶囊存在与揭示条件，封存内容字段
// 在投影里整体缺席，不会以空串形式出现。
func Gated(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusForbidden, Response{
		Code: CodeForbidden,
		Msg:  msg,
		Data: data,
	})
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{
		Code: CodeNotFound,
		Msg:  msg,
	})
}

// PayloadTooLarge 载荷超限错误（413）
func PayloadTooLarge(c *gin.Context, msg string) {
	c.JSON(http.StatusRequestEntityTooLarge, Response{
		Code: CodePayloadTooLarge,
		Msg:  msg,
	})
}

// TooManyRequests 限流错误（429）
func TooManyRequests(c *gin.Context, msg string) {
	c.JSON(http.StatusTooManyRequests, Response{
		Code: CodeTooManyRequests,
		Msg:  msg,
	})
}

// InternalError 服务器内部错误（500）
//
// 对外只返回不透明消息，故障细节只进服务端日志。
func InternalError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, Response{
		Code: CodeInternalError,
		Msg:  msg,
	})
}

// BadGateway 上游依赖故障（502）
func BadGateway(c *gin.Context, msg string) {
	c.JSON(http.StatusBadGateway, Response{
		Code: CodeBadGateway,
		Msg:  msg,
	})
}

// ServiceUnavailable 服务过载（503），客户端可稍后重试
func ServiceUnavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, Response{
		Code: CodeServiceUnavailable,
		Msg:  msg,
	})
}
