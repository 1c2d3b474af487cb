package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 积分/卡密相关业务码
// 每类错误一个独立的码，前端据此向用户解释操作被拦截的原因
const (
	CodeInsufficientCredits = 2001 // 积分不足
	CodeUnknownOperation    = 2002 // 未注册的操作类型（调用方编码错误）
	CodeInvalidCardFormat   = 2003 // 卡密格式错误
	CodeCardNotFound        = 2004 // 卡密不存在
	CodeCardAlreadyUsed     = 2005 // 卡密已被使用
	CodeCardExpired         = 2006 // 卡密已过期
	CodeConcurrentConflict  = 2007 // 并发冲突，可重试
	CodeAccountNotFound     = 2008 // 账户不存在
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
