package handler

import (
	"log"
	"time"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/service"
	"github.com/yujiapingyu/InterviewHelper-sub000/pkg/response"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// CreditGuard 积分预检中间件
// 挂在昂贵的 AI 接口前面：余额不够直接拦截，不让外部调用发生
//
// 【注意】预检通过不等于锁定额度：真正的扣费由业务在 AI 调用成功后
// 通过 /account/charge 完成，中间余额可能被并发操作消耗，
// 届时扣费会以独立的错误码失败，由调用方重试整个流程
func CreditGuard(ledger *service.LedgerService, operation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseUserID(c)
		if !ok {
			c.Abort()
			return
		}

		cost, err := ledger.CostOf(operation)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}

		check, err := ledger.CheckBalance(c.Request.Context(), userID, cost)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}

		if !check.Sufficient {
			c.AbortWithStatusJSON(200, response.Response{
				Code:    response.CodeInsufficientCredits,
				Message: "积分不足，无法发起该操作",
				Data: gin.H{
					"operation": operation,
					"required":  cost,
					"balance":   check.Balance,
				},
			})
			return
		}

		c.Set("credit_cost", cost)
		c.Next()
	}
}
