package handler

import (
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg)

	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/history", h.History)
			account.GET("/precheck", h.Precheck)
			account.POST("/recharge", h.Recharge)
			account.POST("/charge", h.Charge)
		}

		// 卡密相关
		card := api.Group("/card")
		{
			card.POST("/redeem", h.RedeemCard)
		}

		// 管理接口
		admin := api.Group("/admin")
		{
			admin.POST("/card/issue", h.IssueCards)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
