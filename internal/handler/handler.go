package handler

import (
	"errors"
	"strconv"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/config"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/model"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/repository"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/service"
	"github.com/yujiapingyu/InterviewHelper-sub000/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledgerService *service.LedgerService
	cardService   *service.CardService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	costs := model.NewCostTable(cfg.Business.OperationCosts)
	ledgerService := service.NewLedgerService(db, rdb, cfg, costs)
	return &Handler{
		ledgerService: ledgerService,
		cardService:   service.NewCardService(db, rdb, ledgerService),
	}
}

// writeError 把账务/卡密错误映射为各自独立的业务码
// 错误类型不合并：前端需要告诉用户操作到底为什么被拦
func writeError(c *gin.Context, err error) {
	var insufficient *service.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		c.JSON(200, response.Response{
			Code:    response.CodeInsufficientCredits,
			Message: insufficient.Error(),
			Data: gin.H{
				"required": insufficient.Required,
				"balance":  insufficient.Balance,
			},
		})
		return
	}

	switch {
	case errors.Is(err, repository.ErrInsufficientCredits):
		response.BusinessError(c, response.CodeInsufficientCredits, err.Error())
	case errors.Is(err, model.ErrUnknownOperation):
		response.BusinessError(c, response.CodeUnknownOperation, err.Error())
	case errors.Is(err, service.ErrInvalidCardFormat):
		response.BusinessError(c, response.CodeInvalidCardFormat, err.Error())
	case errors.Is(err, repository.ErrCardNotFound):
		response.BusinessError(c, response.CodeCardNotFound, err.Error())
	case errors.Is(err, repository.ErrCardAlreadyUsed):
		response.BusinessError(c, response.CodeCardAlreadyUsed, err.Error())
	case errors.Is(err, repository.ErrCardExpired):
		response.BusinessError(c, response.CodeCardExpired, err.Error())
	case errors.Is(err, repository.ErrConcurrentConflict):
		response.BusinessError(c, response.CodeConcurrentConflict, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.ParamError(c, "user_id 参数错误")
		return 0, false
	}
	return userID, true
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询用户余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	account, err := h.ledgerService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": account.UserID,
		"balance": account.Balance,
	})
}

// RechargeRequest 充值请求
// 由支付回调方在确认收款后调用，本层只负责入账
type RechargeRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
}

// Recharge 充值接口
// POST /api/v1/account/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	balanceAfter, err := h.ledgerService.Credit(c.Request.Context(),
		req.UserID, req.Amount, model.OperationRecharge, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"balance": balanceAfter,
	})
}

// ChargeRequest 扣费请求
type ChargeRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Operation   string `json:"operation" binding:"required"`
	Description string `json:"description"`
}

// Charge 按操作类型扣费
// POST /api/v1/account/charge
//
// 【关键点】调用方约定为"成功后计费"：先走预检（CreditGuard 或 Precheck），
// AI 调用成功后才来扣费。预检和扣费之间余额可能被并发消耗，
// 此时这里会返回积分不足或可重试的冲突错误，不会扣成负数
func (h *Handler) Charge(c *gin.Context) {
	var req ChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.ledgerService.Charge(c.Request.Context(), req.UserID, req.Operation, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// History 查询积分流水（最新在前）
// GET /api/v1/account/history?user_id=xxx&page=1&page_size=10
func (h *Handler) History(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	entries, total, err := h.ledgerService.History(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Precheck 余额预检
// GET /api/v1/account/precheck?user_id=xxx&operation=EVALUATE_ANSWER
// 只读接口，供调用方在发起昂贵操作前确认余额是否够用
func (h *Handler) Precheck(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	operation := c.Query("operation")
	cost, err := h.ledgerService.CostOf(operation)
	if err != nil {
		writeError(c, err)
		return
	}

	check, err := h.ledgerService.CheckBalance(c.Request.Context(), userID, cost)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{
		"operation":  operation,
		"cost":       cost,
		"sufficient": check.Sufficient,
		"balance":    check.Balance,
	})
}

// ============================================================
// 卡密相关接口
// ============================================================

// RedeemRequest 兑换请求
type RedeemRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// RedeemCard 兑换卡密
// POST /api/v1/card/redeem
func (h *Handler) RedeemCard(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.cardService.Redeem(c.Request.Context(), req.UserID, req.Code)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}

// IssueCardsRequest 发卡请求
type IssueCardsRequest struct {
	Count          int   `json:"count" binding:"required,gt=0"`
	CreditsPerCard int64 `json:"credits_per_card" binding:"required,gt=0"`
	ExpiryDays     *int  `json:"expiry_days"` // 空表示永不过期
}

// IssueCards 批量发卡（管理接口）
// POST /api/v1/admin/card/issue
func (h *Handler) IssueCards(c *gin.Context) {
	var req IssueCardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.cardService.Generate(c.Request.Context(), req.Count, req.CreditsPerCard, req.ExpiryDays)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, result)
}
