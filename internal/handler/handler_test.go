package handler_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/config"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/handler"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/infrastructure/database"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/model"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/service"
	"github.com/yujiapingyu/InterviewHelper-sub000/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *config.Config) {
	t.Helper()

	dsn := fmt.Sprintf("file:handler_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))

	cfg := &config.Config{
		Business: config.BusinessConfig{SeedBalance: 100},
	}
	return handler.SetupRouter(db, nil, cfg), db, cfg
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) envelope {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestBalanceEndpoint_SeedsAccount(t *testing.T) {
	router, _, _ := newTestRouter(t)

	env := doJSON(t, router, http.MethodGet, "/api/v1/account/balance?user_id=1", "")
	require.Equal(t, response.CodeSuccess, env.Code)

	var data struct {
		UserID  int64 `json:"user_id"`
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(1), data.UserID)
	assert.Equal(t, int64(100), data.Balance)
}

func TestChargeEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	env := doJSON(t, router, http.MethodPost, "/api/v1/account/charge",
		`{"user_id":1,"operation":"EVALUATE_ANSWER","description":"评估回答"}`)
	require.Equal(t, response.CodeSuccess, env.Code)

	var data service.ChargeResult
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(3), data.Cost)
	assert.Equal(t, int64(97), data.BalanceAfter)
}

func TestChargeEndpoint_UnknownOperation(t *testing.T) {
	router, _, _ := newTestRouter(t)

	env := doJSON(t, router, http.MethodPost, "/api/v1/account/charge",
		`{"user_id":1,"operation":"MAKE_COFFEE"}`)
	assert.Equal(t, response.CodeUnknownOperation, env.Code)
}

func TestChargeEndpoint_InsufficientCredits(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// 把余额耗到买不起 PARSE_RESUME（10 分）为止
	for i := 0; i < 19; i++ {
		env := doJSON(t, router, http.MethodPost, "/api/v1/account/charge",
			`{"user_id":1,"operation":"MOCK_INTERVIEW"}`)
		require.Equal(t, response.CodeSuccess, env.Code)
	}

	env := doJSON(t, router, http.MethodPost, "/api/v1/account/charge",
		`{"user_id":1,"operation":"PARSE_RESUME"}`)
	require.Equal(t, response.CodeInsufficientCredits, env.Code)

	var data struct {
		Required int64 `json:"required"`
		Balance  int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(10), data.Required)
	assert.Equal(t, int64(5), data.Balance)
}

func TestRechargeAndHistoryEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	env := doJSON(t, router, http.MethodPost, "/api/v1/account/recharge",
		`{"user_id":1,"amount":50,"description":"支付充值"}`)
	require.Equal(t, response.CodeSuccess, env.Code)

	env = doJSON(t, router, http.MethodGet, "/api/v1/account/history?user_id=1", "")
	require.Equal(t, response.CodeSuccess, env.Code)

	var data struct {
		List  []model.LedgerEntry `json:"list"`
		Total int64               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, int64(1), data.Total)
	assert.Equal(t, model.OperationRecharge, data.List[0].OperationType)
	assert.Equal(t, int64(50), data.List[0].Delta)
}

func TestCardIssueAndRedeemEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	env := doJSON(t, router, http.MethodPost, "/api/v1/admin/card/issue",
		`{"count":1,"credits_per_card":300}`)
	require.Equal(t, response.CodeSuccess, env.Code)

	var issued service.GenerateResult
	require.NoError(t, json.Unmarshal(env.Data, &issued))
	require.Len(t, issued.Cards, 1)
	code := issued.Cards[0].Code

	env = doJSON(t, router, http.MethodPost, "/api/v1/card/redeem",
		fmt.Sprintf(`{"user_id":1,"code":"%s"}`, code))
	require.Equal(t, response.CodeSuccess, env.Code)

	var redeemed service.RedeemResult
	require.NoError(t, json.Unmarshal(env.Data, &redeemed))
	assert.Equal(t, int64(300), redeemed.Credits)
	assert.Equal(t, int64(400), redeemed.BalanceAfter)

	// 重复兑换给出明确的"已被使用"业务码
	env = doJSON(t, router, http.MethodPost, "/api/v1/card/redeem",
		fmt.Sprintf(`{"user_id":2,"code":"%s"}`, code))
	assert.Equal(t, response.CodeCardAlreadyUsed, env.Code)

	// 格式错误的卡密同样有独立业务码
	env = doJSON(t, router, http.MethodPost, "/api/v1/card/redeem",
		`{"user_id":2,"code":"CARD-24-AB-CD"}`)
	assert.Equal(t, response.CodeInvalidCardFormat, env.Code)
}

func TestPrecheckEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t)

	env := doJSON(t, router, http.MethodGet,
		"/api/v1/account/precheck?user_id=1&operation=PARSE_RESUME", "")
	require.Equal(t, response.CodeSuccess, env.Code)

	var data struct {
		Cost       int64 `json:"cost"`
		Sufficient bool  `json:"sufficient"`
		Balance    int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(10), data.Cost)
	assert.True(t, data.Sufficient)
	assert.Equal(t, int64(100), data.Balance)
}

func TestCreditGuard_BlocksWhenInsufficient(t *testing.T) {
	_, db, cfg := newTestRouter(t)
	cfg.Business.SeedBalance = 3

	ledger := service.NewLedgerService(db, nil, cfg, model.NewCostTable(nil))

	// 模拟业务方把守卫挂在昂贵接口前面
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var reached bool
	r.POST("/ai/parse-resume",
		handler.CreditGuard(ledger, model.OperationParseResume),
		func(c *gin.Context) {
			reached = true
			c.JSON(200, gin.H{"code": 0})
		})

	req := httptest.NewRequest(http.MethodPost, "/ai/parse-resume?user_id=7", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, response.CodeInsufficientCredits, env.Code)
	assert.False(t, reached, "余额不足时不应放行到业务处理器")
}

func TestCreditGuard_AllowsWhenSufficient(t *testing.T) {
	_, db, cfg := newTestRouter(t)

	ledger := service.NewLedgerService(db, nil, cfg, model.NewCostTable(nil))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/ai/parse-resume",
		handler.CreditGuard(ledger, model.OperationParseResume),
		func(c *gin.Context) {
			cost := c.GetInt64("credit_cost")
			c.JSON(200, gin.H{"code": 0, "data": gin.H{"cost": cost}})
		})

	req := httptest.NewRequest(http.MethodPost, "/ai/parse-resume?user_id=7", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, response.CodeSuccess, env.Code)
}
