package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/config"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/infrastructure/database"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/model"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/repository"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB 打开一个独立的内存库
// SQLite 是单写者，连接池压到 1，写事务在池上排队；
// 并发正确性由条件更新保证，这也是它在 MySQL 上成立的原因
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
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
	return db
}

func newTestConfig(seedBalance int64) *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{
			SeedBalance:   seedBalance,
			MaxRetryCount: 3,
		},
	}
}

func newTestLedger(t *testing.T, seedBalance int64) (*service.LedgerService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	cfg := newTestConfig(seedBalance)
	ledger := service.NewLedgerService(db, nil, cfg, model.NewCostTable(nil))
	return ledger, db
}

func countEntries(t *testing.T, db *gorm.DB, userID int64) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&model.LedgerEntry{}).Where("user_id = ?", userID).Count(&count).Error)
	return count
}

func TestCharge_DebitsAndWritesLedgerRow(t *testing.T) {
	ledger, db := newTestLedger(t, 100)
	ctx := context.Background()

	result, err := ledger.Charge(ctx, 1, model.OperationEvaluateAnswer, "评估回答")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Cost)
	assert.Equal(t, int64(97), result.BalanceAfter)

	account, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(97), account.Balance)

	var entry model.LedgerEntry
	require.NoError(t, db.Where("user_id = ?", 1).First(&entry).Error)
	assert.Equal(t, model.OperationEvaluateAnswer, entry.OperationType)
	assert.Equal(t, int64(-3), entry.Delta)
	assert.Equal(t, int64(100), entry.BalanceBefore)
	assert.Equal(t, int64(97), entry.BalanceAfter)
	assert.NotEmpty(t, entry.EntryNo)
}

func TestCharge_InsufficientCredits_NoPartialEffect(t *testing.T) {
	ledger, db := newTestLedger(t, 100)
	ctx := context.Background()

	// 先扣到只剩 2 分
	_, err := ledger.Debit(ctx, 1, 98, model.OperationMockInterview, "")
	require.NoError(t, err)

	_, err = ledger.Charge(ctx, 1, model.OperationParseResume, "解析简历")
	require.ErrorIs(t, err, repository.ErrInsufficientCredits)

	var insufficient *service.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(10), insufficient.Required)
	assert.Equal(t, int64(2), insufficient.Balance)

	// 失败的扣费不产生任何流水，余额不变
	account, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), account.Balance)
	assert.Equal(t, int64(1), countEntries(t, db, 1))
}

func TestCharge_UnknownOperation(t *testing.T) {
	ledger, _ := newTestLedger(t, 100)

	_, err := ledger.Charge(context.Background(), 1, "TRANSLATE_NOVEL", "")
	require.ErrorIs(t, err, model.ErrUnknownOperation)
}

func TestCredit_Recharge(t *testing.T) {
	ledger, db := newTestLedger(t, 100)
	ctx := context.Background()

	balanceAfter, err := ledger.Credit(ctx, 1, 50, model.OperationRecharge, "支付充值")
	require.NoError(t, err)
	assert.Equal(t, int64(150), balanceAfter)

	var entry model.LedgerEntry
	require.NoError(t, db.Where("user_id = ?", 1).First(&entry).Error)
	assert.Equal(t, model.OperationRecharge, entry.OperationType)
	assert.Equal(t, int64(50), entry.Delta)
	assert.Equal(t, int64(100), entry.BalanceBefore)
	assert.Equal(t, int64(150), entry.BalanceAfter)
}

func TestCheckBalance_ReadOnly(t *testing.T) {
	ledger, db := newTestLedger(t, 100)
	ctx := context.Background()

	check, err := ledger.CheckBalance(ctx, 1, 60)
	require.NoError(t, err)
	assert.True(t, check.Sufficient)
	assert.Equal(t, int64(100), check.Balance)

	check, err = ledger.CheckBalance(ctx, 1, 101)
	require.NoError(t, err)
	assert.False(t, check.Sufficient)

	// 预检不产生流水，也不动余额
	assert.Equal(t, int64(0), countEntries(t, db, 1))
	account, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance)
}

func TestConcurrentDebits_ExactlyOneSucceeds(t *testing.T) {
	ledger, db := newTestLedger(t, 100)
	ctx := context.Background()

	// 预创建账户，避免并发建号干扰
	_, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Debit(ctx, 1, 60, model.OperationMockInterview, "")
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, repository.ErrInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("意外错误: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	// 只有一笔落账，余额 40，不存在负数或双扣
	account, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(40), account.Balance)
	assert.Equal(t, int64(1), countEntries(t, db, 1))
}

func TestBalanceReconstruction(t *testing.T) {
	ledger, db := newTestLedger(t, 100)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, 1, 10, model.OperationParseResume, "")
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, 1, 40, model.OperationRecharge, "")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, 1, 5, model.OperationMockInterview, "")
	require.NoError(t, err)

	account, err := ledger.GetAccount(ctx, 1)
	require.NoError(t, err)

	// 当前余额 == 初始赠送额 + 所有流水变动之和
	sum, err := repository.NewLedgerRepository(db).SumDeltaByUserID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, account.Balance, 100+sum)

	// 同时等于最新一条流水的 balance_after
	latest, err := repository.NewLedgerRepository(db).GetLatestByUserID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, account.Balance, latest.BalanceAfter)
}

func TestHistory_NewestFirst(t *testing.T) {
	ledger, _ := newTestLedger(t, 100)
	ctx := context.Background()

	_, err := ledger.Debit(ctx, 1, 2, model.OperationGenerateQuestion, "第一笔")
	require.NoError(t, err)
	_, err = ledger.Debit(ctx, 1, 3, model.OperationEvaluateAnswer, "第二笔")
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, 1, 20, model.OperationRecharge, "第三笔")
	require.NoError(t, err)

	entries, total, err := ledger.History(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "第三笔", entries[0].Description)
	assert.Equal(t, "第二笔", entries[1].Description)

	entries, _, err = ledger.History(ctx, 1, 2, 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "第一笔", entries[0].Description)
}

func TestDebit_WritesOutboxEvent(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig(100)
	cfg.Kafka.Topic.CreditEvents = "credit-events"
	ledger := service.NewLedgerService(db, nil, cfg, model.NewCostTable(nil))
	ctx := context.Background()

	_, err := ledger.Debit(ctx, 1, 5, model.OperationMockInterview, "")
	require.NoError(t, err)

	var messages []model.OutboxMessage
	require.NoError(t, db.Find(&messages).Error)
	require.Len(t, messages, 1)
	assert.Equal(t, "credit-events", messages[0].Topic)
	assert.Equal(t, model.OutboxStatusPending, messages[0].Status)
	assert.Contains(t, messages[0].Payload, `"delta":-5`)
}

func TestCostTable_ConfigOverride(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig(100)
	cfg.Business.OperationCosts = map[string]int64{model.OperationEvaluateAnswer: 7}
	ledger := service.NewLedgerService(db, nil, cfg, model.NewCostTable(cfg.Business.OperationCosts))

	cost, err := ledger.CostOf(model.OperationEvaluateAnswer)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cost)

	// 未覆盖的操作仍用默认价
	cost, err = ledger.CostOf(model.OperationParseResume)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cost)
}
