package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/config"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/infrastructure/lock"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/model"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/repository"
	"github.com/yujiapingyu/InterviewHelper-sub000/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// creditMaxRetries 贷记路径遇到版本冲突时的内部重试次数
// 贷记只要账户存在就应该成功，冲突属于瞬时状态
const creditMaxRetries = 3

// LedgerService 积分账务核心
// 借记/贷记是仅有的两条余额变更路径，每次变更和流水写入在同一事务内完成：
// 要么余额变更与流水同时生效，要么都不生效，流水表上不会出现半截记录
type LedgerService struct {
	db          *gorm.DB
	redisClient *redis.Client // 可选，未配置时仅依赖数据库条件更新
	cfg         *config.Config
	costs       *model.CostTable
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	outboxRepo  *repository.OutboxRepository
}

func NewLedgerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, costs *model.CostTable) *LedgerService {
	return &LedgerService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		costs:       costs,
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// GetAccount 获取账户，首次访问时以初始赠送额创建
func (s *LedgerService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetOrCreate(ctx, nil, userID, s.cfg.Business.SeedBalance)
}

// InsufficientCreditsError 积分不足
// 携带所需/当前余额，调用方据此向用户解释差多少
type InsufficientCreditsError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("积分不足：需要 %d，当前 %d", e.Required, e.Balance)
}

// Is 与仓储层的哨兵错误对齐，errors.Is 两边都能匹配
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == repository.ErrInsufficientCredits
}

// BalanceCheck 余额预检结果
type BalanceCheck struct {
	Sufficient bool  `json:"sufficient"`
	Balance    int64 `json:"balance"`
}

// CheckBalance 只读预检，无任何副作用
// 仅用于执行昂贵操作前的拦截；最终扣费以 Debit 内部的校验为准，
// 预检通过后余额仍可能被并发操作消耗掉
func (s *LedgerService) CheckBalance(ctx context.Context, userID int64, amount int64) (*BalanceCheck, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceCheck{
		Sufficient: account.Balance >= amount,
		Balance:    account.Balance,
	}, nil
}

// Debit 扣减积分并记一笔流水
//
// 余额不足返回 ErrInsufficientCredits，此时不产生任何流水；
// 版本冲突（预检后余额被并发操作变更、但仍然充足）返回
// ErrConcurrentConflict，调用方可整体重试一次扣费流程
func (s *LedgerService) Debit(ctx context.Context, userID int64, amount int64, operationType, description string) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("扣减积分必须大于0")
	}

	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("获取账户信息失败: %w", err)
	}

	// 便宜的提前拒绝，权威校验在事务内的条件更新里
	if account.Balance < amount {
		return 0, &InsufficientCreditsError{Required: amount, Balance: account.Balance}
	}

	balanceAfter := account.Balance - amount

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.Deduct(ctx, tx, userID, amount, account.Version); err != nil {
			return err
		}

		entry := &model.LedgerEntry{
			EntryNo:       idgen.GenerateEntryNo(),
			UserID:        userID,
			OperationType: operationType,
			Delta:         -amount,
			BalanceBefore: account.Balance,
			BalanceAfter:  balanceAfter,
			Description:   description,
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录流水失败: %w", err)
		}

		return s.writeOutbox(ctx, tx, entry)
	})

	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) {
			// 预检后余额被并发操作消耗掉了，带上最新余额返回
			if latest, gerr := s.accountRepo.GetByUserID(ctx, nil, userID); gerr == nil {
				return 0, &InsufficientCreditsError{Required: amount, Balance: latest.Balance}
			}
		}
		return 0, err
	}

	return balanceAfter, nil
}

// Credit 增加积分并记一笔流水
// 账户存在则必定成功，版本冲突在内部重试
func (s *LedgerService) Credit(ctx context.Context, userID int64, amount int64, operationType, description string) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("增加积分必须大于0")
	}

	var balanceAfter int64
	var err error
	for attempt := 0; attempt < creditMaxRetries; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			after, txErr := s.CreditInTx(ctx, tx, userID, amount, operationType, description)
			if txErr != nil {
				return txErr
			}
			balanceAfter = after
			return nil
		})
		if err == nil {
			return balanceAfter, nil
		}
		if !errors.Is(err, repository.ErrConcurrentConflict) {
			return 0, err
		}
	}
	return 0, err
}

// CreditInTx 在调用方的事务内执行贷记
// 卡密兑换用它把入账和卡状态转移合并成一个事务
func (s *LedgerService) CreditInTx(ctx context.Context, tx *gorm.DB, userID int64, amount int64, operationType, description string) (int64, error) {
	account, err := s.accountRepo.GetOrCreate(ctx, tx, userID, s.cfg.Business.SeedBalance)
	if err != nil {
		return 0, fmt.Errorf("获取账户信息失败: %w", err)
	}

	if err := s.accountRepo.Increase(ctx, tx, userID, amount, account.Version); err != nil {
		return 0, err
	}

	balanceAfter := account.Balance + amount

	entry := &model.LedgerEntry{
		EntryNo:       idgen.GenerateEntryNo(),
		UserID:        userID,
		OperationType: operationType,
		Delta:         amount,
		BalanceBefore: account.Balance,
		BalanceAfter:  balanceAfter,
		Description:   description,
	}
	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("记录流水失败: %w", err)
	}

	if err := s.writeOutbox(ctx, tx, entry); err != nil {
		return 0, err
	}

	return balanceAfter, nil
}

// CostOf 查询操作价格
func (s *LedgerService) CostOf(operation string) (int64, error) {
	return s.costs.Cost(operation)
}

// ChargeResult 扣费结果
type ChargeResult struct {
	Operation    string `json:"operation"`
	Cost         int64  `json:"cost"`
	BalanceAfter int64  `json:"balance_after"`
}

// Charge 按操作类型计价并扣费
// 调用方约定：只在外部 AI 调用成功后才调用，失败的调用不产生扣费
func (s *LedgerService) Charge(ctx context.Context, userID int64, operation, description string) (*ChargeResult, error) {
	cost, err := s.costs.Cost(operation)
	if err != nil {
		return nil, err
	}

	// 按用户维度的前置锁，挡掉同一用户的瞬时重复提交
	// 锁不住不代表失败，数据库条件更新仍是权威判定
	if s.redisClient != nil {
		chargeLock := lock.NewChargeLock(s.redisClient, userID, operation)
		if err := chargeLock.Lock(ctx, 50*time.Millisecond, 20); err != nil {
			return nil, repository.ErrConcurrentConflict
		}
		defer chargeLock.Unlock(ctx)
	}

	balanceAfter, err := s.Debit(ctx, userID, cost, operation, description)
	if err != nil {
		return nil, err
	}

	return &ChargeResult{
		Operation:    operation,
		Cost:         cost,
		BalanceAfter: balanceAfter,
	}, nil
}

// History 分页查询流水，最新的在前
func (s *LedgerService) History(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	return s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
}

// writeOutbox 把积分变动事件写入发件箱（与流水同一事务）
// 未配置 Kafka topic 时跳过
func (s *LedgerService) writeOutbox(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	topic := s.cfg.Kafka.Topic.CreditEvents
	if topic == "" {
		return nil
	}

	payload := map[string]interface{}{
		"entry_no":       entry.EntryNo,
		"user_id":        entry.UserID,
		"operation_type": entry.OperationType,
		"delta":          entry.Delta,
		"balance_after":  entry.BalanceAfter,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Ledger] 序列化事件失败: %v", err)
		return nil
	}

	msg := &model.OutboxMessage{
		MessageKey: entry.EntryNo,
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入事件消息失败: %w", err)
	}
	return nil
}
