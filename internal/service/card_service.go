package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/infrastructure/lock"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/model"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/repository"
	"github.com/yujiapingyu/InterviewHelper-sub000/pkg/cardcode"
	"github.com/yujiapingyu/InterviewHelper-sub000/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var ErrInvalidCardFormat = errors.New("卡密格式错误")

const (
	maxBatchSize = 1000 // 单批最大发卡数
	// 卡密撞上唯一索引时换新卡密的重试次数
	// 32 位随机熵下几乎不会触发，兜底防止死循环
	codeRetries = 5
	// 兑换事务遇到账户版本冲突时整体重试的次数
	redeemRetries = 3
)

// CardService 充值卡的发行与兑换
type CardService struct {
	db          *gorm.DB
	redisClient *redis.Client // 可选
	cardRepo    *repository.CardRepository
	ledger      *LedgerService
}

func NewCardService(db *gorm.DB, redisClient *redis.Client, ledger *LedgerService) *CardService {
	return &CardService{
		db:          db,
		redisClient: redisClient,
		cardRepo:    repository.NewCardRepository(db),
		ledger:      ledger,
	}
}

// GenerateResult 发卡结果
type GenerateResult struct {
	BatchNo string        `json:"batch_no"`
	Cards   []*model.Card `json:"cards"`
}

// Generate 批量发卡
// expiryDays 为 nil 表示永不过期；每张卡独立生成卡密，
// 撞上唯一索引时只重新生成这一张，不影响整批
func (s *CardService) Generate(ctx context.Context, count int, creditsPerCard int64, expiryDays *int) (*GenerateResult, error) {
	if count <= 0 || count > maxBatchSize {
		return nil, fmt.Errorf("发卡数量必须在 1-%d 之间", maxBatchSize)
	}
	if creditsPerCard <= 0 {
		return nil, errors.New("卡面值必须大于0")
	}

	now := time.Now()
	var expiresAt *time.Time
	if expiryDays != nil {
		t := now.AddDate(0, 0, *expiryDays)
		expiresAt = &t
	}

	batchNo := idgen.GenerateBatchNo()
	cards := make([]*model.Card, 0, count)

	for i := 0; i < count; i++ {
		card, err := s.createOne(ctx, batchNo, creditsPerCard, expiresAt, now)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}

	log.Printf("[Card] 发卡完成: batchNo=%s, count=%d, credits=%d", batchNo, count, creditsPerCard)

	return &GenerateResult{BatchNo: batchNo, Cards: cards}, nil
}

func (s *CardService) createOne(ctx context.Context, batchNo string, credits int64, expiresAt *time.Time, now time.Time) (*model.Card, error) {
	for attempt := 0; attempt < codeRetries; attempt++ {
		code, err := cardcode.Generate(now)
		if err != nil {
			return nil, err
		}

		card := &model.Card{
			Code:      code,
			BatchNo:   batchNo,
			Credits:   credits,
			Status:    model.CardStatusUnused,
			ExpiresAt: expiresAt,
		}

		err = s.cardRepo.Create(ctx, card)
		if err == nil {
			return card, nil
		}
		if !errors.Is(err, repository.ErrDuplicateCardCode) {
			return nil, fmt.Errorf("写入卡片失败: %w", err)
		}
		// 卡密撞库，换一个重来
	}
	return nil, errors.New("生成唯一卡密失败")
}

// RedeemResult 兑换结果
type RedeemResult struct {
	Credits      int64 `json:"credits"`
	BalanceAfter int64 `json:"balance_after"`
}

// Redeem 兑换卡密
//
// 【关键点】兑换必须恰好一次入账：
// 1. 格式校验和卡面预检都是便宜的提前拒绝，不查库/不开事务就能打回
// 2. Redis 锁按卡密维度挡掉重复提交（可选，仅降低争用）
// 3. 权威判定在事务内：unused→used 的条件更新和入账同事务提交，
//    并发的第二次兑换条件更新不命中，回查后返回"卡密已被使用"
func (s *CardService) Redeem(ctx context.Context, userID int64, rawCode string) (*RedeemResult, error) {
	code := cardcode.Normalize(rawCode)
	if !cardcode.Valid(code) {
		return nil, ErrInvalidCardFormat
	}

	// 预检：明确的失败原因尽早返回（非权威，过期/状态以事务内为准）
	card, err := s.cardRepo.GetByCode(ctx, nil, code)
	if err != nil {
		return nil, err
	}
	if card.Status == model.CardStatusUsed {
		return nil, repository.ErrCardAlreadyUsed
	}
	if card.IsExpired(time.Now()) {
		return nil, repository.ErrCardExpired
	}

	if s.redisClient != nil {
		redeemLock := lock.NewRedeemLock(s.redisClient, code)
		if err := redeemLock.Lock(ctx, 50*time.Millisecond, 20); err != nil {
			return nil, repository.ErrConcurrentConflict
		}
		defer redeemLock.Unlock(ctx)
	}

	var balanceAfter int64
	for attempt := 0; attempt < redeemRetries; attempt++ {
		err = s.db.Transaction(func(tx *gorm.DB) error {
			if err := s.cardRepo.MarkUsed(ctx, tx, code, userID, time.Now()); err != nil {
				return err
			}

			after, err := s.ledger.CreditInTx(ctx, tx, userID, card.Credits,
				model.OperationRecharge, fmt.Sprintf("卡密兑换-%s", code))
			if err != nil {
				return err
			}
			balanceAfter = after
			return nil
		})
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConcurrentConflict) {
			return nil, err
		}
		// 账户版本冲突整体回滚重试，卡状态随事务一起还原
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[Card] 兑换成功: code=%s, userID=%d, credits=%d", code, userID, card.Credits)

	return &RedeemResult{
		Credits:      card.Credits,
		BalanceAfter: balanceAfter,
	}, nil
}

// ListBatch 查询批次内的卡片
func (s *CardService) ListBatch(ctx context.Context, batchNo string) ([]*model.Card, error) {
	return s.cardRepo.ListByBatchNo(ctx, batchNo)
}
