package repository

import (
	"context"
	"errors"
	"time"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/model"

	"gorm.io/gorm"
)

var (
	ErrCardNotFound      = errors.New("卡密不存在")
	ErrCardAlreadyUsed   = errors.New("卡密已被使用")
	ErrCardExpired       = errors.New("卡密已过期")
	ErrDuplicateCardCode = errors.New("卡密重复")
)

type CardRepository struct {
	db *gorm.DB
}

func NewCardRepository(db *gorm.DB) *CardRepository {
	return &CardRepository{db: db}
}

// Create 写入一张新卡
// 撞上唯一索引时返回 ErrDuplicateCardCode，由发卡方换个卡密重试
func (r *CardRepository) Create(ctx context.Context, card *model.Card) error {
	err := r.db.WithContext(ctx).Create(card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCardCode
		}
		return err
	}
	return nil
}

func (r *CardRepository) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Card, error) {
	if tx == nil {
		tx = r.db
	}
	var card model.Card
	err := tx.WithContext(ctx).Where("code = ?", code).First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// MarkUsed 将卡从 unused 置为 used（权威的一次性判定）
//
// 【关键点】WHERE 带上 status = unused 和未过期两个条件，
// 状态转移和判定在同一条 UPDATE 里原子完成：
// 并发的两次兑换里后执行的一方影响行数为 0，回查卡面区分失败原因
func (r *CardRepository) MarkUsed(ctx context.Context, tx *gorm.DB, code string, userID int64, now time.Time) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Card{}).
		Where("code = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
			code, model.CardStatusUnused, now).
		Updates(map[string]interface{}{
			"status":  model.CardStatusUsed,
			"used_by": userID,
			"used_at": now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		card, err := r.GetByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if card.Status == model.CardStatusUsed {
			return ErrCardAlreadyUsed
		}
		if card.IsExpired(now) {
			return ErrCardExpired
		}
		return ErrConcurrentConflict
	}

	return nil
}

// ListByBatchNo 查询一个批次内的所有卡
func (r *CardRepository) ListByBatchNo(ctx context.Context, batchNo string) ([]*model.Card, error) {
	var cards []*model.Card
	err := r.db.WithContext(ctx).
		Where("batch_no = ?", batchNo).
		Order("id ASC").
		Find(&cards).Error
	return cards, err
}
