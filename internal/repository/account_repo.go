package repository

import (
	"context"
	"errors"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound     = errors.New("账户不存在")
	ErrInsufficientCredits = errors.New("积分不足")
	ErrConcurrentConflict  = errors.New("并发更新冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Deduct 条件扣减余额
//
// 【关键点】WHERE 同时带上 balance >= amount 和 version 两个条件：
//   - balance 条件保证余额在任何并发序列下都不会被扣成负数
//   - version 条件保证调用方读到的余额快照仍然有效，
//     从而流水里的 balance_before/balance_after 一定准确
//
// 影响行数为 0 时在同一事务内回查账户，区分两种失败：
// 余额确实不足，还是版本过期（并发冲突，可重试）
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if account.Balance < amount {
			return ErrInsufficientCredits
		}
		return ErrConcurrentConflict
	}

	return nil
}

// Increase 条件增加余额
// 同样带 version 条件：贷记虽然不会失败于余额，但流水快照必须和实际变更对齐
func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID); err != nil {
			return err
		}
		return ErrConcurrentConflict
	}

	return nil
}

// GetOrCreate 获取账户，不存在则以初始赠送额创建
// 并发安全：冲突时走 DoNothing 再回读
func (r *AccountRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64, seedBalance int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}

	account, err := r.GetByUserID(ctx, tx, userID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID:  userID,
		Balance: seedBalance,
	}

	err = tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, tx, userID)
}

// ListBatch 按主键分批遍历账户，供对账任务使用
func (r *AccountRepository) ListBatch(ctx context.Context, afterID int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}
