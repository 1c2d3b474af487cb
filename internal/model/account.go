package model

import (
	"time"
)

// Account 用户积分账户表
// 记录用户的可用积分，是付费 AI 功能的核心数据
// 余额只能通过 LedgerService 的借记/贷记路径变更，任何时候不允许为负
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"` // 用户ID，业务方传入
	Balance   int64     `gorm:"not null;default:0" json:"balance"`   // 可用积分
	Version   int       `gorm:"not null;default:0" json:"version"`   // 乐观锁版本号，每次余额变更 +1
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "credit_account"
}
