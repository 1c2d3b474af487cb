package model

import (
	"time"
)

const (
	CardStatusUnused = "unused" // 未使用
	CardStatusUsed   = "used"   // 已使用
)

// Card 充值卡表
// 管理员批量发卡，用户凭卡密一次性兑换积分
//
// 【注意】过期不是存储状态：expires_at 已过而 status 仍为 unused 的卡
// 在读取时投影为"已过期"，不会回写第三种状态，避免双份事实来源
type Card struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"code"` // 卡密，统一大写存储
	BatchNo   string     `gorm:"type:varchar(64);index;not null" json:"batch_no"`   // 发卡批次号
	Credits   int64      `gorm:"not null" json:"credits"`                           // 面值（积分）
	Status    string     `gorm:"type:varchar(20);index;not null;default:unused" json:"status"`
	ExpiresAt *time.Time `json:"expires_at"`              // 过期时间，空表示永不过期
	UsedBy    *int64     `gorm:"index" json:"used_by"`    // 兑换用户ID
	UsedAt    *time.Time `json:"used_at"`                 // 兑换时间
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (Card) TableName() string {
	return "recharge_card"
}

// IsExpired 判断卡在给定时刻是否已过期
func (c *Card) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}
