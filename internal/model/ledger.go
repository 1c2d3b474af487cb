package model

import (
	"time"
)

// ============================================================================
// 操作类型常量
// ============================================================================

const (
	OperationGenerateQuestion = "GENERATE_QUESTION" // 生成面试题
	OperationGenerateAnswer   = "GENERATE_ANSWER"   // 生成参考答案
	OperationEvaluateAnswer   = "EVALUATE_ANSWER"   // 评估用户回答
	OperationMockInterview    = "MOCK_INTERVIEW"    // 模拟面试
	OperationParseResume      = "PARSE_RESUME"      // 解析简历
	OperationRecharge         = "RECHARGE"          // 充值（含卡密兑换）
)

// ============================================================================
// 积分流水实体
// ============================================================================

// LedgerEntry 积分流水表
// 记录账户的每一笔积分变动，是对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 记录变动前后余额 —— 便于校验余额一致性
// 3. 当前余额必须等于最新一条流水的 balance_after（无流水时等于初始赠送额）
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`  // 流水号（全局唯一）
	UserID        int64     `gorm:"index;not null" json:"user_id"`                          // 用户ID
	OperationType string    `gorm:"type:varchar(32);not null" json:"operation_type"`        // 操作类型
	Delta         int64     `gorm:"not null" json:"delta"`                                  // 积分变动（正数入账，负数出账）
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`                         // 变动前余额
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`                          // 变动后余额
	Description   string    `gorm:"type:varchar(256)" json:"description"`                   // 备注，本层只当作不透明文本
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "credit_ledger"
}
