package model

import (
	"errors"
	"fmt"
)

var ErrUnknownOperation = errors.New("未知的操作类型")

// defaultCosts 各 AI 操作的默认积分价格
var defaultCosts = map[string]int64{
	OperationGenerateQuestion: 2,
	OperationGenerateAnswer:   2,
	OperationEvaluateAnswer:   3,
	OperationMockInterview:    5,
	OperationParseResume:      10,
}

// CostTable 操作价格表
// 只读查询表，默认价格可被配置覆盖；构造后不再变更
type CostTable struct {
	costs map[string]int64
}

// NewCostTable 创建价格表，overrides 中的价格覆盖默认值
func NewCostTable(overrides map[string]int64) *CostTable {
	costs := make(map[string]int64, len(defaultCosts))
	for name, cost := range defaultCosts {
		costs[name] = cost
	}
	for name, cost := range overrides {
		if cost > 0 {
			costs[name] = cost
		}
	}
	return &CostTable{costs: costs}
}

// Cost 查询操作价格，未注册的操作返回 ErrUnknownOperation
func (t *CostTable) Cost(operation string) (int64, error) {
	cost, ok := t.costs[operation]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOperation, operation)
	}
	return cost, nil
}
