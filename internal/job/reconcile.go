package job

import (
	"context"
	"log"
	"time"

	"github.com/yujiapingyu/InterviewHelper-sub000/internal/config"
	"github.com/yujiapingyu/InterviewHelper-sub000/internal/repository"

	"gorm.io/gorm"
)

// ReconcileJob 对账任务
// 周期性校验每个账户的余额与流水是否一致：
// 当前余额必须等于最新一条流水的 balance_after（无流水时等于初始赠送额）
// 只发现和报警，不修数据
type ReconcileJob struct {
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	cfg         *config.Config
	interval    time.Duration
	batchSize   int
}

func NewReconcileJob(db *gorm.DB, cfg *config.Config) *ReconcileJob {
	interval := time.Duration(cfg.Business.ReconcileIntervalS) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReconcileJob{
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		cfg:         cfg,
		interval:    interval,
		batchSize:   200,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	log.Println("[Reconcile] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Reconcile] 收到停止信号，任务退出")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce 全量扫一遍账户，返回发现的不一致数量
func (j *ReconcileJob) RunOnce(ctx context.Context) int {
	mismatches := 0
	afterID := int64(0)

	for {
		accounts, err := j.accountRepo.ListBatch(ctx, afterID, j.batchSize)
		if err != nil {
			log.Printf("[Reconcile] 查询账户失败: %v", err)
			return mismatches
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			expected, err := j.expectedBalance(ctx, account.UserID)
			if err != nil {
				log.Printf("[Reconcile] 查询流水失败: userID=%d, err=%v", account.UserID, err)
				continue
			}
			if account.Balance != expected {
				mismatches++
				log.Printf("[Reconcile] 余额与流水不一致: userID=%d, balance=%d, expected=%d",
					account.UserID, account.Balance, expected)
			}
			afterID = account.ID
		}
	}

	if mismatches > 0 {
		log.Printf("[Reconcile] 本轮发现 %d 处不一致", mismatches)
	}
	return mismatches
}

func (j *ReconcileJob) expectedBalance(ctx context.Context, userID int64) (int64, error) {
	latest, err := j.ledgerRepo.GetLatestByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		// 从未发生过变动的账户应停在初始赠送额上
		return j.cfg.Business.SeedBalance, nil
	}
	return latest.BalanceAfter, nil
}
