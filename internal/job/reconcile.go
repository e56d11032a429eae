package job

import (
	"context"
	"log"
	"time"

	"matrixpay/internal/config"
	"matrixpay/internal/repository"

	"gorm.io/gorm"
)

// LedgerReconcileJob 账本对账任务
// 周期性检查近期流水：每个关联ID下的带符号金额之和必须为 0。
// 事务保证了这一点理论上不会被破坏，对账是最后一道防线，
// 发现不平立刻告警（当前实现为错误日志，接告警通道属运营侧）。
// 同时巡检长时间未审批的提现申请。
type LedgerReconcileJob struct {
	db             *gorm.DB
	ledgerRepo     *repository.LedgerRepository
	withdrawalRepo *repository.WithdrawalRepository
	cfg            *config.Config
	stopCh         chan struct{}
	interval       time.Duration
	lookback       time.Duration
	pendingMaxAge  time.Duration
	batchSize      int
}

func NewLedgerReconcileJob(db *gorm.DB, cfg *config.Config) *LedgerReconcileJob {
	return &LedgerReconcileJob{
		db:             db,
		ledgerRepo:     repository.NewLedgerRepository(db),
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		cfg:            cfg,
		stopCh:         make(chan struct{}),
		interval:       time.Minute,
		lookback:       24 * time.Hour,
		pendingMaxAge:  48 * time.Hour,
		batchSize:      100,
	}
}

func (j *LedgerReconcileJob) Start(ctx context.Context) {
	log.Println("[LedgerReconcileJob] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[LedgerReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[LedgerReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.checkConservation(ctx)
			j.checkStalePending(ctx)
		}
	}
}

func (j *LedgerReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *LedgerReconcileJob) checkConservation(ctx context.Context) {
	since := time.Now().Add(-j.lookback)
	rows, err := j.ledgerRepo.FindUnbalanced(ctx, since, j.batchSize)
	if err != nil {
		log.Printf("[LedgerReconcileJob] 对账查询失败: %v", err)
		return
	}

	for _, row := range rows {
		log.Printf("[LedgerReconcileJob] 【告警】发现不平账: correlationID=%s, sum=%d, entries=%d",
			row.CorrelationID, row.Total, row.Entries)
	}
}

func (j *LedgerReconcileJob) checkStalePending(ctx context.Context) {
	before := time.Now().Add(-j.pendingMaxAge)
	requests, err := j.withdrawalRepo.ListPendingBefore(ctx, before, j.batchSize)
	if err != nil {
		log.Printf("[LedgerReconcileJob] 巡检提现申请失败: %v", err)
		return
	}

	for _, req := range requests {
		log.Printf("[LedgerReconcileJob] 提现申请超过 %v 未审批: withdrawalNo=%s, memberID=%d, amount=%d",
			j.pendingMaxAge, req.WithdrawalNo, req.MemberID, req.Amount)
	}
}
