package service

import (
	"context"
	"fmt"

	"matrixpay/internal/model"
	"matrixpay/internal/repository"
	"matrixpay/pkg/idgen"

	"gorm.io/gorm"
)

// ============================================================================
// 转账计划
// ============================================================================
//
// 升级付款可能拆成多笔（上线收益 + 推荐人分成），收款人与推荐人
// 是同一人时要合并成一笔，避免写两对流水。统一的做法：
// 先算出转账指令列表，按 (from, to, 目标钱包) 合并，再逐笔落账。

// transfer 一条转账指令
type transfer struct {
	FromID          *int64
	ToID            *int64
	Amount          int64
	Type            string // 贷方流水类型
	DebitType       string // 借方流水类型
	ToUpgradeWallet bool   // true 入升级钱包，false 入主钱包
	Remark          string
}

func transferKey(t transfer) string {
	from, to := int64(0), int64(0)
	if t.FromID != nil {
		from = *t.FromID
	}
	if t.ToID != nil {
		to = *t.ToID
	}
	return fmt.Sprintf("%d->%d:%t", from, to, t.ToUpgradeWallet)
}

// mergeTransfers 合并 (from, to, 目标钱包) 相同的指令
// 合并后的金额相加，类型与备注沿用第一笔，顺序保持首次出现的顺序。
func mergeTransfers(transfers []transfer) []transfer {
	merged := make([]transfer, 0, len(transfers))
	index := make(map[string]int, len(transfers))

	for _, t := range transfers {
		key := transferKey(t)
		if i, ok := index[key]; ok {
			merged[i].Amount += t.Amount
			continue
		}
		index[key] = len(merged)
		merged = append(merged, t)
	}
	return merged
}

// writeLedgerPair 为一笔转账写入成对借贷流水
func writeLedgerPair(ctx context.Context, tx *gorm.DB, ledgerRepo *repository.LedgerRepository, t transfer) (string, error) {
	correlationID := idgen.GenerateCorrelationID()

	debit := &model.LedgerEntry{
		EntryNo:       idgen.GenerateEntryNo(),
		CorrelationID: correlationID,
		FromMemberID:  t.FromID,
		ToMemberID:    t.ToID,
		Amount:        -t.Amount,
		Type:          t.DebitType,
		Status:        model.LedgerStatusCompleted,
		Remark:        t.Remark,
	}
	credit := &model.LedgerEntry{
		EntryNo:       idgen.GenerateEntryNo(),
		CorrelationID: correlationID,
		FromMemberID:  t.FromID,
		ToMemberID:    t.ToID,
		Amount:        t.Amount,
		Type:          t.Type,
		Status:        model.LedgerStatusCompleted,
		Remark:        t.Remark,
	}

	if err := ledgerRepo.CreatePair(ctx, tx, debit, credit); err != nil {
		return "", fmt.Errorf("写入借贷流水失败: %w", err)
	}
	return correlationID, nil
}
