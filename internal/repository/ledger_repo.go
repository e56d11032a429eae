package repository

import (
	"context"
	"time"

	"matrixpay/internal/model"

	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// CreatePair 写入一对借贷流水
// 两行共享 correlation_id，金额之和必须为 0，不满足直接拒绝写入。
func (r *LedgerRepository) CreatePair(ctx context.Context, tx *gorm.DB, debit, credit *model.LedgerEntry) error {
	if debit.CorrelationID != credit.CorrelationID {
		return ErrCorrelationMismatch
	}
	if debit.Amount+credit.Amount != 0 {
		return ErrUnbalancedPair
	}
	if err := tx.WithContext(ctx).Create(debit).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Create(credit).Error
}

// ListByMember 分页查询会员账单（借贷两个方向）
func (r *LedgerRepository) ListByMember(ctx context.Context, memberID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).
		Where("from_member_id = ? OR to_member_id = ?", memberID, memberID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// SumByCorrelationID 返回某关联ID下全部流水的带符号金额之和
func (r *LedgerRepository) SumByCorrelationID(ctx context.Context, correlationID string) (int64, error) {
	var sum *int64
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("correlation_id = ?", correlationID).
		Select("SUM(amount)").
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// CorrelationSum 对账查询结果行
type CorrelationSum struct {
	CorrelationID string `json:"correlation_id"`
	Total         int64  `json:"total"`
	Entries       int    `json:"entries"`
}

// FindUnbalanced 找出指定时间之后金额之和不为 0 的关联ID（对账任务用）
func (r *LedgerRepository) FindUnbalanced(ctx context.Context, since time.Time, limit int) ([]CorrelationSum, error) {
	var rows []CorrelationSum
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("correlation_id, SUM(amount) AS total, COUNT(*) AS entries").
		Where("created_at >= ? AND status = ?", since, model.LedgerStatusCompleted).
		Group("correlation_id").
		Having("SUM(amount) <> 0").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
