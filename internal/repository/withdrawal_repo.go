package repository

import (
	"context"
	"errors"
	"time"

	"matrixpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWithdrawalNotFound      = errors.New("提现申请不存在")
	ErrWithdrawalStatusInvalid = errors.New("提现申请状态不合法")
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, req *model.WithdrawRequest) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(req).Error
}

func (r *WithdrawalRepository) GetByNo(ctx context.Context, tx *gorm.DB, withdrawalNo string) (*model.WithdrawRequest, error) {
	if tx == nil {
		tx = r.db
	}
	var req model.WithdrawRequest
	err := tx.WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *WithdrawalRepository) GetByNoForUpdate(ctx context.Context, tx *gorm.DB, withdrawalNo string) (*model.WithdrawRequest, error) {
	var req model.WithdrawRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("withdrawal_no = ?", withdrawalNo).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

// GetPendingByMember 查询会员当前的待审批申请，不存在时返回 (nil, nil)
func (r *WithdrawalRepository) GetPendingByMember(ctx context.Context, tx *gorm.DB, memberID int64) (*model.WithdrawRequest, error) {
	if tx == nil {
		tx = r.db
	}
	var req model.WithdrawRequest
	err := tx.WithContext(ctx).
		Where("member_id = ? AND status = ?", memberID, model.WithdrawStatusPending).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// SumApprovedByMember 返回会员累计已审批通过的提现金额
func (r *WithdrawalRepository) SumApprovedByMember(ctx context.Context, tx *gorm.DB, memberID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var sum *int64
	err := tx.WithContext(ctx).
		Model(&model.WithdrawRequest{}).
		Where("member_id = ? AND status = ?", memberID, model.WithdrawStatusApproved).
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

// UpdateStatus 条件更新申请状态（PENDING -> APPROVED/REJECTED）
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus, reason string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.WithdrawRequest{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"reason":      reason,
			"reviewed_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWithdrawalStatusInvalid
	}
	return nil
}

func (r *WithdrawalRepository) ListByMember(ctx context.Context, memberID int64, page, pageSize int) ([]*model.WithdrawRequest, int64, error) {
	var requests []*model.WithdrawRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WithdrawRequest{}).Where("member_id = ?", memberID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error

	return requests, total, err
}

// ListPendingBefore 查询早于指定时间仍未审批的申请（巡检任务用）
func (r *WithdrawalRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*model.WithdrawRequest, error) {
	var requests []*model.WithdrawRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.WithdrawStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}
