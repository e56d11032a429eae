package repository

import (
	"context"
	"errors"

	"matrixpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrCorrelationMismatch = errors.New("借贷流水关联ID不一致")
	ErrUnbalancedPair      = errors.New("借贷流水金额不平")
)

type DonationRepository struct {
	db *gorm.DB
}

func NewDonationRepository(db *gorm.DB) *DonationRepository {
	return &DonationRepository{db: db}
}

func (r *DonationRepository) Create(ctx context.Context, tx *gorm.DB, record *model.DonationRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

// GetByPaymentID 按网关支付ID查询捐赠记录，不存在时返回 (nil, nil)
// 这是支付幂等判定的唯一入口。
func (r *DonationRepository) GetByPaymentID(ctx context.Context, tx *gorm.DB, paymentID string) (*model.DonationRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var record model.DonationRecord
	err := tx.WithContext(ctx).Where("payment_id = ?", paymentID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListByDonor 分页查询会员的捐赠（升级付款）记录
func (r *DonationRepository) ListByDonor(ctx context.Context, donorID int64, page, pageSize int) ([]*model.DonationRecord, int64, error) {
	var records []*model.DonationRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.DonationRecord{}).Where("donor_id = ?", donorID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}
