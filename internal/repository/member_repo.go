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
	ErrMemberNotFound           = errors.New("会员不存在")
	ErrAdminNotFound            = errors.New("公司账户不存在")
	ErrWalletNotEnough          = errors.New("主钱包余额不足")
	ErrUpgradeWalletNotEnough   = errors.New("升级钱包余额不足")
	ErrOptimisticLock           = errors.New("乐观锁冲突，请重试")
	ErrLevelAlreadyChanged      = errors.New("等级已变更")
	ErrPlacementAlreadyAssigned = errors.New("矩阵位置已分配")
)

type MemberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

func (r *MemberRepository) Create(ctx context.Context, member *model.Member) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *MemberRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Member, error) {
	if tx == nil {
		tx = r.db
	}
	var member model.Member
	err := tx.WithContext(ctx).Where("id = ?", id).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.Member, error) {
	var member model.Member
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByReferralCode(ctx context.Context, tx *gorm.DB, code string) (*model.Member, error) {
	if tx == nil {
		tx = r.db
	}
	var member model.Member
	err := tx.WithContext(ctx).Where("referral_code = ?", code).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

func (r *MemberRepository) GetByEmail(ctx context.Context, email string) (*model.Member, error) {
	var member model.Member
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &member, nil
}

// GetAdmin 返回公司/根账户
func (r *MemberRepository) GetAdmin(ctx context.Context, tx *gorm.DB) (*model.Member, error) {
	if tx == nil {
		tx = r.db
	}
	var member model.Member
	err := tx.WithContext(ctx).Where("is_admin = ?", true).Order("id ASC").First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAdminNotFound
		}
		return nil, err
	}
	return &member, nil
}

// GetMatrixChildren 返回某节点的矩阵子节点（按安置顺序，最多2个）
func (r *MemberRepository) GetMatrixChildren(ctx context.Context, tx *gorm.DB, referralCode string) ([]*model.Member, error) {
	if tx == nil {
		tx = r.db
	}
	var children []*model.Member
	err := tx.WithContext(ctx).
		Where("referred_by = ?", referralCode).
		Order("placed_at ASC, id ASC").
		Find(&children).Error
	return children, err
}

// ListDirectReferrals 返回某会员直接邀请的会员
func (r *MemberRepository) ListDirectReferrals(ctx context.Context, referralCode string) ([]*model.Member, error) {
	var members []*model.Member
	err := r.db.WithContext(ctx).
		Where("sponsored_by = ?", referralCode).
		Order("created_at ASC").
		Find(&members).Error
	return members, err
}

// AssignPlacement 将会员挂到矩阵父节点下
// referred_by 只允许写一次；条件更新保证并发下不会被改挂到别的节点，
// 父节点容量校验由安置引擎在同一事务内完成。
func (r *MemberRepository) AssignPlacement(ctx context.Context, tx *gorm.DB, memberID int64, parentCode string) error {
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ? AND referred_by = ''", memberID).
		Updates(map[string]interface{}{
			"referred_by": parentCode,
			"placed_at":   time.Now(),
			"version":     gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPlacementAlreadyAssigned
	}
	return nil
}

// DebitUpgradeWallet 扣减升级钱包（带余额校验和乐观锁）
func (r *MemberRepository) DebitUpgradeWallet(ctx context.Context, tx *gorm.DB, memberID int64, amount int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ? AND upgrade_wallet_balance >= ? AND version = ?", memberID, amount, version).
		Updates(map[string]interface{}{
			"upgrade_wallet_balance": gorm.Expr("upgrade_wallet_balance - ?", amount),
			"version":                gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		member, err := r.GetByID(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if member.UpgradeWalletBalance < amount {
			return ErrUpgradeWalletNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// DebitWallet 扣减主钱包（提现审批、会员间转账）
func (r *MemberRepository) DebitWallet(ctx context.Context, tx *gorm.DB, memberID int64, amount int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ? AND wallet_balance >= ? AND version = ?", memberID, amount, version).
		Updates(map[string]interface{}{
			"wallet_balance": gorm.Expr("wallet_balance - ?", amount),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		member, err := r.GetByID(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if member.WalletBalance < amount {
			return ErrWalletNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// CreditWallet 主钱包入账
func (r *MemberRepository) CreditWallet(ctx context.Context, tx *gorm.DB, memberID int64, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ?", memberID).
		Updates(map[string]interface{}{
			"wallet_balance": gorm.Expr("wallet_balance + ?", amount),
			"version":        gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// CreditUpgradeWallet 升级钱包入账
func (r *MemberRepository) CreditUpgradeWallet(ctx context.Context, tx *gorm.DB, memberID int64, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ?", memberID).
		Updates(map[string]interface{}{
			"upgrade_wallet_balance": gorm.Expr("upgrade_wallet_balance + ?", amount),
			"version":                gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// SweepToWallet 将金额从升级钱包划转到主钱包（超额收款修正）
// 条件带余额校验：划转金额不允许把升级钱包打成负数。
func (r *MemberRepository) SweepToWallet(ctx context.Context, tx *gorm.DB, memberID int64, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ? AND upgrade_wallet_balance >= ?", memberID, amount).
		Updates(map[string]interface{}{
			"upgrade_wallet_balance": gorm.Expr("upgrade_wallet_balance - ?", amount),
			"wallet_balance":         gorm.Expr("wallet_balance + ?", amount),
			"version":                gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUpgradeWalletNotEnough
	}
	return nil
}

// AdvanceLevel 将会员等级从 fromLevel 提升到 fromLevel+1
// 条件更新保证等级只能 +1，并发下第二个请求会因 0 行受影响而失败。
func (r *MemberRepository) AdvanceLevel(ctx context.Context, tx *gorm.DB, memberID int64, fromLevel int) error {
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ? AND current_level = ?", memberID, fromLevel).
		Updates(map[string]interface{}{
			"current_level": fromLevel + 1,
			"version":       gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLevelAlreadyChanged
	}
	return nil
}

// IncrementTotalWithdrawn 累加已提现金额
func (r *MemberRepository) IncrementTotalWithdrawn(ctx context.Context, tx *gorm.DB, memberID int64, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Member{}).
		Where("id = ?", memberID).
		UpdateColumn("total_withdrawn", gorm.Expr("total_withdrawn + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}
