package repository

import (
	"context"
	"errors"

	"matrixpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CounterRepository struct {
	db *gorm.DB
}

func NewCounterRepository(db *gorm.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// Get 返回某会员在某等级已收到的收款笔数，无记录时返回 0
func (r *CounterRepository) Get(ctx context.Context, tx *gorm.DB, memberID int64, level int) (int, error) {
	if tx == nil {
		tx = r.db
	}
	var counter model.LevelPaymentCounter
	err := tx.WithContext(ctx).
		Where("member_id = ? AND level = ?", memberID, level).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return counter.Count, nil
}

// Increment 收款计数 +1，返回自增后的计数
// 行锁读后更新，必须在事务内调用：计数决定资金进升级钱包还是主钱包，
// 不允许并发丢更新。
func (r *CounterRepository) Increment(ctx context.Context, tx *gorm.DB, memberID int64, level int) (int, error) {
	var counter model.LevelPaymentCounter
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ? AND level = ?", memberID, level).
		First(&counter).Error

	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		counter = model.LevelPaymentCounter{
			MemberID: memberID,
			Level:    level,
			Count:    1,
		}
		if err := tx.WithContext(ctx).Create(&counter).Error; err != nil {
			return 0, err
		}
		return 1, nil
	}

	counter.Count++
	if err := tx.WithContext(ctx).
		Model(&model.LevelPaymentCounter{}).
		Where("id = ?", counter.ID).
		Update("count", counter.Count).Error; err != nil {
		return 0, err
	}
	return counter.Count, nil
}
