package model

import (
	"time"
)

const (
	WithdrawStatusPending  = "PENDING"
	WithdrawStatusApproved = "APPROVED"
	WithdrawStatusRejected = "REJECTED"
)

// WithdrawRequest 提现申请表
// 每个会员同一时刻最多只有一条 PENDING 申请（service 层事务内保证）。
// 审批通过时才真正扣减主钱包并累加 total_withdrawn。
type WithdrawRequest struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	MemberID     int64      `gorm:"index;not null" json:"member_id"`
	Amount       int64      `gorm:"not null" json:"amount"`
	Status       string     `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	Reason       string     `gorm:"type:varchar(256)" json:"reason"` // 驳回原因
	ReviewedAt   *time.Time `json:"reviewed_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WithdrawRequest) TableName() string {
	return "withdraw_request"
}
