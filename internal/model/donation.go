package model

import (
	"time"
)

const (
	DonationStatusCompleted = "COMPLETED"
	DonationStatusPending   = "PENDING"
)

// DonationRecord 捐赠记录表
// 每一次升级付款（钱包升级或网关支付）成功后写入一条。
// payment_id 建唯一索引，是网关支付幂等的落地点：同一个网关支付ID
// 重复回调时直接返回已有记录，不会重复入账。
type DonationRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DonationNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"donation_no"`
	DonorID    int64     `gorm:"index;not null" json:"donor_id"`
	ReceiverID int64     `gorm:"index;not null" json:"receiver_id"`
	Amount     int64     `gorm:"not null" json:"amount"`
	Level      int       `gorm:"not null" json:"level"`
	Status     string    `gorm:"type:varchar(20);not null" json:"status"`
	OrderID    string    `gorm:"type:varchar(64)" json:"order_id"`                    // 网关订单ID（钱包升级时为空）
	PaymentID  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"payment_id"` // 幂等键
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (DonationRecord) TableName() string {
	return "donation_record"
}
