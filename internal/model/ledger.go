package model

import (
	"time"
)

// ============================================================================
// 账本类型常量
// ============================================================================

const (
	LedgerTypeUpgradePayment    = "UPGRADE_PAYMENT"    // 升级付款（支出）
	LedgerTypeUplineCommission  = "UPLINE_COMMISSION"  // 上线收益
	LedgerTypeSponsorCommission = "SPONSOR_COMMISSION" // 推荐人分成
	LedgerTypeAdminRevenue      = "ADMIN_REVENUE"      // 公司账户收入（链路断裂兜底）
	LedgerTypeDonationSent      = "DONATION_SENT"      // 网关捐赠（支出方向记录）
	LedgerTypeDonationReceived  = "DONATION_RECEIVED"  // 网关捐赠到账
	LedgerTypeFundTransfer      = "FUND_TRANSFER"      // 会员间转账
	LedgerTypeDeposit           = "DEPOSIT"            // 升级钱包充值
	LedgerTypeWithdrawal        = "WITHDRAWAL"         // 提现
	LedgerTypeWalletSweep       = "WALLET_SWEEP"       // 超额收款从升级钱包划转主钱包
)

const (
	LedgerStatusCompleted = "COMPLETED"
	LedgerStatusPending   = "PENDING"
)

// LedgerEntry 账本流水表
//
// 【重要】账本设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 每一笔逻辑转账写成对的两行（借方负数 + 贷方正数），共享同一个
//    correlation_id，两行金额之和恒为 0 —— 对账的核心依据
// 3. 系统级流水（如公司账户兜底入账）允许 from/to 一侧为空
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	CorrelationID string    `gorm:"type:varchar(64);index;not null" json:"correlation_id"` // 成对流水关联ID
	FromMemberID  *int64    `gorm:"index" json:"from_member_id"`
	ToMemberID    *int64    `gorm:"index" json:"to_member_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 带符号：正数入账，负数出账
	Type          string    `gorm:"type:varchar(32);not null" json:"type"`
	Status        string    `gorm:"type:varchar(20);not null;default:COMPLETED" json:"status"`
	Remark        string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
