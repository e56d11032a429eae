package model

import (
	"time"
)

// Member 会员表
// 会员同时处于两棵"树"中：
//   - 推荐关系（sponsored_by）：注册时填写邀请人的推荐码，永不变更
//   - 安置矩阵（referred_by）：1级激活时由矩阵安置引擎写入，每个节点最多2个子节点
//
// 【重要】余额字段只能在事务内由 service 层修改，任何地方不允许
// 在事务外做"读-改-写"。
type Member struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email                string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Phone                string    `gorm:"type:varchar(20)" json:"phone"`
	ReferralCode         string    `gorm:"type:varchar(16);uniqueIndex;not null" json:"referral_code"` // 注册时生成，全局唯一
	SponsoredBy          string    `gorm:"type:varchar(16);index" json:"sponsored_by"`                 // 邀请人推荐码，注册时固定
	ReferredBy           string    `gorm:"type:varchar(16);index" json:"referred_by"`                  // 矩阵父节点推荐码，1级激活时写入一次
	PlacedAt             *time.Time `json:"placed_at"`                                                 // 矩阵安置时间，用于子节点排序
	CurrentLevel         int       `gorm:"not null;default:0" json:"current_level"`                    // 当前等级 0-11，只增不减
	WalletBalance        int64     `gorm:"not null;default:0" json:"wallet_balance"`                   // 主钱包（可提现）
	UpgradeWalletBalance int64     `gorm:"not null;default:0" json:"upgrade_wallet_balance"`           // 升级钱包（仅可用于升级）
	TotalWithdrawn       int64     `gorm:"not null;default:0" json:"total_withdrawn"`                  // 累计已提现
	IsAdmin              bool      `gorm:"not null;default:false" json:"is_admin"`                     // 公司/根账户标记
	Version              int       `gorm:"not null;default:0" json:"version"`                          // 乐观锁版本号
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Member) TableName() string {
	return "member"
}

// MatrixCapacity 矩阵每个节点的子节点容量上限
const MatrixCapacity = 2

// MaxLevel 最高等级
const MaxLevel = 11

// LevelPaymentCounter 等级收款计数表
// 记录某会员在某等级已收到的上线收益笔数，收款路由依赖该计数：
// 前2笔进入升级钱包（用于再升级），超出部分进入主钱包（可提现）。
// 源系统用动态 map 存储，这里显式建模为 (member_id, level) 唯一行。
type LevelPaymentCounter struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MemberID  int64     `gorm:"uniqueIndex:uk_member_level;not null" json:"member_id"`
	Level     int       `gorm:"uniqueIndex:uk_member_level;not null" json:"level"`
	Count     int       `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (LevelPaymentCounter) TableName() string {
	return "level_payment_counter"
}
