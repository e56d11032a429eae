package model

import (
	"fmt"
)

// ============================================================================
// 等级资金流配置（1-11级固定方案）
// ============================================================================
//
// 每一级的资金流向：
//   Amount       升级者支付给第 N 层上线的金额
//   SponsorShare 推荐人分成，仅1级非零
//   UpgradeCost  达到该级的总成本（Amount + SponsorShare）
//   UplineIncome 该级满员时（2^N 个下级）的理论总收入
//   NetIncome    理论总收入扣除下一级升级成本后的净收益
//
// 配置在进程启动时构建为不可变表并注入各 service，
// 运行期间任何代码不得修改。

// LevelFlow 单个等级的资金流配置
type LevelFlow struct {
	Level        int   `json:"level"`
	Amount       int64 `json:"amount"`
	SponsorShare int64 `json:"sponsor_share"`
	UpgradeCost  int64 `json:"upgrade_cost"`
	UplineIncome int64 `json:"upline_income"`
	NetIncome    int64 `json:"net_income"`
}

// FlowTable 1-11级资金流配置表，下标即等级（0号位不用）
type FlowTable struct {
	flows [MaxLevel + 1]LevelFlow
}

// 各级升级付款金额
var levelAmounts = [MaxLevel + 1]int64{
	0, 300, 500, 1000, 2000, 4000, 8000, 16000, 32000, 64000, 128000, 256000,
}

// 1级推荐人分成
const level1SponsorShare = 100

// NewFlowTable 构建默认资金流配置表
func NewFlowTable() *FlowTable {
	t := &FlowTable{}
	for level := 1; level <= MaxLevel; level++ {
		amount := levelAmounts[level]
		var sponsorShare int64
		if level == 1 {
			sponsorShare = level1SponsorShare
		}

		// 第 N 层上线理论上有 2^N 个该深度的下级
		uplineIncome := amount * (1 << uint(level))

		netIncome := uplineIncome
		if level < MaxLevel {
			netIncome -= levelAmounts[level+1]
		}

		t.flows[level] = LevelFlow{
			Level:        level,
			Amount:       amount,
			SponsorShare: sponsorShare,
			UpgradeCost:  amount + sponsorShare,
			UplineIncome: uplineIncome,
			NetIncome:    netIncome,
		}
	}
	return t
}

// Flow 返回指定等级的资金流配置
func (t *FlowTable) Flow(level int) (LevelFlow, error) {
	if level < 1 || level > MaxLevel {
		return LevelFlow{}, fmt.Errorf("等级 %d 超出范围 [1,%d]", level, MaxLevel)
	}
	return t.flows[level], nil
}

// All 返回全部等级配置（只读副本）
func (t *FlowTable) All() []LevelFlow {
	out := make([]LevelFlow, 0, MaxLevel)
	for level := 1; level <= MaxLevel; level++ {
		out = append(out, t.flows[level])
	}
	return out
}

// ============================================================================
// 提现额度配置
// ============================================================================

// 各级提现额度（与资金流表相互独立的固定方案，单调递增）
var levelWithdrawCaps = [MaxLevel + 1]int64{
	0, 200, 300, 600, 1200, 2400, 4800, 9600, 19200, 38400, 76800, 153600,
}

// WithdrawalCapTable 累计提现额度表
// 某等级的累计可提现额度 = 1级到该级各级额度之和。
type WithdrawalCapTable struct {
	cumulative [MaxLevel + 1]int64
}

// NewWithdrawalCapTable 构建默认累计提现额度表
func NewWithdrawalCapTable() *WithdrawalCapTable {
	t := &WithdrawalCapTable{}
	var sum int64
	for level := 1; level <= MaxLevel; level++ {
		sum += levelWithdrawCaps[level]
		t.cumulative[level] = sum
	}
	return t
}

// MaxCumulative 返回该等级的累计可提现上限，0级为 0
func (t *WithdrawalCapTable) MaxCumulative(level int) int64 {
	if level < 1 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return t.cumulative[level]
}
