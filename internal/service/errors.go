package service

import (
	"errors"
	"fmt"
)

// ============================================================================
// 业务错误
// ============================================================================
//
// 错误分类（对应 pkg/response 的业务码）：
//   顺序错误 / 余额不足        —— 终态，带具体数额返回给用户，不自动重试
//   矩阵无空位 / 公司账户缺失  —— 运营级故障，需要告警
//   链路断裂                  —— 不是错误，自动兜底到公司账户
//   幂等冲突                  —— 不是错误，返回已有结果
//   乐观锁冲突                —— 瞬态，整个操作从头重试（次数有界）

var (
	ErrAdminMissing       = errors.New("公司账户缺失")
	ErrAlreadyProcessed   = errors.New("该支付已处理")
	ErrPendingWithdrawal  = errors.New("已有待审批的提现申请")
	ErrSignatureInvalid   = errors.New("支付签名校验失败")
	ErrPaymentNotCaptured = errors.New("支付未完成，不能入账")
	ErrLevelZero          = errors.New("未激活会员不能提现")
)

// SequenceError 等级必须逐级激活
type SequenceError struct {
	CurrentLevel int
	TargetLevel  int
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("等级必须逐级激活：当前 %d 级，只能激活 %d 级，请求激活 %d 级",
		e.CurrentLevel, e.CurrentLevel+1, e.TargetLevel)
}

// InsufficientBalanceError 余额不足（带需要/可用数额）
type InsufficientBalanceError struct {
	Wallet    string // "wallet" / "upgrade_wallet"
	Required  int64
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	name := "主钱包"
	if e.Wallet == "upgrade_wallet" {
		name = "升级钱包"
	}
	return fmt.Sprintf("%s余额不足：需要 ₹%d，当前 ₹%d", name, e.Required, e.Available)
}

// AmountMismatchError 网关支付金额与等级费用不符
type AmountMismatchError struct {
	ExpectedPaise int64
	ActualPaise   int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("支付金额不符：应付 %d paise，实付 %d paise", e.ExpectedPaise, e.ActualPaise)
}

// WithdrawCapError 超出累计提现额度
type WithdrawCapError struct {
	Level     int
	Cap       int64
	Withdrawn int64
	Requested int64
}

func (e *WithdrawCapError) Error() string {
	return fmt.Sprintf("超出 %d 级累计提现额度：上限 ₹%d，已提现 ₹%d，本次申请 ₹%d，剩余可提 ₹%d",
		e.Level, e.Cap, e.Withdrawn, e.Requested, e.Cap-e.Withdrawn)
}
