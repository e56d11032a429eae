package handler

import (
	"errors"
	"strconv"

	"matrixpay/internal/config"
	"matrixpay/internal/gateway"
	"matrixpay/internal/matrix"
	"matrixpay/internal/model"
	"matrixpay/internal/repository"
	"matrixpay/internal/service"
	"matrixpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	flows             *model.FlowTable
	memberService     *service.MemberService
	upgradeService    *service.UpgradeService
	donationService   *service.DonationService
	withdrawalService *service.WithdrawalService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.PaymentGateway) *Handler {
	flows := model.NewFlowTable()
	caps := model.NewWithdrawalCapTable()
	return &Handler{
		flows:             flows,
		memberService:     service.NewMemberService(db, rdb, cfg),
		upgradeService:    service.NewUpgradeService(db, rdb, cfg, flows),
		donationService:   service.NewDonationService(db, rdb, cfg, flows, gw),
		withdrawalService: service.NewWithdrawalService(db, rdb, cfg, caps),
	}
}

// writeBusinessError 把业务错误映射到统一错误码
// 每类拒绝都带具体原因，调用方能区分"还差多少钱"和"顺序不对"。
func writeBusinessError(c *gin.Context, err error) {
	var seqErr *service.SequenceError
	var balErr *service.InsufficientBalanceError
	var capErr *service.WithdrawCapError
	var amtErr *service.AmountMismatchError

	switch {
	case errors.As(err, &seqErr):
		response.BusinessError(c, response.CodeInvalidSequence, err.Error())
	case errors.As(err, &balErr):
		response.BusinessError(c, response.CodeInsufficientBalance, err.Error())
	case errors.As(err, &capErr):
		response.BusinessError(c, response.CodeWithdrawCapExceeded, err.Error())
	case errors.As(err, &amtErr):
		response.BusinessError(c, response.CodeAmountMismatch, err.Error())
	case errors.Is(err, service.ErrSignatureInvalid):
		response.BusinessError(c, response.CodeSignatureInvalid, err.Error())
	case errors.Is(err, service.ErrPaymentNotCaptured):
		response.BusinessError(c, response.CodePaymentNotCaptured, err.Error())
	case errors.Is(err, service.ErrPendingWithdrawal):
		response.BusinessError(c, response.CodePendingWithdrawal, err.Error())
	case errors.Is(err, service.ErrLevelZero):
		response.BusinessError(c, response.CodeInvalidSequence, err.Error())
	case errors.Is(err, service.ErrAdminMissing):
		response.BusinessError(c, response.CodeAdminMissing, err.Error())
	case errors.Is(err, repository.ErrMemberNotFound):
		response.BusinessError(c, response.CodeMemberNotFound, err.Error())
	case errors.Is(err, matrix.ErrNoOpenSlot):
		response.BusinessError(c, response.CodePlacementExhausted, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 会员相关接口
// ============================================================

// Register 注册会员
// POST /api/v1/member/register
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	member, err := h.memberService.Register(c.Request.Context(), &req)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"member_id":     member.ID,
		"referral_code": member.ReferralCode,
		"current_level": member.CurrentLevel,
	})
}

// GetProfile 查询当前会员信息
// GET /api/v1/member/profile
func (h *Handler) GetProfile(c *gin.Context) {
	member, err := h.memberService.GetMember(c.Request.Context(), currentMemberID(c))
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, member)
}

// GetBalances 查询当前会员钱包余额
// GET /api/v1/member/balance
func (h *Handler) GetBalances(c *gin.Context) {
	balances, err := h.memberService.GetBalances(c.Request.Context(), currentMemberID(c))
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, balances)
}

// ListDirectReferrals 查询直接邀请的下级
// GET /api/v1/member/referrals
func (h *Handler) ListDirectReferrals(c *gin.Context) {
	members, err := h.memberService.ListDirectReferrals(c.Request.Context(), currentMemberID(c))
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"list": members, "total": len(members)})
}

// DepositRequest 充值请求
type DepositRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// Deposit 升级钱包充值
// POST /api/v1/member/deposit
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.memberService.Deposit(c.Request.Context(), currentMemberID(c), req.Amount); err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "充值成功"})
}

// TransferRequest 转账请求
type TransferRequest struct {
	ToMemberID int64 `json:"to_member_id" binding:"required"`
	Amount     int64 `json:"amount" binding:"required,gt=0"`
}

// TransferFunds 会员间主钱包转账
// POST /api/v1/member/transfer
func (h *Handler) TransferFunds(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.memberService.TransferFunds(c.Request.Context(), currentMemberID(c), req.ToMemberID, req.Amount); err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "转账成功"})
}

// ListLedger 查询会员账单
// GET /api/v1/member/ledger?page=1&page_size=10
func (h *Handler) ListLedger(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	entries, total, err := h.memberService.ListLedger(c.Request.Context(), currentMemberID(c), page, pageSize)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 等级升级接口
// ============================================================

// UpgradeRequest 升级请求
type UpgradeRequest struct {
	TargetLevel int `json:"target_level" binding:"required,gte=1,lte=11"`
}

// Upgrade 钱包升级
// POST /api/v1/level/upgrade
//
// 【关键点】升级是整个系统最核心的操作：
// 1. 顺序性：只能激活当前等级 +1
// 2. 原子性：安置、扣款、分账、流水、等级变更同一事务
// 3. 并发安全：按会员维度的分布式锁 + 乐观锁
func (h *Handler) Upgrade(c *gin.Context) {
	var req UpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.upgradeService.Upgrade(c.Request.Context(), currentMemberID(c), req.TargetLevel)
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, result)
}

// ListLevelFlows 查询等级资金流配置
// GET /api/v1/level/flows
func (h *Handler) ListLevelFlows(c *gin.Context) {
	response.Success(c, gin.H{"list": h.flows.All()})
}

// ============================================================
// 网关支付核验接口
// ============================================================

// VerifyDonation 核验网关支付并入账（网关直付升级路径）
// POST /api/v1/donation/verify
func (h *Handler) VerifyDonation(c *gin.Context) {
	var req service.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.MemberID = currentMemberID(c)

	result, err := h.donationService.VerifyAndApply(c.Request.Context(), &req)
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, result)
}

// ListDonations 查询升级付款记录
// GET /api/v1/donation/list?page=1&page_size=10
func (h *Handler) ListDonations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	records, total, err := h.donationService.ListDonations(c.Request.Context(), currentMemberID(c), page, pageSize)
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 提现接口
// ============================================================

// WithdrawRequest 提现申请
type WithdrawRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// RequestWithdrawal 发起提现申请
// POST /api/v1/withdrawal/request
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	request, err := h.withdrawalService.RequestWithdrawal(c.Request.Context(), currentMemberID(c), req.Amount)
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{
		"withdrawal_no": request.WithdrawalNo,
		"amount":        request.Amount,
		"status":        request.Status,
	})
}

// GetWithdrawalQuota 查询提现额度
// GET /api/v1/withdrawal/quota
func (h *Handler) GetWithdrawalQuota(c *gin.Context) {
	memberID := currentMemberID(c)

	member, err := h.memberService.GetMember(c.Request.Context(), memberID)
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	withdrawn, err := h.withdrawalService.GetCumulativeWithdrawn(c.Request.Context(), memberID)
	if err != nil {
		writeBusinessError(c, err)
		return
	}

	cap := h.withdrawalService.MaxCumulativeWithdrawal(member.CurrentLevel)
	response.Success(c, gin.H{
		"current_level":   member.CurrentLevel,
		"cumulative_cap":  cap,
		"total_withdrawn": withdrawn,
		"remaining":       cap - withdrawn,
	})
}

// ListWithdrawals 查询提现记录
// GET /api/v1/withdrawal/list?page=1&page_size=10
func (h *Handler) ListWithdrawals(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	requests, total, err := h.withdrawalService.ListWithdrawals(c.Request.Context(), currentMemberID(c), page, pageSize)
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      requests,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 管理接口
// ============================================================

// ReviewWithdrawalRequest 审批请求
type ReviewWithdrawalRequest struct {
	WithdrawalNo string `json:"withdrawal_no" binding:"required"`
	Reason       string `json:"reason"`
}

// ApproveWithdrawal 审批通过提现
// POST /api/v1/admin/withdrawal/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	var req ReviewWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	request, err := h.withdrawalService.ApproveWithdrawal(c.Request.Context(), req.WithdrawalNo)
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{
		"withdrawal_no": request.WithdrawalNo,
		"status":        request.Status,
		"amount":        request.Amount,
	})
}

// RejectWithdrawal 驳回提现
// POST /api/v1/admin/withdrawal/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var req ReviewWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.withdrawalService.RejectWithdrawal(c.Request.Context(), req.WithdrawalNo, req.Reason); err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已驳回"})
}

// FindOpenSlot 矩阵空位诊断
// GET /api/v1/admin/matrix/slot?sponsor_id=xxx
func (h *Handler) FindOpenSlot(c *gin.Context) {
	sponsorID, err := strconv.ParseInt(c.Query("sponsor_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "sponsor_id 参数错误")
		return
	}

	node, err := h.upgradeService.FindOpenSlot(c.Request.Context(), sponsorID)
	if err != nil {
		writeBusinessError(c, err)
		return
	}
	response.Success(c, gin.H{
		"node_id":       node.ID,
		"referral_code": node.ReferralCode,
	})
}
