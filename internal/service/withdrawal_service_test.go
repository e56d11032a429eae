package service

import (
	"context"
	"testing"

	"matrixpay/internal/model"
	"matrixpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 累计提现额度：3级累计上限 1100，已提 900 再申请 300 必须被拒
func TestWithdrawCapEnforced(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", ReferredBy: "ROOT0001",
		CurrentLevel: 3, WalletBalance: 2000, TotalWithdrawn: 900,
	})
	// 历史已审批 900
	require.NoError(t, db.Create(&model.WithdrawRequest{
		WithdrawalNo: "WDR_HIST_1", MemberID: member.ID,
		Amount: 500, Status: model.WithdrawStatusApproved,
	}).Error)
	require.NoError(t, db.Create(&model.WithdrawRequest{
		WithdrawalNo: "WDR_HIST_2", MemberID: member.ID,
		Amount: 400, Status: model.WithdrawStatusApproved,
	}).Error)

	svc := NewWithdrawalService(db, rdb, cfg, model.NewWithdrawalCapTable())

	_, err := svc.RequestWithdrawal(ctx, member.ID, 300)
	var capErr *WithdrawCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 3, capErr.Level)
	assert.Equal(t, int64(1100), capErr.Cap)
	assert.Equal(t, int64(900), capErr.Withdrawn)

	// 额度内的申请正常受理
	request, err := svc.RequestWithdrawal(ctx, member.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawStatusPending, request.Status)

	// 申请本身不动余额
	member = reloadMember(t, db, member.ID)
	assert.Equal(t, int64(2000), member.WalletBalance)
}

// 审批通过才真正扣款并写流水
func TestApproveWithdrawal(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", ReferredBy: "ROOT0001",
		CurrentLevel: 1, WalletBalance: 200,
	})

	svc := NewWithdrawalService(db, rdb, cfg, model.NewWithdrawalCapTable())
	request, err := svc.RequestWithdrawal(ctx, member.ID, 150)
	require.NoError(t, err)

	approved, err := svc.ApproveWithdrawal(ctx, request.WithdrawalNo)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawStatusApproved, approved.Status)

	member = reloadMember(t, db, member.ID)
	assert.Equal(t, int64(50), member.WalletBalance)
	assert.Equal(t, int64(150), member.TotalWithdrawn)

	// 出账流水：贷方在平台外
	var entry model.LedgerEntry
	require.NoError(t, db.Where("type = ? AND amount < 0", model.LedgerTypeWithdrawal).First(&entry).Error)
	require.NotNil(t, entry.FromMemberID)
	assert.Equal(t, member.ID, *entry.FromMemberID)
	assert.Nil(t, entry.ToMemberID)
	assertLedgerBalanced(t, db)

	// 已审批的申请不能再次审批
	_, err = svc.ApproveWithdrawal(ctx, request.WithdrawalNo)
	require.ErrorIs(t, err, repository.ErrWithdrawalStatusInvalid)
}

// 同一时刻最多一条待审批申请
func TestWithdrawPendingDuplicateRejected(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", ReferredBy: "ROOT0001",
		CurrentLevel: 2, WalletBalance: 500,
	})

	svc := NewWithdrawalService(db, rdb, cfg, model.NewWithdrawalCapTable())
	_, err := svc.RequestWithdrawal(ctx, member.ID, 100)
	require.NoError(t, err)

	_, err = svc.RequestWithdrawal(ctx, member.ID, 100)
	require.ErrorIs(t, err, ErrPendingWithdrawal)
}

// 未激活会员（0级）不能提现
func TestWithdrawLevelZeroRejected(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", CurrentLevel: 0, WalletBalance: 100,
	})

	svc := NewWithdrawalService(db, rdb, cfg, model.NewWithdrawalCapTable())
	_, err := svc.RequestWithdrawal(context.Background(), member.ID, 50)
	require.ErrorIs(t, err, ErrLevelZero)
}

// 申请金额不能超过主钱包余额
func TestWithdrawInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", ReferredBy: "ROOT0001",
		CurrentLevel: 1, WalletBalance: 100,
	})

	svc := NewWithdrawalService(db, rdb, cfg, model.NewWithdrawalCapTable())
	_, err := svc.RequestWithdrawal(context.Background(), member.ID, 150)

	var balErr *InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, "wallet", balErr.Wallet)
}

// 驳回不动余额，且驳回后可以重新申请
func TestRejectWithdrawal(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", ReferredBy: "ROOT0001",
		CurrentLevel: 1, WalletBalance: 200,
	})

	svc := NewWithdrawalService(db, rdb, cfg, model.NewWithdrawalCapTable())
	request, err := svc.RequestWithdrawal(ctx, member.ID, 100)
	require.NoError(t, err)

	require.NoError(t, svc.RejectWithdrawal(ctx, request.WithdrawalNo, "银行卡信息有误"))

	var rejected model.WithdrawRequest
	require.NoError(t, db.Where("withdrawal_no = ?", request.WithdrawalNo).First(&rejected).Error)
	assert.Equal(t, model.WithdrawStatusRejected, rejected.Status)
	assert.Equal(t, "银行卡信息有误", rejected.Reason)

	member = reloadMember(t, db, member.ID)
	assert.Equal(t, int64(200), member.WalletBalance)
	assert.Equal(t, int64(0), member.TotalWithdrawn)

	_, err = svc.RequestWithdrawal(ctx, member.ID, 100)
	require.NoError(t, err)
}

// CanWithdraw 只读校验不落任何数据
func TestCanWithdraw(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", ReferredBy: "ROOT0001",
		CurrentLevel: 1, WalletBalance: 200,
	})

	svc := NewWithdrawalService(db, rdb, cfg, model.NewWithdrawalCapTable())
	require.NoError(t, svc.CanWithdraw(ctx, member.ID, 200))
	require.Error(t, svc.CanWithdraw(ctx, member.ID, 250))

	var pending int64
	require.NoError(t, db.Model(&model.WithdrawRequest{}).Count(&pending).Error)
	assert.Equal(t, int64(0), pending)
}
