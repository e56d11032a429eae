package service

import (
	"context"
	"testing"

	"matrixpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	svc := NewMemberService(db, rdb, cfg)

	member, err := svc.Register(ctx, &RegisterRequest{
		Email:       "alice@test.local",
		Phone:       "9000000001",
		SponsorCode: "ROOT0001",
	})
	require.NoError(t, err)
	assert.Len(t, member.ReferralCode, 8)
	assert.Equal(t, "ROOT0001", member.SponsoredBy)
	assert.Equal(t, 0, member.CurrentLevel)
	assert.Empty(t, member.ReferredBy) // 矩阵位置留到1级激活时分配

	// 邮箱不能重复
	_, err = svc.Register(ctx, &RegisterRequest{
		Email:       "alice@test.local",
		SponsorCode: "ROOT0001",
	})
	require.Error(t, err)

	// 邀请码必须真实存在
	_, err = svc.Register(ctx, &RegisterRequest{
		Email:       "bob@test.local",
		SponsorCode: "NOSUCH01",
	})
	require.Error(t, err)
}

func TestDeposit(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", CurrentLevel: 0,
	})

	svc := NewMemberService(db, rdb, cfg)
	require.NoError(t, svc.Deposit(ctx, member.ID, 500))

	member = reloadMember(t, db, member.ID)
	assert.Equal(t, int64(500), member.UpgradeWalletBalance)
	assert.Equal(t, int64(0), member.WalletBalance)

	// 入金流水：借方在平台外
	var entry model.LedgerEntry
	require.NoError(t, db.Where("type = ? AND amount > 0", model.LedgerTypeDeposit).First(&entry).Error)
	assert.Nil(t, entry.FromMemberID)
	require.NotNil(t, entry.ToMemberID)
	assert.Equal(t, member.ID, *entry.ToMemberID)
	assertLedgerBalanced(t, db)

	require.Error(t, svc.Deposit(ctx, member.ID, 0))
	require.Error(t, svc.Deposit(ctx, member.ID, -10))
}

func TestTransferFunds(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	from := seedMember(t, db, &model.Member{
		Email: "from@test.local", ReferralCode: "FROM0001",
		SponsoredBy: "ROOT0001", CurrentLevel: 1, WalletBalance: 1000,
	})
	to := seedMember(t, db, &model.Member{
		Email: "to@test.local", ReferralCode: "TOOO0001",
		SponsoredBy: "ROOT0001", CurrentLevel: 1,
	})

	svc := NewMemberService(db, rdb, cfg)
	require.NoError(t, svc.TransferFunds(ctx, from.ID, to.ID, 300))

	from = reloadMember(t, db, from.ID)
	to = reloadMember(t, db, to.ID)
	assert.Equal(t, int64(700), from.WalletBalance)
	assert.Equal(t, int64(300), to.WalletBalance)
	assertLedgerBalanced(t, db)

	// 余额不足
	var balErr *InsufficientBalanceError
	err := svc.TransferFunds(ctx, from.ID, to.ID, 800)
	require.ErrorAs(t, err, &balErr)

	// 不能给自己转账
	require.Error(t, svc.TransferFunds(ctx, from.ID, from.ID, 100))
}

func TestEnsureAdminAccount(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	svc := NewMemberService(db, rdb, cfg)

	admin, err := svc.EnsureAdminAccount(ctx)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.Equal(t, model.MaxLevel, admin.CurrentLevel)
	assert.Equal(t, "ROOT0001", admin.ReferralCode)

	// 幂等：重复调用返回同一个账户
	again, err := svc.EnsureAdminAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, again.ID)
}

func TestGetBalances(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", CurrentLevel: 2,
		WalletBalance: 150, UpgradeWalletBalance: 350, TotalWithdrawn: 40,
	})

	svc := NewMemberService(db, rdb, cfg)
	balances, err := svc.GetBalances(context.Background(), member.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balances.WalletBalance)
	assert.Equal(t, int64(350), balances.UpgradeWalletBalance)
	assert.Equal(t, int64(40), balances.TotalWithdrawn)
	assert.Equal(t, 2, balances.CurrentLevel)
}
