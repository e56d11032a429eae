package service

import (
	"context"
	"fmt"
	"testing"

	"matrixpay/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1级激活：收款人与推荐人是同一人（合并付款）
// 升级钱包 500，总成本 400（300 付款 + 100 推荐分成），剩 100。
func TestUpgradeLevel1Combined(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	sponsor := seedMember(t, db, &model.Member{
		Email:        "sponsor@test.local",
		ReferralCode: "SPONS001",
		SponsoredBy:  "ROOT0001",
		ReferredBy:   "ROOT0001",
		CurrentLevel: 1,
	})
	member := seedMember(t, db, &model.Member{
		Email:                "member@test.local",
		ReferralCode:         "MEMBER01",
		SponsoredBy:          "SPONS001",
		CurrentLevel:         0,
		UpgradeWalletBalance: 500,
	})

	svc := NewUpgradeService(db, rdb, cfg, model.NewFlowTable())
	result, err := svc.Upgrade(ctx, member.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(400), result.AmountPaid)
	assert.Equal(t, sponsor.ID, result.RecipientID)
	assert.Equal(t, "SPONS001", result.PlacedUnder)
	assert.Len(t, result.CorrelationIDs, 1) // 合并成一笔

	member = reloadMember(t, db, member.ID)
	assert.Equal(t, 1, member.CurrentLevel)
	assert.Equal(t, int64(100), member.UpgradeWalletBalance)
	assert.Equal(t, "SPONS001", member.ReferredBy)
	assert.NotNil(t, member.PlacedAt)

	// 合并付款阈值为 1：这第一笔进升级钱包
	sponsor = reloadMember(t, db, sponsor.ID)
	assert.Equal(t, int64(400), sponsor.UpgradeWalletBalance)
	assert.Equal(t, int64(0), sponsor.WalletBalance)

	var donations int64
	require.NoError(t, db.Model(&model.DonationRecord{}).Where("donor_id = ?", member.ID).Count(&donations).Error)
	assert.Equal(t, int64(1), donations)

	var outbox int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Where("status = ?", model.OutboxStatusPending).Count(&outbox).Error)
	assert.Equal(t, int64(1), outbox)

	assertLedgerBalanced(t, db)
}

// 1级激活：推荐人已满员，安置落到其子节点，收款人与推荐人分离
func TestUpgradeLevel1SeparateSponsorAndUpline(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	sponsor := seedMember(t, db, &model.Member{
		Email: "sponsor@test.local", ReferralCode: "SPONS001",
		SponsoredBy: "ROOT0001", ReferredBy: "ROOT0001", CurrentLevel: 2,
	})
	childA := seedMember(t, db, &model.Member{
		Email: "childa@test.local", ReferralCode: "CHILDA01",
		SponsoredBy: "SPONS001", ReferredBy: "SPONS001", CurrentLevel: 1,
	})
	seedMember(t, db, &model.Member{
		Email: "childb@test.local", ReferralCode: "CHILDB01",
		SponsoredBy: "SPONS001", ReferredBy: "SPONS001", CurrentLevel: 1,
	})
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "SPONS001", CurrentLevel: 0, UpgradeWalletBalance: 400,
	})

	svc := NewUpgradeService(db, rdb, cfg, model.NewFlowTable())
	result, err := svc.Upgrade(ctx, member.ID, 1)
	require.NoError(t, err)

	// BFS：推荐人已有2个子节点，新节点挂到最左子节点下
	assert.Equal(t, "CHILDA01", result.PlacedUnder)
	assert.Equal(t, childA.ID, result.RecipientID)
	assert.Len(t, result.CorrelationIDs, 2)

	// 主付款 300 进上线升级钱包（该级第1笔）
	childA = reloadMember(t, db, childA.ID)
	assert.Equal(t, int64(300), childA.UpgradeWalletBalance)

	// 推荐分成 100 直接进推荐人主钱包
	sponsor = reloadMember(t, db, sponsor.ID)
	assert.Equal(t, int64(100), sponsor.WalletBalance)
	assert.Equal(t, int64(0), sponsor.UpgradeWalletBalance)

	assertLedgerBalanced(t, db)
}

// 跳级激活必须被拒绝
func TestUpgradeSkipLevelRejected(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", CurrentLevel: 0, UpgradeWalletBalance: 100000,
	})

	svc := NewUpgradeService(db, rdb, cfg, model.NewFlowTable())
	_, err := svc.Upgrade(ctx, member.ID, 2)

	var seqErr *SequenceError
	require.ErrorAs(t, err, &seqErr)
	assert.Equal(t, 0, seqErr.CurrentLevel)
	assert.Equal(t, 2, seqErr.TargetLevel)

	// 失败不留任何痕迹
	member = reloadMember(t, db, member.ID)
	assert.Equal(t, 0, member.CurrentLevel)
	assert.Equal(t, int64(100000), member.UpgradeWalletBalance)
	assert.Equal(t, int64(0), ledgerCount(t, db))
}

// 升级钱包余额不足
func TestUpgradeInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", CurrentLevel: 0, UpgradeWalletBalance: 300,
	})

	svc := NewUpgradeService(db, rdb, cfg, model.NewFlowTable())
	_, err := svc.Upgrade(ctx, member.ID, 1)

	var balErr *InsufficientBalanceError
	require.ErrorAs(t, err, &balErr)
	assert.Equal(t, "upgrade_wallet", balErr.Wallet)
	assert.Equal(t, int64(400), balErr.Required)
	assert.Equal(t, int64(300), balErr.Available)
}

// 收款路由：某等级前2笔进升级钱包，第3笔起进主钱包并触发超额划转
func TestUpgradeRoutingExcessToWallet(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	receiver := seedMember(t, db, &model.Member{
		Email: "receiver@test.local", ReferralCode: "RECV0001",
		SponsoredBy: "ROOT0001", ReferredBy: "ROOT0001", CurrentLevel: 3,
	})
	// 两层满员的子树：4个孙节点的2层上线都是 receiver
	for _, code := range []string{"CHILDA01", "CHILDB01"} {
		seedMember(t, db, &model.Member{
			Email: code + "@test.local", ReferralCode: code,
			SponsoredBy: "RECV0001", ReferredBy: "RECV0001", CurrentLevel: 2,
		})
	}
	var grandchildren []*model.Member
	for i, parent := range []string{"CHILDA01", "CHILDA01", "CHILDB01", "CHILDB01"} {
		gc := seedMember(t, db, &model.Member{
			Email:                fmt.Sprintf("gc%d@test.local", i),
			ReferralCode:         fmt.Sprintf("GRAND%03d", i),
			SponsoredBy:          parent,
			ReferredBy:           parent,
			CurrentLevel:         1,
			UpgradeWalletBalance: 500,
		})
		grandchildren = append(grandchildren, gc)
	}

	svc := NewUpgradeService(db, rdb, cfg, model.NewFlowTable())
	for _, gc := range grandchildren {
		result, err := svc.Upgrade(ctx, gc.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, receiver.ID, result.RecipientID)
	}

	// 4笔各500：前2笔进升级钱包，第3、4笔进主钱包，
	// 且每次超额都把升级钱包里的存量划转出来
	receiver = reloadMember(t, db, receiver.ID)
	assert.Equal(t, int64(0), receiver.UpgradeWalletBalance)
	assert.Equal(t, int64(2000), receiver.WalletBalance)

	var counter model.LevelPaymentCounter
	require.NoError(t, db.Where("member_id = ? AND level = ?", receiver.ID, 2).First(&counter).Error)
	assert.Equal(t, 4, counter.Count)

	var sweeps int64
	require.NoError(t, db.Model(&model.LedgerEntry{}).
		Where("type = ?", model.LedgerTypeWalletSweep).Count(&sweeps).Error)
	assert.Equal(t, int64(4), sweeps) // 2次划转 × 借贷两行

	assertLedgerBalanced(t, db)
}

// 推荐链断裂时收款兜底到公司账户
func TestUpgradeBrokenChainFallsBackToAdmin(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	admin := seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", ReferredBy: "", // 脏数据：已激活但矩阵位置丢失
		CurrentLevel: 1, UpgradeWalletBalance: 500,
	})

	svc := NewUpgradeService(db, rdb, cfg, model.NewFlowTable())
	result, err := svc.Upgrade(ctx, member.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, result.RecipientID)

	var entries int64
	require.NoError(t, db.Model(&model.LedgerEntry{}).
		Where("type = ?", model.LedgerTypeAdminRevenue).Count(&entries).Error)
	assert.Equal(t, int64(1), entries) // 贷方一行记公司收入

	admin = reloadMember(t, db, admin.ID)
	assert.Equal(t, int64(500), admin.UpgradeWalletBalance)
	assertLedgerBalanced(t, db)
}

// 同一个会员沿默认方案连续逐级升级
func TestUpgradeSequentialLevels(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	seedAdmin(t, db)
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "ROOT0001", CurrentLevel: 0,
		UpgradeWalletBalance: 400 + 500 + 1000,
	})

	svc := NewUpgradeService(db, rdb, cfg, model.NewFlowTable())
	for target := 1; target <= 3; target++ {
		_, err := svc.Upgrade(ctx, member.ID, target)
		require.NoError(t, err, "升级到 %d 级失败", target)
	}

	member = reloadMember(t, db, member.ID)
	assert.Equal(t, 3, member.CurrentLevel)
	assert.Equal(t, int64(0), member.UpgradeWalletBalance)
	assertLedgerBalanced(t, db)
}

// 注册推荐人未激活（0级）或不存在：安置兜底到公司账户子树
func TestUpgradeLevel1InactiveSponsorFallsBackToAdmin(t *testing.T) {
	db := newTestDB(t)
	rdb := newTestRedis(t)
	cfg := newTestConfig()
	ctx := context.Background()

	admin := seedAdmin(t, db)
	inactive := seedMember(t, db, &model.Member{
		Email: "inactive@test.local", ReferralCode: "SPONS001",
		SponsoredBy: "ROOT0001", CurrentLevel: 0,
	})
	member := seedMember(t, db, &model.Member{
		Email: "member@test.local", ReferralCode: "MEMBER01",
		SponsoredBy: "SPONS001", CurrentLevel: 0, UpgradeWalletBalance: 500,
	})

	svc := NewUpgradeService(db, rdb, cfg, model.NewFlowTable())
	result, err := svc.Upgrade(ctx, member.ID, 1)
	require.NoError(t, err)

	// 推荐人未激活，安置与分成都落到公司账户
	assert.Equal(t, "ROOT0001", result.PlacedUnder)
	assert.Equal(t, admin.ID, result.RecipientID)
	require.NotNil(t, result.SponsorID)
	assert.Equal(t, admin.ID, *result.SponsorID)

	member = reloadMember(t, db, member.ID)
	assert.Equal(t, 1, member.CurrentLevel)
	assert.Equal(t, "ROOT0001", member.ReferredBy)
	assert.Equal(t, int64(100), member.UpgradeWalletBalance)

	// 未激活的推荐人分文未得
	inactive = reloadMember(t, db, inactive.ID)
	assert.Equal(t, int64(0), inactive.WalletBalance)
	assert.Equal(t, int64(0), inactive.UpgradeWalletBalance)

	admin = reloadMember(t, db, admin.ID)
	assert.Equal(t, int64(400), admin.UpgradeWalletBalance)

	// 推荐码不存在时同样兜底
	ghost := seedMember(t, db, &model.Member{
		Email: "ghost@test.local", ReferralCode: "MEMBER02",
		SponsoredBy: "NOSUCH001", CurrentLevel: 0, UpgradeWalletBalance: 400,
	})
	result, err = svc.Upgrade(ctx, ghost.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "ROOT0001", result.PlacedUnder)

	ghost = reloadMember(t, db, ghost.ID)
	assert.Equal(t, "ROOT0001", ghost.ReferredBy)

	// 公司账户1级第2笔收款：超过合并阈值，进主钱包
	admin = reloadMember(t, db, admin.ID)
	assert.Equal(t, int64(400), admin.UpgradeWalletBalance)
	assert.Equal(t, int64(400), admin.WalletBalance)

	assertLedgerBalanced(t, db)
}
