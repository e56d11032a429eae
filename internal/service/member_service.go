package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"matrixpay/internal/config"
	"matrixpay/internal/infrastructure/lock"
	"matrixpay/internal/model"
	"matrixpay/internal/repository"
	"matrixpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// MemberService 会员目录：注册、查询、充值、转账
type MemberService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	memberRepo  *repository.MemberRepository
	ledgerRepo  *repository.LedgerRepository
}

func NewMemberService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *MemberService {
	return &MemberService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		memberRepo:  repository.NewMemberRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
	}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Phone       string `json:"phone"`
	SponsorCode string `json:"sponsor_code" binding:"required"`
}

// Register 注册会员
// 只记录邀请关系（sponsored_by），矩阵位置留到1级激活时再分配。
func (s *MemberService) Register(ctx context.Context, req *RegisterRequest) (*model.Member, error) {
	existing, err := s.memberRepo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("邮箱 %s 已注册", req.Email)
	}

	// 邀请码必须真实存在
	if _, err := s.memberRepo.GetByReferralCode(ctx, nil, req.SponsorCode); err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, fmt.Errorf("邀请码 %s 不存在", req.SponsorCode)
		}
		return nil, err
	}

	member := &model.Member{
		Email:        req.Email,
		Phone:        req.Phone,
		ReferralCode: idgen.GenerateReferralCode(),
		SponsoredBy:  req.SponsorCode,
		CurrentLevel: 0,
	}
	if err := s.memberRepo.Create(ctx, member); err != nil {
		return nil, fmt.Errorf("创建会员失败: %w", err)
	}

	log.Printf("[MemberService] 会员注册成功: id=%d, referralCode=%s, sponsor=%s",
		member.ID, member.ReferralCode, req.SponsorCode)
	return member, nil
}

func (s *MemberService) GetMember(ctx context.Context, memberID int64) (*model.Member, error) {
	return s.memberRepo.GetByID(ctx, nil, memberID)
}

// Balances 钱包余额快照
type Balances struct {
	MemberID             int64 `json:"member_id"`
	WalletBalance        int64 `json:"wallet_balance"`
	UpgradeWalletBalance int64 `json:"upgrade_wallet_balance"`
	TotalWithdrawn       int64 `json:"total_withdrawn"`
	CurrentLevel         int   `json:"current_level"`
}

func (s *MemberService) GetBalances(ctx context.Context, memberID int64) (*Balances, error) {
	member, err := s.memberRepo.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, err
	}
	return &Balances{
		MemberID:             member.ID,
		WalletBalance:        member.WalletBalance,
		UpgradeWalletBalance: member.UpgradeWalletBalance,
		TotalWithdrawn:       member.TotalWithdrawn,
		CurrentLevel:         member.CurrentLevel,
	}, nil
}

// ListDirectReferrals 返回会员直接邀请的下级
func (s *MemberService) ListDirectReferrals(ctx context.Context, memberID int64) ([]*model.Member, error) {
	member, err := s.memberRepo.GetByID(ctx, nil, memberID)
	if err != nil {
		return nil, err
	}
	return s.memberRepo.ListDirectReferrals(ctx, member.ReferralCode)
}

// Deposit 升级钱包充值（简化版，实际入金走支付渠道）
func (s *MemberService) Deposit(ctx context.Context, memberID int64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("充值金额必须大于0")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByID(ctx, tx, memberID); err != nil {
			return err
		}
		if err := s.memberRepo.CreditUpgradeWallet(ctx, tx, memberID, amount); err != nil {
			return err
		}
		// 入金：借方记在平台外（from 为空）
		t := transfer{
			ToID:            &memberID,
			Amount:          amount,
			Type:            model.LedgerTypeDeposit,
			DebitType:       model.LedgerTypeDeposit,
			ToUpgradeWallet: true,
			Remark:          "升级钱包充值",
		}
		_, err := writeLedgerPair(ctx, tx, s.ledgerRepo, t)
		return err
	})
}

// TransferFunds 会员间主钱包转账
func (s *MemberService) TransferFunds(ctx context.Context, fromID, toID int64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("转账金额必须大于0")
	}
	if fromID == toID {
		return fmt.Errorf("不能给自己转账")
	}

	memberLock := lock.NewMemberLock(s.redisClient, fromID, idgen.GenerateCorrelationID())
	if err := memberLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer memberLock.Unlock(ctx)

	return s.db.Transaction(func(tx *gorm.DB) error {
		from, err := s.memberRepo.GetByIDForUpdate(ctx, tx, fromID)
		if err != nil {
			return err
		}
		if from.WalletBalance < amount {
			return &InsufficientBalanceError{
				Wallet:    "wallet",
				Required:  amount,
				Available: from.WalletBalance,
			}
		}
		if _, err := s.memberRepo.GetByID(ctx, tx, toID); err != nil {
			return err
		}

		if err := s.memberRepo.DebitWallet(ctx, tx, fromID, amount, from.Version); err != nil {
			return err
		}
		if err := s.memberRepo.CreditWallet(ctx, tx, toID, amount); err != nil {
			return err
		}

		t := transfer{
			FromID:    &fromID,
			ToID:      &toID,
			Amount:    amount,
			Type:      model.LedgerTypeFundTransfer,
			DebitType: model.LedgerTypeFundTransfer,
			Remark:    fmt.Sprintf("会员转账 %d -> %d", fromID, toID),
		}
		_, err = writeLedgerPair(ctx, tx, s.ledgerRepo, t)
		return err
	})
}

// ListLedger 分页查询会员账单
func (s *MemberService) ListLedger(ctx context.Context, memberID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	return s.ledgerRepo.ListByMember(ctx, memberID, page, pageSize)
}

// EnsureAdminAccount 启动时保证公司/根账户存在
// 所有链路断裂兜底都指向它，缺失属于运营级故障。
func (s *MemberService) EnsureAdminAccount(ctx context.Context) (*model.Member, error) {
	admin, err := s.memberRepo.GetAdmin(ctx, nil)
	if err == nil {
		return admin, nil
	}
	if !errors.Is(err, repository.ErrAdminNotFound) {
		return nil, err
	}

	code := s.cfg.Business.AdminReferralCode
	if code == "" {
		code = idgen.GenerateReferralCode()
	}
	admin = &model.Member{
		Email:        "admin@matrixpay.local",
		ReferralCode: code,
		CurrentLevel: model.MaxLevel, // 根账户始终满级，可承接任意层级的兜底收款
		IsAdmin:      true,
	}
	if err := s.memberRepo.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("创建公司账户失败: %w", err)
	}
	log.Printf("[MemberService] 公司账户已创建: id=%d, referralCode=%s", admin.ID, admin.ReferralCode)
	return admin, nil
}
