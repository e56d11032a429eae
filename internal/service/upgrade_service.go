package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"matrixpay/internal/config"
	"matrixpay/internal/infrastructure/lock"
	"matrixpay/internal/matrix"
	"matrixpay/internal/model"
	"matrixpay/internal/repository"
	"matrixpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// 收款路由阈值：某等级前 N 笔进升级钱包，超出进主钱包
const (
	routingThreshold         = 2
	routingThresholdCombined = 1 // 1级收款人与推荐人是同一人的合并付款
)

// UpgradeService 等级升级引擎
//
// 一次升级 = 校验 → (1级)矩阵安置 → 收款人/推荐人解析 → 扣款入账 →
// 等级 +1，全部在一个数据库事务内完成，任何一步失败整体回滚。
type UpgradeService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	flows        *model.FlowTable
	memberRepo   *repository.MemberRepository
	counterRepo  *repository.CounterRepository
	ledgerRepo   *repository.LedgerRepository
	donationRepo *repository.DonationRepository
	outboxRepo   *repository.OutboxRepository
}

func NewUpgradeService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, flows *model.FlowTable) *UpgradeService {
	return &UpgradeService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		flows:        flows,
		memberRepo:   repository.NewMemberRepository(db),
		counterRepo:  repository.NewCounterRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		donationRepo: repository.NewDonationRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
	}
}

// UpgradeResult 升级结果
type UpgradeResult struct {
	MemberID       int64   `json:"member_id"`
	Level          int     `json:"level"`
	AmountPaid     int64   `json:"amount_paid"`
	RecipientID    int64   `json:"recipient_id"`
	SponsorID      *int64  `json:"sponsor_id,omitempty"`
	PlacedUnder    string  `json:"placed_under,omitempty"` // 1级激活时的矩阵父节点推荐码
	CorrelationIDs []string `json:"correlation_ids"`
}

// Upgrade 将会员升级到 targetLevel（必须等于当前等级 +1）
//
// 会员锁保证同一会员的资金操作串行；乐观锁冲突时整个操作从头
// 重试（所有读都要重新校验），次数有界。
func (s *UpgradeService) Upgrade(ctx context.Context, memberID int64, targetLevel int) (*UpgradeResult, error) {
	memberLock := lock.NewMemberLock(s.redisClient, memberID, idgen.GenerateCorrelationID())
	if err := memberLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer memberLock.Unlock(ctx)

	maxRetries := s.cfg.Business.MaxTxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var result *UpgradeResult
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err = s.upgradeOnce(ctx, memberID, targetLevel)
		if err == nil {
			return result, nil
		}
		// 只有乐观锁冲突才整体重试，业务错误都是终态
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return nil, err
		}
		log.Printf("[UpgradeService] 乐观锁冲突，整体重试: memberID=%d, attempt=%d", memberID, attempt+1)
	}
	return nil, err
}

func (s *UpgradeService) upgradeOnce(ctx context.Context, memberID int64, targetLevel int) (*UpgradeResult, error) {
	flow, err := s.flows.Flow(targetLevel)
	if err != nil {
		return nil, err
	}

	var result *UpgradeResult

	err = s.db.Transaction(func(tx *gorm.DB) error {
		member, err := s.memberRepo.GetByIDForUpdate(ctx, tx, memberID)
		if err != nil {
			return err
		}

		// 顺序校验：只能激活当前等级 +1
		if targetLevel != member.CurrentLevel+1 {
			return &SequenceError{CurrentLevel: member.CurrentLevel, TargetLevel: targetLevel}
		}

		required := flow.Amount
		if targetLevel == 1 {
			required += flow.SponsorShare
		}
		if member.UpgradeWalletBalance < required {
			return &InsufficientBalanceError{
				Wallet:    "upgrade_wallet",
				Required:  required,
				Available: member.UpgradeWalletBalance,
			}
		}

		dir := s.memberRepo.Directory(tx)

		// 1级激活：先做矩阵安置
		var sponsor *model.Member
		var placedUnder string
		if targetLevel == 1 {
			sponsor, placedUnder, err = s.placeIntoMatrix(ctx, tx, dir, member)
			if err != nil {
				return err
			}
		}

		// 解析收款人：安置树中第 targetLevel 层祖先，链断了兜底公司账户
		recipient, creditType, err := s.resolveRecipient(ctx, tx, dir, member, targetLevel)
		if err != nil {
			return err
		}

		// 转账计划
		transfers := []transfer{{
			FromID:    &member.ID,
			ToID:      &recipient.ID,
			Amount:    flow.Amount,
			Type:      creditType,
			DebitType: model.LedgerTypeUpgradePayment,
			Remark:    fmt.Sprintf("升级到 %d 级", targetLevel),
		}}
		if targetLevel == 1 && sponsor != nil {
			transfers = append(transfers, transfer{
				FromID:    &member.ID,
				ToID:      &sponsor.ID,
				Amount:    flow.SponsorShare,
				Type:      model.LedgerTypeSponsorCommission,
				DebitType: model.LedgerTypeUpgradePayment,
				Remark:    "1级激活推荐人分成",
			})
		}
		merged := mergeTransfers(transfers)
		combined := len(merged) < len(transfers)

		// 扣升级钱包（带余额和版本校验）
		if err := s.memberRepo.DebitUpgradeWallet(ctx, tx, member.ID, required, member.Version); err != nil {
			if errors.Is(err, repository.ErrUpgradeWalletNotEnough) {
				return &InsufficientBalanceError{
					Wallet:    "upgrade_wallet",
					Required:  required,
					Available: member.UpgradeWalletBalance,
				}
			}
			return err
		}

		// 入账：主付款按收款计数路由，推荐人分成直接进主钱包
		correlationIDs := make([]string, 0, len(merged))
		for i := range merged {
			t := &merged[i]
			if t.ToID != nil && *t.ToID == recipient.ID {
				if err := s.routeMainPayment(ctx, tx, t, recipient.ID, targetLevel, flow, combined); err != nil {
					return err
				}
			}

			if t.ToUpgradeWallet {
				err = s.memberRepo.CreditUpgradeWallet(ctx, tx, *t.ToID, t.Amount)
			} else {
				err = s.memberRepo.CreditWallet(ctx, tx, *t.ToID, t.Amount)
			}
			if err != nil {
				return fmt.Errorf("入账失败: %w", err)
			}

			correlationID, err := writeLedgerPair(ctx, tx, s.ledgerRepo, *t)
			if err != nil {
				return err
			}
			correlationIDs = append(correlationIDs, correlationID)
		}

		// 捐赠记录（钱包升级路径用内部支付ID占位幂等键）
		donation := &model.DonationRecord{
			DonationNo: idgen.GenerateDonationNo(),
			DonorID:    member.ID,
			ReceiverID: recipient.ID,
			Amount:     required,
			Level:      targetLevel,
			Status:     model.DonationStatusCompleted,
			PaymentID:  idgen.GenerateWalletPaymentID(),
		}
		if err := s.donationRepo.Create(ctx, tx, donation); err != nil {
			return fmt.Errorf("写入捐赠记录失败: %w", err)
		}

		// 等级 +1
		if err := s.memberRepo.AdvanceLevel(ctx, tx, member.ID, member.CurrentLevel); err != nil {
			if errors.Is(err, repository.ErrLevelAlreadyChanged) {
				return repository.ErrOptimisticLock
			}
			return err
		}

		// 事务发件箱
		var sponsorID *int64
		if sponsor != nil {
			sponsorID = &sponsor.ID
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"event":        model.EventLevelUpgraded,
			"member_id":    member.ID,
			"level":        targetLevel,
			"amount":       required,
			"recipient_id": recipient.ID,
			"upgraded_at":  time.Now().Format(time.RFC3339),
		})
		outboxMsg := &model.OutboxMessage{
			MessageKey: fmt.Sprintf("member-%d", member.ID),
			Topic:      s.cfg.Kafka.Topic.LevelEvent,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入事件失败: %w", err)
		}

		result = &UpgradeResult{
			MemberID:       member.ID,
			Level:          targetLevel,
			AmountPaid:     required,
			RecipientID:    recipient.ID,
			SponsorID:      sponsorID,
			PlacedUnder:    placedUnder,
			CorrelationIDs: correlationIDs,
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	log.Printf("[UpgradeService] 升级成功: memberID=%d, level=%d, amount=%d, recipient=%d",
		result.MemberID, result.Level, result.AmountPaid, result.RecipientID)
	return result, nil
}

// placeIntoMatrix 1级激活时的矩阵安置
// 注册推荐人未激活（0级）或不存在时兜底到公司账户名下安置。
// 返回实际的分成收款人与矩阵父节点推荐码。
func (s *UpgradeService) placeIntoMatrix(ctx context.Context, tx *gorm.DB, dir matrix.Directory, member *model.Member) (*model.Member, string, error) {
	sponsor, err := s.memberRepo.GetByReferralCode(ctx, tx, member.SponsoredBy)
	if err != nil || sponsor.CurrentLevel == 0 {
		sponsor, err = s.memberRepo.GetAdmin(ctx, tx)
		if err != nil {
			return nil, "", ErrAdminMissing
		}
	}

	engine := matrix.NewPlacementEngine(dir, s.cfg.Business.PlacementMaxNodes)
	parent, err := engine.FindOpenSlot(ctx, sponsor)
	if err != nil {
		return nil, "", fmt.Errorf("矩阵安置失败: %w", err)
	}

	if err := s.memberRepo.AssignPlacement(ctx, tx, member.ID, parent.ReferralCode); err != nil {
		return nil, "", fmt.Errorf("写入矩阵位置失败: %w", err)
	}
	// 后续寻线要用到刚写入的父节点
	member.ReferredBy = parent.ReferralCode
	// AssignPlacement 已把行版本号 +1，内存值必须跟上，
	// 否则随后的条件扣款拿旧版本号会空匹配
	member.Version++

	return sponsor, parent.ReferralCode, nil
}

// resolveRecipient 解析主付款收款人
// 第 targetLevel 层祖先；链断裂或成环时兜底公司账户，入账类型
// 改记 ADMIN_REVENUE。
func (s *UpgradeService) resolveRecipient(ctx context.Context, tx *gorm.DB, dir matrix.Directory, member *model.Member, targetLevel int) (*model.Member, string, error) {
	resolver := matrix.NewUplineResolver(dir)
	upline, err := resolver.FindUplineAtHops(ctx, member, targetLevel)
	if err == nil {
		return upline, model.LedgerTypeUplineCommission, nil
	}
	if !errors.Is(err, matrix.ErrBrokenChain) && !errors.Is(err, matrix.ErrCyclicChain) {
		return nil, "", err
	}

	admin, adminErr := s.memberRepo.GetAdmin(ctx, tx)
	if adminErr != nil {
		return nil, "", ErrAdminMissing
	}
	return admin, model.LedgerTypeAdminRevenue, nil
}

// routeMainPayment 决定主付款进收款人的哪个钱包，并做超额修正
//
// 收款计数 +1 后：
//   count <= 阈值  -> 升级钱包（回流网络增长）
//   count >  阈值  -> 主钱包（可提现收入）
// 计数超过 2 时按原方案补做一次划转修正（乱序入账兜底），划转额
// 以升级钱包实际余额为上限，绝不把升级钱包划成负数。
func (s *UpgradeService) routeMainPayment(ctx context.Context, tx *gorm.DB, t *transfer, recipientID int64, level int, flow model.LevelFlow, combined bool) error {
	count, err := s.counterRepo.Increment(ctx, tx, recipientID, level)
	if err != nil {
		return fmt.Errorf("收款计数失败: %w", err)
	}

	threshold := routingThreshold
	if combined && level == 1 {
		threshold = routingThresholdCombined
	}
	t.ToUpgradeWallet = count <= threshold

	if count <= routingThreshold {
		return nil
	}

	want := flow.Amount * int64(count-routingThreshold)
	recipient, err := s.memberRepo.GetByID(ctx, tx, recipientID)
	if err != nil {
		return err
	}
	sweep := want
	if recipient.UpgradeWalletBalance < sweep {
		sweep = recipient.UpgradeWalletBalance
	}
	if sweep <= 0 {
		return nil
	}

	if err := s.memberRepo.SweepToWallet(ctx, tx, recipientID, sweep); err != nil {
		return fmt.Errorf("超额划转失败: %w", err)
	}

	sweepTransfer := transfer{
		FromID:    &recipientID,
		ToID:      &recipientID,
		Amount:    sweep,
		Type:      model.LedgerTypeWalletSweep,
		DebitType: model.LedgerTypeWalletSweep,
		Remark:    fmt.Sprintf("%d 级第 %d 笔收款超额划转", level, count),
	}
	if _, err := writeLedgerPair(ctx, tx, s.ledgerRepo, sweepTransfer); err != nil {
		return err
	}
	return nil
}

// FindOpenSlot 管理诊断接口：只读查询某会员子树内的下一个空位
func (s *UpgradeService) FindOpenSlot(ctx context.Context, sponsorID int64) (*model.Member, error) {
	sponsor, err := s.memberRepo.GetByID(ctx, nil, sponsorID)
	if err != nil {
		return nil, err
	}
	engine := matrix.NewPlacementEngine(s.memberRepo.Directory(nil), s.cfg.Business.PlacementMaxNodes)
	return engine.FindOpenSlot(ctx, sponsor)
}
