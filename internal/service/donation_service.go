package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"matrixpay/internal/config"
	"matrixpay/internal/gateway"
	"matrixpay/internal/infrastructure/lock"
	"matrixpay/internal/matrix"
	"matrixpay/internal/model"
	"matrixpay/internal/repository"
	"matrixpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// DonationService 网关支付核验与入账
//
// 钱包升级之外的第二条升级路径：会员直接通过支付网关付款。
// 两条路径共用同一套顺序校验，写同一个账本，总账才能对平。
type DonationService struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cfg          *config.Config
	flows        *model.FlowTable
	gw           gateway.PaymentGateway
	memberRepo   *repository.MemberRepository
	ledgerRepo   *repository.LedgerRepository
	donationRepo *repository.DonationRepository
	outboxRepo   *repository.OutboxRepository
}

func NewDonationService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, flows *model.FlowTable, gw gateway.PaymentGateway) *DonationService {
	return &DonationService{
		db:           db,
		redisClient:  redisClient,
		cfg:          cfg,
		flows:        flows,
		gw:           gw,
		memberRepo:   repository.NewMemberRepository(db),
		ledgerRepo:   repository.NewLedgerRepository(db),
		donationRepo: repository.NewDonationRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
	}
}

// VerifyRequest 支付核验请求
type VerifyRequest struct {
	MemberID  int64  `json:"member_id"`
	Level     int    `json:"level" binding:"required,gte=1,lte=11"`
	OrderID   string `json:"razorpay_order_id" binding:"required"`
	PaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature string `json:"razorpay_signature" binding:"required"`
}

// VerifyResult 支付核验结果
type VerifyResult struct {
	DonationNo       string `json:"donation_no"`
	MemberID         int64  `json:"member_id"`
	Level            int    `json:"level"`
	Amount           int64  `json:"amount"`
	ReceiverID       int64  `json:"receiver_id"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// VerifyAndApply 核验网关支付并入账
//
// 三道闸门，全部通过才动账：
//   1. 签名校验（HMAC over orderID|paymentID）
//   2. 独立回查网关：状态必须 captured，金额必须等于该等级费用
//   3. 幂等检查：payment_id 已处理则原样返回，不重复入账
func (s *DonationService) VerifyAndApply(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	if !s.gw.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		return nil, ErrSignatureInvalid
	}

	flow, err := s.flows.Flow(req.Level)
	if err != nil {
		return nil, err
	}
	expected := flow.Amount
	if req.Level == 1 {
		expected += flow.SponsorShare
	}

	// 不信任回调金额，独立回查
	payment, err := s.gw.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != gateway.PaymentStatusCaptured {
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrPaymentNotCaptured, payment.Status)
	}
	expectedPaise := expected * 100
	if payment.Amount != expectedPaise {
		return nil, &AmountMismatchError{ExpectedPaise: expectedPaise, ActualPaise: payment.Amount}
	}

	// 锁外先查一次幂等，重复回调不必抢锁
	if existing, err := s.donationRepo.GetByPaymentID(ctx, nil, req.PaymentID); err != nil {
		return nil, err
	} else if existing != nil {
		return alreadyProcessed(existing), nil
	}

	memberLock := lock.NewMemberLock(s.redisClient, req.MemberID, req.PaymentID)
	if err := memberLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer memberLock.Unlock(ctx)

	var result *VerifyResult

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 拿到锁后在事务内复查幂等
		existing, err := s.donationRepo.GetByPaymentID(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = alreadyProcessed(existing)
			return nil
		}

		member, err := s.memberRepo.GetByIDForUpdate(ctx, tx, req.MemberID)
		if err != nil {
			return err
		}

		// 与钱包升级同一条顺序规则：不允许跳级
		if req.Level != member.CurrentLevel+1 {
			return &SequenceError{CurrentLevel: member.CurrentLevel, TargetLevel: req.Level}
		}

		dir := s.memberRepo.Directory(tx)

		// 1级激活同样要做矩阵安置
		var sponsor *model.Member
		if req.Level == 1 {
			sponsor, err = s.placeDonor(ctx, tx, dir, member)
			if err != nil {
				return err
			}
		}

		receiver, err := s.resolveReceiver(ctx, tx, dir, member, req.Level)
		if err != nil {
			return err
		}

		// 网关直付：捐赠人钱包不扣款，份额直接进收款人主钱包
		transfers := []transfer{{
			FromID:    &member.ID,
			ToID:      &receiver.ID,
			Amount:    flow.Amount,
			Type:      model.LedgerTypeDonationReceived,
			DebitType: model.LedgerTypeDonationSent,
			Remark:    fmt.Sprintf("网关支付升级到 %d 级", req.Level),
		}}
		if req.Level == 1 && sponsor != nil {
			transfers = append(transfers, transfer{
				FromID:    &member.ID,
				ToID:      &sponsor.ID,
				Amount:    flow.SponsorShare,
				Type:      model.LedgerTypeSponsorCommission,
				DebitType: model.LedgerTypeDonationSent,
				Remark:    "1级激活推荐人分成（网关支付）",
			})
		}

		for _, t := range mergeTransfers(transfers) {
			if err := s.memberRepo.CreditWallet(ctx, tx, *t.ToID, t.Amount); err != nil {
				return fmt.Errorf("入账失败: %w", err)
			}
			if _, err := writeLedgerPair(ctx, tx, s.ledgerRepo, t); err != nil {
				return err
			}
		}

		donation := &model.DonationRecord{
			DonationNo: idgen.GenerateDonationNo(),
			DonorID:    member.ID,
			ReceiverID: receiver.ID,
			Amount:     expected,
			Level:      req.Level,
			Status:     model.DonationStatusCompleted,
			OrderID:    req.OrderID,
			PaymentID:  req.PaymentID,
		}
		if err := s.donationRepo.Create(ctx, tx, donation); err != nil {
			// 唯一索引兜底：并发重复回调在这里撞墙，按已处理返回
			if isDuplicateKeyError(err) {
				return ErrAlreadyProcessed
			}
			return fmt.Errorf("写入捐赠记录失败: %w", err)
		}

		if err := s.memberRepo.AdvanceLevel(ctx, tx, member.ID, member.CurrentLevel); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"event":       model.EventDonationVerified,
			"member_id":   member.ID,
			"level":       req.Level,
			"amount":      expected,
			"payment_id":  req.PaymentID,
			"verified_at": time.Now().Format(time.RFC3339),
		})
		outboxMsg := &model.OutboxMessage{
			MessageKey: req.PaymentID,
			Topic:      s.cfg.Kafka.Topic.LevelEvent,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入事件失败: %w", err)
		}

		result = &VerifyResult{
			DonationNo: donation.DonationNo,
			MemberID:   member.ID,
			Level:      req.Level,
			Amount:     expected,
			ReceiverID: receiver.ID,
		}
		return nil
	})

	if errors.Is(err, ErrAlreadyProcessed) {
		existing, getErr := s.donationRepo.GetByPaymentID(ctx, nil, req.PaymentID)
		if getErr == nil && existing != nil {
			return alreadyProcessed(existing), nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if !result.AlreadyProcessed {
		log.Printf("[DonationService] 支付入账成功: paymentID=%s, memberID=%d, level=%d, amount=%d",
			req.PaymentID, req.MemberID, req.Level, result.Amount)
	}
	return result, nil
}

func alreadyProcessed(record *model.DonationRecord) *VerifyResult {
	return &VerifyResult{
		DonationNo:       record.DonationNo,
		MemberID:         record.DonorID,
		Level:            record.Level,
		Amount:           record.Amount,
		ReceiverID:       record.ReceiverID,
		AlreadyProcessed: true,
	}
}

func (s *DonationService) placeDonor(ctx context.Context, tx *gorm.DB, dir matrix.Directory, member *model.Member) (*model.Member, error) {
	sponsor, err := s.memberRepo.GetByReferralCode(ctx, tx, member.SponsoredBy)
	if err != nil || sponsor.CurrentLevel == 0 {
		sponsor, err = s.memberRepo.GetAdmin(ctx, tx)
		if err != nil {
			return nil, ErrAdminMissing
		}
	}

	engine := matrix.NewPlacementEngine(dir, s.cfg.Business.PlacementMaxNodes)
	parent, err := engine.FindOpenSlot(ctx, sponsor)
	if err != nil {
		return nil, fmt.Errorf("矩阵安置失败: %w", err)
	}
	if err := s.memberRepo.AssignPlacement(ctx, tx, member.ID, parent.ReferralCode); err != nil {
		return nil, fmt.Errorf("写入矩阵位置失败: %w", err)
	}
	member.ReferredBy = parent.ReferralCode
	// 与行版本号保持同步（AssignPlacement 会 +1）
	member.Version++
	return sponsor, nil
}

func (s *DonationService) resolveReceiver(ctx context.Context, tx *gorm.DB, dir matrix.Directory, member *model.Member, level int) (*model.Member, error) {
	resolver := matrix.NewUplineResolver(dir)
	receiver, err := resolver.FindUplineAtHops(ctx, member, level)
	if err == nil {
		return receiver, nil
	}
	if !errors.Is(err, matrix.ErrBrokenChain) && !errors.Is(err, matrix.ErrCyclicChain) {
		return nil, err
	}
	admin, adminErr := s.memberRepo.GetAdmin(ctx, tx)
	if adminErr != nil {
		return nil, ErrAdminMissing
	}
	return admin, nil
}

// ListDonations 分页查询会员的升级付款记录
func (s *DonationService) ListDonations(ctx context.Context, memberID int64, page, pageSize int) ([]*model.DonationRecord, int64, error) {
	return s.donationRepo.ListByDonor(ctx, memberID, page, pageSize)
}

func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint")
}
