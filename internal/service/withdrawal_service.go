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
	"matrixpay/internal/model"
	"matrixpay/internal/repository"
	"matrixpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// WithdrawalService 提现申请与审批
//
// 额度规则：某会员累计审批通过的提现总额不得超过其当前等级的
// 累计额度（1级到当前级各级额度之和）。额度在申请时校验一次，
// 审批时必须重新校验——两个时点之间余额和等级都可能已经变化。
type WithdrawalService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	caps           *model.WithdrawalCapTable
	memberRepo     *repository.MemberRepository
	withdrawalRepo *repository.WithdrawalRepository
	ledgerRepo     *repository.LedgerRepository
	outboxRepo     *repository.OutboxRepository
}

func NewWithdrawalService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, caps *model.WithdrawalCapTable) *WithdrawalService {
	return &WithdrawalService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		caps:           caps,
		memberRepo:     repository.NewMemberRepository(db),
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		ledgerRepo:     repository.NewLedgerRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

// MaxCumulativeWithdrawal 返回某等级的累计可提现上限
func (s *WithdrawalService) MaxCumulativeWithdrawal(level int) int64 {
	return s.caps.MaxCumulative(level)
}

// GetCumulativeWithdrawn 返回会员累计已审批通过的提现金额
func (s *WithdrawalService) GetCumulativeWithdrawn(ctx context.Context, memberID int64) (int64, error) {
	return s.withdrawalRepo.SumApprovedByMember(ctx, nil, memberID)
}

// validateWithdrawal 提现四联校验，申请与审批共用
// 顺序：等级 -> 余额 -> 在途申请 -> 累计额度
func (s *WithdrawalService) validateWithdrawal(ctx context.Context, tx *gorm.DB, member *model.Member, amount int64, ignorePendingID int64) error {
	if member.CurrentLevel < 1 {
		return ErrLevelZero
	}

	if amount > member.WalletBalance {
		return &InsufficientBalanceError{
			Wallet:    "wallet",
			Required:  amount,
			Available: member.WalletBalance,
		}
	}

	pending, err := s.withdrawalRepo.GetPendingByMember(ctx, tx, member.ID)
	if err != nil {
		return err
	}
	if pending != nil && pending.ID != ignorePendingID {
		return ErrPendingWithdrawal
	}

	withdrawn, err := s.withdrawalRepo.SumApprovedByMember(ctx, tx, member.ID)
	if err != nil {
		return err
	}
	cap := s.caps.MaxCumulative(member.CurrentLevel)
	if withdrawn+amount > cap {
		return &WithdrawCapError{
			Level:     member.CurrentLevel,
			Cap:       cap,
			Withdrawn: withdrawn,
			Requested: amount,
		}
	}

	return nil
}

// CanWithdraw 只读校验（不落任何数据）
func (s *WithdrawalService) CanWithdraw(ctx context.Context, memberID int64, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("提现金额必须大于0")
	}
	member, err := s.memberRepo.GetByID(ctx, nil, memberID)
	if err != nil {
		return err
	}
	return s.validateWithdrawal(ctx, nil, member, amount, 0)
}

// RequestWithdrawal 发起提现申请
// 申请本身不动余额，只是占住"同一时刻至多一条 PENDING"的位置。
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, memberID int64, amount int64) (*model.WithdrawRequest, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("提现金额必须大于0")
	}

	var request *model.WithdrawRequest

	err := s.db.Transaction(func(tx *gorm.DB) error {
		member, err := s.memberRepo.GetByIDForUpdate(ctx, tx, memberID)
		if err != nil {
			return err
		}

		if err := s.validateWithdrawal(ctx, tx, member, amount, 0); err != nil {
			return err
		}

		request = &model.WithdrawRequest{
			WithdrawalNo: idgen.GenerateWithdrawalNo(),
			MemberID:     memberID,
			Amount:       amount,
			Status:       model.WithdrawStatusPending,
		}
		return s.withdrawalRepo.Create(ctx, tx, request)
	})

	if err != nil {
		return nil, err
	}

	log.Printf("[WithdrawalService] 提现申请已受理: withdrawalNo=%s, memberID=%d, amount=%d",
		request.WithdrawalNo, memberID, amount)
	return request, nil
}

// ApproveWithdrawal 审批通过（管理端触发）
// 审批时重新跑一遍全量校验再扣款：申请和审批之间余额可能已经
// 被其他操作改动。
func (s *WithdrawalService) ApproveWithdrawal(ctx context.Context, withdrawalNo string) (*model.WithdrawRequest, error) {
	request, err := s.withdrawalRepo.GetByNo(ctx, nil, withdrawalNo)
	if err != nil {
		return nil, err
	}

	memberLock := lock.NewMemberLock(s.redisClient, request.MemberID, withdrawalNo)
	if err := memberLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer memberLock.Unlock(ctx)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		request, err = s.withdrawalRepo.GetByNoForUpdate(ctx, tx, withdrawalNo)
		if err != nil {
			return err
		}
		if request.Status != model.WithdrawStatusPending {
			return repository.ErrWithdrawalStatusInvalid
		}

		member, err := s.memberRepo.GetByIDForUpdate(ctx, tx, request.MemberID)
		if err != nil {
			return err
		}

		if err := s.validateWithdrawal(ctx, tx, member, request.Amount, request.ID); err != nil {
			return err
		}

		if err := s.memberRepo.DebitWallet(ctx, tx, member.ID, request.Amount, member.Version); err != nil {
			if errors.Is(err, repository.ErrWalletNotEnough) {
				return &InsufficientBalanceError{
					Wallet:    "wallet",
					Required:  request.Amount,
					Available: member.WalletBalance,
				}
			}
			return err
		}
		if err := s.memberRepo.IncrementTotalWithdrawn(ctx, tx, member.ID, request.Amount); err != nil {
			return err
		}

		// 提现出账：贷方记在平台外（to 为空）
		t := transfer{
			FromID:    &member.ID,
			Amount:    request.Amount,
			Type:      model.LedgerTypeWithdrawal,
			DebitType: model.LedgerTypeWithdrawal,
			Remark:    fmt.Sprintf("提现 %s", withdrawalNo),
		}
		if _, err := writeLedgerPair(ctx, tx, s.ledgerRepo, t); err != nil {
			return err
		}

		if err := s.withdrawalRepo.UpdateStatus(ctx, tx, request.ID, model.WithdrawStatusPending, model.WithdrawStatusApproved, ""); err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"event":         model.EventWithdrawalApproved,
			"withdrawal_no": withdrawalNo,
			"member_id":     member.ID,
			"amount":        request.Amount,
			"approved_at":   time.Now().Format(time.RFC3339),
		})
		outboxMsg := &model.OutboxMessage{
			MessageKey: withdrawalNo,
			Topic:      s.cfg.Kafka.Topic.WithdrawEvent,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		return nil, err
	}

	request.Status = model.WithdrawStatusApproved
	log.Printf("[WithdrawalService] 提现审批通过: withdrawalNo=%s, memberID=%d, amount=%d",
		withdrawalNo, request.MemberID, request.Amount)
	return request, nil
}

// RejectWithdrawal 驳回申请
func (s *WithdrawalService) RejectWithdrawal(ctx context.Context, withdrawalNo, reason string) error {
	request, err := s.withdrawalRepo.GetByNo(ctx, nil, withdrawalNo)
	if err != nil {
		return err
	}
	if err := s.withdrawalRepo.UpdateStatus(ctx, nil, request.ID, model.WithdrawStatusPending, model.WithdrawStatusRejected, reason); err != nil {
		return err
	}
	log.Printf("[WithdrawalService] 提现申请已驳回: withdrawalNo=%s, reason=%s", withdrawalNo, reason)
	return nil
}

// ListWithdrawals 分页查询会员提现记录
func (s *WithdrawalService) ListWithdrawals(ctx context.Context, memberID int64, page, pageSize int) ([]*model.WithdrawRequest, int64, error) {
	return s.withdrawalRepo.ListByMember(ctx, memberID, page, pageSize)
}
