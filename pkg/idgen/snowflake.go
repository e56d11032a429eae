package idgen

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 推荐码、流水号、关联ID都要求：
//   1. 全局唯一 - 不能重复
//   2. 趋势递增 - 便于数据库索引
//   3. 高性能 - 支持高并发生成
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化默认ID生成器
func Init(workerID int64) {
	once.Do(func() {
		if workerID < 0 || workerID > maxWorkerID {
			log.Fatalf("workerID 必须在 0-%d 之间", maxWorkerID)
		}
		defaultGenerator = &Snowflake{
			workerID:  workerID,
			timestamp: 0,
			sequence:  0,
		}
	})
}

// NextID 生成下一个ID
func NextID() int64 {
	if defaultGenerator == nil {
		Init(1) // 默认使用 workerID = 1
	}
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		// 同一毫秒内，序列号递增
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		// 不同毫秒，序列号重置
		s.sequence = 0
	}

	s.timestamp = now

	id := ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence

	return id
}

func numberWithPrefix(prefix string) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	return fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
}

// GenerateEntryNo 生成账本流水号
func GenerateEntryNo() string {
	return numberWithPrefix("LED")
}

// GenerateCorrelationID 生成转账关联ID（成对借贷流水共享）
func GenerateCorrelationID() string {
	return numberWithPrefix("COR")
}

// GenerateDonationNo 生成捐赠记录编号
func GenerateDonationNo() string {
	return numberWithPrefix("DON")
}

// GenerateWithdrawalNo 生成提现申请编号
func GenerateWithdrawalNo() string {
	return numberWithPrefix("WDR")
}

// GenerateWalletPaymentID 生成钱包升级路径的内部支付ID
// 与网关支付ID共用 donation_record.payment_id 唯一索引，加前缀区分来源
func GenerateWalletPaymentID() string {
	return numberWithPrefix("WAL")
}

const referralAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateReferralCode 生成8位推荐码
// 基于雪花ID做32进制编码，去掉易混淆字符（0/O、1/I）
func GenerateReferralCode() string {
	id := NextID()
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		sb.WriteByte(referralAlphabet[id&31])
		id >>= 5
	}
	return sb.String()
}
