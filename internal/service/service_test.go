package service

import (
	"testing"
	"time"

	"matrixpay/internal/config"
	"matrixpay/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 每个测试用独立的 sqlite 内存库
// 内存库限制单连接，保证事务内外看到的是同一个库。
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Member{},
		&model.LevelPaymentCounter{},
		&model.LedgerEntry{},
		&model.DonationRecord{},
		&model.WithdrawRequest{},
		&model.OutboxMessage{},
	))
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				LevelEvent:    "test.level.events",
				WithdrawEvent: "test.withdraw.events",
			},
		},
		Business: config.BusinessConfig{
			AdminReferralCode: "ROOT0001",
			PlacementMaxNodes: 1000,
			MaxTxRetries:      3,
			MaxRetryCount:     5,
		},
	}
}

func seedAdmin(t *testing.T, db *gorm.DB) *model.Member {
	t.Helper()
	admin := &model.Member{
		Email:        "admin@matrixpay.local",
		ReferralCode: "ROOT0001",
		CurrentLevel: model.MaxLevel,
		IsAdmin:      true,
	}
	require.NoError(t, db.Create(admin).Error)
	return admin
}

// seedMember 直接落库造数，已安置的节点补上 placed_at
func seedMember(t *testing.T, db *gorm.DB, m *model.Member) *model.Member {
	t.Helper()
	if m.ReferredBy != "" && m.PlacedAt == nil {
		now := time.Now()
		m.PlacedAt = &now
	}
	require.NoError(t, db.Create(m).Error)
	return m
}

func reloadMember(t *testing.T, db *gorm.DB, id int64) *model.Member {
	t.Helper()
	var m model.Member
	require.NoError(t, db.First(&m, id).Error)
	return &m
}

// assertLedgerBalanced 每个关联ID下的流水金额之和必须为 0
func assertLedgerBalanced(t *testing.T, db *gorm.DB) {
	t.Helper()
	type row struct {
		CorrelationID string
		Total         int64
	}
	var rows []row
	require.NoError(t, db.Model(&model.LedgerEntry{}).
		Select("correlation_id, SUM(amount) AS total").
		Group("correlation_id").
		Having("SUM(amount) <> 0").
		Scan(&rows).Error)
	require.Empty(t, rows, "存在不平的账本流水")
}

func ledgerCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.LedgerEntry{}).Count(&n).Error)
	return n
}
