package handler

import (
	"matrixpay/internal/config"
	"matrixpay/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.PaymentGateway) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, gw)

	api := r.Group("/api/v1")
	{
		// 注册不需要会员身份
		api.POST("/member/register", h.Register)

		// 会员相关
		member := api.Group("/member", AuthMiddleware())
		{
			member.GET("/profile", h.GetProfile)
			member.GET("/balance", h.GetBalances)
			member.GET("/referrals", h.ListDirectReferrals)
			member.GET("/ledger", h.ListLedger)
			member.POST("/deposit", h.Deposit)
			member.POST("/transfer", h.TransferFunds)
		}

		// 等级升级
		level := api.Group("/level", AuthMiddleware())
		{
			level.POST("/upgrade", h.Upgrade)
			level.GET("/flows", h.ListLevelFlows)
		}

		// 网关支付核验
		donation := api.Group("/donation", AuthMiddleware())
		{
			donation.POST("/verify", h.VerifyDonation)
			donation.GET("/list", h.ListDonations)
		}

		// 提现
		withdrawal := api.Group("/withdrawal", AuthMiddleware())
		{
			withdrawal.POST("/request", h.RequestWithdrawal)
			withdrawal.GET("/quota", h.GetWithdrawalQuota)
			withdrawal.GET("/list", h.ListWithdrawals)
		}

		// 管理端
		admin := api.Group("/admin", AdminMiddleware(cfg))
		{
			admin.POST("/withdrawal/approve", h.ApproveWithdrawal)
			admin.POST("/withdrawal/reject", h.RejectWithdrawal)
			admin.GET("/matrix/slot", h.FindOpenSlot)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
