package handler

import (
	"log"
	"strconv"
	"time"

	"matrixpay/internal/config"
	"matrixpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		log.Printf("[HTTP] %d | %13v | %15s | %-7s %s",
			status,
			latency,
			c.ClientIP(),
			c.Request.Method,
			path,
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[PANIC] %v", err)
				c.AbortWithStatusJSON(500, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Member-ID, X-Admin-Token")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

const memberIDKey = "member_id"

// AuthMiddleware 会员身份中间件
// 认证由外层接入网关完成，这里信任其注入的 X-Member-ID，
// 只做存在性与格式校验。
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		idStr := c.GetHeader("X-Member-ID")
		if idStr == "" {
			response.Unauthorized(c, "缺少会员身份")
			c.Abort()
			return
		}
		memberID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || memberID <= 0 {
			response.Unauthorized(c, "会员身份不合法")
			c.Abort()
			return
		}
		c.Set(memberIDKey, memberID)
		c.Next()
	}
}

// AdminMiddleware 管理接口令牌校验
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Admin-Token")
		if cfg.Business.AdminToken == "" || token != cfg.Business.AdminToken {
			response.Error(c, response.CodeForbidden, "无管理权限")
			c.Abort()
			return
		}
		c.Next()
	}
}

// currentMemberID 从上下文取出已认证会员ID
func currentMemberID(c *gin.Context) int64 {
	return c.GetInt64(memberIDKey)
}
