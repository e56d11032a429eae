package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"matrixpay/internal/config"

	razorpay "github.com/razorpay/razorpay-go"
)

// 网关侧支付状态
const (
	PaymentStatusCaptured = "captured"
)

// Payment 网关支付单（核验所需的最小字段）
type Payment struct {
	PaymentID string
	OrderID   string
	Amount    int64 // 单位：paise（1 卢比 = 100 paise）
	Status    string
}

// PaymentGateway 支付网关边界
// 核心只依赖两个能力：签名校验、独立回查支付单。测试用假实现。
type PaymentGateway interface {
	// VerifySignature 校验回调签名（HMAC-SHA256 over "orderID|paymentID"）
	VerifySignature(orderID, paymentID, signature string) bool
	// FetchPayment 从网关回查支付单（不信任回调自带的金额与状态）
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// RazorpayGateway 基于 razorpay-go 的网关实现
type RazorpayGateway struct {
	client    *razorpay.Client
	keySecret string
}

func NewRazorpayGateway(cfg *config.RazorpayConfig) *RazorpayGateway {
	return &RazorpayGateway{
		client:    razorpay.NewClient(cfg.KeyID, cfg.KeySecret),
		keySecret: cfg.KeySecret,
	}
}

// VerifySignature 按 Razorpay 规范校验签名
// 期望值 = HMAC-SHA256(orderID + "|" + paymentID, keySecret) 的十六进制
func (g *RazorpayGateway) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.keySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	// 常量时间比较，防时序侧信道
	return hmac.Equal([]byte(expected), []byte(signature))
}

// FetchPayment 回查支付单
func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	body, err := g.client.Payment.Fetch(paymentID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("回查支付单失败: %w", err)
	}

	payment := &Payment{PaymentID: paymentID}

	if status, ok := body["status"].(string); ok {
		payment.Status = status
	}
	if orderID, ok := body["order_id"].(string); ok {
		payment.OrderID = orderID
	}
	if amount, ok := body["amount"].(float64); ok {
		payment.Amount = int64(amount)
	}

	return payment, nil
}
