package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 业务错误码（按拒绝原因逐条区分，客户端据此提示）
const (
	CodeMemberNotFound      = 1001 // 会员不存在
	CodeInvalidSequence     = 1002 // 等级必须逐级激活
	CodeInsufficientBalance = 1003 // 余额不足
	CodePlacementExhausted  = 1004 // 矩阵无可用空位
	CodeAdminMissing        = 1005 // 公司账户缺失
	CodeSignatureInvalid    = 1006 // 网关签名校验失败
	CodeAmountMismatch      = 1007 // 支付金额不符
	CodePaymentNotCaptured  = 1008 // 支付未完成
	CodeAlreadyProcessed    = 1009 // 支付已处理（幂等返回，非错误）
	CodePendingWithdrawal   = 1010 // 已有待审批提现
	CodeWithdrawCapExceeded = 1011 // 超出累计提现额度
	CodeDuplicateRequest    = 1012 // 重复请求
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, CodeUnauthorized, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
