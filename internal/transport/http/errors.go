package httptransport

import (
	"github.com/gin-gonic/gin"

	"mailspool/backend/internal/domain"
)

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidJSON      = "JSON格式错误"
	MsgRequestBodyEmpty = "请求体不能为空"

	// 发送相关
	MsgSendFailed    = "邮件发送失败"
	MsgEnqueueFailed = "消息入队失败"
	MsgDrainFailed   = "队列排空失败"

	// 收件箱相关
	MsgInboxDisabled = "收件箱预览未配置"
	MsgInboxFailed   = "收件箱查询失败"
)

// WriteError 按业务错误类别写出响应
//
// 校验错误 → 400，资源缺失 → 404，上游通讯失败 → 502，其余 → 500。
func WriteError(c *gin.Context, err error, fallback string) {
	switch {
	case domain.IsValidation(err):
		BadRequest(c, err.Error())
	case domain.IsNotFound(err):
		NotFound(c, err.Error())
	case domain.IsTransport(err):
		BadGateway(c, err.Error())
	default:
		InternalError(c, fallback+": "+err.Error())
	}
}
