package domain

import (
	"errors"
	"fmt"
)

// 错误分类：
//
//   - ValidationError：载荷结构非法（收件人为空、缺少纯文本正文、日历区间倒置），
//     在任何 I/O 之前拒绝，永不重试。
//   - NotFoundError：模板/签名/附件/内联图片文件缺失，返回给调用方，不重试。
//   - TransportError：连接或认证等传输层失败；spool 投递循环在单条目边界捕获它，
//     把条目转入 failed 而不是中断整个循环。
//
// 被远端拒收的部分收件人不是错误：它们记录在结果的 refused 映射中。

// ValidationError 表示载荷在组装边界被拒绝。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NotFoundError 表示引用的文件资源不存在。
type NotFoundError struct {
	Kind string // "template" / "signature" / "attachment" / "inline image"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// TransportError 表示 SMTP 会话层面的失败。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsValidation 判断错误是否属于校验类。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound 判断错误是否属于资源缺失类。
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsTransport 判断错误是否属于传输类。
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ErrorCategory 返回错误的分类名，用于日志与 spool 失败记录。
func ErrorCategory(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	case IsTransport(err):
		return "transport"
	default:
		return "internal"
	}
}
