package domain

import (
	"net/mail"
	"regexp"
	"strings"
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)
	MaxDomainLength    = 253 // 域名最大长度
)

// 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)

// ValidateAddress 验证投递地址格式。
//
// 只做基础合法性检查，宽松到足以接受常见地址形态；
// 最终取舍权在上游提交服务器。
func ValidateAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return &ValidationError{Reason: "recipient address must not be empty"}
	}
	if len(address) > MaxEmailLength {
		return &ValidationError{Reason: "recipient address too long: " + address}
	}

	// 使用标准库进行基础格式验证
	if _, err := mail.ParseAddress(address); err != nil {
		return &ValidationError{Reason: "invalid recipient address: " + address}
	}

	at := strings.LastIndex(address, "@")
	local, domainPart := address[:at], address[at+1:]
	if len(local) > MaxLocalPartLength {
		return &ValidationError{Reason: "recipient local part too long: " + address}
	}
	if len(domainPart) > MaxDomainLength || !domainRegex.MatchString(domainPart) {
		return &ValidationError{Reason: "invalid recipient domain: " + address}
	}
	return nil
}
