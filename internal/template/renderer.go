// Package template 实现模板与签名的安全变量替换。
//
// 替换语法是 ${name} 形式的占位符；variables 中不存在的占位符原样保留，
// 因此不完整或拼写错误的变量集永远不会让一次发送中途失败。
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"mailspool/backend/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render 对 text 做安全替换：只替换 variables 中存在的占位符。
func Render(text string, variables map[string]string) string {
	if len(variables) == 0 {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := variables[name]; ok {
			return value
		}
		return match
	})
}

// Store 是一个按名字寻址的模板文件存储。
//
// 每个名字下最多有两个资源：{name}.txt 与 {name}.html，两者都是可选的，
// 但至少要存在一个。正文模板与签名模板各用一个独立的 Store 实例。
type Store struct {
	dir  string
	kind string // 错误信息里的资源类别："template" 或 "signature"
}

// NewStore 创建模板存储。kind 用于 NotFoundError 的资源类别描述。
func NewStore(dir, kind string) *Store {
	return &Store{dir: dir, kind: kind}
}

// RenderPair 渲染 name 对应的纯文本与 HTML 模板。
//
// 只有当两个变体都不存在时才返回 NotFoundError；只缺一个变体时
// 对应返回值为空字符串。
func (s *Store) RenderPair(name string, variables map[string]string) (text, html string, err error) {
	textPath := filepath.Join(s.dir, name+".txt")
	htmlPath := filepath.Join(s.dir, name+".html")

	textFound := false
	if raw, readErr := os.ReadFile(textPath); readErr == nil {
		text = Render(string(raw), variables)
		textFound = true
	}
	htmlFound := false
	if raw, readErr := os.ReadFile(htmlPath); readErr == nil {
		html = Render(string(raw), variables)
		htmlFound = true
	}

	if !textFound && !htmlFound {
		return "", "", &domain.NotFoundError{
			Kind: s.kind,
			Name: fmt.Sprintf("%s (expected %s.txt or %s.html)", name, name, name),
		}
	}
	return text, html, nil
}
