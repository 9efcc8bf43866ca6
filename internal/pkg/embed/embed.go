/*
 * @Description: 链接展开的类型与接口
 * @Author: 安知鱼
 * @Date: 2025-11-04 14:56:00
 * @LastEditTime: 2025-11-04 10:28:04
 * @LastEditors: 安知鱼
 */
package embed

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrBudgetExhausted 本次调用的展开次数已用完，剩余链接保持原样
	ErrBudgetExhausted = errors.New("embed budget exhausted")
	// ErrRecursionLimit 本地内容的嵌套渲染超过深度限制
	ErrRecursionLimit = errors.New("embed recursion limit reached")
)

// Type 展开结果的呈现方式
type Type string

const (
	TypeBlock  Type = "block"
	TypeInline Type = "inline"
)

// Request 展开请求
type Request struct {
	URL       string
	Types     []Type
	CacheOnly bool
}

// Result 展开结果。HTML 为空表示无法展开，链接保持原样。
type Result struct {
	HTML         string `json:"html,omitempty"`
	Type         Type   `json:"type,omitempty"`
	IsLocal      bool   `json:"is_local,omitempty"`
	CanonicalURL string `json:"canonical_url,omitempty"`
}

// Local 站内内容的展开器
type Local interface {
	Match(url string) bool
	Embed(ctx context.Context, url string, t Type) (string, error)
}

// External 站外内容的展开器。Key 区分不同的实现（例如完整模式与占位模式），
// 用于隔离缓存。
type External interface {
	Key() string
	Resolve(ctx context.Context, req Request) (*Result, error)
}

// Cache 展开结果的缓存。Get 返回空字符串表示尚未缓存。
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

func typesKey(types []Type) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
