/*
 * @Description: 自动链接展开，共享预算并限制嵌套深度
 * @Author: 安知鱼
 * @Date: 2025-11-21 13:43:00
 * @LastEditTime: 2025-11-24 17:59:47
 * @LastEditors: 安知鱼
 */
package embed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser/ast"
)

const (
	// DefaultBudget 单次渲染调用最多尝试展开的链接数
	DefaultBudget = 100
	// DefaultTTL 外部展开结果的缓存时间
	DefaultTTL = 24 * time.Hour
	// DefaultMaxDepth 本地内容嵌套渲染的最大深度
	DefaultMaxDepth = 2

	cachePrefix = "embed:"
)

// Resolver 持有展开链接所需的共享组件，构建后只读
type Resolver struct {
	local  Local
	cache  Cache
	budget int
	ttl    time.Duration
	logger *slog.Logger
}

// ResolverOption Resolver 的可选配置
type ResolverOption func(*Resolver)

// WithBudget 设置单次调用的展开预算
func WithBudget(n int) ResolverOption {
	return func(r *Resolver) {
		if n >= 0 {
			r.budget = n
		}
	}
}

// WithTTL 设置缓存时间
func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver 创建 Resolver，local 与 cache 均可为 nil
func NewResolver(local Local, cache Cache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		local:  local,
		cache:  cache,
		budget: DefaultBudget,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "embed")
	return r
}

// Budget 单次调用的展开预算
func (r *Resolver) Budget() int { return r.budget }

// Options 影响链接是否展开以及展开方式的调用选项
type Options struct {
	LinkToTitle   bool
	LinkToSnippet bool
	CacheOnly     bool
}

// budget 一次顶层渲染调用的展开预算，嵌套渲染中的会话共用同一份
type budget struct {
	remaining int
}

type budgetKey struct{}

// Session 一次渲染调用内的展开状态，不能在调用之间共享
type Session struct {
	r         *Resolver
	external  External
	opts      Options
	budget    *budget
	attempted []string
	inserted  []Result
}

// Session 为一次渲染调用创建展开状态，external 可为 nil
func (r *Resolver) Session(external External, opts Options) *Session {
	return &Session{r: r, external: external, opts: opts}
}

// Remaining 剩余预算，嵌套渲染消耗的部分也计算在内
func (s *Session) Remaining() int {
	if s.budget == nil {
		return s.r.budget
	}
	return s.budget.remaining
}

// Inserted 按顺序返回已经插入树中的展开结果
func (s *Session) Inserted() []Result {
	out := make([]Result, len(s.inserted))
	copy(out, s.inserted)
	return out
}

// Attempted 按顺序返回已经尝试展开的链接
func (s *Session) Attempted() []string {
	out := make([]string, len(s.attempted))
	copy(out, s.attempted)
	return out
}

// Expand 按文档顺序展开树中的自动链接。
// ctx 中已有上层调用的预算时沿用它，本地内容的嵌套渲染因此不会获得新的预算。
// 单个链接的失败不会中止处理，只有调用方取消会返回错误。
func (s *Session) Expand(ctx context.Context, tree *ast.Tree) error {
	if s.budget == nil {
		if b, ok := ctx.Value(budgetKey{}).(*budget); ok {
			s.budget = b
		} else {
			s.budget = &budget{remaining: s.r.budget}
		}
	}
	ctx = context.WithValue(ctx, budgetKey{}, s.budget)

	links := tree.Filter(func(n *ast.Node) bool {
		return n.Tag() == "a" && n.IsAuto() && isAbsoluteHTTP(n.AttrOr("href", ""))
	})

	for i, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !link.Attached() {
			continue
		}

		block := link.OnlyChildOf("p")
		types := s.types(block)
		if len(types) == 0 {
			continue
		}
		if s.budget.remaining <= 0 {
			s.r.logger.Debug("展开预算已用完", "skipped", len(links)-i, "depth", Depth(ctx), "error", ErrBudgetExhausted)
			return nil
		}
		s.budget.remaining--

		href := link.AttrOr("href", "")
		s.attempted = append(s.attempted, href)

		res := s.Resolve(ctx, href, types)
		if res == nil {
			continue
		}
		if res.CanonicalURL != "" && res.CanonicalURL != href && isAbsoluteHTTP(res.CanonicalURL) {
			link.SetAttr("href", res.CanonicalURL)
		}
		if strings.TrimSpace(res.HTML) == "" {
			continue
		}

		target := link
		if block && res.Type == TypeBlock {
			target = link.Parent()
		}
		if _, err := target.ReplaceWithHTML(res.HTML); err != nil {
			s.r.logger.Warn("展开结果无法插入", "url", href, "error", err)
			continue
		}
		s.inserted = append(s.inserted, *res)
	}
	return nil
}

// types 计算链接可接受的呈现方式，返回空表示该链接不参与展开
func (s *Session) types(block bool) []Type {
	switch {
	case block && s.opts.LinkToSnippet:
		return []Type{TypeBlock, TypeInline}
	case block:
		return []Type{TypeInline}
	case s.opts.LinkToTitle:
		return []Type{TypeInline}
	}
	return nil
}

// Resolve 展开单个链接。站内链接只交给本地展开器，失败不会回退到外部。
// 返回 nil 表示没有可用结果。
func (s *Session) Resolve(ctx context.Context, href string, types []Type) *Result {
	if s.r.local != nil && s.r.local.Match(href) {
		return s.resolveLocal(ctx, href, types)
	}
	return s.resolveExternal(ctx, href, types)
}

func (s *Session) resolveLocal(ctx context.Context, href string, types []Type) *Result {
	for _, t := range types {
		html, err := s.r.local.Embed(ctx, href, t)
		if err != nil {
			s.r.logger.Debug("本地内容展开失败", "url", href, "type", string(t), "error", err)
			continue
		}
		if strings.TrimSpace(html) != "" {
			return &Result{HTML: html, Type: t, IsLocal: true}
		}
	}
	return nil
}

func (s *Session) resolveExternal(ctx context.Context, href string, types []Type) *Result {
	if s.external == nil {
		return nil
	}
	key := cachePrefix + s.external.Key() + ":" + typesKey(types) + ":" + href

	if s.r.cache != nil {
		if raw, err := s.r.cache.Get(ctx, key); err != nil {
			s.r.logger.Warn("读取展开缓存失败", "url", href, "error", err)
		} else if raw != "" {
			var cached Result
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return &cached
			}
		}
	}

	res, err := s.external.Resolve(ctx, Request{URL: href, Types: types, CacheOnly: s.opts.CacheOnly})
	if err != nil {
		s.r.logger.Warn("外部链接展开失败", "url", href, "error", err)
		return nil
	}
	if res == nil {
		res = &Result{}
	}
	if !s.opts.CacheOnly && s.r.cache != nil {
		if raw, err := json.Marshal(res); err == nil {
			if err := s.r.cache.Set(ctx, key, string(raw), s.r.ttl); err != nil {
				s.r.logger.Warn("写入展开缓存失败", "url", href, "error", err)
			}
		}
	}
	return res
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type depthKey struct{}

// WithDepth 返回嵌套深度加一的 context，超过 max 时返回 ErrRecursionLimit
func WithDepth(ctx context.Context, max int) (context.Context, error) {
	d := Depth(ctx)
	if d >= max {
		return ctx, ErrRecursionLimit
	}
	return context.WithValue(ctx, depthKey{}, d+1), nil
}

// Depth 当前的嵌套渲染深度
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}
