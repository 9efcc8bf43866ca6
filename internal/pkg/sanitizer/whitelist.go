/*
 * @Description: 标签、属性与 class 白名单
 * @Author: 安知鱼
 * @Date: 2025-11-09 10:07:00
 * @LastEditTime: 2025-11-12 13:11:23
 * @LastEditors: 安知鱼
 */
package sanitizer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/cache"
)

// AnyValue 表示属性值不做限制（URL 属性仍受协议白名单约束）
var AnyValue *regexp.Regexp

// element 单个标签的白名单规则
type element struct {
	attrs   map[string]*regexp.Regexp
	classes map[string]struct{}
}

// Whitelist 描述允许通过的标签、属性与 class。
// 零值不可用，请使用 NewWhitelist。Whitelist 不是并发安全的，
// 每次渲染调用应持有自己的扩展实例。
type Whitelist struct {
	elements map[string]*element
}

// NewWhitelist 创建空白名单
func NewWhitelist() *Whitelist {
	return &Whitelist{elements: make(map[string]*element)}
}

func (w *Whitelist) el(tag string) *element {
	e, ok := w.elements[tag]
	if !ok {
		e = &element{attrs: make(map[string]*regexp.Regexp), classes: make(map[string]struct{})}
		w.elements[tag] = e
	}
	return e
}

// Allow 允许标签及其属性（属性值不限）
func (w *Whitelist) Allow(tag string, attrs ...string) *Whitelist {
	e := w.el(tag)
	for _, a := range attrs {
		e.attrs[a] = AnyValue
	}
	return w
}

// AllowMatching 允许标签的属性，属性值必须匹配正则
func (w *Whitelist) AllowMatching(re *regexp.Regexp, tag string, attrs ...string) *Whitelist {
	e := w.el(tag)
	for _, a := range attrs {
		if existing, ok := e.attrs[a]; ok && existing == AnyValue {
			continue
		}
		e.attrs[a] = re
	}
	return w
}

// AllowClasses 允许标签上的 class token。
// 支持精确值、前缀通配（"language-*"）以及 "*"（任意 token）。
func (w *Whitelist) AllowClasses(tag string, classes ...string) *Whitelist {
	e := w.el(tag)
	for _, c := range classes {
		e.classes[c] = struct{}{}
	}
	return w
}

// Merge 返回两个白名单的并集，不修改任何一方
func (w *Whitelist) Merge(other *Whitelist) *Whitelist {
	out := NewWhitelist()
	for _, src := range []*Whitelist{w, other} {
		if src == nil {
			continue
		}
		for tag, e := range src.elements {
			dst := out.el(tag)
			for a, re := range e.attrs {
				existing, ok := dst.attrs[a]
				switch {
				case !ok:
					dst.attrs[a] = re
				case existing == AnyValue:
				case re == AnyValue:
					dst.attrs[a] = AnyValue
				case existing.String() != re.String():
					// 同一属性的两个约束取并集，按字面排序保证合并顺序不影响指纹
					first, second := existing.String(), re.String()
					if second < first {
						first, second = second, first
					}
					dst.attrs[a] = regexp.MustCompile("(?:" + first + ")|(?:" + second + ")")
				}
			}
			for c := range e.classes {
				dst.classes[c] = struct{}{}
			}
		}
	}
	return out
}

// Empty 是否没有任何规则
func (w *Whitelist) Empty() bool {
	return w == nil || len(w.elements) == 0
}

// Fingerprint 返回白名单内容的稳定摘要，用于缓存编译后的策略
func (w *Whitelist) Fingerprint() string {
	if w.Empty() {
		return cache.Key("")
	}
	tags := make([]string, 0, len(w.elements))
	for t := range w.elements {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		e := w.elements[t]
		var b strings.Builder
		b.WriteString(t)
		for _, a := range sortedKeys(e.attrs) {
			b.WriteString("|@" + a)
			if re := e.attrs[a]; re != AnyValue {
				b.WriteString("=" + re.String())
			}
		}
		for _, c := range sortedKeys(e.classes) {
			b.WriteString("|." + c)
		}
		parts = append(parts, b.String())
	}
	return cache.Key(parts...)
}

// AllowsTag 标签是否在白名单内
func (w *Whitelist) AllowsTag(tag string) bool {
	_, ok := w.elements[tag]
	return ok
}

// AllowsAttr 属性（含取值）是否在白名单内
func (w *Whitelist) AllowsAttr(tag, attr, val string) bool {
	e, ok := w.elements[tag]
	if !ok {
		return false
	}
	if attr == "class" {
		if len(e.classes) == 0 {
			return false
		}
		for _, token := range strings.Fields(val) {
			if !w.AllowsClass(tag, token) {
				return false
			}
		}
		return true
	}
	re, ok := e.attrs[attr]
	if !ok {
		return false
	}
	return re == AnyValue || re.MatchString(val)
}

// AllowsClass class token 是否在白名单内
func (w *Whitelist) AllowsClass(tag, class string) bool {
	e, ok := w.elements[tag]
	if !ok {
		return false
	}
	for pattern := range e.classes {
		if classMatches(pattern, class) {
			return true
		}
	}
	return false
}

func classMatches(pattern, class string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(class, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == class
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
