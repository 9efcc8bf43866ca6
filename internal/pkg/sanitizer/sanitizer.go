/*
 * @Description: 基于白名单的 HTML 净化器
 * @Author: 安知鱼
 * @Date: 2025-11-26 09:54:00
 * @LastEditTime: 2025-11-28 12:42:06
 * @LastEditors: 安知鱼
 */
package sanitizer

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/cache"
)

// policyCacheSize 编译后策略的缓存上限，扩展组合通常只有少数几种
const policyCacheSize = 64

// requireAttrs 必须带属性才有意义的元素，属性全部被剥离时整个标签被移除（保留内容）
var requireAttrs = map[string]struct{}{
	"a": {}, "img": {}, "input": {}, "iframe": {}, "video": {}, "audio": {}, "source": {},
}

// Sanitizer 基于白名单过滤 HTML，是输出前唯一可信的安全边界。
// 基础白名单在构造后只读，可被多个调用并发使用。
type Sanitizer struct {
	base     *Whitelist
	policies *cache.LRU[string, *bluemonday.Policy]
	logger   *slog.Logger
}

// New 创建 Sanitizer，base 为 nil 时使用 Default()
func New(base *Whitelist, logger *slog.Logger) *Sanitizer {
	if base == nil {
		base = Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{
		base:     base,
		policies: cache.NewLRU[string, *bluemonday.Policy](policyCacheSize, 0),
		logger:   logger.With("component", "sanitizer"),
	}
}

// Base 返回基础白名单的副本
func (s *Sanitizer) Base() *Whitelist {
	return s.base.Merge(nil)
}

// Effective 返回基础白名单与扩展合并后的结果
func (s *Sanitizer) Effective(ext *Whitelist) *Whitelist {
	if ext.Empty() {
		return s.base
	}
	return s.base.Merge(ext)
}

// Sanitize 过滤 src 中不在白名单（基础 + ext）内的标签、属性与 class。
// 输出经过规范化，对其再次调用 Sanitize 结果不变。
func (s *Sanitizer) Sanitize(src string, ext *Whitelist) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	w := s.Effective(ext)
	policy, _ := s.policies.GetOrCreate(w.Fingerprint(), func() (*bluemonday.Policy, error) {
		return buildPolicy(w), nil
	})

	filtered := filterClasses(src, w)
	out := normalize(policy.Sanitize(filtered))

	if s.logger.Enabled(context.Background(), slog.LevelDebug) && out != normalize(src) {
		s.logger.Debug("不在白名单内的标记已被移除", "input_len", len(src), "output_len", len(out))
	}
	return out
}

func buildPolicy(w *Whitelist) *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnFullyQualifiedLinks(true)

	for _, tag := range sortedKeys(w.elements) {
		e := w.elements[tag]
		p.AllowElements(tag)
		if _, ok := requireAttrs[tag]; !ok {
			p.AllowNoAttrs().OnElements(tag)
		}
		for _, attr := range sortedKeys(e.attrs) {
			if re := e.attrs[attr]; re != AnyValue {
				p.AllowAttrs(attr).Matching(re).OnElements(tag)
			} else {
				p.AllowAttrs(attr).OnElements(tag)
			}
		}
		// class token 已在 filterClasses 中逐个过滤
		if len(e.classes) > 0 {
			p.AllowAttrs("class").OnElements(tag)
		}
	}
	return p
}

// filterClasses 逐个检查 class token，只保留白名单允许的部分
func filterClasses(src string, w *Whitelist) string {
	nodes, err := parseFragment(src)
	if err != nil {
		return src
	}
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			attrs := n.Attr[:0]
			for _, a := range n.Attr {
				if a.Namespace == "" && a.Key == "class" {
					var kept []string
					for _, token := range strings.Fields(a.Val) {
						if w.AllowsClass(n.Data, token) {
							kept = append(kept, token)
						}
					}
					if len(kept) == 0 {
						continue
					}
					a.Val = strings.Join(kept, " ")
				}
				attrs = append(attrs, a)
			}
			n.Attr = attrs
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	for _, n := range nodes {
		visit(n)
	}
	return render(nodes)
}

// normalize 通过一次解析与序列化得到稳定的 HTML 表示
func normalize(src string) string {
	nodes, err := parseFragment(src)
	if err != nil {
		return src
	}
	return render(nodes)
}

func parseFragment(src string) ([]*html.Node, error) {
	return html.ParseFragment(strings.NewReader(src), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
}

func render(nodes []*html.Node) string {
	var buf bytes.Buffer
	for _, n := range nodes {
		if err := html.Render(&buf, n); err != nil {
			return ""
		}
	}
	return buf.String()
}
