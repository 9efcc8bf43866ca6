/*
 * @Description: 渲染调用独占的可变语法树
 * @Author: 安知鱼
 * @Date: 2025-11-15 13:49:00
 * @LastEditTime: 2025-11-16 15:17:41
 * @LastEditors: 安知鱼
 */
package ast

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// AutoAttr 是渲染器为机器合成节点写入的临时标记属性。
// 只有属性值与本次解析的随机 nonce 一致时才会被识别为 auto 节点，
// 用户手写的同名属性在建树时被无条件剥离。
const AutoAttr = "data-nd-auto"

// LineAttr 记录块级节点对应的源文本行号（从 1 开始）
const LineAttr = "data-line"

// Tree 是一次渲染调用独占的可变语法树。
// 节点存储复用 x/net/html 的节点结构，查询由 goquery/cascadia 提供。
type Tree struct {
	root *html.Node
	doc  *goquery.Document
	auto map[*html.Node]struct{}
}

// New 创建一棵空树
func New() *Tree {
	root := newRoot()
	return &Tree{
		root: root,
		doc:  goquery.NewDocumentFromNode(root),
		auto: make(map[*html.Node]struct{}),
	}
}

func newRoot() *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
}

// FromHTML 从渲染器输出构建语法树。
// marker 为本次解析的 nonce，带有 AutoAttr=marker 的元素被标记为 auto；marker 为空时不会产生 auto 节点。
func FromHTML(src, marker string) (*Tree, error) {
	t := New()
	nodes, err := html.ParseFragment(strings.NewReader(src), t.root)
	if err != nil {
		return nil, fmt.Errorf("解析 HTML 片段失败: %w", err)
	}
	for _, n := range nodes {
		t.root.AppendChild(n)
	}
	walk(t.root, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		for i := 0; i < len(n.Attr); i++ {
			if n.Attr[i].Key != AutoAttr {
				continue
			}
			if marker != "" && n.Attr[i].Val == marker {
				t.auto[n] = struct{}{}
			}
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			i--
		}
	})
	return t, nil
}

// ParseHTML 从已渲染的 HTML 构建语法树，结果中不存在 auto 节点
func ParseHTML(src string) (*Tree, error) {
	return FromHTML(src, "")
}

// Root 返回树根（不参与序列化的 body 容器）
func (t *Tree) Root() *Node {
	return t.wrap(t.root)
}

// Select 按 CSS 选择器查询节点，返回文档顺序的快照切片。
// 对返回结果的修改不会影响切片本身，调用方可以安全地边遍历边替换。
func (t *Tree) Select(selector string) []*Node {
	return t.wrapAll(t.doc.Find(selector).Nodes)
}

// SelectMatcher 使用预编译的选择器查询节点
func (t *Tree) SelectMatcher(m goquery.Matcher) []*Node {
	return t.wrapAll(t.doc.FindMatcher(m).Nodes)
}

// Filter 返回满足谓词的全部元素节点（文档顺序）
func (t *Tree) Filter(pred func(*Node) bool) []*Node {
	var out []*Node
	walk(t.root, func(n *html.Node) {
		if n == t.root || n.Type != html.ElementNode {
			return
		}
		if w := t.wrap(n); pred(w) {
			out = append(out, w)
		}
	})
	return out
}

// AutoNodes 返回全部 auto 节点（文档顺序）
func (t *Tree) AutoNodes() []*Node {
	return t.Filter(func(n *Node) bool { return n.IsAuto() })
}

// TextNodes 返回全部文本节点（文档顺序）
func (t *Tree) TextNodes() []*Node {
	var out []*Node
	walk(t.root, func(n *html.Node) {
		if n.Type == html.TextNode {
			out = append(out, t.wrap(n))
		}
	})
	return out
}

// Clone 深拷贝整棵树，auto 标记随节点一起复制
func (t *Tree) Clone() *Tree {
	c := &Tree{auto: make(map[*html.Node]struct{}, len(t.auto))}
	c.root = clone(t.root, t.auto, c.auto)
	c.doc = goquery.NewDocumentFromNode(c.root)
	return c
}

// HTML 序列化整棵树
func (t *Tree) HTML() string {
	var buf bytes.Buffer
	for c := t.root.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// PlainText 返回纯文本投影，块级元素之间以换行分隔
func (t *Tree) PlainText() string {
	var b strings.Builder
	plainText(&b, t.root)
	return strings.TrimSpace(b.String())
}

// MustCompile 预编译插件使用的选择器
func MustCompile(selector string) goquery.Matcher {
	return cascadia.MustCompile(selector)
}

func (t *Tree) wrap(n *html.Node) *Node {
	if n == nil {
		return nil
	}
	return &Node{tree: t, n: n}
}

func (t *Tree) wrapAll(nodes []*html.Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, t.wrap(n))
	}
	return out
}

// forget 删除子树中所有节点的 auto 记录，确保被替换的节点不再被树引用
func (t *Tree) forget(n *html.Node) {
	walk(n, func(x *html.Node) {
		delete(t.auto, x)
	})
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		walk(c, fn)
		c = next
	}
}

func clone(n *html.Node, from, to map[*html.Node]struct{}) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	if _, ok := from[n]; ok {
		to[c] = struct{}{}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(clone(child, from, to))
	}
	return c
}

var blockElements = map[string]bool{
	"p": true, "div": true, "blockquote": true, "pre": true, "ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "hr": true, "details": true, "summary": true, "section": true,
	"figure": true, "figcaption": true, "dl": true, "dt": true, "dd": true,
}

func plainText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "template":
			return
		case "br":
			b.WriteByte('\n')
			return
		case "td", "th":
			b.WriteByte(' ')
		}
	}
	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		plainText(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}
