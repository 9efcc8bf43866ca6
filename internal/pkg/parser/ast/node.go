/*
 * @Description: 语法树节点视图与变换操作
 * @Author: 安知鱼
 * @Date: 2025-11-22 14:02:00
 * @LastEditTime: 2025-11-24 16:46:58
 * @LastEditors: 安知鱼
 */
package ast

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node 是树中单个节点的视图。同一个底层节点可以有多个 Node 视图，
// 比较身份请使用 Same。
type Node struct {
	tree *Tree
	n    *html.Node
}

// Same 判断两个视图是否指向同一个节点
func (n *Node) Same(o *Node) bool { return o != nil && n.n == o.n }

// IsElement 是否为元素节点
func (n *Node) IsElement() bool { return n.n.Type == html.ElementNode }

// IsText 是否为文本节点
func (n *Node) IsText() bool { return n.n.Type == html.TextNode }

// Tag 返回元素标签名，非元素节点返回空串
func (n *Node) Tag() string {
	if n.n.Type != html.ElementNode {
		return ""
	}
	return n.n.Data
}

// IsAuto 标记节点是否由解析器/链接识别器合成
func (n *Node) IsAuto() bool {
	_, ok := n.tree.auto[n.n]
	return ok
}

// Attr 读取属性
func (n *Node) Attr(key string) (string, bool) {
	for _, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr 读取属性，不存在时返回默认值
func (n *Node) AttrOr(key, def string) string {
	if v, ok := n.Attr(key); ok {
		return v
	}
	return def
}

// SetAttr 设置属性，已存在时覆盖
func (n *Node) SetAttr(key, val string) {
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.n.Attr[i].Val = val
			return
		}
	}
	n.n.Attr = append(n.n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr 删除属性
func (n *Node) RemoveAttr(key string) {
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.n.Attr = append(n.n.Attr[:i], n.n.Attr[i+1:]...)
			return
		}
	}
}

// HasClass 判断 class 属性中是否包含指定 token
func (n *Node) HasClass(class string) bool {
	for _, c := range strings.Fields(n.AttrOr("class", "")) {
		if c == class {
			return true
		}
	}
	return false
}

// AddClass 追加 class token，已存在的跳过
func (n *Node) AddClass(classes ...string) {
	current := strings.Fields(n.AttrOr("class", ""))
	for _, c := range classes {
		if !n.HasClass(c) {
			current = append(current, c)
		}
	}
	n.SetAttr("class", strings.Join(current, " "))
}

// SourceLine 返回节点对应的源文本行号
func (n *Node) SourceLine() (int, bool) {
	v, ok := n.Attr(LineAttr)
	if !ok {
		return 0, false
	}
	line, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return line, true
}

// Parent 返回父节点；树根和已脱离的节点返回 nil
func (n *Node) Parent() *Node {
	if n.n.Parent == nil || n.n == n.tree.root {
		return nil
	}
	return n.tree.wrap(n.n.Parent)
}

// Children 返回全部子节点（含文本节点）的快照
func (n *Node) Children() []*Node {
	var out []*Node
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, n.tree.wrap(c))
	}
	return out
}

// Attached 判断节点是否仍挂在树上
func (n *Node) Attached() bool {
	for p := n.n; p != nil; p = p.Parent {
		if p == n.tree.root {
			return true
		}
	}
	return false
}

// Text 返回节点的文本内容
func (n *Node) Text() string {
	var b strings.Builder
	walk(n.n, func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
	})
	return b.String()
}

// SetText 替换文本节点内容，元素节点则替换为单个文本子节点
func (n *Node) SetText(s string) {
	if n.n.Type == html.TextNode {
		n.n.Data = s
		return
	}
	for c := n.n.FirstChild; c != nil; {
		next := c.NextSibling
		n.tree.forget(c)
		n.n.RemoveChild(c)
		c = next
	}
	n.n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
}

// HTML 序列化节点本身（outer HTML）
func (n *Node) HTML() string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n.n)
	return buf.String()
}

// Remove 将节点及其子树从树中摘除
func (n *Node) Remove() {
	if n.n.Parent == nil {
		return
	}
	n.tree.forget(n.n)
	n.n.Parent.RemoveChild(n.n)
}

// RemoveFollowing 删除文档顺序上位于节点之后的全部内容（节点本身保留）
func (n *Node) RemoveFollowing() {
	for x := n.n; x != nil && x != n.tree.root; x = x.Parent {
		for s := x.NextSibling; s != nil; {
			next := s.NextSibling
			n.tree.forget(s)
			x.Parent.RemoveChild(s)
			s = next
		}
	}
}

// ReplaceWithHTML 用 HTML 片段替换节点，返回插入的新节点。
// 片段以父节点为上下文解析；若片段的首个元素缺少行号，则沿用被替换节点的行号。
func (n *Node) ReplaceWithHTML(fragment string) ([]*Node, error) {
	parent := n.n.Parent
	if parent == nil {
		return nil, fmt.Errorf("节点已脱离语法树")
	}
	context := parent
	if context.Type != html.ElementNode {
		context = newRoot()
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return nil, fmt.Errorf("解析替换片段失败: %w", err)
	}

	line, hasLine := n.Attr(LineAttr)
	out := make([]*Node, 0, len(nodes))
	for _, c := range nodes {
		parent.InsertBefore(c, n.n)
		out = append(out, n.tree.wrap(c))
	}
	if hasLine {
		for _, c := range out {
			if c.IsElement() {
				if _, ok := c.Attr(LineAttr); !ok {
					c.SetAttr(LineAttr, line)
				}
				break
			}
		}
	}
	n.Remove()
	return out, nil
}

// Wrap 用新元素包裹节点，返回包裹元素
func (n *Node) Wrap(tag string, attrs map[string]string) *Node {
	w := &html.Node{Type: html.ElementNode, DataAtom: atom.Lookup([]byte(tag)), Data: tag}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.Attr = append(w.Attr, html.Attribute{Key: k, Val: attrs[k]})
	}
	if parent := n.n.Parent; parent != nil {
		parent.InsertBefore(w, n.n)
		parent.RemoveChild(n.n)
	}
	w.AppendChild(n.n)
	return n.tree.wrap(w)
}

// Unwrap 移除元素本身，保留其子节点
func (n *Node) Unwrap() {
	parent := n.n.Parent
	if parent == nil {
		return
	}
	for c := n.n.FirstChild; c != nil; {
		next := c.NextSibling
		n.n.RemoveChild(c)
		parent.InsertBefore(c, n.n)
		c = next
	}
	n.Remove()
}

// OnlyChildOf 判断节点是否为父元素中除空白外唯一的内容
func (n *Node) OnlyChildOf(tag string) bool {
	parent := n.n.Parent
	if parent == nil || parent == n.tree.root || parent.Type != html.ElementNode || parent.Data != tag {
		return false
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c == n.n {
			continue
		}
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) == "" {
			continue
		}
		if c.Type == html.CommentNode {
			continue
		}
		return false
	}
	return true
}
