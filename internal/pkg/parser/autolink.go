/*
 * @Description: 裸链接识别，生成带 nonce 的自动链接
 * @Author: 安知鱼
 * @Date: 2025-11-08 12:36:00
 * @LastEditTime: 2025-11-08 14:48:24
 * @LastEditors: 安知鱼
 */
package parser

import (
	"regexp"

	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// AutoLinkPriority 与 goldmark 自带 Linkify 扩展保持一致
const AutoLinkPriority = 999

var (
	rawAnchorOpen  = regexp.MustCompile(`(?i)<a[\s>]`)
	rawAnchorClose = regexp.MustCompile(`(?i)</a\s*>`)
)

// autoLinkParser 在 goldmark 链接识别的基础上，为识别出的 URL 链接打上 auto 标记
type autoLinkParser struct {
	parser.InlineParser
}

// NewAutoLinkParser 返回链接识别的行内解析器。
// 只有它生成的链接会成为 auto 节点；`<url>` 形式和手写的 `<a>` 都不会。
func NewAutoLinkParser(opts ...extension.LinkifyOption) parser.InlineParser {
	return &autoLinkParser{InlineParser: extension.NewLinkifyParser(opts...)}
}

func (p *autoLinkParser) Parse(parent gast.Node, block text.Reader, pc parser.Context) gast.Node {
	// 位于手写 <a> 内部的裸 URL 不再识别，避免嵌套链接被 HTML 解析器拆成独立的 auto 链接
	if insideRawAnchor(parent, block.Source()) {
		return nil
	}
	n := p.InlineParser.Parse(parent, block, pc)
	if link, ok := n.(*gast.AutoLink); ok && link.AutoLinkType == gast.AutoLinkURL {
		MarkAuto(link, pc)
	}
	return n
}

func insideRawAnchor(parent gast.Node, source []byte) bool {
	depth := 0
	var stop gast.Node
	for x := parent; x != nil; x = x.Parent() {
		for c := x.FirstChild(); c != nil && c != stop; c = c.NextSibling() {
			raw, ok := c.(*gast.RawHTML)
			if !ok {
				continue
			}
			for i := 0; i < raw.Segments.Len(); i++ {
				seg := raw.Segments.At(i)
				v := seg.Value(source)
				depth += len(rawAnchorOpen.FindAllIndex(v, -1))
				depth -= len(rawAnchorClose.FindAllIndex(v, -1))
			}
		}
		if x.Type() == gast.TypeBlock {
			break
		}
		stop = x
	}
	return depth > 0
}
