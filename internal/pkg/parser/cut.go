/*
 * @Description: 摘要分割标记的块级语法
 * @Author: 安知鱼
 * @Date: 2025-11-25 11:23:00
 * @LastEditTime: 2025-11-28 13:19:07
 * @LastEditors: 安知鱼
 */
package parser

import (
	"bytes"
	"strings"

	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// DefaultCutMarker 默认的摘要分割标记
const DefaultCutMarker = "--cut--"

// CutTag 分割标记在语法树中的元素名
const CutTag = "cut"

// CutPriority 分割标记规则的优先级，需要先于分隔线（200）尝试
const CutPriority = 199

// KindCut 分割标记节点类型
var KindCut = gast.NewNodeKind("Cut")

// Cut 表示文档中的摘要分割点
type Cut struct {
	gast.BaseBlock
}

// Kind implements Node.Kind.
func (n *Cut) Kind() gast.NodeKind {
	return KindCut
}

// Dump implements Node.Dump.
func (n *Cut) Dump(source []byte, level int) {
	gast.DumpHelper(n, source, level, nil, nil)
}

type cutParser struct {
	marker []byte
}

// NewCutParser 返回识别独占一行的分割标记的块解析器
func NewCutParser(marker string) parser.BlockParser {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		marker = DefaultCutMarker
	}
	return &cutParser{marker: []byte(marker)}
}

func (b *cutParser) Trigger() []byte {
	return []byte{b.marker[0]}
}

func (b *cutParser) Open(parent gast.Node, reader text.Reader, pc parser.Context) (gast.Node, parser.State) {
	line, segment := reader.PeekLine()
	w, pos := util.IndentWidth(line, reader.LineOffset())
	if w > 3 {
		return nil, parser.NoChildren
	}
	rest := line[pos:]
	if !bytes.HasPrefix(rest, b.marker) {
		return nil, parser.NoChildren
	}
	if len(util.TrimRightSpace(rest[len(b.marker):])) != 0 {
		return nil, parser.NoChildren
	}

	node := &Cut{}
	node.Lines().Append(segment.TrimRightSpace(reader.Source()))
	MarkAuto(node, pc)
	reader.AdvanceToEOL()
	return node, parser.NoChildren
}

func (b *cutParser) Continue(node gast.Node, reader text.Reader, pc parser.Context) parser.State {
	return parser.Close
}

func (b *cutParser) Close(node gast.Node, reader text.Reader, pc parser.Context) {}

func (b *cutParser) CanInterruptParagraph() bool {
	return true
}

func (b *cutParser) CanAcceptIndentedLine() bool {
	return false
}

type cutRenderer struct{}

// NewCutRenderer 返回分割标记的渲染器
func NewCutRenderer() renderer.NodeRenderer {
	return &cutRenderer{}
}

func (r *cutRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindCut, r.render)
}

func (r *cutRenderer) render(w util.BufWriter, source []byte, n gast.Node, entering bool) (gast.WalkStatus, error) {
	if !entering {
		return gast.WalkContinue, nil
	}
	_, _ = w.WriteString("<" + CutTag)
	html.RenderAttributes(w, n, nil)
	_, _ = w.WriteString("></" + CutTag + ">\n")
	return gast.WalkSkipChildren, nil
}
