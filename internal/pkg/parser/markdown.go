/*
 * @Description: 基于 goldmark 的标记解析器
 * @Author: 安知鱼
 * @Date: 2025-11-12 16:28:00
 * @LastEditTime: 2025-11-12 10:44:32
 * @LastEditors: 安知鱼
 */
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser/ast"
)

// ErrParse 表示输入无法被语法规则表示，是渲染调用中唯一致命的错误
var ErrParse = errors.New("标记解析失败")

// autoNonceKey 保存本次解析的随机 nonce，用于标记机器合成的节点
var autoNonceKey = parser.NewContextKey()

// Rules 汇总插件贡献的词法规则与渲染器覆盖
type Rules struct {
	BlockParsers  []util.PrioritizedValue
	InlineParsers []util.PrioritizedValue
	Transformers  []util.PrioritizedValue
	Renderers     []util.PrioritizedValue
	Extensions    []goldmark.Extender
}

// Markup 是编译完成的解析器，构建后只读，可被并发的渲染调用共享
type Markup struct {
	md goldmark.Markdown
}

// NewMarkup 使用基础语法并叠加插件规则构建解析器
func NewMarkup(rules Rules) *Markup {
	extensions := []goldmark.Extender{
		extension.Table,         // 表格
		extension.Strikethrough, // 删除线
		extension.TaskList,      // 任务列表
		extension.Footnote,      // 支持脚注
		extension.Typographer,   // 美化排版
	}
	extensions = append(extensions, rules.Extensions...)

	transformers := append([]util.PrioritizedValue{
		util.Prioritized(lineTransformer{}, 1000),
	}, rules.Transformers...)

	md := goldmark.New(
		goldmark.WithExtensions(extensions...),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(), // 自动为标题生成 ID
			parser.WithBlockParsers(rules.BlockParsers...),
			parser.WithInlineParsers(rules.InlineParsers...),
			parser.WithASTTransformers(transformers...),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(), // 硬换行
			html.WithXHTML(),     // 渲染为 XHTML
			html.WithUnsafe(),    // 原始 HTML 原样输出，离开管线前由净化器清理
			renderer.WithNodeRenderers(rules.Renderers...),
		),
	)
	return &Markup{md: md}
}

// Parse 将标记文本解析为语法树
func (m *Markup) Parse(src string) (*ast.Tree, error) {
	nonce := uuid.NewString()
	pc := parser.NewContext()
	pc.Set(autoNonceKey, nonce)

	source := []byte(src)
	doc := m.md.Parser().Parse(text.NewReader(source), parser.WithContext(pc))

	var buf bytes.Buffer
	if err := m.md.Renderer().Render(&buf, source, doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	tree, err := ast.FromHTML(buf.String(), nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return tree, nil
}

// MarkAuto 将 goldmark 节点标记为机器合成，建树后对应元素的 IsAuto 为 true。
// 只有插件贡献的解析器可以调用它，用户手写的标记无法获得 nonce。
func MarkAuto(n gast.Node, pc parser.Context) {
	if nonce, ok := pc.Get(autoNonceKey).(string); ok && nonce != "" {
		n.SetAttributeString(ast.AutoAttr, []byte(nonce))
	}
}

// lineTransformer 为块级节点写入源文本行号
type lineTransformer struct{}

func (lineTransformer) Transform(doc *gast.Document, reader text.Reader, pc parser.Context) {
	source := reader.Source()
	_ = gast.Walk(doc, func(n gast.Node, entering bool) (gast.WalkStatus, error) {
		if !entering || n.Type() != gast.TypeBlock || n.Kind() == gast.KindDocument {
			return gast.WalkContinue, nil
		}
		if pos := firstPosition(n); pos >= 0 && pos <= len(source) {
			line := 1 + bytes.Count(source[:pos], []byte{'\n'})
			n.SetAttributeString(ast.LineAttr, []byte(strconv.Itoa(line)))
		}
		return gast.WalkContinue, nil
	})
}

func firstPosition(n gast.Node) int {
	if n.Type() == gast.TypeBlock {
		if lines := n.Lines(); lines != nil && lines.Len() > 0 {
			return lines.At(0).Start
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() == gast.TypeInline {
			if t, ok := c.(*gast.Text); ok {
				return t.Segment.Start
			}
			continue
		}
		if pos := firstPosition(c); pos >= 0 {
			return pos
		}
	}
	return -1
}
