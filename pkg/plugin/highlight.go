/*
 * @Description: 代码高亮插件
 * @Author: 安知鱼
 * @Date: 2025-11-22 11:14:00
 * @LastEditTime: 2025-11-24 16:22:46
 * @LastEditors: 安知鱼
 */
package plugin

import (
	"context"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	mdparser "github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser/ast"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
)

// DefaultHighlightStyle 代码高亮的默认主题
const DefaultHighlightStyle = "github"

// HighlightClass 高亮代码块外层容器的 CSS 类
const HighlightClass = "highlight"

var highlighted = ast.MustCompile("div." + HighlightClass)

// fenceMarker 为围栏代码块写入 nonce，包装渲染器据此输出可信的外层容器
type fenceMarker struct{}

func (fenceMarker) Transform(doc *gast.Document, _ text.Reader, pc parser.Context) {
	_ = gast.Walk(doc, func(n gast.Node, entering bool) (gast.WalkStatus, error) {
		if entering && n.Kind() == gast.KindFencedCodeBlock {
			mdparser.MarkAuto(n, pc)
		}
		return gast.WalkContinue, nil
	})
}

func wrapHighlighted(w util.BufWriter, c highlighting.CodeBlockContext, entering bool) {
	if !c.Highlighted() {
		if !entering {
			_, _ = w.WriteString("</code></pre>\n")
			return
		}
		_, _ = w.WriteString("<pre><code")
		if lang, ok := c.Language(); ok && len(lang) > 0 {
			_, _ = w.WriteString(` class="language-`)
			_, _ = w.Write(util.EscapeHTML(lang))
			_ = w.WriteByte('"')
		}
		_ = w.WriteByte('>')
		return
	}
	if !entering {
		_, _ = w.WriteString("</div>\n")
		return
	}
	_, _ = w.WriteString(`<div class="` + HighlightClass + `"`)
	if attrs := c.Attributes(); attrs != nil {
		if v, ok := attrs.Get([]byte(ast.AutoAttr)); ok {
			if nonce, ok := v.([]byte); ok {
				_, _ = w.WriteString(` ` + ast.AutoAttr + `="`)
				_, _ = w.Write(util.EscapeHTML(nonce))
				_ = w.WriteByte('"')
			}
		}
	}
	_ = w.WriteByte('>')
}

// Highlight 代码块语法高亮，输出 CSS 类而非内联样式
func Highlight(style string) pipeline.Installer {
	if style == "" {
		style = DefaultHighlightStyle
	}
	classes := make([]string, 0, len(chroma.StandardTypes))
	for _, class := range chroma.StandardTypes {
		if class != "" {
			classes = append(classes, class)
		}
	}
	return func(p *pipeline.Pipeline) error {
		p.AddTransformer(fenceMarker{}, 500)
		p.Extend(highlighting.NewHighlighting(
			highlighting.WithStyle(style),
			highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
			highlighting.WithWrapperRenderer(wrapHighlighted),
		))

		// 只有解析器实际生成的高亮块才放行 chroma 的类
		p.On(pipeline.StageRender, func(_ context.Context, data *pipeline.Data) error {
			for _, n := range data.Tree.SelectMatcher(highlighted) {
				if !n.IsAuto() {
					continue
				}
				data.Whitelist.
					AllowClasses("div", HighlightClass).
					AllowClasses("pre", "chroma").
					AllowClasses("code", "chroma").
					AllowClasses("span", classes...)
				return nil
			}
			return nil
		})
		return nil
	}
}
