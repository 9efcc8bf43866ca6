/*
 * @Description: 渲染引擎，按阶段驱动插件生成产物
 * @Author: 安知鱼
 * @Date: 2025-11-07 11:17:00
 * @LastEditTime: 2025-11-08 15:01:13
 * @LastEditors: 安知鱼
 */
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
	mdparser "github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser/ast"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/sanitizer"
)

// Outputs 需要生成的产物集合
type Outputs uint8

const (
	OutputHTML Outputs = 1 << iota
	OutputPreview
	OutputLength

	OutputAll = OutputHTML | OutputPreview | OutputLength
)

// Options 单次渲染调用的选项
type Options struct {
	LinkToTitle   bool            `json:"link2title"`
	LinkToSnippet bool            `json:"link2snippet"`
	CacheOnly     bool            `json:"cache_only"`
	Stub          bool            `json:"stub"`
	PreviewLimit  int             `json:"preview_limit"`
	Flags         map[string]bool `json:"flags,omitempty"`
}

// Flag 读取插件开关，未设置时返回 def
func (o Options) Flag(name string, def bool) bool {
	if v, ok := o.Flags[name]; ok {
		return v
	}
	return def
}

// Request 渲染请求
type Request struct {
	Text        string
	Options     Options
	Attachments []string
	Env         map[string]any
	Outputs     Outputs
}

// Output 渲染结果，只有请求过的字段会被填充
type Output struct {
	HTML      string  `json:"html,omitempty"`
	Preview   string  `json:"preview,omitempty"`
	Truncated bool    `json:"truncated"`
	Length    int     `json:"length"`
	Errors    []error `json:"-"`
}

// Data 在阶段处理函数之间传递的调用状态
type Data struct {
	Text        string
	Options     Options
	Attachments []string
	Env         map[string]any
	Tree        *ast.Tree
	// Whitelist 本次调用的白名单扩展。插件只在实际生成对应标记时登记，
	// render 阶段登记的扩展由各产物继承，产物阶段登记的只对该产物生效。
	Whitelist *sanitizer.Whitelist
	Stage     Stage
	Truncated bool
	// External 外部链接的解析器，由 medialink 插件按 Stub 选项设置
	External embed.External
	// Embedded render 阶段中已插入树中的展开结果
	Embedded []embed.Result
}

// fork 为某个产物复制调用状态，语法树与白名单扩展各自独立
func (d *Data) fork(tree *ast.Tree) *Data {
	c := *d
	c.Tree = tree
	c.Whitelist = d.Whitelist.Merge(nil)
	c.Truncated = false
	return &c
}

// Engine 由 Registry.Build 生成，构建后只读，可被并发调用
type Engine struct {
	markup    *mdparser.Markup
	bus       *bus
	sanitizer *sanitizer.Sanitizer
	plugins   []PluginInfo
	logger    *slog.Logger
}

// Render 解析文本并生成请求的产物。
// 只有解析失败与调用方取消会返回错误；阶段内的插件错误记录在 Output.Errors 中。
func (e *Engine) Render(ctx context.Context, req *Request) (*Output, error) {
	outputs := req.Outputs
	if outputs == 0 {
		outputs = OutputAll
	}

	tree, err := e.markup.Parse(req.Text)
	if err != nil {
		return nil, err
	}

	data := &Data{
		Text:        req.Text,
		Options:     req.Options,
		Attachments: req.Attachments,
		Env:         req.Env,
		Tree:        tree,
		Whitelist:   sanitizer.NewWhitelist(),
	}
	if data.Env == nil {
		data.Env = make(map[string]any)
	}

	out := &Output{}
	if err := e.stage(ctx, StageRender, data, out); err != nil {
		return nil, err
	}

	if outputs&OutputHTML != 0 {
		d := data.fork(tree.Clone())
		if err := e.stage(ctx, StageAST2HTML, d, out); err != nil {
			return nil, err
		}
		out.HTML = e.sanitize(d)
	}

	if outputs&OutputPreview != 0 {
		d := data.fork(tree.Clone())
		if err := e.preview(ctx, d, out); err != nil {
			return nil, err
		}
	}

	if outputs&OutputLength != 0 {
		d := data.fork(tree.Clone())
		if err := e.stage(ctx, StageAST2Length, d, out); err != nil {
			return nil, err
		}
		out.Length = mdparser.TextLength(d.Tree.PlainText())
	}
	return out, nil
}

// HTMLToPreview 从已经渲染好的 HTML 生成预览。输入只按基础白名单净化。
func (e *Engine) HTMLToPreview(ctx context.Context, src string, opts Options) (*Output, error) {
	tree, err := ast.ParseHTML(e.sanitizer.Sanitize(src, nil))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mdparser.ErrParse, err)
	}
	d := &Data{
		Options:   opts,
		Env:       make(map[string]any),
		Tree:      tree,
		Whitelist: sanitizer.NewWhitelist(),
	}
	out := &Output{}
	if err := e.preview(ctx, d, out); err != nil {
		return nil, err
	}
	return out, nil
}

// preview ast2preview 之后净化，再基于净化后的 HTML 执行 html2preview
func (e *Engine) preview(ctx context.Context, d *Data, out *Output) error {
	if err := e.stage(ctx, StageAST2Preview, d, out); err != nil {
		return err
	}
	tree, err := ast.ParseHTML(e.sanitize(d))
	if err != nil {
		return fmt.Errorf("%w: %v", mdparser.ErrParse, err)
	}
	d.Tree = tree
	if err := e.stage(ctx, StageHTML2Preview, d, out); err != nil {
		return err
	}
	out.Preview = e.sanitize(d)
	out.Truncated = d.Truncated
	return nil
}

// stage 执行一个阶段。插件错误只中止该阶段，调用方取消则中止整个调用。
func (e *Engine) stage(ctx context.Context, stage Stage, d *Data, out *Output) error {
	err := e.bus.run(ctx, stage, d)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && isCanceled(err) {
		return ctxErr
	}
	e.logger.Error("阶段执行失败", "stage", stage.String(), "error", err)
	out.Errors = append(out.Errors, err)
	return nil
}

func (e *Engine) sanitize(d *Data) string {
	return e.sanitizer.Sanitize(d.Tree.HTML(), d.Whitelist)
}

// Sanitizer 返回 Engine 使用的净化器
func (e *Engine) Sanitizer() *sanitizer.Sanitizer { return e.sanitizer }

// Whitelist 返回不含任何调用扩展的基础白名单
func (e *Engine) Whitelist() *sanitizer.Whitelist {
	return e.sanitizer.Base()
}

// Plugins 返回本次构建中各插件的状态
func (e *Engine) Plugins() []PluginInfo {
	out := make([]PluginInfo, len(e.plugins))
	copy(out, e.plugins)
	return out
}

// PlanEntry 执行计划中的一项
type PlanEntry struct {
	Stage    string `json:"stage"`
	Phase    string `json:"phase"`
	Plugin   string `json:"plugin"`
	Priority int    `json:"priority"`
	Once     bool   `json:"once,omitempty"`
}

// Plan 返回各阶段的执行顺序
func (e *Engine) Plan() []PlanEntry {
	var out []PlanEntry
	for stage := Stage(0); stage < stageCount; stage++ {
		for _, s := range e.bus.plan[stage] {
			out = append(out, PlanEntry{
				Stage:    stage.String(),
				Phase:    s.Phase.String(),
				Plugin:   s.Plugin,
				Priority: s.Priority,
				Once:     s.Once,
			})
		}
	}
	return out
}
