/*
 * @Description: 分割标记与链接识别插件
 * @Author: 安知鱼
 * @Date: 2025-11-19 14:53:00
 * @LastEditTime: 2025-11-20 11:49:37
 * @LastEditors: 安知鱼
 */
package plugin

import (
	"context"

	mdparser "github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
)

// cutRendererPriority cut 节点渲染器优先级
const cutRendererPriority = 500

// Linkify 识别裸 URL，只有它生成的链接才会被展开
func Linkify() pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.AddInlineParser(mdparser.NewAutoLinkParser(), mdparser.AutoLinkPriority)
		return nil
	}
}

// Cut 分割标记：预览截止到第一个标记，完整输出与长度统计忽略标记本身
func Cut(marker string) pipeline.Installer {
	if marker == "" {
		marker = mdparser.DefaultCutMarker
	}
	return func(p *pipeline.Pipeline) error {
		p.AddBlockParser(mdparser.NewCutParser(marker), mdparser.CutPriority)
		p.AddRenderer(mdparser.NewCutRenderer(), cutRendererPriority)

		p.On(pipeline.StageAST2HTML, dropCuts)
		p.On(pipeline.StageAST2Length, dropCuts)
		p.On(pipeline.StageAST2Preview, func(ctx context.Context, data *pipeline.Data) error {
			for _, n := range data.Tree.Select(mdparser.CutTag) {
				if !n.IsAuto() || !n.Attached() {
					continue
				}
				n.RemoveFollowing()
				data.Truncated = true
				break
			}
			return dropCuts(ctx, data)
		}, pipeline.Priority(0))
		return nil
	}
}

func dropCuts(_ context.Context, data *pipeline.Data) error {
	removeAll(data.Tree.Select(mdparser.CutTag))
	return nil
}
