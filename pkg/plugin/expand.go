/*
 * @Description: 链接展开与媒体链接插件
 * @Author: 安知鱼
 * @Date: 2025-11-26 15:06:00
 * @LastEditTime: 2025-11-28 12:18:54
 * @LastEditors: 安知鱼
 */
package plugin

import (
	"context"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/medialink"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
)

// LinkExpand 在 render 阶段展开自动链接
func LinkExpand(resolver *embed.Resolver) pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.Requires(NameLinkify)
		p.On(pipeline.StageRender, func(ctx context.Context, data *pipeline.Data) error {
			session := resolver.Session(data.External, embed.Options{
				LinkToTitle:   data.Options.LinkToTitle,
				LinkToSnippet: data.Options.LinkToSnippet,
				CacheOnly:     data.Options.CacheOnly,
			})
			err := session.Expand(ctx, data.Tree)
			data.Embedded = append(data.Embedded, session.Inserted()...)
			return err
		})
		return nil
	}
}

// TableSource 提供当前生效的媒体链接提供者表
type TableSource interface {
	Table(mode medialink.Mode) *medialink.Table
}

// Medialink 为链接展开提供外部解析器。Stub 选项下使用不访问网络的占位表。
func Medialink(tables TableSource) pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.Requires(NameLinkExpand)
		p.Before(pipeline.StageRender, func(_ context.Context, data *pipeline.Data) error {
			mode := medialink.ModeFull
			if data.Options.Stub {
				mode = medialink.ModeStub
			}
			table := tables.Table(mode)
			if table == nil {
				return nil
			}
			data.External = table
			return nil
		})
		// 只有外部展开结果真正插入时才放行提供者输出所需的标记
		p.After(pipeline.StageRender, func(_ context.Context, data *pipeline.Data) error {
			table, ok := data.External.(*medialink.Table)
			if !ok || table == nil {
				return nil
			}
			for _, res := range data.Embedded {
				if !res.IsLocal {
					data.Whitelist = data.Whitelist.Merge(table.Whitelist())
					return nil
				}
			}
			return nil
		})
		return nil
	}
}
