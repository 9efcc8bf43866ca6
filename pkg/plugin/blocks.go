/*
 * @Description: 表格、列表、图片、引用与折叠块插件
 * @Author: 安知鱼
 * @Date: 2025-11-16 17:32:00
 * @LastEditTime: 2025-11-16 14:16:28
 * @LastEditors: 安知鱼
 */
package plugin

import (
	"context"
	"regexp"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser/ast"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
)

var (
	taskCheckbox = ast.MustCompile(`li > input[type="checkbox"]`)
	lists        = ast.MustCompile(`ul, ol`)
	lazyLoading  = regexp.MustCompile(`^lazy$`)
)

// Table 表格加样式并包裹滚动容器，预览中以图标代替
func Table() pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.On(pipeline.StageAST2HTML, func(_ context.Context, data *pipeline.Data) error {
			tables := data.Tree.Select("table")
			if len(tables) == 0 {
				return nil
			}
			data.Whitelist.
				AllowClasses("table", "table", "table-striped").
				AllowClasses("div", "table-wrapper")
			for _, t := range tables {
				t.AddClass("table", "table-striped")
				if parent := t.Parent(); parent != nil && parent.HasClass("table-wrapper") {
					continue
				}
				t.Wrap("div", map[string]string{"class": "table-wrapper"})
			}
			return nil
		})
		p.On(pipeline.StageAST2Preview, func(_ context.Context, data *pipeline.Data) error {
			return replaceWithIcon(data, data.Tree.Select("table"), IconTable, true)
		})
		return nil
	}
}

// List 任务列表加样式，预览中以图标代替
func List() pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.On(pipeline.StageAST2HTML, func(_ context.Context, data *pipeline.Data) error {
			boxes := data.Tree.SelectMatcher(taskCheckbox)
			if len(boxes) == 0 {
				return nil
			}
			data.Whitelist.
				AllowClasses("li", "task-list-item").
				AllowClasses("ul", "contains-task-list").
				AllowClasses("ol", "contains-task-list")
			for _, box := range boxes {
				li := box.Parent()
				li.AddClass("task-list-item")
				if list := li.Parent(); list != nil {
					list.AddClass("contains-task-list")
				}
			}
			return nil
		})
		p.On(pipeline.StageAST2Preview, func(_ context.Context, data *pipeline.Data) error {
			// 内层列表随外层一起被替换
			return replaceWithIcon(data, data.Tree.SelectMatcher(lists), IconList, true)
		})
		return nil
	}
}

// Image 图片延迟加载并标记附件；预览中以图标代替
func Image() pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.On(pipeline.StageAST2HTML, func(_ context.Context, data *pipeline.Data) error {
			images := data.Tree.Select("img")
			if len(images) == 0 {
				return nil
			}
			data.Whitelist.AllowMatching(lazyLoading, "img", "loading")
			attachments := make(map[string]bool, len(data.Attachments))
			for _, a := range data.Attachments {
				attachments[a] = true
			}
			for _, img := range images {
				img.SetAttr("loading", "lazy")
				if attachments[img.AttrOr("src", "")] {
					img.AddClass("attachment")
					data.Whitelist.AllowClasses("img", "attachment")
				}
			}
			return nil
		})
		p.On(pipeline.StageAST2Preview, func(_ context.Context, data *pipeline.Data) error {
			return replaceWithIcon(data, data.Tree.Select("img"), IconPicture, false)
		})
		return nil
	}
}

// Quote 预览中去掉引用内容
func Quote() pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.On(pipeline.StageAST2Preview, func(_ context.Context, data *pipeline.Data) error {
			removeAll(data.Tree.Select("blockquote"))
			return nil
		})
		return nil
	}
}

// Spoiler 折叠块加样式，预览中去掉
func Spoiler() pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.On(pipeline.StageAST2HTML, func(_ context.Context, data *pipeline.Data) error {
			spoilers := data.Tree.Select("details")
			if len(spoilers) == 0 {
				return nil
			}
			data.Whitelist.AllowClasses("details", "spoiler")
			for _, d := range spoilers {
				d.AddClass("spoiler")
			}
			return nil
		})
		p.On(pipeline.StageAST2Preview, func(_ context.Context, data *pipeline.Data) error {
			removeAll(data.Tree.Select("details"))
			return nil
		})
		return nil
	}
}
