/*
 * @Description: 内置插件注册
 * @Author: 安知鱼
 * @Date: 2025-11-05 12:27:00
 * @LastEditTime: 2025-11-08 17:51:03
 * @LastEditors: 安知鱼
 */
package plugin

import (
	"fmt"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser/ast"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
)

// 内置插件名称
const (
	NameLinkify    = "linkify"
	NameCut        = "cut"
	NameLinkExpand = "link_expand"
	NameMedialink  = "medialink"
	NameEmoji      = "emoji"
	NameTable      = "table"
	NameList       = "list"
	NameImage      = "image"
	NameQuote      = "quote"
	NameSpoiler    = "spoiler"
	NameHighlight  = "highlight"
	NameTruncate   = "truncate"
)

// DefaultPreviewLimit 预览的默认字符上限
const DefaultPreviewLimit = 500

// Deps 内置插件依赖的共享组件，为 nil 的组件对应的插件不会被注册
type Deps struct {
	CutMarker      string
	Resolver       *embed.Resolver
	Tables         TableSource
	Emoji          *EmojiSet
	HighlightStyle string
	PreviewLimit   int
	// Disabled 注册但不启用的插件
	Disabled []string
}

// RegisterDefaults 按固定顺序注册全部内置插件
func RegisterDefaults(r *pipeline.Registry, deps Deps) error {
	disabled := make(map[string]bool, len(deps.Disabled))
	for _, name := range deps.Disabled {
		disabled[name] = true
	}

	type entry struct {
		name    string
		install pipeline.Installer
		eager   bool
		prio    int
	}
	entries := []entry{
		{name: NameLinkify, install: Linkify(), eager: true, prio: 10},
		{name: NameCut, install: Cut(deps.CutMarker), eager: true, prio: 10},
	}
	if deps.Resolver != nil {
		entries = append(entries, entry{name: NameLinkExpand, install: LinkExpand(deps.Resolver), prio: 50})
	}
	if deps.Tables != nil {
		entries = append(entries, entry{name: NameMedialink, install: Medialink(deps.Tables), prio: 40})
	}
	if deps.Emoji != nil {
		entries = append(entries, entry{name: NameEmoji, install: Emoji(deps.Emoji), prio: 60})
	}
	entries = append(entries,
		entry{name: NameTable, install: Table(), prio: 100},
		entry{name: NameList, install: List(), prio: 100},
		entry{name: NameImage, install: Image(), prio: 100},
		entry{name: NameQuote, install: Quote(), prio: 100},
		entry{name: NameSpoiler, install: Spoiler(), prio: 100},
		entry{name: NameHighlight, install: Highlight(deps.HighlightStyle), eager: true, prio: 100},
		entry{name: NameTruncate, install: Truncate(deps.PreviewLimit), prio: 1000},
	)

	for _, e := range entries {
		opts := []pipeline.Option{pipeline.WithPriority(e.prio)}
		if disabled[e.name] {
			opts = append(opts, pipeline.Disabled())
		}
		if err := r.Add(e.name, e.install, e.eager, opts...); err != nil {
			return fmt.Errorf("注册内置插件失败: %w", err)
		}
	}
	return nil
}

// 预览中使用的图标名
const (
	IconTable   = "table"
	IconList    = "list"
	IconPicture = "picture"
)

// IconClasses 预览图标可能用到的全部 class
func IconClasses() []string {
	return []string{"icon", "icon-" + IconTable, "icon-" + IconList, "icon-" + IconPicture}
}

// icon 预览中代替大块内容的图标
func icon(name string, block bool) string {
	span := `<span class="icon icon-` + name + `"></span>`
	if block {
		return "<p>" + span + "</p>"
	}
	return span
}

// replaceWithIcon 用图标替换节点，已被替换掉的祖先中的节点跳过。
// 实际生成了图标时才为本次调用放行对应的 class。
func replaceWithIcon(data *pipeline.Data, nodes []*ast.Node, name string, block bool) error {
	for _, n := range nodes {
		if !n.Attached() {
			continue
		}
		if _, err := n.ReplaceWithHTML(icon(name, block)); err != nil {
			return err
		}
		data.Whitelist.AllowClasses("span", "icon", "icon-"+name)
	}
	return nil
}

// removeAll 删除全部节点
func removeAll(nodes []*ast.Node) {
	for _, n := range nodes {
		if n.Attached() {
			n.Remove()
		}
	}
}
