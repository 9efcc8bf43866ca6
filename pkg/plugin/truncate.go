/*
 * @Description: 预览截断插件
 * @Author: 安知鱼
 * @Date: 2025-11-09 16:19:00
 * @LastEditTime: 2025-11-12 13:47:11
 * @LastEditors: 安知鱼
 */
package plugin

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/strutil"
)

// Truncate 按字符数截断预览，超出部分整体丢弃。
// 请求中的 PreviewLimit 优先于默认值。
func Truncate(defaultLimit int) pipeline.Installer {
	if defaultLimit <= 0 {
		defaultLimit = DefaultPreviewLimit
	}
	return func(p *pipeline.Pipeline) error {
		p.After(pipeline.StageHTML2Preview, func(_ context.Context, data *pipeline.Data) error {
			limit := data.Options.PreviewLimit
			if limit <= 0 {
				limit = defaultLimit
			}
			used := 0
			for _, t := range data.Tree.TextNodes() {
				if !t.Attached() {
					continue
				}
				text := t.Text()
				if strings.TrimSpace(text) == "" {
					continue
				}
				n := utf8.RuneCountInString(text)
				if used+n <= limit {
					used += n
					continue
				}
				t.SetText(strutil.Truncate(text, limit-used))
				t.RemoveFollowing()
				data.Truncated = true
				break
			}
			return nil
		})
		return nil
	}
}
