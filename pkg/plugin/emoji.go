/*
 * @Description: 表情替换插件
 * @Author: 安知鱼
 * @Date: 2025-11-12 13:40:00
 * @LastEditTime: 2025-11-12 10:20:20
 * @LastEditors: 安知鱼
 */
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser/ast"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
)

// EmojiClass 表情图片的 CSS 类
const EmojiClass = "emoji"

var emojiToken = regexp.MustCompile(`:([\w+\-]+):`)

// emojiSkip 这些元素内的文本不做表情替换
var emojiSkip = map[string]bool{"code": true, "pre": true, "a": true}

// EmojiDef 表情包 JSON 中单个表情的定义
type EmojiDef struct {
	Icon string `json:"icon"`
	Text string `json:"text"`
}

// EmojiPack 表情包 JSON 中的一组表情
type EmojiPack struct {
	Container []EmojiDef `json:"container"`
}

// EmojiSet 表情名到图片地址的映射，可在运行期整体替换
type EmojiSet struct {
	mu     sync.RWMutex
	images map[string]string
}

// NewEmojiSet 创建空的表情集合
func NewEmojiSet() *EmojiSet {
	return &EmojiSet{images: make(map[string]string)}
}

// Load 解析表情包 JSON 并替换当前集合，返回加载的表情数量
func (s *EmojiSet) Load(data []byte) (int, error) {
	var packs map[string]EmojiPack
	if err := json.Unmarshal(data, &packs); err != nil {
		return 0, fmt.Errorf("解析表情包JSON数据失败: %w", err)
	}
	images := make(map[string]string)
	for _, pack := range packs {
		for _, def := range pack.Container {
			if def.Text == "" {
				continue
			}
			if src := emojiSource(def.Icon); src != "" {
				images[def.Text] = src
			}
		}
	}
	s.Replace(images)
	return len(images), nil
}

// Replace 直接替换映射
func (s *EmojiSet) Replace(images map[string]string) {
	cp := make(map[string]string, len(images))
	for k, v := range images {
		cp[k] = v
	}
	s.mu.Lock()
	s.images = cp
	s.mu.Unlock()
}

// Lookup 按名称查找表情图片地址
func (s *EmojiSet) Lookup(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.images[name]
	return src, ok
}

// Len 表情数量
func (s *EmojiSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

// emojiSource 表情定义中的 icon 可以是 <img> 片段或直接是地址
func emojiSource(icon string) string {
	icon = strings.TrimSpace(icon)
	if !strings.HasPrefix(icon, "<") {
		return icon
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(icon))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img").First().Attr("src")
	return src
}

// Emoji 将正文中的 :名称: 替换为表情图片
func Emoji(set *EmojiSet) pipeline.Installer {
	return func(p *pipeline.Pipeline) error {
		p.After(pipeline.StageRender, func(_ context.Context, data *pipeline.Data) error {
			for _, t := range data.Tree.TextNodes() {
				if !t.Attached() || insideAny(t, emojiSkip) {
					continue
				}
				text := t.Text()
				if !strings.Contains(text, ":") {
					continue
				}
				replaced, ok := replaceEmoji(set, text)
				if !ok {
					continue
				}
				if _, err := t.ReplaceWithHTML(replaced); err != nil {
					return err
				}
				data.Whitelist.AllowClasses("img", EmojiClass)
			}
			return nil
		})
		return nil
	}
}

func replaceEmoji(set *EmojiSet, text string) (string, bool) {
	var b strings.Builder
	found := false
	last := 0
	for _, m := range emojiToken.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		src, ok := set.Lookup(name)
		if !ok {
			continue
		}
		found = true
		b.WriteString(html.EscapeString(text[last:m[0]]))
		fmt.Fprintf(&b, `<img class="%s" src="%s" alt="%s"/>`,
			EmojiClass, html.EscapeString(src), html.EscapeString(name))
		last = m[1]
	}
	if !found {
		return "", false
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String(), true
}

func insideAny(n *ast.Node, tags map[string]bool) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if tags[p.Tag()] {
			return true
		}
	}
	return false
}
