/*
 * @Description: 站内链接展开
 * @Author: 安知鱼
 * @Date: 2025-11-06 10:58:00
 * @LastEditTime: 2025-11-08 16:14:02
 * @LastEditors: 安知鱼
 */
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"regexp"
	"strings"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
	"github.com/anzhiyu-c/anheyu-markup/pkg/constant"
	"github.com/anzhiyu-c/anheyu-markup/pkg/plugin"
	"github.com/anzhiyu-c/anheyu-markup/pkg/service/utility"
)

// NameLocalEmbed 站内链接展开插件名
const NameLocalEmbed = "local_embed"

// contentKeyPrefix 站内内容在缓存中的键前缀
const contentKeyPrefix = "content:post:"

// LocalContent 可被站内链接引用的内容
type LocalContent struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// ContentStore 站内内容的读写
type ContentStore interface {
	Get(ctx context.Context, id string) (*LocalContent, error)
	Put(ctx context.Context, id string, content LocalContent) error
}

// cacheContentStore 基于 CacheService 的内容存储
type cacheContentStore struct {
	cache utility.CacheService
}

// NewCacheContentStore 创建基于缓存服务的内容存储，cache 为 nil 时使用内存缓存
func NewCacheContentStore(cache utility.CacheService) ContentStore {
	if cache == nil {
		cache = utility.NewMemoryCacheService()
	}
	return &cacheContentStore{cache: cache}
}

func (s *cacheContentStore) Get(ctx context.Context, id string) (*LocalContent, error) {
	raw, err := s.cache.Get(ctx, contentKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: %s", constant.ErrNotFound, id)
	}
	var c LocalContent
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("解析站内内容失败: %w", err)
	}
	return &c, nil
}

func (s *cacheContentStore) Put(ctx context.Context, id string, content LocalContent) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: 内容 ID 为空", constant.ErrBadRequest)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, contentKeyPrefix+id, string(raw), 0)
}

var localTemplates = template.Must(template.New("local").Parse(`
{{- define "block" -}}
<blockquote class="local-embed"><p><a class="local-embed-title" href="{{.URL}}">{{.Title}}</a></p>{{.Preview}}</blockquote>
{{- end -}}
{{- define "inline" -}}
<a class="local-embed-title" href="{{.URL}}">{{.Title}}</a>
{{- end -}}
`))

// renderer 子渲染所需的能力
type renderer interface {
	Render(ctx context.Context, req *pipeline.Request) (*pipeline.Output, error)
	DefaultOptions() pipeline.Options
}

// LocalEmbedder 展开指向本站内容的链接：块级为内容预览的引用卡片，行内为标题链接。
// 被引用的内容通过同一个引擎渲染，嵌套深度受 maxDepth 限制。
type LocalEmbedder struct {
	host     string
	routes   []*regexp.Regexp
	maxDepth int
	store    ContentStore
	engine   renderer
}

// NewLocalEmbedder 创建站内链接展开器，siteURL 为空时不匹配任何链接
func NewLocalEmbedder(siteURL string, routes []string, maxDepth int, store ContentStore, engine renderer) (*LocalEmbedder, error) {
	e := &LocalEmbedder{maxDepth: maxDepth, store: store, engine: engine}
	if siteURL != "" {
		u, err := url.Parse(siteURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("无效的站点地址 %q", siteURL)
		}
		e.host = strings.ToLower(u.Host)
	}
	for _, r := range routes {
		re, err := regexp.Compile(r)
		if err != nil {
			return nil, fmt.Errorf("无效的站内路由 %q: %w", r, err)
		}
		e.routes = append(e.routes, re)
	}
	return e, nil
}

// Match 实现 embed.Local
func (e *LocalEmbedder) Match(raw string) bool {
	if e.host == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && strings.ToLower(u.Host) == e.host
}

// contentID 从链接路径中提取内容 ID
func (e *LocalEmbedder) contentID(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	for _, re := range e.routes {
		if m := re.FindStringSubmatch(u.Path); len(m) > 1 && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

// Embed 实现 embed.Local
func (e *LocalEmbedder) Embed(ctx context.Context, raw string, t embed.Type) (string, error) {
	id, ok := e.contentID(raw)
	if !ok {
		return "", nil
	}
	content, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, constant.ErrNotFound) {
			return "", nil
		}
		return "", err
	}

	data := struct {
		URL     string
		Title   string
		Preview template.HTML
	}{URL: raw, Title: content.Title}
	if data.Title == "" {
		data.Title = raw
	}

	if t == embed.TypeBlock {
		sub, err := embed.WithDepth(ctx, e.maxDepth)
		if err != nil {
			return "", err
		}
		// 嵌套渲染只读缓存，不再发起外部请求
		opts := e.engine.DefaultOptions()
		opts.CacheOnly = true
		out, err := e.engine.Render(sub, &pipeline.Request{
			Text:    content.Text,
			Options: opts,
			Outputs: pipeline.OutputPreview,
		})
		if err != nil {
			return "", err
		}
		// 预览已经过净化
		data.Preview = template.HTML(out.Preview)
	}

	var buf strings.Builder
	if err := localTemplates.ExecuteTemplate(&buf, string(t), data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Install 站内卡片插入后放行其样式类。卡片内的预览已按嵌套调用自身的白名单净化，
// 外层只额外放行预览中的图标。
func (e *LocalEmbedder) Install(p *pipeline.Pipeline) error {
	p.Requires(plugin.NameLinkExpand)
	p.After(pipeline.StageRender, func(_ context.Context, data *pipeline.Data) error {
		for _, res := range data.Embedded {
			if !res.IsLocal {
				continue
			}
			data.Whitelist.AllowClasses("a", "local-embed-title")
			if res.Type == embed.TypeBlock {
				data.Whitelist.
					AllowClasses("blockquote", "local-embed").
					AllowClasses("span", plugin.IconClasses()...)
			}
		}
		return nil
	})
	return nil
}
