/*
 * @Description: 媒体链接各种类的展开实现
 * @Author: 安知鱼
 * @Date: 2025-11-23 12:33:00
 * @LastEditTime: 2025-11-24 15:09:57
 * @LastEditors: 安知鱼
 */
package medialink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/strutil"
)

// descriptionLimit 卡片摘要的最大字符数
const descriptionLimit = 200

var templates = template.Must(template.New("medialink").Parse(`
{{- define "iframe" -}}
<div class="medialink medialink-{{.Name}}"><iframe src="{{.Src}}"{{with .Width}} width="{{.}}"{{end}}{{with .Height}} height="{{.}}"{{end}} frameborder="0" allowfullscreen="allowfullscreen"></iframe></div>
{{- end -}}
{{- define "image_block" -}}
<div class="medialink medialink-image"><img src="{{.URL}}" alt="{{.Alt}}"/></div>
{{- end -}}
{{- define "image_inline" -}}
<img class="medialink-image" src="{{.URL}}" alt="{{.Alt}}"/>
{{- end -}}
{{- define "card" -}}
<div class="medialink medialink-card">
{{- if .Image}}<img class="medialink-thumb" src="{{.Image}}" alt="{{.Title}}"/>{{end -}}
<a class="medialink-title" href="{{.URL}}">{{.Title}}</a>
{{- if .Description}}<span class="medialink-desc">{{.Description}}</span>{{end -}}
{{- if .SiteName}}<span class="medialink-site">{{.SiteName}}</span>{{end -}}
</div>
{{- end -}}
{{- define "title" -}}
<a class="medialink-title" href="{{.URL}}">{{.Title}}</a>
{{- end -}}
{{- define "stub_block" -}}
<div class="medialink-stub">{{.Name}}</div>
{{- end -}}
{{- define "stub_inline" -}}
<span class="medialink-stub">{{.Name}}</span>
{{- end -}}
`))

// view 模板数据
type view struct {
	Name   string
	URL    string
	Src    string
	Width  string
	Height string
	Alt    string
	Metadata
}

func execute(name string, v view) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("渲染模板 %s 失败: %w", name, err)
	}
	return buf.String(), nil
}

func renderIframe(p *Provider, t embed.Type, link string, _ *Metadata) (*embed.Result, error) {
	src := p.expand("src", link)
	if !isHTTP(src) {
		return nil, nil
	}
	html, err := execute("iframe", view{
		Name:   p.Name,
		URL:    link,
		Src:    src,
		Width:  p.expand("width", link),
		Height: p.expand("height", link),
	})
	if err != nil {
		return nil, err
	}
	return &embed.Result{HTML: html, Type: t}, nil
}

func renderImage(p *Provider, t embed.Type, link string, _ *Metadata) (*embed.Result, error) {
	name := "image_inline"
	if t == embed.TypeBlock {
		name = "image_block"
	}
	html, err := execute(name, view{Name: p.Name, URL: link, Alt: p.expand("alt", link)})
	if err != nil {
		return nil, err
	}
	return &embed.Result{HTML: html, Type: t}, nil
}

// renderMetadata 以卡片（块级）或标题链接（行内）展示抓取到的信息
func renderMetadata(p *Provider, t embed.Type, link string, meta *Metadata) (*embed.Result, error) {
	res := &embed.Result{Type: t}
	if meta != nil && isHTTP(meta.Canonical) {
		res.CanonicalURL = meta.Canonical
		link = meta.Canonical
	}
	if meta.Empty() {
		return res, nil
	}
	name := "title"
	if t == embed.TypeBlock {
		name = "card"
	}
	v := view{Name: p.Name, URL: link, Metadata: *meta}
	if site := p.template["site_name"]; site != "" {
		v.SiteName = site
	}
	html, err := execute(name, v)
	if err != nil {
		return nil, err
	}
	res.HTML = html
	return res, nil
}

// renderStub 占位模式的固定模板，不依赖抓取结果
func renderStub(p *Provider, t embed.Type, link string, _ *Metadata) (*embed.Result, error) {
	name := "stub_inline"
	if t == embed.TypeBlock {
		name = "stub_block"
	}
	html, err := execute(name, view{Name: p.Name, URL: link})
	if err != nil {
		return nil, err
	}
	return &embed.Result{HTML: html, Type: t}, nil
}

type oembedResponse struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ProviderName string `json:"provider_name"`
	ThumbnailURL string `json:"thumbnail_url"`
	URL          string `json:"url"`
}

func fetchOEmbed(ctx context.Context, p *Provider, f Fetcher, link string) (*Metadata, error) {
	endpoint := p.fetch["endpoint"]
	if endpoint == "" {
		return nil, fmt.Errorf("provider %s: oembed endpoint is empty", p.Name)
	}
	endpoint = strings.ReplaceAll(endpoint, "{url}", url.QueryEscape(link))

	resp, err := f.Fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var data oembedResponse
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, fmt.Errorf("解析 oEmbed 响应失败: %w", err)
	}
	meta := &Metadata{
		Title:    strings.TrimSpace(data.Title),
		Author:   data.AuthorName,
		SiteName: data.ProviderName,
		Image:    data.ThumbnailURL,
	}
	if data.Type == "photo" && isHTTP(data.URL) {
		meta.Image = data.URL
	}
	return meta, nil
}

func fetchOpenGraph(ctx context.Context, _ *Provider, f Fetcher, link string) (*Metadata, error) {
	resp, err := f.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	if resp.ContentType != "" && !strings.Contains(resp.ContentType, "html") {
		return &Metadata{}, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("解析页面失败: %w", err)
	}

	base := resp.URL
	if base == "" {
		base = link
	}
	meta := &Metadata{
		Title:       firstNonEmpty(metaContent(doc, "og:title", "twitter:title"), doc.Find("title").First().Text()),
		Description: metaContent(doc, "og:description", "twitter:description", "description"),
		Image:       resolveURL(base, metaContent(doc, "og:image", "twitter:image")),
		SiteName:    metaContent(doc, "og:site_name"),
		Canonical:   resolveURL(base, firstNonEmpty(metaContent(doc, "og:url"), doc.Find(`link[rel="canonical"]`).AttrOr("href", ""))),
	}
	meta.Title = strings.Join(strings.Fields(meta.Title), " ")
	meta.Description = strutil.Truncate(strings.Join(strings.Fields(meta.Description), " "), descriptionLimit)
	return meta, nil
}

// metaContent 按顺序查找 property 或 name 匹配的 meta 标签
func metaContent(doc *goquery.Document, names ...string) string {
	for _, name := range names {
		sel := doc.Find(`meta[property="` + name + `"], meta[name="` + name + `"]`).First()
		if v := strings.TrimSpace(sel.AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	out := b.ResolveReference(r).String()
	if !isHTTP(out) {
		return ""
	}
	return out
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
