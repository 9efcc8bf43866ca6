/*
 * @Description: 媒体链接提供者定义
 * @Author: 安知鱼
 * @Date: 2025-11-06 13:46:00
 * @LastEditTime: 2025-11-08 16:38:14
 * @LastEditors: 安知鱼
 */
package medialink

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
)

var (
	ErrInvalidPattern = errors.New("invalid medialink pattern")
	ErrUnknownKind    = errors.New("unknown medialink kind")
	ErrNoMatch        = errors.New("provider has no match pattern")
)

// Kind 提供者的行为种类，行为代码编译进程序，配置只提供数据
type Kind string

const (
	KindIframe    Kind = "iframe"
	KindImage     Kind = "image"
	KindOEmbed    Kind = "oembed"
	KindOpenGraph Kind = "opengraph"
)

// kindSpec 每种 Kind 的能力描述
type kindSpec struct {
	types     []embed.Type
	needFetch bool
	fetch     func(ctx context.Context, p *Provider, f Fetcher, url string) (*Metadata, error)
	render    func(p *Provider, t embed.Type, url string, meta *Metadata) (*embed.Result, error)
}

var kinds = map[Kind]kindSpec{
	KindIframe:    {types: []embed.Type{embed.TypeBlock}, render: renderIframe},
	KindImage:     {types: []embed.Type{embed.TypeBlock, embed.TypeInline}, render: renderImage},
	KindOEmbed:    {types: []embed.Type{embed.TypeBlock, embed.TypeInline}, needFetch: true, fetch: fetchOEmbed, render: renderMetadata},
	KindOpenGraph: {types: []embed.Type{embed.TypeBlock, embed.TypeInline}, needFetch: true, fetch: fetchOpenGraph, render: renderMetadata},
}

// Metadata 抓取得到的页面信息，抓取被跳过时为空值
type Metadata struct {
	Title       string
	Description string
	Image       string
	SiteName    string
	Author      string
	Canonical   string
}

// Empty 是否没有任何可展示的信息
func (m *Metadata) Empty() bool {
	return m == nil || m.Title == ""
}

// Provider 编译后的提供者，只读，可并发使用
type Provider struct {
	Name     string
	Kind     Kind
	Priority int

	patterns []*regexp.Regexp
	types    []embed.Type
	fetch    map[string]string
	template map[string]string
	spec     kindSpec
}

// Types 提供者能够输出的呈现方式
func (p *Provider) Types() []embed.Type { return p.types }

// Match 返回第一个匹配的模式的子匹配，未匹配时返回 nil
func (p *Provider) Match(url string) []string {
	for _, re := range p.patterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m
		}
	}
	return nil
}

// expand 用匹配结果展开模板参数中的 $1 等占位符
func (p *Provider) expand(key, url string) string {
	tmpl, ok := p.template[key]
	if !ok {
		return ""
	}
	for _, re := range p.patterns {
		if idx := re.FindStringSubmatchIndex(url); idx != nil {
			return string(re.ExpandString(nil, tmpl, url, idx))
		}
	}
	return tmpl
}

// pick 在请求接受的呈现方式中选择提供者支持的第一种
func (p *Provider) pick(accepted []embed.Type) (embed.Type, bool) {
	for _, t := range accepted {
		for _, own := range p.types {
			if t == own {
				return t, true
			}
		}
	}
	return "", false
}

func compileProvider(name string, cfg ProviderConfig) (*Provider, error) {
	kind := Kind(strings.ToLower(cfg.Kind))
	spec, ok := kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q (provider %s)", ErrUnknownKind, cfg.Kind, name)
	}
	if len(cfg.Match) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoMatch, name)
	}

	p := &Provider{
		Name:     name,
		Kind:     kind,
		Priority: cfg.Priority,
		fetch:    cfg.Fetch,
		template: cfg.Template,
		spec:     spec,
	}
	for _, raw := range cfg.Match {
		re, err := CompilePattern(raw)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		p.patterns = append(p.patterns, re)
	}

	p.types = spec.types
	if len(cfg.Types) > 0 {
		var restricted []embed.Type
		for _, t := range cfg.Types {
			for _, own := range spec.types {
				if embed.Type(t) == own {
					restricted = append(restricted, own)
				}
			}
		}
		p.types = restricted
	}
	return p, nil
}

// CompilePattern 编译 "/pattern/flags" 或裸正则。flags 支持 i、m、s。
func CompilePattern(raw string) (*regexp.Regexp, error) {
	src := raw
	if len(raw) >= 2 && raw[0] == '/' {
		end := strings.LastIndexByte(raw, '/')
		if end > 0 {
			flags := raw[end+1:]
			src = raw[1:end]
			var goFlags strings.Builder
			for _, f := range flags {
				switch f {
				case 'i', 'm', 's':
					if !strings.ContainsRune(goFlags.String(), f) {
						goFlags.WriteRune(f)
					}
				case 'g', 'u':
					// 对匹配结果没有影响
				default:
					return nil, fmt.Errorf("%w: unsupported flag %q in %s", ErrInvalidPattern, f, raw)
				}
			}
			if goFlags.Len() > 0 {
				src = "(?" + goFlags.String() + ")" + src
			}
		}
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPattern, raw, err)
	}
	return re, nil
}
