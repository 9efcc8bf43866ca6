/*
 * @Description: 媒体链接提供者表的编译与解析
 * @Author: 安知鱼
 * @Date: 2025-11-16 11:20:00
 * @LastEditTime: 2025-11-16 14:40:40
 * @LastEditors: 安知鱼
 */
package medialink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/cache"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/sanitizer"
)

// tableCacheSize 同时保留的编译结果数量（每种配置版本 × 模式）
const tableCacheSize = 16

// Mode 编译模式
type Mode int

const (
	// ModeFull 真实抓取与真实模板
	ModeFull Mode = iota
	// ModeStub 不进行任何网络请求，输出固定占位
	ModeStub
)

func (m Mode) String() string {
	if m == ModeStub {
		return "stub"
	}
	return "full"
}

// Response 抓取结果
type Response struct {
	URL         string
	ContentType string
	Body        []byte
}

// Fetcher 网络抓取器，由基础设施层提供
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// FetcherFunc 将函数适配为 Fetcher
type FetcherFunc func(ctx context.Context, url string) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (*Response, error) { return f(ctx, url) }

// noopFetcher 占位模式使用，从不访问网络
var noopFetcher = FetcherFunc(func(_ context.Context, u string) (*Response, error) {
	return &Response{URL: u}, nil
})

// Compiler 将提供者配置编译为 Table，结果按配置内容与模式缓存
type Compiler struct {
	fetcher Fetcher
	tables  *cache.LRU[string, *Table]
	logger  *slog.Logger
}

// NewCompiler 创建编译器，fetcher 为 nil 时完整模式也不会访问网络
func NewCompiler(fetcher Fetcher, logger *slog.Logger) *Compiler {
	if fetcher == nil {
		fetcher = noopFetcher
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		fetcher: fetcher,
		tables:  cache.NewLRU[string, *Table](tableCacheSize, 0),
		logger:  logger.With("component", "medialink"),
	}
}

// Compile 编译配置。相同内容与模式的配置返回同一个 Table。
func (c *Compiler) Compile(cfg Config, mode Mode) (*Table, error) {
	hash := cfg.Hash()
	key := cache.Key(hash, mode.String())
	return c.tables.GetOrCreate(key, func() (*Table, error) {
		return c.compile(cfg, mode, hash)
	})
}

func (c *Compiler) compile(cfg Config, mode Mode, hash string) (*Table, error) {
	t := &Table{
		mode:      mode,
		version:   hash,
		fetcher:   c.fetcher,
		logger:    c.logger,
		whitelist: sanitizer.NewWhitelist(),
	}
	if mode == ModeStub {
		t.fetcher = noopFetcher
	}

	var errs []error
	for name, pc := range cfg {
		p, err := compileProvider(name, pc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.providers = append(t.providers, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.Slice(t.providers, func(i, j int) bool {
		if t.providers[i].Priority != t.providers[j].Priority {
			return t.providers[i].Priority < t.providers[j].Priority
		}
		return t.providers[i].Name < t.providers[j].Name
	})
	t.buildWhitelist()
	c.logger.Info("媒体链接提供者已编译", "mode", mode.String(), "providers", len(t.providers), "version", shortVersion(hash))
	return t, nil
}

// Table 编译后的提供者表，只读，实现 embed.External
type Table struct {
	mode      Mode
	version   string
	providers []*Provider
	fetcher   Fetcher
	logger    *slog.Logger
	whitelist *sanitizer.Whitelist
}

// Key 区分模式与配置版本，配置变化后旧的缓存结果不再命中
func (t *Table) Key() string {
	return "medialink:" + t.mode.String() + ":" + shortVersion(t.version)
}

// Mode 编译模式
func (t *Table) Mode() Mode { return t.mode }

// Version 配置内容摘要
func (t *Table) Version() string { return t.version }

// Providers 按优先级排列的提供者
func (t *Table) Providers() []*Provider {
	out := make([]*Provider, len(t.providers))
	copy(out, t.providers)
	return out
}

// Whitelist 提供者输出所需的白名单扩展
func (t *Table) Whitelist() *sanitizer.Whitelist {
	return t.whitelist.Merge(nil)
}

// Resolve 依优先级尝试匹配的提供者，第一个给出非空结果的生效。
// CacheOnly 时跳过抓取，需要抓取的提供者得到空信息。
func (t *Table) Resolve(ctx context.Context, req embed.Request) (*embed.Result, error) {
	var (
		lastErr   error
		canonical string
	)
	for _, p := range t.providers {
		if p.Match(req.URL) == nil {
			continue
		}
		typ, ok := p.pick(req.Types)
		if !ok {
			continue
		}

		if t.mode == ModeStub {
			return renderStub(p, typ, req.URL, nil)
		}

		meta := &Metadata{}
		if p.spec.needFetch && !req.CacheOnly {
			m, err := p.spec.fetch(ctx, p, t.fetcher, req.URL)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				t.logger.Debug("提供者抓取失败", "provider", p.Name, "url", req.URL, "error", err)
				lastErr = fmt.Errorf("provider %s: %w", p.Name, err)
				continue
			}
			meta = m
		}

		res, err := p.spec.render(p, typ, req.URL, meta)
		if err != nil {
			lastErr = fmt.Errorf("provider %s: %w", p.Name, err)
			continue
		}
		if res == nil {
			continue
		}
		if res.CanonicalURL != "" && canonical == "" {
			canonical = res.CanonicalURL
		}
		if res.HTML != "" {
			return res, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return &embed.Result{CanonicalURL: canonical}, nil
}

// buildWhitelist 根据提供者的输出生成白名单扩展。
// iframe 只允许指向配置中出现过的播放器地址。
func (t *Table) buildWhitelist() {
	w := t.whitelist
	w.AllowClasses("div", "medialink", "medialink-*")
	w.AllowClasses("a", "medialink-*")
	w.AllowClasses("img", "medialink-*")
	w.AllowClasses("span", "medialink-*")

	var hosts []string
	seen := map[string]bool{}
	for _, p := range t.providers {
		if p.Kind != KindIframe {
			continue
		}
		u, err := url.Parse(strings.SplitN(p.template["src"], "$", 2)[0])
		if err != nil || u.Host == "" || seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		hosts = append(hosts, regexp.QuoteMeta(u.Host))
	}
	if len(hosts) == 0 {
		return
	}
	sort.Strings(hosts)
	src := regexp.MustCompile(`^https?://(?:` + strings.Join(hosts, "|") + `)/`)
	digits := regexp.MustCompile(`^[0-9]{1,4}$`)
	w.AllowMatching(src, "iframe", "src")
	w.AllowMatching(digits, "iframe", "width", "height")
	w.AllowMatching(regexp.MustCompile(`^0$`), "iframe", "frameborder")
	w.Allow("iframe", "allowfullscreen")
}

func shortVersion(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
