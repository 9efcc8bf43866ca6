/*
 * @Description: 解析服务
 * @Author: 安知鱼
 * @Date: 2025-11-23 09:45:00
 * @LastEditTime: 2025-11-24 15:45:45
 * @LastEditors: 安知鱼
 */
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/cache"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/event"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/medialink"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/sanitizer"
	"github.com/anzhiyu-c/anheyu-markup/pkg/constant"
	"github.com/anzhiyu-c/anheyu-markup/pkg/plugin"
	"github.com/anzhiyu-c/anheyu-markup/pkg/service/utility"
)

// 缓存配置常量
const (
	// 缓存容量：最多缓存 500 条解析结果
	cacheCapacity = 500
	// 缓存 TTL：30 分钟
	cacheTTL = 30 * time.Minute
)

// Options 解析服务的配置
type Options struct {
	SiteURL         string
	LocalRoutes     []string
	CutMarker       string
	Budget          int
	MaxDepth        int
	CacheTTL        time.Duration
	PreviewLimit    int
	HighlightStyle  string
	DisabledPlugins []string
	// LinkToTitle / LinkToSnippet 请求未指定时的默认值
	LinkToTitle   bool
	LinkToSnippet bool
	// MedialinkConfig 提供者 YAML 路径，空表示内置配置
	MedialinkConfig string
	EmojiURL        string
}

// Deps 解析服务依赖的外部组件
type Deps struct {
	Cache   utility.CacheService
	Fetcher medialink.Fetcher
	Bus     *event.EventBus
	Logger  *slog.Logger
}

// tableSet 一次加载得到的两种模式的提供者表
type tableSet struct {
	full *medialink.Table
	stub *medialink.Table
}

// Service 持有当前生效的渲染引擎与提供者表，二者都以原子指针整体替换
type Service struct {
	opts    Options
	cache   utility.CacheService
	fetcher medialink.Fetcher
	logger  *slog.Logger

	compiler  *medialink.Compiler
	sanitizer *sanitizer.Sanitizer
	resolver  *embed.Resolver
	emoji     *plugin.EmojiSet
	local     *LocalEmbedder

	engine atomic.Pointer[pipeline.Engine]
	tables atomic.Pointer[tableSet]

	// reloadMu 串行化配置重载与引擎重建
	reloadMu sync.Mutex
	disabled []string
	emojiURL string

	htmlCache     *cache.LRU[string, string]
	sanitizeCache *cache.LRU[string, string]
}

// NewService 创建解析服务，加载提供者配置并构建引擎。
// 提供者配置加载失败不会阻止服务启动，此时链接只保留为普通链接。
func NewService(ctx context.Context, opts Options, deps Deps) (*Service, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "parser_service")
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = embed.DefaultMaxDepth
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = embed.DefaultTTL
	}

	s := &Service{
		opts:          opts,
		cache:         deps.Cache,
		fetcher:       deps.Fetcher,
		logger:        logger,
		compiler:      medialink.NewCompiler(deps.Fetcher, logger),
		sanitizer:     sanitizer.New(nil, logger),
		emoji:         plugin.NewEmojiSet(),
		disabled:      opts.DisabledPlugins,
		htmlCache:     cache.NewLRU[string, string](cacheCapacity, cacheTTL),
		sanitizeCache: cache.NewLRU[string, string](cacheCapacity, cacheTTL),
	}

	local, err := NewLocalEmbedder(opts.SiteURL, opts.LocalRoutes, opts.MaxDepth, NewCacheContentStore(deps.Cache), s)
	if err != nil {
		return nil, err
	}
	s.local = local

	var embedCache embed.Cache
	if deps.Cache != nil {
		embedCache = deps.Cache
	}
	resolverOpts := []embed.ResolverOption{embed.WithTTL(opts.CacheTTL), embed.WithLogger(logger)}
	if opts.Budget > 0 {
		resolverOpts = append(resolverOpts, embed.WithBudget(opts.Budget))
	}
	s.resolver = embed.NewResolver(local, embedCache, resolverOpts...)

	if err := s.ReloadProviders(ctx); err != nil {
		logger.Error("加载媒体链接提供者失败", "path", opts.MedialinkConfig, "error", err)
	}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	if opts.EmojiURL != "" {
		if err := s.LoadEmoji(ctx, opts.EmojiURL); err != nil {
			logger.Error("加载表情包失败", "url", opts.EmojiURL, "error", err)
		}
	}

	if deps.Bus != nil {
		deps.Bus.Subscribe(event.MedialinkUpdated, s.handleMedialinkUpdated)
		deps.Bus.Subscribe(event.EmojiUpdated, s.handleEmojiUpdated)
	}
	return s, nil
}

// rebuild 按当前禁用列表重新构建引擎并原子替换
func (s *Service) rebuild() error {
	r := pipeline.NewRegistry(s.logger)
	err := plugin.RegisterDefaults(r, plugin.Deps{
		CutMarker:      s.opts.CutMarker,
		Resolver:       s.resolver,
		Tables:         s,
		Emoji:          s.emoji,
		HighlightStyle: s.opts.HighlightStyle,
		PreviewLimit:   s.opts.PreviewLimit,
		Disabled:       s.disabled,
	})
	if err != nil {
		return err
	}
	if err := r.Add(NameLocalEmbed, s.local.Install, true); err != nil {
		return err
	}
	engine, err := r.Build(pipeline.Config{Sanitizer: s.sanitizer, Logger: s.logger})
	if err != nil {
		return fmt.Errorf("构建渲染引擎失败: %w", err)
	}
	s.engine.Store(engine)
	s.clearCaches()
	return nil
}

// SetDisabledPlugins 替换禁用的插件列表并重建引擎，进行中的渲染继续使用旧引擎
func (s *Service) SetDisabledPlugins(names []string) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	s.disabled = append([]string(nil), names...)
	return s.rebuild()
}

// Table 实现 plugin.TableSource
func (s *Service) Table(mode medialink.Mode) *medialink.Table {
	set := s.tables.Load()
	if set == nil {
		return nil
	}
	if mode == medialink.ModeStub {
		return set.stub
	}
	return set.full
}

// ProvidersVersion 当前提供者配置的版本，未加载时为空
func (s *Service) ProvidersVersion() string {
	if t := s.Table(medialink.ModeFull); t != nil {
		return t.Version()
	}
	return ""
}

// ReloadProviders 重新读取提供者配置。失败时保留之前的提供者表。
func (s *Service) ReloadProviders(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	cfg, err := medialink.LoadConfigFile(s.opts.MedialinkConfig)
	if err != nil {
		return err
	}
	full, err := s.compiler.Compile(cfg, medialink.ModeFull)
	if err != nil {
		return err
	}
	stub, err := s.compiler.Compile(cfg, medialink.ModeStub)
	if err != nil {
		return err
	}
	if old := s.tables.Load(); old != nil && old.full.Key() == full.Key() {
		return nil
	}
	s.tables.Store(&tableSet{full: full, stub: stub})
	s.clearCaches()
	s.logger.Info("媒体链接提供者已加载", "version", full.Version(), "providers", len(full.Providers()))
	return nil
}

// LoadEmoji 从地址加载表情包，url 为空时卸载全部表情
func (s *Service) LoadEmoji(ctx context.Context, url string) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if url == "" {
		s.emoji.Replace(nil)
		s.emojiURL = ""
		s.clearCaches()
		s.logger.Info("表情包链接已清空，已卸载表情包")
		return nil
	}
	if s.fetcher == nil {
		return fmt.Errorf("%w: 未配置抓取器，无法加载表情包", constant.ErrUnavailable)
	}
	resp, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("获取表情包JSON失败: %w", err)
	}
	n, err := s.emoji.Load(resp.Body)
	if err != nil {
		return err
	}
	s.emojiURL = url
	s.clearCaches()
	s.logger.Info("表情包数据已更新", "url", url, "count", n)
	return nil
}

// handleMedialinkUpdated 提供者配置变化事件
func (s *Service) handleMedialinkUpdated(payload interface{}) {
	p, _ := payload.(event.MedialinkPayload)
	if err := s.ReloadProviders(context.Background()); err != nil {
		s.logger.Error("重新加载媒体链接提供者失败", "path", p.Path, "reason", p.Reason, "error", err)
	}
}

// handleEmojiUpdated 表情包地址变化事件
func (s *Service) handleEmojiUpdated(payload interface{}) {
	url, ok := payload.(string)
	if !ok {
		return
	}
	s.reloadMu.Lock()
	current := s.emojiURL
	s.reloadMu.Unlock()
	if url == current {
		s.logger.Debug("表情包地址未变化，无需重新加载", "url", url)
		return
	}
	if err := s.LoadEmoji(context.Background(), url); err != nil {
		s.logger.Error("重新加载表情包失败", "url", url, "error", err)
	}
}

// clearCaches 清空所有解析缓存
func (s *Service) clearCaches() {
	s.htmlCache.Clear()
	s.sanitizeCache.Clear()
}

// Engine 返回当前生效的引擎
func (s *Service) Engine() *pipeline.Engine {
	return s.engine.Load()
}

// DefaultOptions 请求未指定时使用的渲染选项
func (s *Service) DefaultOptions() pipeline.Options {
	return pipeline.Options{
		LinkToTitle:   s.opts.LinkToTitle,
		LinkToSnippet: s.opts.LinkToSnippet,
		PreviewLimit:  s.opts.PreviewLimit,
	}
}

// Render 执行一次完整的渲染调用
func (s *Service) Render(ctx context.Context, req *pipeline.Request) (*pipeline.Output, error) {
	return s.engine.Load().Render(ctx, req)
}

// ToHTML 使用默认选项将文本转换为安全的 HTML，结果按内容缓存
func (s *Service) ToHTML(ctx context.Context, content string) (string, error) {
	cacheKey := cache.Key(content, s.ProvidersVersion())
	if cached, hit := s.htmlCache.Get(cacheKey); hit {
		return cached, nil
	}
	out, err := s.Render(ctx, &pipeline.Request{
		Text:    content,
		Options: s.DefaultOptions(),
		Outputs: pipeline.OutputHTML,
	})
	if err != nil {
		return "", err
	}
	// 有插件失败的结果不缓存，下次重新渲染
	if len(out.Errors) == 0 {
		s.htmlCache.Set(cacheKey, out.HTML)
	}
	return out.HTML, nil
}

// SanitizeHTML 仅对传入的 HTML 进行 XSS 过滤。没有经过插件处理，只使用基础白名单。
func (s *Service) SanitizeHTML(htmlContent string) string {
	cacheKey := cache.Key(htmlContent)
	if cached, hit := s.sanitizeCache.Get(cacheKey); hit {
		return cached
	}
	engine := s.engine.Load()
	safeHTML := engine.Sanitizer().Sanitize(htmlContent, engine.Whitelist())
	s.sanitizeCache.Set(cacheKey, safeHTML)
	return safeHTML
}

// HTMLToPreview 为已渲染的 HTML 生成预览
func (s *Service) HTMLToPreview(ctx context.Context, htmlContent string, limit int) (*pipeline.Output, error) {
	opts := s.DefaultOptions()
	if limit > 0 {
		opts.PreviewLimit = limit
	}
	return s.engine.Load().HTMLToPreview(ctx, htmlContent, opts)
}

// Plugins 当前引擎中各插件的状态
func (s *Service) Plugins() []pipeline.PluginInfo {
	return s.engine.Load().Plugins()
}

// Plan 当前引擎的阶段执行顺序
func (s *Service) Plan() []pipeline.PlanEntry {
	return s.engine.Load().Plan()
}

// PublishContent 写入站内内容，供站内链接展开使用
func (s *Service) PublishContent(ctx context.Context, id string, content LocalContent) error {
	if err := s.local.store.Put(ctx, id, content); err != nil {
		return err
	}
	// 引用该内容的渲染结果已过期
	s.htmlCache.Clear()
	return nil
}
