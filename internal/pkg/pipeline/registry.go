/*
 * @Description: 插件注册表与依赖解析
 * @Author: 安知鱼
 * @Date: 2025-11-24 10:04:00
 * @LastEditTime: 2025-11-24 14:32:56
 * @LastEditors: 安知鱼
 */
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	mdparser "github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/sanitizer"
)

// DefaultPriority 未指定优先级时使用的值
const DefaultPriority = 100

var ErrEmptyName = errors.New("plugin name is empty")

// Installer 插件安装函数，通过 Pipeline 记录自己的订阅、语法规则和渲染器
type Installer func(p *Pipeline) error

// Descriptor 已注册插件的描述
type Descriptor struct {
	Name     string
	Enabled  bool
	Priority int
	Eager    bool

	install  Installer
	recorded *Pipeline
}

// Option 注册插件时的选项
type Option func(*Descriptor)

// WithPriority 设置插件订阅与语法规则的默认优先级
func WithPriority(priority int) Option {
	return func(d *Descriptor) { d.Priority = priority }
}

// Disabled 注册但不启用插件，依赖它的插件同样不会生效
func Disabled() Option {
	return func(d *Descriptor) { d.Enabled = false }
}

// Registry 插件注册表。每个 Registry 互相独立，可以同时构建多个 Engine。
type Registry struct {
	mu          sync.Mutex
	logger      *slog.Logger
	descriptors []*Descriptor
	index       map[string]int
}

// NewRegistry 创建空的插件注册表
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger.With("component", "plugin_registry"),
		index:  make(map[string]int),
	}
}

// Add 注册插件。同名插件再次注册会替换之前的描述，但保留原有顺序。
// eager 为 true 时安装函数立即执行，否则推迟到 Build。
func (r *Registry) Add(name string, install Installer, eager bool, opts ...Option) error {
	if name == "" {
		return ErrEmptyName
	}
	d := &Descriptor{Name: name, Enabled: true, Priority: DefaultPriority, Eager: eager, install: install}
	for _, opt := range opts {
		opt(d)
	}
	if eager {
		p, err := d.record()
		if err != nil {
			return fmt.Errorf("安装插件 %s 失败: %w", name, err)
		}
		d.recorded = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[name]; ok {
		r.descriptors[i] = d
		r.logger.Debug("插件被重新注册", "plugin", name)
		return nil
	}
	r.index[name] = len(r.descriptors)
	r.descriptors = append(r.descriptors, d)
	return nil
}

// Descriptors 返回已注册插件的快照，按注册顺序排列
func (r *Registry) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, Descriptor{Name: d.Name, Enabled: d.Enabled, Priority: d.Priority, Eager: d.Eager})
	}
	return out
}

func (d *Descriptor) record() (*Pipeline, error) {
	p := &Pipeline{name: d.Name, priority: d.Priority}
	if d.install == nil {
		return p, nil
	}
	if err := d.install(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Config 构建 Engine 所需的共享组件
type Config struct {
	Sanitizer *sanitizer.Sanitizer
	Logger    *slog.Logger
}

// Build 执行延迟安装的插件，校验依赖并生成不可变的 Engine。
// 缺失或被禁用的依赖只会让依赖方失效并记录日志，不会返回错误。
func (r *Registry) Build(cfg Config) (*Engine, error) {
	r.mu.Lock()
	descriptors := make([]*Descriptor, len(r.descriptors))
	copy(descriptors, r.descriptors)
	r.mu.Unlock()

	logger := cfg.Logger
	if logger == nil {
		logger = r.logger
	}
	san := cfg.Sanitizer
	if san == nil {
		san = sanitizer.New(nil, logger)
	}

	recorded := make(map[string]*Pipeline, len(descriptors))
	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		p := d.recorded
		if p == nil {
			var err error
			if p, err = d.record(); err != nil {
				return nil, fmt.Errorf("安装插件 %s 失败: %w", d.Name, err)
			}
		}
		recorded[d.Name] = p
	}

	infos := resolve(descriptors, recorded)

	var (
		subs  []*Subscription
		rules mdparser.Rules
		seq   int
	)
	for _, info := range infos {
		if !info.Active {
			if info.Enabled {
				logger.Warn("插件依赖不满足，已跳过", "plugin", info.Name, "reason", info.Reason)
			}
			continue
		}
		p := recorded[info.Name]
		for _, s := range p.subs {
			seq++
			subs = append(subs, &Subscription{
				Plugin:   s.Plugin,
				Stage:    s.Stage,
				Phase:    s.Phase,
				Priority: s.Priority,
				Once:     s.Once,
				Handler:  s.Handler,
				seq:      seq,
			})
		}
		rules.BlockParsers = append(rules.BlockParsers, p.rules.BlockParsers...)
		rules.InlineParsers = append(rules.InlineParsers, p.rules.InlineParsers...)
		rules.Transformers = append(rules.Transformers, p.rules.Transformers...)
		rules.Renderers = append(rules.Renderers, p.rules.Renderers...)
		rules.Extensions = append(rules.Extensions, p.rules.Extensions...)
	}

	return &Engine{
		markup:    mdparser.NewMarkup(rules),
		bus:       newBus(subs),
		sanitizer: san,
		plugins:   infos,
		logger:    logger.With("component", "pipeline"),
	}, nil
}

// PluginInfo 插件在某次构建中的状态
type PluginInfo struct {
	Name     string   `json:"name"`
	Enabled  bool     `json:"enabled"`
	Active   bool     `json:"active"`
	Priority int      `json:"priority"`
	Requires []string `json:"requires,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// resolve 反复剔除依赖不满足的插件直到稳定
func resolve(descriptors []*Descriptor, recorded map[string]*Pipeline) []PluginInfo {
	infos := make([]PluginInfo, len(descriptors))
	active := make(map[string]bool, len(descriptors))
	for i, d := range descriptors {
		infos[i] = PluginInfo{Name: d.Name, Enabled: d.Enabled, Priority: d.Priority}
		if p, ok := recorded[d.Name]; ok {
			infos[i].Requires = p.requires
			active[d.Name] = true
		}
	}

	for changed := true; changed; {
		changed = false
		for i := range infos {
			if !active[infos[i].Name] {
				continue
			}
			for _, dep := range infos[i].Requires {
				if !active[dep] {
					active[infos[i].Name] = false
					infos[i].Reason = "缺少依赖 " + dep
					changed = true
					break
				}
			}
		}
	}
	for i := range infos {
		infos[i].Active = active[infos[i].Name]
		if !infos[i].Enabled {
			infos[i].Reason = "disabled"
		}
	}
	return infos
}

// Pipeline 插件安装期间的记录器
type Pipeline struct {
	name     string
	priority int
	requires []string
	subs     []*Subscription
	rules    mdparser.Rules
}

// SubOption 订阅选项
type SubOption func(*Subscription)

// Priority 指定订阅的优先级，数值越小越先执行
func Priority(priority int) SubOption {
	return func(s *Subscription) { s.Priority = priority }
}

// Once 处理函数在第一次成功执行后不再被调用
func Once() SubOption {
	return func(s *Subscription) { s.Once = true }
}

// Name 正在安装的插件名
func (p *Pipeline) Name() string { return p.name }

// Requires 声明依赖的插件
func (p *Pipeline) Requires(names ...string) {
	p.requires = append(p.requires, names...)
}

func (p *Pipeline) subscribe(stage Stage, phase Phase, h Handler, opts []SubOption) {
	s := &Subscription{Plugin: p.name, Stage: stage, Phase: phase, Priority: p.priority, Handler: h}
	for _, opt := range opts {
		opt(s)
	}
	p.subs = append(p.subs, s)
}

// Before 订阅阶段的 before 段
func (p *Pipeline) Before(stage Stage, h Handler, opts ...SubOption) {
	p.subscribe(stage, PhaseBefore, h, opts)
}

// On 订阅阶段的 on 段
func (p *Pipeline) On(stage Stage, h Handler, opts ...SubOption) {
	p.subscribe(stage, PhaseOn, h, opts)
}

// After 订阅阶段的 after 段
func (p *Pipeline) After(stage Stage, h Handler, opts ...SubOption) {
	p.subscribe(stage, PhaseAfter, h, opts)
}

// AddBlockParser 贡献块级语法规则
func (p *Pipeline) AddBlockParser(bp parser.BlockParser, priority int) {
	p.rules.BlockParsers = append(p.rules.BlockParsers, util.Prioritized(bp, priority))
}

// AddInlineParser 贡献行内语法规则
func (p *Pipeline) AddInlineParser(ip parser.InlineParser, priority int) {
	p.rules.InlineParsers = append(p.rules.InlineParsers, util.Prioritized(ip, priority))
}

// AddTransformer 贡献 AST 变换
func (p *Pipeline) AddTransformer(t parser.ASTTransformer, priority int) {
	p.rules.Transformers = append(p.rules.Transformers, util.Prioritized(t, priority))
}

// AddRenderer 覆盖或新增节点渲染器，数值越小越优先
func (p *Pipeline) AddRenderer(r renderer.NodeRenderer, priority int) {
	p.rules.Renderers = append(p.rules.Renderers, util.Prioritized(r, priority))
}

// Extend 贡献完整的 goldmark 扩展
func (p *Pipeline) Extend(ext goldmark.Extender) {
	p.rules.Extensions = append(p.rules.Extensions, ext)
}

