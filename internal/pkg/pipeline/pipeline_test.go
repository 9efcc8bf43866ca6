package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// recorder 按执行顺序记录处理函数的标签
type recorder struct {
	calls []string
}

func (r *recorder) handler(label string) Handler {
	return func(context.Context, *Data) error {
		r.calls = append(r.calls, label)
		return nil
	}
}

func build(t *testing.T, r *Registry) *Engine {
	t.Helper()
	e, err := r.Build(Config{Logger: discard})
	require.NoError(t, err)
	return e
}

func TestStageOrder(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(discard)

	require.NoError(t, r.Add("a", func(p *Pipeline) error {
		p.After(StageRender, rec.handler("a.after"))
		p.On(StageRender, rec.handler("a.on"))
		p.Before(StageRender, rec.handler("a.before"))
		return nil
	}, false, WithPriority(50)))
	require.NoError(t, r.Add("b", func(p *Pipeline) error {
		p.On(StageRender, rec.handler("b.on"))
		p.On(StageRender, rec.handler("b.on.first"), Priority(1))
		return nil
	}, false, WithPriority(10)))
	require.NoError(t, r.Add("c", func(p *Pipeline) error {
		p.On(StageRender, rec.handler("c.on"))
		return nil
	}, false, WithPriority(50)))

	e := build(t, r)
	_, err := e.Render(context.Background(), &Request{Text: "x", Outputs: OutputHTML})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.before", "b.on.first", "b.on", "a.on", "c.on", "a.after"}, rec.calls)
}

func TestRegistry_ReplaceKeepsPosition(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(discard)

	require.NoError(t, r.Add("first", func(p *Pipeline) error {
		p.On(StageRender, rec.handler("first.v1"))
		return nil
	}, false))
	require.NoError(t, r.Add("second", func(p *Pipeline) error {
		p.On(StageRender, rec.handler("second"))
		return nil
	}, false))
	require.NoError(t, r.Add("first", func(p *Pipeline) error {
		p.On(StageRender, rec.handler("first.v2"))
		return nil
	}, false))

	names := []string{}
	for _, d := range r.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"first", "second"}, names)

	e := build(t, r)
	_, err := e.Render(context.Background(), &Request{Text: "x", Outputs: OutputHTML})
	require.NoError(t, err)
	assert.Equal(t, []string{"first.v2", "second"}, rec.calls)
}

func TestRegistry_EmptyName(t *testing.T) {
	err := NewRegistry(discard).Add("", nil, false)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestRegistry_EagerInstallRunsOnce(t *testing.T) {
	var installs atomic.Int32
	r := NewRegistry(discard)
	require.NoError(t, r.Add("eager", func(p *Pipeline) error {
		installs.Add(1)
		return nil
	}, true))
	assert.EqualValues(t, 1, installs.Load())

	build(t, r)
	build(t, r)
	assert.EqualValues(t, 1, installs.Load())
}

func TestRegistry_InstallError(t *testing.T) {
	boom := errors.New("boom")

	r := NewRegistry(discard)
	assert.ErrorIs(t, r.Add("eager", func(*Pipeline) error { return boom }, true), boom)

	r = NewRegistry(discard)
	require.NoError(t, r.Add("lazy", func(*Pipeline) error { return boom }, false))
	_, err := r.Build(Config{Logger: discard})
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_Dependencies(t *testing.T) {
	testCases := []struct {
		name       string
		setup      func(r *Registry)
		wantActive map[string]bool
	}{
		{
			name: "依赖满足",
			setup: func(r *Registry) {
				r.Add("base", nil, false)
				r.Add("child", func(p *Pipeline) error { p.Requires("base"); return nil }, false)
			},
			wantActive: map[string]bool{"base": true, "child": true},
		},
		{
			name: "依赖缺失",
			setup: func(r *Registry) {
				r.Add("child", func(p *Pipeline) error { p.Requires("missing"); return nil }, false)
			},
			wantActive: map[string]bool{"child": false},
		},
		{
			name: "依赖被禁用时传递失效",
			setup: func(r *Registry) {
				r.Add("base", nil, false, Disabled())
				r.Add("child", func(p *Pipeline) error { p.Requires("base"); return nil }, false)
				r.Add("grandchild", func(p *Pipeline) error { p.Requires("child"); return nil }, false)
				r.Add("other", nil, false)
			},
			wantActive: map[string]bool{"base": false, "child": false, "grandchild": false, "other": true},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry(discard)
			tc.setup(r)
			e := build(t, r)

			got := map[string]bool{}
			for _, info := range e.Plugins() {
				got[info.Name] = info.Active
				if !info.Active {
					assert.NotEmpty(t, info.Reason)
				}
			}
			assert.Equal(t, tc.wantActive, got)
		})
	}
}

func TestInactivePluginContributesNothing(t *testing.T) {
	rec := &recorder{}
	r := NewRegistry(discard)
	require.NoError(t, r.Add("orphan", func(p *Pipeline) error {
		p.Requires("missing")
		p.On(StageRender, func(ctx context.Context, d *Data) error {
			d.Whitelist.Allow("iframe", "src")
			return rec.handler("orphan")(ctx, d)
		})
		return nil
	}, false))

	e := build(t, r)
	out, err := e.Render(context.Background(), &Request{Text: `<iframe src="https://example.com/"></iframe>`})
	require.NoError(t, err)
	assert.Empty(t, rec.calls)
	assert.NotContains(t, out.HTML, "<iframe")
	assert.False(t, e.Whitelist().AllowsTag("iframe"))
}

func TestWhitelistIsPerCall(t *testing.T) {
	r := NewRegistry(discard)
	require.NoError(t, r.Add("marker", func(p *Pipeline) error {
		p.On(StageRender, func(_ context.Context, d *Data) error {
			for _, n := range d.Tree.Select("p") {
				if n.Text() == "开启" {
					d.Whitelist.AllowClasses("div", "marker")
				}
			}
			return nil
		})
		return nil
	}, false))
	e := build(t, r)

	testCases := []struct {
		name     string
		text     string
		wantKept bool
	}{
		{name: "插件生成标记的调用保留类", text: "开启\n\n<div class=\"marker\">a</div>", wantKept: true},
		{name: "插件未生成标记时拒绝同名类", text: "<div class=\"marker\">a</div>", wantKept: false},
		{name: "之前调用的放行不会残留", text: "普通\n\n<div class=\"marker\">a</div>", wantKept: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := e.Render(context.Background(), &Request{Text: tc.text})
			require.NoError(t, err)
			if tc.wantKept {
				assert.Contains(t, out.HTML, `class="marker"`)
				assert.Contains(t, out.Preview, `class="marker"`)
			} else {
				assert.NotContains(t, out.HTML, "marker")
				assert.NotContains(t, out.Preview, "marker")
			}
		})
	}
	assert.False(t, e.Whitelist().AllowsClass("div", "marker"))
}

func TestOnce(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(discard)
	require.NoError(t, r.Add("once", func(p *Pipeline) error {
		p.On(StageRender, func(context.Context, *Data) error {
			calls.Add(1)
			return nil
		}, Once())
		return nil
	}, false))

	e := build(t, r)
	for i := 0; i < 3; i++ {
		_, err := e.Render(context.Background(), &Request{Text: "x"})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, calls.Load())

	// 重新构建得到新的订阅
	e = build(t, r)
	_, err := e.Render(context.Background(), &Request{Text: "x"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOnce_Concurrent(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(discard)
	require.NoError(t, r.Add("once", func(p *Pipeline) error {
		p.On(StageRender, func(context.Context, *Data) error {
			calls.Add(1)
			return nil
		}, Once())
		return nil
	}, false))
	e := build(t, r)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Render(context.Background(), &Request{Text: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestStageErrorIsContained(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	r := NewRegistry(discard)
	require.NoError(t, r.Add("broken", func(p *Pipeline) error {
		p.On(StageAST2HTML, func(context.Context, *Data) error { return boom })
		return nil
	}, false, WithPriority(1)))
	require.NoError(t, r.Add("later", func(p *Pipeline) error {
		p.On(StageAST2HTML, rec.handler("later.html"))
		p.On(StageAST2Length, rec.handler("later.length"))
		return nil
	}, false))

	e := build(t, r)
	out, err := e.Render(context.Background(), &Request{Text: "正文"})
	require.NoError(t, err)

	require.Len(t, out.Errors, 1)
	assert.ErrorIs(t, out.Errors[0], boom)
	var se *StageError
	require.True(t, errors.As(out.Errors[0], &se))
	assert.Equal(t, "broken", se.Plugin)
	assert.Equal(t, StageAST2HTML, se.Stage)

	assert.Equal(t, []string{"later.length"}, rec.calls)
	assert.Contains(t, out.HTML, "正文")
	assert.Equal(t, 2, out.Length)
}

func TestCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry(discard)
	require.NoError(t, r.Add("cancel", func(p *Pipeline) error {
		p.On(StageRender, func(context.Context, *Data) error {
			cancel()
			return nil
		})
		return nil
	}, false))

	e := build(t, r)
	_, err := e.Render(ctx, &Request{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutputsAreIsolated(t *testing.T) {
	r := NewRegistry(discard)
	require.NoError(t, r.Add("mutate", func(p *Pipeline) error {
		p.On(StageAST2HTML, func(_ context.Context, d *Data) error {
			for _, n := range d.Tree.Select("p") {
				n.SetText("改写")
			}
			d.Whitelist.Allow("iframe", "src")
			return nil
		})
		return nil
	}, false))

	e := build(t, r)
	out, err := e.Render(context.Background(), &Request{Text: "原文"})
	require.NoError(t, err)

	assert.Contains(t, out.HTML, "改写")
	assert.Contains(t, out.Preview, "原文")
	assert.Equal(t, 2, out.Length)
	assert.False(t, e.Whitelist().AllowsTag("iframe"))
}

func TestRender_SelectedOutputs(t *testing.T) {
	e := build(t, NewRegistry(discard))
	out, err := e.Render(context.Background(), &Request{Text: "a b", Outputs: OutputLength})
	require.NoError(t, err)

	assert.Empty(t, out.HTML)
	assert.Empty(t, out.Preview)
	assert.Equal(t, 3, out.Length)
}

func TestRender_UserAutoAttrStripped(t *testing.T) {
	var auto int
	r := NewRegistry(discard)
	require.NoError(t, r.Add("count", func(p *Pipeline) error {
		p.On(StageRender, func(_ context.Context, d *Data) error {
			auto = len(d.Tree.AutoNodes())
			return nil
		})
		return nil
	}, false))

	e := build(t, r)
	out, err := e.Render(context.Background(), &Request{Text: `<a href="https://x.test" data-nd-auto="1">x</a>`})
	require.NoError(t, err)
	assert.Zero(t, auto)
	assert.NotContains(t, out.HTML, "data-nd-auto")
}

func TestPlan(t *testing.T) {
	r := NewRegistry(discard)
	require.NoError(t, r.Add("a", func(p *Pipeline) error {
		p.After(StageHTML2Preview, func(context.Context, *Data) error { return nil }, Once())
		p.Before(StageRender, func(context.Context, *Data) error { return nil })
		return nil
	}, false, WithPriority(7)))

	plan := build(t, r).Plan()
	require.Len(t, plan, 2)
	assert.Equal(t, PlanEntry{Stage: "render", Phase: "before", Plugin: "a", Priority: 7}, plan[0])
	assert.Equal(t, PlanEntry{Stage: "html2preview", Phase: "after", Plugin: "a", Priority: 7, Once: true}, plan[1])
}

func TestParseStage(t *testing.T) {
	for s := StageRender; s < stageCount; s++ {
		got, ok := ParseStage(s.String())
		require.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseStage("nope")
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(Stage(99).String(), "stage("))
}

func TestOptionsFlag(t *testing.T) {
	opts := Options{Flags: map[string]bool{"on": true}}
	assert.True(t, opts.Flag("on", false))
	assert.True(t, opts.Flag("missing", true))
	assert.False(t, Options{}.Flag("missing", false))
}
