package plugin

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/embed"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/medialink"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// staticTables 测试用的提供者表来源
type staticTables map[medialink.Mode]*medialink.Table

func (s staticTables) Table(mode medialink.Mode) *medialink.Table { return s[mode] }

func newTables(t *testing.T) staticTables {
	t.Helper()
	cfg, err := medialink.DefaultConfig()
	require.NoError(t, err)
	c := medialink.NewCompiler(nil, discard)
	full, err := c.Compile(cfg, medialink.ModeFull)
	require.NoError(t, err)
	stub, err := c.Compile(cfg, medialink.ModeStub)
	require.NoError(t, err)
	return staticTables{medialink.ModeFull: full, medialink.ModeStub: stub}
}

func newEngine(t *testing.T, deps Deps) *pipeline.Engine {
	t.Helper()
	r := pipeline.NewRegistry(discard)
	require.NoError(t, RegisterDefaults(r, deps))
	e, err := r.Build(pipeline.Config{Logger: discard})
	require.NoError(t, err)
	return e
}

func render(t *testing.T, e *pipeline.Engine, text string, opts pipeline.Options) *pipeline.Output {
	t.Helper()
	out, err := e.Render(context.Background(), &pipeline.Request{Text: text, Options: opts})
	require.NoError(t, err)
	require.Empty(t, out.Errors)
	return out
}

func TestCut(t *testing.T) {
	e := newEngine(t, Deps{})

	testCases := []struct {
		name          string
		text          string
		wantPreview   []string
		absentPreview []string
		wantTruncated bool
	}{
		{
			name:          "预览截止到分割标记",
			text:          "第一段\n\n--cut--\n\n第二段",
			wantPreview:   []string{"第一段"},
			absentPreview: []string{"第二段", "cut"},
			wantTruncated: true,
		},
		{
			name:          "只有第一个分割标记生效",
			text:          "一\n\n--cut--\n\n二\n\n--cut--\n\n三",
			wantPreview:   []string{"一"},
			absentPreview: []string{"二", "三"},
			wantTruncated: true,
		},
		{
			name:          "代码块中的标记不生效",
			text:          "```\n--cut--\n```\n\n之后",
			wantPreview:   []string{"cut", "之后"},
			wantTruncated: false,
		},
		{
			name:          "手写的cut标签不生效",
			text:          "前\n\n<cut></cut>\n\n后",
			wantPreview:   []string{"前", "后"},
			wantTruncated: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := render(t, e, tc.text, pipeline.Options{})
			for _, s := range tc.wantPreview {
				assert.Contains(t, out.Preview, s)
			}
			for _, s := range tc.absentPreview {
				assert.NotContains(t, out.Preview, s)
			}
			assert.Equal(t, tc.wantTruncated, out.Truncated)
			assert.NotContains(t, out.HTML, "<cut")
		})
	}
}

func TestCut_FullOutputsIgnoreMarker(t *testing.T) {
	e := newEngine(t, Deps{})
	out := render(t, e, "第一段\n\n--cut--\n\n第二段", pipeline.Options{})

	assert.Contains(t, out.HTML, "第一段")
	assert.Contains(t, out.HTML, "第二段")
	assert.NotContains(t, out.HTML, "--cut--")
	assert.Equal(t, 7, out.Length)
}

func TestBlocks(t *testing.T) {
	e := newEngine(t, Deps{})

	testCases := []struct {
		name          string
		text          string
		opts          pipeline.Options
		attachments   []string
		wantHTML      []string
		wantPreview   []string
		absentPreview []string
	}{
		{
			name:          "表格",
			text:          "| a | b |\n|---|---|\n| 1 | 2 |",
			wantHTML:      []string{`class="table-wrapper"`, "table-striped"},
			wantPreview:   []string{"icon-table"},
			absentPreview: []string{"<table"},
		},
		{
			name:          "图片",
			text:          "![图](/files/a.png)",
			attachments:   []string{"/files/a.png"},
			wantHTML:      []string{`loading="lazy"`, "attachment"},
			wantPreview:   []string{"icon-picture"},
			absentPreview: []string{"<img"},
		},
		{
			name:          "引用",
			text:          "> 引用的话\n\n正文",
			wantHTML:      []string{"<blockquote", "引用的话"},
			wantPreview:   []string{"正文"},
			absentPreview: []string{"引用的话"},
		},
		{
			name:          "嵌套列表",
			text:          "- 外层\n  - 内层",
			wantHTML:      []string{"外层", "内层"},
			wantPreview:   []string{"icon-list"},
			absentPreview: []string{"外层", "内层", "<ul"},
		},
		{
			name:     "任务列表",
			text:     "- [x] 完成\n- [ ] 未完成",
			wantHTML: []string{"task-list-item", "contains-task-list", `type="checkbox"`},
		},
		{
			name:          "折叠块",
			text:          "<details><summary>剧透</summary>内容</details>\n\n正文",
			wantHTML:      []string{`class="spoiler"`, "剧透"},
			wantPreview:   []string{"正文"},
			absentPreview: []string{"剧透"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := e.Render(context.Background(), &pipeline.Request{
				Text:        tc.text,
				Options:     tc.opts,
				Attachments: tc.attachments,
			})
			require.NoError(t, err)
			for _, s := range tc.wantHTML {
				assert.Contains(t, out.HTML, s)
			}
			for _, s := range tc.wantPreview {
				assert.Contains(t, out.Preview, s)
			}
			for _, s := range tc.absentPreview {
				assert.NotContains(t, out.Preview, s)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	e := newEngine(t, Deps{PreviewLimit: 20})
	long := strings.Repeat("字", 30)

	testCases := []struct {
		name          string
		limit         int
		text          string
		want          string
		wantTruncated bool
	}{
		{name: "未超出上限", text: "短文本", want: "短文本", wantTruncated: false},
		{name: "使用默认上限", text: long, want: strings.Repeat("字", 20) + "...", wantTruncated: true},
		{name: "请求指定上限", limit: 5, text: long, want: strings.Repeat("字", 5) + "...", wantTruncated: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := render(t, e, tc.text, pipeline.Options{PreviewLimit: tc.limit})
			assert.Contains(t, out.Preview, tc.want)
			assert.Equal(t, tc.wantTruncated, out.Truncated)
		})
	}
}

func TestTruncate_DropsFollowingBlocks(t *testing.T) {
	e := newEngine(t, Deps{})
	out := render(t, e, "一二三四五六\n\n后面的段落", pipeline.Options{PreviewLimit: 3})

	assert.Contains(t, out.Preview, "一二三...")
	assert.NotContains(t, out.Preview, "后面的段落")
	assert.True(t, out.Truncated)
}

func TestHTMLToPreview(t *testing.T) {
	e := newEngine(t, Deps{})
	out, err := e.HTMLToPreview(context.Background(),
		`<p>`+strings.Repeat("字", 10)+`</p><script>alert(1)</script><table><tr><td>x</td></tr></table>`,
		pipeline.Options{PreviewLimit: 4})
	require.NoError(t, err)

	assert.Contains(t, out.Preview, "字字字字...")
	assert.NotContains(t, out.Preview, "script")
	assert.True(t, out.Truncated)
}

func TestMedialink(t *testing.T) {
	e := newEngine(t, Deps{Resolver: embed.NewResolver(nil, nil, embed.WithLogger(discard)), Tables: newTables(t)})
	const video = "https://www.youtube.com/watch?v=abcdefghijk"

	testCases := []struct {
		name   string
		text   string
		opts   pipeline.Options
		want   []string
		absent []string
	}{
		{
			name: "独占段落的视频链接展开为播放器",
			text: video,
			opts: pipeline.Options{LinkToSnippet: true},
			want: []string{`src="https://www.youtube.com/embed/abcdefghijk"`, "medialink-youtube"},
		},
		{
			name: "占位模式不访问网络",
			text: video,
			opts: pipeline.Options{LinkToSnippet: true, Stub: true},
			want: []string{"medialink-stub", "youtube"},
		},
		{
			name:   "未开启展开选项时保持链接",
			text:   video,
			want:   []string{`href="` + video + `"`},
			absent: []string{"<iframe"},
		},
		{
			name:   "手写链接不展开",
			text:   "[视频](" + video + ")",
			opts:   pipeline.Options{LinkToSnippet: true},
			want:   []string{`href="` + video + `"`},
			absent: []string{"<iframe"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := render(t, e, tc.text, tc.opts)
			for _, s := range tc.want {
				assert.Contains(t, out.HTML, s)
			}
			for _, s := range tc.absent {
				assert.NotContains(t, out.HTML, s)
			}
		})
	}
}

func TestMedialink_IframeNeedsExtension(t *testing.T) {
	e := newEngine(t, Deps{})
	out := render(t, e, `<iframe src="https://www.youtube.com/embed/abcdefghijk"></iframe>`, pipeline.Options{})
	assert.NotContains(t, out.HTML, "<iframe")
}

func TestEmoji(t *testing.T) {
	set := NewEmojiSet()
	n, err := set.Load([]byte(`{
		"默认": {"container": [
			{"icon": "<img src=\"https://cdn.example.com/smile.png\">", "text": "smile"},
			{"icon": "https://cdn.example.com/cry.png", "text": "cry"},
			{"icon": "<span>无图</span>", "text": "none"}
		]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e := newEngine(t, Deps{Emoji: set})

	testCases := []struct {
		name  string
		text  string
		count int
	}{
		{name: "替换正文中的表情", text: "你好 :smile: 再见 :cry:", count: 2},
		{name: "代码中的表情不替换", text: "`:smile:`", count: 0},
		{name: "未知表情保持原样", text: ":unknown:", count: 0},
		{name: "表情旁的尖括号被转义", text: "a<b :smile:", count: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := render(t, e, tc.text, pipeline.Options{})
			assert.Equal(t, tc.count, strings.Count(out.HTML, `class="emoji"`))
		})
	}
}

func TestEmojiSet_LoadInvalid(t *testing.T) {
	set := NewEmojiSet()
	set.Replace(map[string]string{"a": "https://x/a.png"})

	_, err := set.Load([]byte("not json"))
	assert.Error(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestHighlight(t *testing.T) {
	e := newEngine(t, Deps{})
	out := render(t, e, "```go\nfunc main() {}\n```", pipeline.Options{})

	assert.Contains(t, out.HTML, `<div class="highlight">`)
	assert.Contains(t, out.HTML, `class="chroma"`)
	assert.Contains(t, out.HTML, `class="kd"`)
	assert.NotContains(t, out.HTML, "style=")
}

func TestHighlight_UnknownLanguage(t *testing.T) {
	e := newEngine(t, Deps{})
	out := render(t, e, "```nosuchlang\n<b>x</b>\n```", pipeline.Options{})

	assert.Contains(t, out.HTML, `<code class="language-nosuchlang">`)
	assert.Contains(t, out.HTML, "&lt;b&gt;x&lt;/b&gt;")
	assert.NotContains(t, out.HTML, "highlight")
}

func TestWhitelist_OnlyWhenEmitted(t *testing.T) {
	set := NewEmojiSet()
	set.Replace(map[string]string{"smile": "https://cdn.example.com/smile.png"})
	e := newEngine(t, Deps{
		Resolver: embed.NewResolver(nil, nil, embed.WithLogger(discard)),
		Tables:   newTables(t),
		Emoji:    set,
	})
	const forged = `<div class="table-wrapper medialink-card"><span class="icon icon-evil">x</span></div>`

	testCases := []struct {
		name   string
		text   string
		want   []string
		absent []string
	}{
		{
			name:   "手写标记伪造插件样式",
			text:   forged,
			absent: []string{"table-wrapper", "medialink-card", "icon-evil", `class="icon`},
		},
		{
			name:   "手写标记伪造高亮样式",
			text:   `<pre class="chroma"><code class="chroma"><span class="kd">x</span></code></pre>`,
			absent: []string{"chroma", `class="kd"`},
		},
		{
			name:   "手写标记伪造表情样式",
			text:   `<img class="emoji" src="https://cdn.example.com/smile.png" alt="x">`,
			absent: []string{`class="emoji"`},
		},
		{
			name:   "真实表格只放行表格样式",
			text:   "| a |\n|---|\n| 1 |\n\n" + forged,
			want:   []string{`class="table-wrapper"`},
			absent: []string{"medialink-card", "icon-evil"},
		},
		{
			name:   "真实代码块放行高亮样式",
			text:   "```go\nvar x = 1\n```",
			want:   []string{`class="chroma"`},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := render(t, e, tc.text, pipeline.Options{LinkToSnippet: true})
			for _, s := range tc.want {
				assert.Contains(t, out.HTML, s)
			}
			for _, s := range tc.absent {
				assert.NotContains(t, out.HTML, s)
				assert.NotContains(t, out.Preview, s)
			}
		})
	}
}

func TestRegisterDefaults_Dependencies(t *testing.T) {
	e := newEngine(t, Deps{Tables: newTables(t), Disabled: []string{NameTable}})

	infos := map[string]pipeline.PluginInfo{}
	for _, info := range e.Plugins() {
		infos[info.Name] = info
	}

	require.Contains(t, infos, NameMedialink)
	assert.False(t, infos[NameMedialink].Active)
	assert.Contains(t, infos[NameMedialink].Reason, NameLinkExpand)

	assert.False(t, infos[NameTable].Enabled)
	assert.False(t, infos[NameTable].Active)
	assert.True(t, infos[NameList].Active)

	out := render(t, e, "| a |\n|---|\n| 1 |", pipeline.Options{})
	assert.NotContains(t, out.HTML, "table-wrapper")
}

func TestPlan_CutRunsFirstInPreview(t *testing.T) {
	e := newEngine(t, Deps{})

	var preview []pipeline.PlanEntry
	for _, p := range e.Plan() {
		if p.Stage == pipeline.StageAST2Preview.String() {
			preview = append(preview, p)
		}
	}
	require.NotEmpty(t, preview)
	assert.Equal(t, NameCut, preview[0].Plugin)
	assert.Equal(t, 0, preview[0].Priority)
}
