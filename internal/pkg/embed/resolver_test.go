package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/parser/ast"
)

const marker = "nonce"

type fakeExternal struct {
	mu    sync.Mutex
	calls []Request
	fn    func(req Request) (*Result, error)
}

func (f *fakeExternal) Key() string { return "fake" }

func (f *fakeExternal) Resolve(_ context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn == nil {
		return &Result{}, nil
	}
	return f.fn(req)
}

type fakeLocal struct {
	prefix string
	html   map[Type]string
	calls  int
}

func (l *fakeLocal) Match(url string) bool { return strings.HasPrefix(url, l.prefix) }

func (l *fakeLocal) Embed(_ context.Context, _ string, t Type) (string, error) {
	l.calls++
	return l.html[t], nil
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string]string)} }

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = fmt.Sprint(value)
	return nil
}

func autoLink(url string) string {
	return fmt.Sprintf(`<a href="%s" data-nd-auto="%s">%s</a>`, url, marker, url)
}

func mustTree(t *testing.T, src string) *ast.Tree {
	t.Helper()
	tree, err := ast.FromHTML(src, marker)
	require.NoError(t, err)
	return tree
}

func TestExpand_Budget(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&b, "<p>%s</p>", autoLink(fmt.Sprintf("https://example.com/%d", i)))
	}
	tree := mustTree(t, b.String())

	ext := &fakeExternal{}
	s := NewResolver(nil, nil).Session(ext, Options{LinkToSnippet: true})
	require.NoError(t, s.Expand(context.Background(), tree))

	attempted := s.Attempted()
	require.Len(t, attempted, DefaultBudget)
	for i, u := range attempted {
		assert.Equal(t, fmt.Sprintf("https://example.com/%d", i), u)
	}
	assert.Len(t, ext.calls, DefaultBudget)
	assert.Equal(t, 0, s.Remaining())
}

func TestExpand_TypeNegotiation(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		opts      Options
		wantTypes []Type
	}{
		{
			name:      "独占段落且允许摘要时优先块级",
			input:     "<p>" + autoLink("https://example.com/a") + "</p>",
			opts:      Options{LinkToSnippet: true},
			wantTypes: []Type{TypeBlock, TypeInline},
		},
		{
			name:      "独占段落但不允许摘要时只要行内",
			input:     "<p> " + autoLink("https://example.com/a") + " </p>",
			opts:      Options{},
			wantTypes: []Type{TypeInline},
		},
		{
			name:      "行内链接允许标题时只要行内",
			input:     "<p>see " + autoLink("https://example.com/a") + "</p>",
			opts:      Options{LinkToTitle: true, LinkToSnippet: true},
			wantTypes: []Type{TypeInline},
		},
		{
			name:      "行内链接不允许标题时跳过",
			input:     "<p>see " + autoLink("https://example.com/a") + "</p>",
			opts:      Options{LinkToSnippet: true},
			wantTypes: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ext := &fakeExternal{}
			s := NewResolver(nil, nil).Session(ext, tc.opts)
			require.NoError(t, s.Expand(context.Background(), mustTree(t, tc.input)))
			if tc.wantTypes == nil {
				assert.Empty(t, ext.calls)
				assert.Equal(t, DefaultBudget, s.Remaining())
				return
			}
			require.Len(t, ext.calls, 1)
			assert.Equal(t, tc.wantTypes, ext.calls[0].Types)
		})
	}
}

func TestExpand_BlockReplacesParagraph(t *testing.T) {
	ext := &fakeExternal{fn: func(req Request) (*Result, error) {
		return &Result{HTML: `<div class="card">card</div>`, Type: TypeBlock}, nil
	}}
	tree := mustTree(t, `<p data-line="4">`+autoLink("https://example.com/a")+`</p>`)
	s := NewResolver(nil, nil).Session(ext, Options{LinkToSnippet: true})
	require.NoError(t, s.Expand(context.Background(), tree))

	assert.Equal(t, `<div class="card" data-line="4">card</div>`, tree.HTML())
	assert.Empty(t, tree.AutoNodes())
}

func TestExpand_InlineReplacesLink(t *testing.T) {
	ext := &fakeExternal{fn: func(req Request) (*Result, error) {
		return &Result{HTML: `<a href="https://example.com/a" class="title">Title</a>`, Type: TypeInline}, nil
	}}
	tree := mustTree(t, `<p>see `+autoLink("https://example.com/a")+`</p>`)
	s := NewResolver(nil, nil).Session(ext, Options{LinkToTitle: true})
	require.NoError(t, s.Expand(context.Background(), tree))

	assert.Equal(t, `<p>see <a href="https://example.com/a" class="title">Title</a></p>`, tree.HTML())
}

func TestExpand_FetchFailureIsContained(t *testing.T) {
	ext := &fakeExternal{fn: func(req Request) (*Result, error) {
		if strings.HasSuffix(req.URL, "/bad") {
			return nil, errors.New("connection refused")
		}
		return &Result{HTML: "<b>ok</b>", Type: TypeInline}, nil
	}}
	tree := mustTree(t, `<p>x `+autoLink("https://example.com/bad")+` y `+autoLink("https://example.com/good")+`</p>`)
	s := NewResolver(nil, nil).Session(ext, Options{LinkToTitle: true})
	require.NoError(t, s.Expand(context.Background(), tree))

	out := tree.HTML()
	assert.Contains(t, out, `href="https://example.com/bad"`)
	assert.Contains(t, out, "<b>ok</b>")
	assert.Len(t, ext.calls, 2)
}

func TestExpand_LocalNeverFallsThrough(t *testing.T) {
	local := &fakeLocal{prefix: "https://site.local/"}
	ext := &fakeExternal{fn: func(req Request) (*Result, error) {
		return &Result{HTML: "<b>external</b>", Type: TypeInline}, nil
	}}
	tree := mustTree(t, `<p>`+autoLink("https://site.local/post/1")+`</p>`)
	s := NewResolver(local, nil).Session(ext, Options{LinkToSnippet: true})
	require.NoError(t, s.Expand(context.Background(), tree))

	assert.Equal(t, 2, local.calls)
	assert.Empty(t, ext.calls)
	assert.NotContains(t, tree.HTML(), "external")
}

func TestExpand_LocalTriesTypesInOrder(t *testing.T) {
	local := &fakeLocal{prefix: "https://site.local/", html: map[Type]string{TypeInline: `<a href="https://site.local/post/1">Post</a>`}}
	tree := mustTree(t, `<p>`+autoLink("https://site.local/post/1")+`</p>`)
	s := NewResolver(local, nil).Session(nil, Options{LinkToSnippet: true})
	require.NoError(t, s.Expand(context.Background(), tree))

	assert.Equal(t, `<p><a href="https://site.local/post/1">Post</a></p>`, tree.HTML())
	inserted := s.Inserted()
	require.Len(t, inserted, 1)
	assert.Equal(t, TypeInline, inserted[0].Type)
	assert.True(t, inserted[0].IsLocal)
}

// nestedLocal 块级展开时再展开一棵带有外部链接的子树，模拟引用内容的嵌套渲染
type nestedLocal struct {
	r     *Resolver
	ext   External
	links int
	calls int
}

func (l *nestedLocal) Match(url string) bool { return strings.HasPrefix(url, "https://site.local/") }

func (l *nestedLocal) Embed(ctx context.Context, _ string, t Type) (string, error) {
	l.calls++
	if t != TypeBlock {
		return "", nil
	}
	sub, err := WithDepth(ctx, 2)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i := 0; i < l.links; i++ {
		fmt.Fprintf(&b, "<p>%s</p>", autoLink(fmt.Sprintf("https://example.com/nested/%d", i)))
	}
	tree, err := ast.FromHTML(b.String(), marker)
	if err != nil {
		return "", err
	}
	if err := l.r.Session(l.ext, Options{LinkToSnippet: true}).Expand(sub, tree); err != nil {
		return "", err
	}
	return "<blockquote>nested</blockquote>", nil
}

func TestExpand_NestedSessionsShareBudget(t *testing.T) {
	ext := &fakeExternal{}
	local := &nestedLocal{ext: ext, links: 100}
	local.r = NewResolver(local, nil, WithBudget(10))

	var b strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&b, "<p>%s</p>", autoLink(fmt.Sprintf("https://site.local/post/%d", i)))
	}
	s := local.r.Session(ext, Options{LinkToSnippet: true})
	require.NoError(t, s.Expand(context.Background(), mustTree(t, b.String())))

	assert.Equal(t, 1, local.calls)
	assert.Len(t, ext.calls, 9)
	assert.Equal(t, 0, s.Remaining())
	assert.Len(t, s.Attempted(), 1)
}

func TestExpand_Cache(t *testing.T) {
	c := newMapCache()
	ext := &fakeExternal{fn: func(req Request) (*Result, error) {
		return &Result{HTML: "<b>t</b>", Type: TypeInline}, nil
	}}
	r := NewResolver(nil, c)
	src := `<p>x ` + autoLink("https://example.com/a") + `</p>`

	require.NoError(t, r.Session(ext, Options{LinkToTitle: true}).Expand(context.Background(), mustTree(t, src)))
	require.NoError(t, r.Session(ext, Options{LinkToTitle: true}).Expand(context.Background(), mustTree(t, src)))
	assert.Len(t, ext.calls, 1)

	// 仅缓存模式不写入缓存
	c2 := newMapCache()
	r2 := NewResolver(nil, c2)
	require.NoError(t, r2.Session(ext, Options{LinkToTitle: true, CacheOnly: true}).Expand(context.Background(), mustTree(t, src)))
	assert.Empty(t, c2.data)
	assert.True(t, ext.calls[len(ext.calls)-1].CacheOnly)
}

func TestExpand_IgnoresNonAutoLinks(t *testing.T) {
	ext := &fakeExternal{}
	tree := mustTree(t, `<p><a href="https://example.com/a">a</a></p><p>`+autoLink("/relative")+`</p>`)
	s := NewResolver(nil, nil).Session(ext, Options{LinkToSnippet: true, LinkToTitle: true})
	require.NoError(t, s.Expand(context.Background(), tree))
	assert.Empty(t, ext.calls)
}

func TestExpand_CanonicalURL(t *testing.T) {
	ext := &fakeExternal{fn: func(req Request) (*Result, error) {
		return &Result{CanonicalURL: "https://example.com/canonical"}, nil
	}}
	tree := mustTree(t, `<p>x `+autoLink("https://example.com/a?utm=1")+`</p>`)
	s := NewResolver(nil, nil).Session(ext, Options{LinkToTitle: true})
	require.NoError(t, s.Expand(context.Background(), tree))
	assert.Contains(t, tree.HTML(), `href="https://example.com/canonical"`)
}

func TestExpand_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tree := mustTree(t, `<p>`+autoLink("https://example.com/a")+`</p>`)
	err := NewResolver(nil, nil).Session(&fakeExternal{}, Options{LinkToSnippet: true}).Expand(ctx, tree)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithDepth(t *testing.T) {
	ctx := context.Background()
	ctx, err := WithDepth(ctx, 2)
	require.NoError(t, err)
	ctx, err = WithDepth(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, Depth(ctx))
	_, err = WithDepth(ctx, 2)
	assert.ErrorIs(t, err, ErrRecursionLimit)
}
