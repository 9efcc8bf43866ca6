package sanitizer

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func TestSanitize(t *testing.T) {
	s := New(nil, nil)

	testCases := []struct {
		name     string
		input    string
		contains []string
		excludes []string
	}{
		{
			name:     "移除 script 标签及其内容",
			input:    `<p>hi<script>alert(1)</script></p>`,
			contains: []string{"<p>hi</p>"},
			excludes: []string{"script", "alert"},
		},
		{
			name:     "移除 javascript 协议链接",
			input:    `<p><a href="javascript:alert(1)">x</a></p>`,
			contains: []string{"<p>x</p>"},
			excludes: []string{"javascript"},
		},
		{
			name:     "外部链接添加 nofollow",
			input:    `<p><a href="https://example.com">x</a></p>`,
			contains: []string{`href="https://example.com"`, `rel="nofollow"`},
		},
		{
			name:     "移除 auto 标记属性",
			input:    `<p><a href="https://example.com" data-nd-auto="abc">x</a></p>`,
			excludes: []string{"data-nd-auto"},
		},
		{
			name:     "保留代码语言 class",
			input:    `<pre><code class="language-go evil">x</code></pre>`,
			contains: []string{`class="language-go"`},
			excludes: []string{"evil"},
		},
		{
			name:     "保留行号映射",
			input:    `<p data-line="3">x</p>`,
			contains: []string{`data-line="3"`},
		},
		{
			name:     "非数字行号被移除",
			input:    `<p data-line="x">x</p>`,
			contains: []string{"<p>x</p>"},
		},
		{
			name:     "移除事件属性",
			input:    `<img src="/a.png" onerror="alert(1)">`,
			contains: []string{`src="/a.png"`},
			excludes: []string{"onerror"},
		},
		{
			name:     "未知标签只保留文本",
			input:    `<cut></cut><marquee>hey</marquee>`,
			contains: []string{"hey"},
			excludes: []string{"cut", "marquee"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Sanitize(tc.input, nil)
			for _, c := range tc.contains {
				assert.Contains(t, got, c)
			}
			for _, e := range tc.excludes {
				assert.NotContains(t, got, e)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := New(nil, nil)
	inputs := []string{
		`<p>hello <b>world</b> &amp; <a href="https://example.com" title="t">link</a></p>`,
		`<table><tr><td align="left">a</td></tr></table>`,
		`<ul><li><input type="checkbox" checked disabled> done</li></ul>`,
		`<p>a<br>b</p><hr><blockquote><p>q</p></blockquote>`,
		`<div class="footnotes" role="doc-endnotes"><ol><li id="fn:1"><p>n <a href="#fnref:1" class="footnote-backref" role="doc-backlink">↩</a></p></li></ol></div>`,
		`<p><iframe src="https://evil.example"></iframe><span class="x">s</span></p>`,
		`broken <p>unclosed <em>tags`,
	}
	for _, in := range inputs {
		once := s.Sanitize(in, nil)
		assert.Equal(t, once, s.Sanitize(once, nil), in)
	}
}

func TestSanitize_Containment(t *testing.T) {
	s := New(nil, nil)
	ext := NewWhitelist().Allow("iframe", "src").AllowClasses("div", "embed-*")
	w := s.Effective(ext)

	out := s.Sanitize(`<div class="embed-video other" onclick="x"><iframe src="https://v.example/1" allow="all"></iframe></div><object data="x"></object>`, ext)

	nodes, err := html.ParseFragment(strings.NewReader(out), &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
	require.NoError(t, err)

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			assert.True(t, w.AllowsTag(n.Data), n.Data)
			for _, a := range n.Attr {
				if a.Key == "rel" {
					continue
				}
				assert.True(t, w.AllowsAttr(n.Data, a.Key, a.Val), n.Data+"@"+a.Key)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	for _, n := range nodes {
		visit(n)
	}
	assert.Contains(t, out, `<iframe src="https://v.example/1">`)
	assert.Contains(t, out, `class="embed-video"`)
}

func TestSanitize_ExtensionIsPerCall(t *testing.T) {
	s := New(nil, nil)
	ext := NewWhitelist().Allow("iframe", "src")

	with := s.Sanitize(`<iframe src="https://v.example/1"></iframe>`, ext)
	without := s.Sanitize(`<iframe src="https://v.example/1"></iframe>`, nil)

	assert.Contains(t, with, "iframe")
	assert.NotContains(t, without, "iframe")
	assert.False(t, s.Base().AllowsTag("iframe"))
}

func TestWhitelist_Merge(t *testing.T) {
	a := NewWhitelist().AllowMatching(regexp.MustCompile(`^a$`), "span", "data-x")
	b := NewWhitelist().AllowMatching(regexp.MustCompile(`^b$`), "span", "data-x").AllowClasses("span", "spoiler")

	m := a.Merge(b)
	assert.True(t, m.AllowsAttr("span", "data-x", "a"))
	assert.True(t, m.AllowsAttr("span", "data-x", "b"))
	assert.False(t, m.AllowsAttr("span", "data-x", "c"))
	assert.True(t, m.AllowsAttr("span", "class", "spoiler"))
	assert.False(t, a.AllowsClass("span", "spoiler"))

	assert.Equal(t, a.Merge(b).Fingerprint(), b.Merge(a).Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), m.Fingerprint())
}
