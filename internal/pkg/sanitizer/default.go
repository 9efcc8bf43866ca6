/*
 * @Description: 基础白名单
 * @Author: 安知鱼
 * @Date: 2025-11-19 17:41:00
 * @LastEditTime: 2025-11-20 11:13:49
 * @LastEditors: 安知鱼
 */
package sanitizer

import "regexp"

var (
	lineNumber  = regexp.MustCompile(`^[0-9]+$`)
	headingID   = regexp.MustCompile(`^[A-Za-z0-9_\-:.\p{L}]+$`)
	alignValue  = regexp.MustCompile(`^(?:left|right|center)$`)
	sizeValue   = regexp.MustCompile(`^[0-9]{1,4}%?$`)
	checkbox    = regexp.MustCompile(`^checkbox$`)
	footnoteRel = regexp.MustCompile(`^(?:nofollow|noopener|noreferrer|footnote|ugc)(?:\s+(?:nofollow|noopener|noreferrer|footnote|ugc))*$`)
	roleValue   = regexp.MustCompile(`^(?:doc-endnotes|doc-noteref|doc-backlink)$`)
)

// blockTags 允许携带行号映射属性的块级元素
var blockTags = []string{
	"p", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "ul", "ol", "li",
	"pre", "table", "thead", "tbody", "tr", "th", "td", "hr", "div", "details", "figure",
}

// Default 返回基础白名单：Markdown 基础语法能够产生的全部标记
func Default() *Whitelist {
	w := NewWhitelist()

	for _, tag := range []string{
		"p", "br", "hr", "strong", "em", "b", "i", "u", "s", "del", "ins", "mark",
		"blockquote", "ul", "li", "pre", "table", "thead", "tbody", "tr",
		"details", "summary", "span", "section", "figure", "figcaption", "dl", "dt", "dd", "kbd", "abbr",
	} {
		w.Allow(tag)
	}

	for _, tag := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		w.AllowMatching(headingID, tag, "id")
	}
	w.Allow("ol").AllowMatching(lineNumber, "ol", "start")
	w.AllowMatching(alignValue, "th", "align").AllowMatching(alignValue, "td", "align")
	w.Allow("code").AllowClasses("code", "language-*")

	w.Allow("a", "href", "title")
	w.AllowMatching(footnoteRel, "a", "rel")
	w.AllowMatching(roleValue, "a", "role")
	w.AllowMatching(headingID, "a", "id")
	w.AllowClasses("a", "footnote-ref", "footnote-backref")

	w.Allow("img", "src", "alt", "title")
	w.AllowMatching(sizeValue, "img", "width", "height")

	w.AllowMatching(headingID, "sup", "id").AllowMatching(headingID, "sub", "id")
	w.AllowMatching(headingID, "li", "id")
	w.AllowClasses("div", "footnotes")
	w.AllowMatching(roleValue, "div", "role")

	w.AllowMatching(checkbox, "input", "type")
	w.Allow("input", "checked", "disabled")

	w.Allow("details", "open")

	for _, tag := range blockTags {
		w.AllowMatching(lineNumber, tag, "data-line")
	}
	return w
}
