/*
 * @Description: HTML 纯文本提取工具
 * @Author: 安知鱼
 * @Date: 2025-11-05 15:15:00
 * @LastEditTime: 2025-11-08 17:15:15
 * @LastEditors: 安知鱼
 */
package parser

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var stripTagsPolicy *bluemonday.Policy

func init() {
	// StripTagsPolicy 会移除所有的HTML标签
	stripTagsPolicy = bluemonday.StripTagsPolicy()
}

// StripHTML 接受一个HTML字符串，返回一个去除了所有标签的纯文本字符串。
func StripHTML(htmlContent string) string {
	return stripTagsPolicy.Sanitize(htmlContent)
}

// TextLength 估算纯文本的字符数：NFC 归一化后折叠空白再按 rune 计数
func TextLength(plain string) int {
	fields := strings.Fields(norm.NFC.String(plain))
	n := 0
	for i, f := range fields {
		if i > 0 {
			n++
		}
		n += len([]rune(f))
	}
	return n
}
