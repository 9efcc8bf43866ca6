/*
 * @Description: 按字符截断字符串
 * @Author: 安知鱼
 * @Date: 2025-11-03 16:25:00
 * @LastEditTime: 2025-11-04 11:05:05
 * @LastEditors: 安知鱼
 */
package strutil

import "unicode/utf8"

// Ellipsis 截断后追加的后缀
const Ellipsis = "..."

// Truncate 按字符数截断 UTF-8 字符串，发生截断时追加 Ellipsis
func Truncate(s string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	return string([]rune(s)[:maxLength]) + Ellipsis
}
