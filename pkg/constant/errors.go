/*
 * @Description: 业务错误定义
 * @Author: 安知鱼
 * @Date: 2025-11-18 16:22:00
 * @LastEditTime: 2025-11-20 12:26:38
 * @LastEditors: 安知鱼
 */
package constant

import "errors"

// 业务层的标准错误，由 Handler 转换为对应的 HTTP 状态码
var (
	// ErrNotFound 资源未找到，对应 404
	ErrNotFound = errors.New("资源未找到")

	// ErrBadRequest 请求参数错误，对应 400
	ErrBadRequest = errors.New("错误的请求")

	// ErrUnavailable 依赖的组件尚未就绪，对应 503
	ErrUnavailable = errors.New("服务暂不可用")
)
