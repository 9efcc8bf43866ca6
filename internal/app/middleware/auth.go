/*
 * @Description: 管理接口令牌认证中间件
 * @Author: 安知鱼
 * @Date: 2025-11-17 12:39:00
 * @LastEditTime: 2025-11-20 13:27:51
 * @LastEditors: 安知鱼
 */
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/anheyu-markup/pkg/response"
)

// AdminToken 管理接口的静态令牌认证。token 为空时管理接口全部关闭。
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			response.Fail(c, http.StatusForbidden, "管理接口未启用")
			c.Abort()
			return
		}

		authHeader := c.Request.Header.Get("Authorization")
		if authHeader == "" {
			response.Fail(c, http.StatusUnauthorized, "请求未携带Token，无权限访问")
			c.Abort()
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			response.Fail(c, http.StatusUnauthorized, "Token格式不正确")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			response.Fail(c, http.StatusUnauthorized, "Token无效")
			c.Abort()
			return
		}
		c.Next()
	}
}
