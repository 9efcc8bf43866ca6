/*
 * @Description: 版本信息接口处理器
 * @Author: 安知鱼
 * @Date: 2025-11-15 10:01:00
 * @LastEditTime: 2025-11-16 15:53:29
 * @LastEditors: 安知鱼
 */
package version

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/version"
	"github.com/anzhiyu-c/anheyu-markup/pkg/response"
)

// Handler 版本信息处理器
type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// GetVersion 获取版本信息
// @Summary      获取版本信息
// @Tags         辅助工具
// @Produce      json
// @Success      200  {object}  response.Response{data=version.BuildInfo}  "版本信息"
// @Router       /public/version [get]
func (h *Handler) GetVersion(c *gin.Context) {
	response.Success(c, version.GetBuildInfo(), "获取版本信息成功")
}

// GetVersionString 获取版本字符串
// @Summary      获取版本字符串
// @Tags         辅助工具
// @Produce      json
// @Success      200  {object}  object{version=string}  "版本字符串"
// @Router       /public/version/string [get]
func (h *Handler) GetVersionString(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": version.GetVersionString()})
}
