/*
 * @Description: 解析服务接口处理器
 * @Author: 安知鱼
 * @Date: 2025-11-08 09:48:00
 * @LastEditTime: 2025-11-08 14:24:12
 * @LastEditors: 安知鱼
 */
package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/anheyu-markup/internal/app/task"
	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/pipeline"
	"github.com/anzhiyu-c/anheyu-markup/pkg/constant"
	"github.com/anzhiyu-c/anheyu-markup/pkg/response"
	parser_service "github.com/anzhiyu-c/anheyu-markup/pkg/service/parser"
)

// MaxBodyBytes 单个请求体的上限
const MaxBodyBytes = 4 << 20

// Dispatcher 后台任务派发，用于内容发布后的预渲染
type Dispatcher interface {
	DispatchPrerender(r task.Prerenderer, id, text string) bool
}

// Handler 解析服务的 HTTP 接口
type Handler struct {
	svc        *parser_service.Service
	dispatcher Dispatcher
}

// NewHandler 创建 Handler，dispatcher 可为 nil
func NewHandler(svc *parser_service.Service, dispatcher Dispatcher) *Handler {
	return &Handler{svc: svc, dispatcher: dispatcher}
}

// RenderRequest 渲染请求体
type RenderRequest struct {
	Text string `json:"text"`
	// Options 为空时使用服务的默认选项
	Options     *pipeline.Options `json:"options"`
	Attachments []string          `json:"attachments"`
	// Outputs 可选 html / preview / length，为空时全部生成
	Outputs []string `json:"outputs"`
}

// RenderResponse 渲染结果
type RenderResponse struct {
	HTML      string   `json:"html,omitempty"`
	Preview   string   `json:"preview,omitempty"`
	Truncated bool     `json:"truncated"`
	Length    int      `json:"length"`
	Errors    []string `json:"errors,omitempty"`
}

// PreviewRequest 由 HTML 生成预览的请求体
type PreviewRequest struct {
	HTML  string `json:"html" binding:"required"`
	Limit int    `json:"limit"`
}

// SanitizeRequest 净化请求体
type SanitizeRequest struct {
	HTML string `json:"html" binding:"required"`
}

// PluginsRequest 设置禁用插件的请求体
type PluginsRequest struct {
	Disabled []string `json:"disabled"`
}

// ContentRequest 发布站内内容的请求体
type ContentRequest struct {
	Title string `json:"title"`
	Text  string `json:"text" binding:"required"`
}

// EmojiRequest 重新加载表情包的请求体，url 为空表示卸载
type EmojiRequest struct {
	URL string `json:"url"`
}

func parseOutputs(names []string) (pipeline.Outputs, error) {
	if len(names) == 0 {
		return pipeline.OutputAll, nil
	}
	var out pipeline.Outputs
	for _, name := range names {
		switch name {
		case "html":
			out |= pipeline.OutputHTML
		case "preview":
			out |= pipeline.OutputPreview
		case "length":
			out |= pipeline.OutputLength
		default:
			return 0, fmt.Errorf("%w: 未知的输出类型 %q", constant.ErrBadRequest, name)
		}
	}
	return out, nil
}

// statusOf 将业务错误转换为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, constant.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, constant.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, constant.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
}

// Render
// @Summary      渲染文本
// @Description  将 Markdown 文本渲染为安全的 HTML、预览与长度
// @Tags         解析
// @Accept       json
// @Produce      json
// @Param        body body RenderRequest true "渲染请求"
// @Success      200 {object} response.Response{data=RenderResponse} "成功响应"
// @Failure      400 {object} response.Response "请求参数错误"
// @Router       /parser/render [post]
func (h *Handler) Render(c *gin.Context) {
	limitBody(c)
	var req RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "请求参数无效: "+err.Error())
		return
	}
	outputs, err := parseOutputs(req.Outputs)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	opts := h.svc.DefaultOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	out, err := h.svc.Render(c.Request.Context(), &pipeline.Request{
		Text:        req.Text,
		Options:     opts,
		Attachments: req.Attachments,
		Outputs:     outputs,
	})
	if err != nil {
		response.Fail(c, statusOf(err), "渲染失败: "+err.Error())
		return
	}

	resp := RenderResponse{HTML: out.HTML, Preview: out.Preview, Truncated: out.Truncated, Length: out.Length}
	for _, e := range out.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	response.Success(c, resp, "渲染成功")
}

// Preview
// @Summary      生成预览
// @Description  为已渲染的 HTML 生成截断后的预览
// @Tags         解析
// @Accept       json
// @Produce      json
// @Param        body body PreviewRequest true "预览请求"
// @Success      200 {object} response.Response{data=RenderResponse} "成功响应"
// @Router       /parser/preview [post]
func (h *Handler) Preview(c *gin.Context) {
	limitBody(c)
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "请求参数无效: "+err.Error())
		return
	}
	out, err := h.svc.HTMLToPreview(c.Request.Context(), req.HTML, req.Limit)
	if err != nil {
		response.Fail(c, statusOf(err), "生成预览失败: "+err.Error())
		return
	}
	response.Success(c, RenderResponse{Preview: out.Preview, Truncated: out.Truncated}, "生成预览成功")
}

// Sanitize
// @Summary      净化 HTML
// @Tags         解析
// @Accept       json
// @Produce      json
// @Param        body body SanitizeRequest true "净化请求"
// @Success      200 {object} response.Response{data=object{html=string}} "成功响应"
// @Router       /parser/sanitize [post]
func (h *Handler) Sanitize(c *gin.Context) {
	limitBody(c)
	var req SanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "请求参数无效: "+err.Error())
		return
	}
	response.Success(c, gin.H{"html": h.svc.SanitizeHTML(req.HTML)}, "净化成功")
}

// Plugins
// @Summary      插件状态
// @Description  当前引擎中的插件、阶段执行顺序与提供者版本
// @Tags         解析
// @Produce      json
// @Success      200 {object} response.Response "成功响应"
// @Router       /parser/plugins [get]
func (h *Handler) Plugins(c *gin.Context) {
	response.Success(c, gin.H{
		"plugins":           h.svc.Plugins(),
		"plan":              h.svc.Plan(),
		"providers_version": h.svc.ProvidersVersion(),
	}, "获取插件状态成功")
}

// SetPlugins
// @Summary      设置禁用插件
// @Tags         解析管理
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body body PluginsRequest true "禁用列表"
// @Success      200 {object} response.Response "成功响应"
// @Router       /parser/admin/plugins [put]
func (h *Handler) SetPlugins(c *gin.Context) {
	var req PluginsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "请求参数无效: "+err.Error())
		return
	}
	if err := h.svc.SetDisabledPlugins(req.Disabled); err != nil {
		response.Fail(c, statusOf(err), "重建引擎失败: "+err.Error())
		return
	}
	response.Success(c, h.svc.Plugins(), "更新成功")
}

// ReloadProviders
// @Summary      重新加载媒体链接提供者
// @Tags         解析管理
// @Security     BearerAuth
// @Produce      json
// @Success      200 {object} response.Response{data=object{version=string}} "成功响应"
// @Router       /parser/admin/providers/reload [post]
func (h *Handler) ReloadProviders(c *gin.Context) {
	if err := h.svc.ReloadProviders(c.Request.Context()); err != nil {
		response.Fail(c, statusOf(err), "加载提供者失败: "+err.Error())
		return
	}
	response.Success(c, gin.H{"version": h.svc.ProvidersVersion()}, "加载成功")
}

// ReloadEmoji
// @Summary      重新加载表情包
// @Tags         解析管理
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        body body EmojiRequest true "表情包地址"
// @Success      200 {object} response.Response "成功响应"
// @Router       /parser/admin/emoji [put]
func (h *Handler) ReloadEmoji(c *gin.Context) {
	var req EmojiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "请求参数无效: "+err.Error())
		return
	}
	if err := h.svc.LoadEmoji(c.Request.Context(), req.URL); err != nil {
		response.Fail(c, statusOf(err), "加载表情包失败: "+err.Error())
		return
	}
	response.Success(c, nil, "加载成功")
}

// PutContent
// @Summary      发布站内内容
// @Description  写入可被站内链接引用的内容，并在后台预渲染
// @Tags         解析管理
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id path string true "内容ID"
// @Param        body body ContentRequest true "内容"
// @Success      200 {object} response.Response "成功响应"
// @Router       /parser/admin/content/{id} [put]
func (h *Handler) PutContent(c *gin.Context) {
	limitBody(c)
	id := c.Param("id")
	var req ContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, "请求参数无效: "+err.Error())
		return
	}
	if err := h.svc.PublishContent(c.Request.Context(), id, parser_service.LocalContent{Title: req.Title, Text: req.Text}); err != nil {
		response.Fail(c, statusOf(err), "保存内容失败: "+err.Error())
		return
	}

	queued := false
	if h.dispatcher != nil {
		queued = h.dispatcher.DispatchPrerender(h.svc, id, req.Text)
	}
	response.Success(c, gin.H{"id": id, "prerender_queued": queued}, "保存成功")
}
