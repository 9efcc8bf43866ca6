/*
 * @Description: 路由注册
 * @Author: 安知鱼
 * @Date: 2025-11-18 10:10:00
 * @LastEditTime: 2025-11-20 12:50:50
 * @LastEditors: 安知鱼
 */
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/anzhiyu-c/anheyu-markup/internal/app/middleware"
	parser_handler "github.com/anzhiyu-c/anheyu-markup/pkg/handler/parser"
	version_handler "github.com/anzhiyu-c/anheyu-markup/pkg/handler/version"
)

// NoCacheMiddleware 禁止 API 响应被 CDN 或浏览器缓存
func NoCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-cache, no-store, must-revalidate, private, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

// Options 路由层的可配置项
type Options struct {
	AdminToken string
	// RateLimit 每个 IP 每分钟允许的渲染请求数
	RateLimit int
}

// Router 封装了应用的所有路由和其依赖的处理器。
type Router struct {
	parserHandler  *parser_handler.Handler
	versionHandler *version_handler.Handler
	opts           Options
}

// NewRouter 通过依赖注入接收所有处理器
func NewRouter(parserHandler *parser_handler.Handler, versionHandler *version_handler.Handler, opts Options) *Router {
	return &Router{
		parserHandler:  parserHandler,
		versionHandler: versionHandler,
		opts:           opts,
	}
}

// Setup 将所有路由注册到 Gin 引擎
func (r *Router) Setup(engine *gin.Engine) {
	apiGroup := engine.Group("/api")
	apiGroup.Use(NoCacheMiddleware())

	apiGroup.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.registerVersionRoutes(apiGroup)
	r.registerParserRoutes(apiGroup)
}

func (r *Router) registerVersionRoutes(api *gin.RouterGroup) {
	api.GET("/public/version", r.versionHandler.GetVersion)
	api.GET("/public/version/string", r.versionHandler.GetVersionString)
}

func (r *Router) registerParserRoutes(api *gin.RouterGroup) {
	burst := r.opts.RateLimit / 4
	if burst < 1 {
		burst = 1
	}

	parserPublic := api.Group("/parser")
	{
		parserPublic.GET("/plugins", r.parserHandler.Plugins)

		limited := parserPublic.Group("", middleware.CustomRateLimit(r.opts.RateLimit, burst))
		limited.POST("/render", r.parserHandler.Render)
		limited.POST("/preview", r.parserHandler.Preview)
		limited.POST("/sanitize", r.parserHandler.Sanitize)
	}

	parserAdmin := api.Group("/parser/admin").Use(middleware.AdminToken(r.opts.AdminToken))
	{
		parserAdmin.PUT("/plugins", r.parserHandler.SetPlugins)
		parserAdmin.POST("/providers/reload", r.parserHandler.ReloadProviders)
		parserAdmin.PUT("/emoji", r.parserHandler.ReloadEmoji)
		parserAdmin.PUT("/content/:id", r.parserHandler.PutContent)
	}
}
