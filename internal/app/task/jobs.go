/*
 * @Description: 后台任务定义
 * @Author: 安知鱼
 * @Date: 2025-11-21 16:31:00
 * @LastEditTime: 2025-11-24 17:23:59
 * @LastEditors: 安知鱼
 */
package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/event"
)

// Job 与 cron.Job 兼容，Name 用于日志
type Job interface {
	Run()
	Name() string
}

// prerenderTimeout 单次预渲染的超时
const prerenderTimeout = 2 * time.Minute

// MedialinkRefreshJob 周期性地通知解析服务重新读取提供者配置
type MedialinkRefreshJob struct {
	bus  *event.EventBus
	path string
}

func NewMedialinkRefreshJob(bus *event.EventBus, path string) *MedialinkRefreshJob {
	return &MedialinkRefreshJob{bus: bus, path: path}
}

func (j *MedialinkRefreshJob) Run() {
	j.bus.Publish(event.MedialinkUpdated, event.MedialinkPayload{Path: j.path, Reason: "schedule"})
}

func (j *MedialinkRefreshJob) Name() string {
	return "MedialinkRefreshJob"
}

// Prerenderer 预渲染所需的能力
type Prerenderer interface {
	ToHTML(ctx context.Context, content string) (string, error)
}

// PrerenderJob 在内容发布后提前渲染一次，填充 HTML 缓存与链接展开缓存
type PrerenderJob struct {
	renderer Prerenderer
	id       string
	text     string
	logger   *slog.Logger
}

func NewPrerenderJob(renderer Prerenderer, id, text string, logger *slog.Logger) *PrerenderJob {
	return &PrerenderJob{renderer: renderer, id: id, text: text, logger: logger}
}

func (j *PrerenderJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), prerenderTimeout)
	defer cancel()

	if _, err := j.renderer.ToHTML(ctx, j.text); err != nil {
		j.logger.Warn("预渲染失败", "content_id", j.id, "error", err)
	}
}

func (j *PrerenderJob) Name() string {
	return fmt.Sprintf("PrerenderJob(ContentID: %s)", j.id)
}
