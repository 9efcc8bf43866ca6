/*
 * @Description: 后台任务调度器，负责配置热重载与表情包刷新
 * @Author: 安知鱼
 * @Date: 2025-11-24 13:52:00
 * @LastEditTime: 2025-11-24 14:56:08
 * @LastEditors: 安知鱼
 */
package task

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/event"
)

// jobQueueSize 后台任务队列容量，队列满时丢弃新任务
const jobQueueSize = 1000

// Broker 后台任务的协调者：cron 周期任务与一次性任务的 worker 池。
type Broker struct {
	cron     *cron.Cron
	logger   *slog.Logger
	bus      *event.EventBus
	jobQueue chan Job
	workers  int
	wg       sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewBroker 创建 Broker 并启动 worker 池，workers <= 0 时使用 CPU 数
func NewBroker(bus *event.EventBus, logger *slog.Logger, workers int) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "task_broker")
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(
			NewPanicRecoveryWrapper(logger),
			NewLoggingWrapper(logger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		),
	)

	b := &Broker{
		cron:     c,
		logger:   logger,
		bus:      bus,
		jobQueue: make(chan Job, jobQueueSize),
		workers:  workers,
	}
	b.startWorkerPool()
	return b
}

// startWorkerPool 启动固定数量的 worker 处理一次性任务
func (b *Broker) startWorkerPool() {
	b.logger.Info("Starting task worker pool", "concurrency", b.workers)
	chain := cron.NewChain(NewPanicRecoveryWrapper(b.logger), NewLoggingWrapper(b.logger))

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func(workerID int) {
			defer b.wg.Done()
			for job := range b.jobQueue {
				chain.Then(job).Run()
			}
			b.logger.Debug("Worker stopped", "worker_id", workerID)
		}(i + 1)
	}
}

// RegisterCronJobs 注册周期任务。refreshSpec 为空时不注册提供者刷新。
func (b *Broker) RegisterCronJobs(refreshSpec, medialinkPath string) error {
	if refreshSpec == "" || b.bus == nil {
		b.logger.Info("Medialink refresh disabled")
		return nil
	}
	if _, err := b.cron.AddJob(refreshSpec, NewMedialinkRefreshJob(b.bus, medialinkPath)); err != nil {
		return fmt.Errorf("注册 MedialinkRefreshJob 失败: %w", err)
	}
	b.logger.Info("-> Successfully registered 'MedialinkRefreshJob'", "schedule", refreshSpec)
	return nil
}

// Dispatch 将任务放入队列。Broker 已停止或队列已满时返回 false。
func (b *Broker) Dispatch(job Job) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return false
	}
	select {
	case b.jobQueue <- job:
		return true
	default:
		b.logger.Warn("Job queue is full, dropping job", "job_name", job.Name())
		return false
	}
}

// DispatchPrerender 派发一次内容预渲染
func (b *Broker) DispatchPrerender(r Prerenderer, id, text string) bool {
	return b.Dispatch(NewPrerenderJob(r, id, text, b.logger))
}

// Start 启动 cron 调度器
func (b *Broker) Start() {
	b.logger.Info("Task broker started.")
	b.cron.Start()
}

// Stop 停止 cron 调度器，并等待队列中已有的任务执行完毕
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.jobQueue)
	b.mu.Unlock()

	b.logger.Info("Stopping task broker...")
	<-b.cron.Stop().Done()
	b.wg.Wait()
	b.logger.Info("Task broker gracefully stopped.")
}
