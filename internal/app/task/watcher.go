/*
 * @Description: 提供者配置文件监听
 * @Author: 安知鱼
 * @Date: 2025-11-07 14:05:00
 * @LastEditTime: 2025-11-08 15:25:25
 * @LastEditors: 安知鱼
 */
package task

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/event"
)

// DefaultDebounce 文件连续变化时合并通知的时间窗口
const DefaultDebounce = 500 * time.Millisecond

// ConfigWatcher 监听提供者配置文件，变化时发布 MedialinkUpdated。
// 监听的是文件所在目录，编辑器以重命名方式保存时也能收到事件。
type ConfigWatcher struct {
	path     string
	bus      *event.EventBus
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewConfigWatcher 创建文件监听器，debounce <= 0 时使用 DefaultDebounce
func NewConfigWatcher(path string, bus *event.EventBus, logger *slog.Logger, debounce time.Duration) (*ConfigWatcher, error) {
	if path == "" {
		return nil, errors.New("未指定要监听的配置文件")
	}
	if bus == nil {
		return nil, errors.New("未指定事件总线")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("监听目录 %s 失败: %w", filepath.Dir(abs), err)
	}

	return &ConfigWatcher{
		path:     abs,
		bus:      bus,
		logger:   logger.With("system", "config_watcher", "path", abs),
		debounce: debounce,
		watcher:  watcher,
		done:     make(chan struct{}),
	}, nil
}

// Start 在后台处理文件事件
func (w *ConfigWatcher) Start() {
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("Watching medialink config")
}

// Close 停止监听并等待后台协程退出，可重复调用
func (w *ConfigWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *ConfigWatcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}

func (w *ConfigWatcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.logger.Info("Medialink config changed")
			w.bus.Publish(event.MedialinkUpdated, event.MedialinkPayload{Path: w.path, Reason: "file"})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
