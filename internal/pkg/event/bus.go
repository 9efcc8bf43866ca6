/*
 * @Description: 进程内事件总线
 * @Author: 安知鱼
 * @Date: 2025-11-10 17:38:00
 * @LastEditTime: 2025-11-12 12:34:22
 * @LastEditors: 安知鱼
 */
package event

import (
	"log"
	"sync"
)

// Topic 事件类型
type Topic string

const (
	// MedialinkUpdated 提供者配置发生变化，负载为 MedialinkPayload
	MedialinkUpdated Topic = "medialink:updated"
	// EmojiUpdated 表情包地址发生变化，负载为新地址字符串
	EmojiUpdated Topic = "emoji:updated"
)

// MedialinkPayload 提供者配置变化的来源
type MedialinkPayload struct {
	Path   string
	Reason string
}

// Handler 事件处理器函数类型
type Handler func(payload interface{})

// Event 是在通道中传递的事件结构
type Event struct {
	Topic   Topic
	Payload interface{}
}

// EventBus 基于固定 Worker 池的异步事件总线
type EventBus struct {
	mu        sync.RWMutex
	handlers  map[Topic][]Handler
	eventChan chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

const (
	DefaultWorkerCount = 4    // 默认启动4个后台Worker
	DefaultChannelSize = 1024 // 默认事件通道缓冲区大小
)

// NewEventBus 创建并启动一个新的事件总线，workers 小于 1 时使用默认值
func NewEventBus(workers int) *EventBus {
	if workers < 1 {
		workers = DefaultWorkerCount
	}
	bus := &EventBus{
		handlers:  make(map[Topic][]Handler),
		eventChan: make(chan Event, DefaultChannelSize),
		closed:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		bus.wg.Add(1)
		go bus.worker(i + 1)
	}
	return bus
}

// worker 不断从通道中读取并处理事件，单个处理器 panic 不影响其他事件
func (b *EventBus) worker(workerID int) {
	defer b.wg.Done()
	for event := range b.eventChan {
		b.mu.RLock()
		handlers := append([]Handler(nil), b.handlers[event.Topic]...)
		b.mu.RUnlock()
		for _, handler := range handlers {
			b.dispatch(workerID, event, handler)
		}
	}
}

func (b *EventBus) dispatch(workerID int, event Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[EventBus] Worker %d: handler for topic '%s' panicked: %v", workerID, event.Topic, r)
		}
	}()
	handler(event.Payload)
}

// Subscribe 订阅一个事件
func (b *EventBus) Subscribe(topic Topic, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish 非阻塞地发布事件，通道已满或总线已关闭时丢弃并返回 false
func (b *EventBus) Publish(topic Topic, payload interface{}) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	select {
	case <-b.closed:
		return false
	default:
	}
	select {
	case b.eventChan <- Event{Topic: topic, Payload: payload}:
		return true
	default:
		log.Printf("[EventBus] WARN: Event channel is full. Dropping event for topic '%s'.", topic)
		return false
	}
}

// Shutdown 关闭事件总线并等待已入队的事件处理完毕，可重复调用
func (b *EventBus) Shutdown() {
	b.closeOnce.Do(func() {
		log.Println("[EventBus] Shutting down...")
		b.mu.Lock()
		close(b.closed)
		close(b.eventChan)
		b.mu.Unlock()
		b.wg.Wait()
		log.Println("[EventBus] All workers have stopped.")
	})
}
