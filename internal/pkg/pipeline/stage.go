/*
 * @Description: 渲染流水线的阶段与订阅
 * @Author: 安知鱼
 * @Date: 2025-11-17 09:51:00
 * @LastEditTime: 2025-11-20 13:03:39
 * @LastEditors: 安知鱼
 */
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Stage 渲染流水线的阶段
type Stage int

const (
	StageRender Stage = iota
	StageAST2HTML
	StageAST2Preview
	StageAST2Length
	StageHTML2Preview

	stageCount
)

var stageNames = [...]string{"render", "ast2html", "ast2preview", "ast2length", "html2preview"}

func (s Stage) String() string {
	if s < 0 || s >= stageCount {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage 根据名称查找阶段
func ParseStage(name string) (Stage, bool) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), true
		}
	}
	return 0, false
}

// Phase 阶段内的执行段
type Phase int

const (
	PhaseBefore Phase = iota
	PhaseOn
	PhaseAfter
)

func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseOn:
		return "on"
	case PhaseAfter:
		return "after"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Handler 阶段处理函数。返回错误会中止当前阶段剩余的处理函数。
type Handler func(ctx context.Context, data *Data) error

// Subscription 一个插件在某个阶段上的订阅
type Subscription struct {
	Plugin   string
	Stage    Stage
	Phase    Phase
	Priority int
	Once     bool
	Handler  Handler

	seq int
	// mu 串行化 once 处理函数，done 只在成功执行后置位
	mu   sync.Mutex
	done bool
}

// StageError 记录某个阶段中失败的处理函数
type StageError struct {
	Stage  Stage
	Plugin string
	Err    error
}

func (e *StageError) Error() string {
	if e.Plugin == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s, plugin %s: %v", e.Stage, e.Plugin, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// bus 按阶段预先排好序的订阅表，构建后只读
type bus struct {
	plan [stageCount][]*Subscription
}

func newBus(subs []*Subscription) *bus {
	b := &bus{}
	for _, s := range subs {
		if s.Stage < 0 || s.Stage >= stageCount {
			continue
		}
		b.plan[s.Stage] = append(b.plan[s.Stage], s)
	}
	for i := range b.plan {
		list := b.plan[i]
		sort.SliceStable(list, func(a, c int) bool {
			if list[a].Phase != list[c].Phase {
				return list[a].Phase < list[c].Phase
			}
			if list[a].Priority != list[c].Priority {
				return list[a].Priority < list[c].Priority
			}
			return list[a].seq < list[c].seq
		})
	}
	return b
}

// run 顺序执行某个阶段的全部订阅
func (b *bus) run(ctx context.Context, stage Stage, data *Data) error {
	data.Stage = stage
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	for _, s := range b.plan[stage] {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: stage, Err: err}
		}
		if err := s.invoke(ctx, data); err != nil {
			return &StageError{Stage: stage, Plugin: s.Plugin, Err: err}
		}
	}
	return nil
}

// invoke 执行处理函数。并发调用同一个 once 订阅时只有一个会真正执行，
// 失败后下一次调用会重试。
func (s *Subscription) invoke(ctx context.Context, data *Data) error {
	if !s.Once {
		return s.Handler(ctx, data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	if err := s.Handler(ctx, data); err != nil {
		return err
	}
	s.done = true
	return nil
}

// isCanceled 阶段错误是否由调用方取消引起
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
