package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzhiyu-c/anheyu-markup/internal/pkg/event"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type funcJob struct {
	name string
	run  func()
}

func (j funcJob) Run()         { j.run() }
func (j funcJob) Name() string { return j.name }

type renderFunc func(ctx context.Context, content string) (string, error)

func (f renderFunc) ToHTML(ctx context.Context, content string) (string, error) { return f(ctx, content) }

func TestBroker_Dispatch(t *testing.T) {
	b := NewBroker(nil, discard, 2)

	var ran atomic.Int32
	assert.True(t, b.Dispatch(funcJob{name: "panic", run: func() { panic("boom") }}))
	for i := 0; i < 5; i++ {
		assert.True(t, b.Dispatch(funcJob{name: "count", run: func() { ran.Add(1) }}))
	}

	var rendered atomic.Value
	assert.True(t, b.DispatchPrerender(renderFunc(func(_ context.Context, content string) (string, error) {
		rendered.Store(content)
		return "", errors.New("ignored")
	}), "p1", "正文"))

	b.Stop()
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, "正文", rendered.Load())

	assert.False(t, b.Dispatch(funcJob{name: "late", run: func() {}}))
	b.Stop()
}

func TestBroker_RegisterCronJobs(t *testing.T) {
	bus := event.NewEventBus(1)
	defer bus.Shutdown()

	testCases := []struct {
		name    string
		bus     *event.EventBus
		spec    string
		wantErr bool
	}{
		{name: "合法表达式", bus: bus, spec: "0 */10 * * * *"},
		{name: "空表达式不注册", bus: bus, spec: ""},
		{name: "无事件总线不注册", bus: nil, spec: "0 */10 * * * *"},
		{name: "非法表达式", bus: bus, spec: "every ten minutes", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBroker(tc.bus, discard, 1)
			defer b.Stop()
			err := b.RegisterCronJobs(tc.spec, "providers.yaml")
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMedialinkRefreshJob(t *testing.T) {
	bus := event.NewEventBus(1)
	got := make(chan event.MedialinkPayload, 1)
	bus.Subscribe(event.MedialinkUpdated, func(payload interface{}) {
		got <- payload.(event.MedialinkPayload)
	})

	job := NewMedialinkRefreshJob(bus, "conf/providers.yaml")
	assert.Equal(t, "MedialinkRefreshJob", getJobName(job))
	job.Run()
	bus.Shutdown()

	select {
	case p := <-got:
		assert.Equal(t, "conf/providers.yaml", p.Path)
		assert.Equal(t, "schedule", p.Reason)
	default:
		t.Fatal("未收到刷新事件")
	}
}

func TestGetJobName(t *testing.T) {
	assert.Equal(t, "named", getJobName(funcJob{name: "named"}))
	assert.Equal(t, "cron.FuncJob", getJobName(cron.FuncJob(func() {})))
}

func TestConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: {}\n"), 0644))

	bus := event.NewEventBus(1)
	defer bus.Shutdown()
	var count atomic.Int32
	bus.Subscribe(event.MedialinkUpdated, func(payload interface{}) {
		if p, ok := payload.(event.MedialinkPayload); ok && p.Reason == "file" {
			count.Add(1)
		}
	})

	w, err := NewConfigWatcher(path, bus, discard, 50*time.Millisecond)
	require.NoError(t, err)
	w.Start()
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("b: {}\n"), 0644))
	}

	assert.Eventually(t, func() bool { return count.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestNewConfigWatcher_Invalid(t *testing.T) {
	bus := event.NewEventBus(1)
	defer bus.Shutdown()

	_, err := NewConfigWatcher("", bus, discard, 0)
	assert.Error(t, err)
	_, err = NewConfigWatcher(filepath.Join(t.TempDir(), "missing", "providers.yaml"), bus, discard, 0)
	assert.Error(t, err)
}
