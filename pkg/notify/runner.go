// 文件: pkg/notify/runner.go
// 事件发布后台 goroutine
//
// 主循环只把事件放进队列，由 Runner 依次发给各个 Sink。
// Publish 队列满时丢弃并计数；PublishCritical 阻塞直到入队。

package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

var ErrRunnerStopped = errors.New("event runner stopped")

// Sink 事件出口
type Sink interface {
	Name() string
	Send(ctx context.Context, e *Event) error
}

// SinkFunc 函数适配为 Sink
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, e *Event) error
}

func (s SinkFunc) Name() string                             { return s.SinkName }
func (s SinkFunc) Send(ctx context.Context, e *Event) error { return s.Fn(ctx, e) }

// RunnerConfig 配置
type RunnerConfig struct {
	QueueSize    int
	SendTimeout  time.Duration // 单个 Sink 单次发送超时
	DrainTimeout time.Duration // Stop 等待队列清空的上限
}

// DefaultRunnerConfig 默认配置
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		QueueSize:    4096,
		SendTimeout:  5 * time.Second,
		DrainTimeout: 5 * time.Second,
	}
}

// RunnerStats 统计
type RunnerStats struct {
	Published int64
	Dropped   int64
	Failed    int64
}

// Runner 事件发布器
type Runner struct {
	cfg   RunnerConfig
	queue chan *Event

	sinkMu sync.RWMutex
	sinks  []Sink

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRunner 创建发布器
func NewRunner(cfg RunnerConfig, sinks ...Sink) *Runner {
	def := DefaultRunnerConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Runner{
		cfg:    cfg,
		queue:  make(chan *Event, cfg.QueueSize),
		sinks:  sinks,
		stopCh: make(chan struct{}),
	}
}

// AddSink 注册出口
func (r *Runner) AddSink(s Sink) {
	r.sinkMu.Lock()
	r.sinks = append(r.sinks, s)
	r.sinkMu.Unlock()
}

// Start 启动发布 goroutine
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case e := <-r.queue:
			r.deliver(ctx, e)
		}
	}
}

func (r *Runner) deliver(ctx context.Context, e *Event) {
	r.sinkMu.RLock()
	sinks := r.sinks
	r.sinkMu.RUnlock()

	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		if err := s.Send(sctx, e); err != nil {
			r.failed.Add(1)
			log.Printf("[EventRunner] sink %s failed: event=%s type=%s err=%v", s.Name(), e.ID, e.Type, err)
		}
		cancel()
	}
	r.published.Add(1)
}

// Publish 非阻塞入队，队列满返回 false
func (r *Runner) Publish(e *Event) bool {
	select {
	case <-r.stopCh:
		r.dropped.Add(1)
		return false
	default:
	}
	select {
	case r.queue <- e:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// PublishCritical 阻塞入队，用于状态变化等不能丢的事件
func (r *Runner) PublishCritical(ctx context.Context, e *Event) error {
	select {
	case r.queue <- e:
		return nil
	case <-r.stopCh:
		return ErrRunnerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 等待队列清空 (最多 DrainTimeout) 后停止
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		deadline := time.Now().Add(r.cfg.DrainTimeout)
		for len(r.queue) > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		close(r.stopCh)
		r.wg.Wait()
		if n := len(r.queue); n > 0 {
			log.Printf("[EventRunner] stopped with %d undelivered events", n)
		}
	})
}

// Stats 统计
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
	}
}
