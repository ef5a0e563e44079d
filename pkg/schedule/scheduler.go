// 文件: pkg/schedule/scheduler.go
// 定时动作调度器
//
// 实盘: 后台 goroutine 按 PokeInterval 用墙钟检查到期动作。
// 回测: 不启动后台循环，由主循环用数据时间调用 PumpPastDue。

package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

var ErrDuplicateAction = errors.New("scheduled action already exists")

// Config 调度器配置
type Config struct {
	PokeInterval time.Duration // 后台检查间隔
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{PokeInterval: time.Second}
}

// ActionFunc 动作，now 为触发时刻 (墙钟或数据时间)
type ActionFunc func(now time.Time) error

type action struct {
	name   string
	period time.Duration // 0 表示只执行一次
	next   time.Time
	fn     ActionFunc
	runs   int
}

// Scheduler 调度器
type Scheduler struct {
	cfg   Config
	clock func() time.Time

	mu      sync.Mutex
	actions map[string]*action

	runMu sync.Mutex // 串行执行动作

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// New 创建调度器
func New(cfg Config) *Scheduler {
	if cfg.PokeInterval <= 0 {
		cfg.PokeInterval = DefaultConfig().PokeInterval
	}
	return &Scheduler{
		cfg:     cfg,
		clock:   func() time.Time { return time.Now().UTC() },
		actions: make(map[string]*action),
	}
}

// SetClock 替换墙钟
func (s *Scheduler) SetClock(fn func() time.Time) {
	s.mu.Lock()
	s.clock = fn
	s.mu.Unlock()
}

// Add 注册动作，first 为首次触发时间，period 为 0 表示一次性
func (s *Scheduler) Add(name string, first time.Time, period time.Duration, fn ActionFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, name)
	}
	s.actions[name] = &action{name: name, period: period, next: first, fn: fn}
	return nil
}

// Remove 移除动作
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.actions[name]
	delete(s.actions, name)
	return ok
}

// Next 动作下次触发时间
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[name]
	if !ok {
		return time.Time{}, false
	}
	return a.next, true
}

// Len 已注册动作数
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// =============================================================================
// 执行
// =============================================================================

// PumpPastDue 执行所有 next <= now 的动作，返回执行个数
//
// 错过多个周期的动作只补执行一次，下次时间跳到 now 之后。
func (s *Scheduler) PumpPastDue(now time.Time) int {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	var due []*action
	for name, a := range s.actions {
		if a.next.After(now) {
			continue
		}
		due = append(due, &action{name: a.name, next: a.next, fn: a.fn})
		a.runs++
		if a.period <= 0 {
			delete(s.actions, name)
			continue
		}
		k := now.Sub(a.next)/a.period + 1
		a.next = a.next.Add(k * a.period)
		if !a.next.After(now) {
			a.next = now.Add(a.period)
		}
	}
	s.mu.Unlock()

	// 按计划时间、名称排序，结果可复现
	sort.Slice(due, func(i, j int) bool {
		if !due[i].next.Equal(due[j].next) {
			return due[i].next.Before(due[j].next)
		}
		return due[i].name < due[j].name
	})
	for _, a := range due {
		s.run(a, now)
	}
	return len(due)
}

func (s *Scheduler) run(a *action, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scheduler] action %s panic: %v", a.name, r)
		}
	}()
	if err := a.fn(now); err != nil {
		log.Printf("[Scheduler] action %s error: %v", a.name, err)
	}
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动后台检查 (实盘)
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pokeLoop(ctx, stopCh)
	log.Printf("[Scheduler] started, poke interval %s", s.cfg.PokeInterval)
}

func (s *Scheduler) pokeLoop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PokeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.clock()
			s.mu.Unlock()
			s.PumpPastDue(now)
		}
	}
}

// Stop 停止后台检查
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[Scheduler] stopped")
}
