// 文件: pkg/market/broadcaster.go
// 行情广播 - 一批数据扇出给多个旁路订阅者 (前端推送、录制等)
//
// 订阅者慢时丢弃，不拖累主循环

package market

import (
	"sync"
	"sync/atomic"
)

// Broadcaster 扇出器
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []chan Slice
	closed      bool

	dropped atomic.Int64
}

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe 订阅，buffer<=0 取 1024
func (b *Broadcaster) Subscribe(buffer int) <-chan Slice {
	if buffer <= 0 {
		buffer = 1024
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Slice, buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Broadcast 非阻塞分发
func (b *Broadcaster) Broadcast(s Slice) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- s:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped 丢弃次数
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Close 关闭所有订阅通道
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
