// 文件: pkg/tracker/tracker.go
// 订单注册表
//
// - 订单号由内部原子计数器分配，单调递增
// - TryAddOrder 在注册表锁内判重插入
// - 终态订单移出后保留在有界的已关闭索引里
// - 历史成交有界保留 (按成交时间淘汰最旧)，只用于日内回转规则

package tracker

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"quant.com/pkg/order"
)

const (
	// MaxHistoricalFills 历史成交保留上限
	MaxHistoricalFills = 300
	// MaxClosedOrders 已关闭订单保留上限
	MaxClosedOrders = 1000
)

type fillKey struct {
	orderID int64
	utcNano int64
}

// Tracker 订单注册表
type Tracker struct {
	nextID atomic.Int64

	mu          sync.RWMutex
	orders      map[int64]*order.PendingOrder
	closed      map[int64]*order.PendingOrder
	closedQueue []int64

	fillMu sync.Mutex
	fills  map[fillKey]order.Fill
}

// New 创建注册表
func New() *Tracker {
	return &Tracker{
		orders: make(map[int64]*order.PendingOrder),
		closed: make(map[int64]*order.PendingOrder),
		fills:  make(map[fillKey]order.Fill),
	}
}

// =============================================================================
// 订单号
// =============================================================================

// NextOrderID 分配下一个订单号 (从 1 开始)
func (t *Tracker) NextOrderID() int64 {
	return t.nextID.Add(1)
}

// LastOrderID 最近分配的订单号，未分配过为 0
func (t *Tracker) LastOrderID() int64 {
	return t.nextID.Load()
}

// =============================================================================
// 注册与查询
// =============================================================================

// TryAddOrder 注册订单，订单号已存在返回 false
func (t *Tracker) TryAddOrder(po *order.PendingOrder) bool {
	id := po.ID()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orders[id]; ok {
		return false
	}
	if _, ok := t.closed[id]; ok {
		return false
	}
	t.orders[id] = po
	return true
}

// TryGetOrder 查找在途订单
func (t *Tracker) TryGetOrder(id int64) (*order.PendingOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	po, ok := t.orders[id]
	return po, ok
}

// Find 查找订单，包括已关闭的
func (t *Tracker) Find(id int64) (*order.PendingOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if po, ok := t.orders[id]; ok {
		return po, true
	}
	po, ok := t.closed[id]
	return po, ok
}

// TryRemoveOrder 移出注册表，终态订单转入已关闭索引
func (t *Tracker) TryRemoveOrder(id int64) (*order.PendingOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	po, ok := t.orders[id]
	if !ok {
		return nil, false
	}
	delete(t.orders, id)
	if po.State().IsClosed() {
		t.retainLocked(po)
	}
	return po, true
}

func (t *Tracker) retainLocked(po *order.PendingOrder) {
	id := po.ID()
	if _, ok := t.closed[id]; ok {
		return
	}
	t.closed[id] = po
	t.closedQueue = append(t.closedQueue, id)
	for len(t.closedQueue) > MaxClosedOrders {
		delete(t.closed, t.closedQueue[0])
		t.closedQueue = t.closedQueue[1:]
	}
}

// GetOrderByBrokerID 按券商订单号查找
func (t *Tracker) GetOrderByBrokerID(brokerID string) (*order.PendingOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range []map[int64]*order.PendingOrder{t.orders, t.closed} {
		for _, po := range m {
			for _, bid := range po.Order().BrokerIDs {
				if bid == brokerID {
					return po, true
				}
			}
		}
	}
	return nil, false
}

// OpenOrders 未进入终态的订单，按订单号升序
func (t *Tracker) OpenOrders() []*order.PendingOrder {
	t.mu.RLock()
	out := make([]*order.PendingOrder, 0, len(t.orders))
	for _, po := range t.orders {
		if !po.State().IsClosed() {
			out = append(out, po)
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Orders 满足条件的订单快照 (含已关闭)，按订单号升序
func (t *Tracker) Orders(pred func(order.Order) bool) []order.Order {
	t.mu.RLock()
	out := make([]order.Order, 0, len(t.orders))
	for _, m := range []map[int64]*order.PendingOrder{t.orders, t.closed} {
		for _, po := range m {
			o := po.Order()
			if pred == nil || pred(o) {
				out = append(out, o)
			}
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count 在途订单数
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

// =============================================================================
// 历史成交
// =============================================================================

// AddHistoricalFill 记录成交
func (t *Tracker) AddHistoricalFill(f order.Fill) {
	t.fillMu.Lock()
	t.fills[fillKey{orderID: f.OrderID, utcNano: f.UTCTime.UnixNano()}] = f
	t.fillMu.Unlock()
}

// HistoricalFills 按成交时间升序
func (t *Tracker) HistoricalFills() []order.Fill {
	t.fillMu.Lock()
	out := make([]order.Fill, 0, len(t.fills))
	for _, f := range t.fills {
		out = append(out, f)
	}
	t.fillMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UTCTime.Equal(out[j].UTCTime) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].UTCTime.Before(out[j].UTCTime)
	})
	return out
}

// =============================================================================
// 清理
// =============================================================================

// Cleanup 移出终态订单，裁剪历史成交
func (t *Tracker) Cleanup() {
	t.mu.Lock()
	removed := 0
	for id, po := range t.orders {
		if po.State().IsClosed() {
			delete(t.orders, id)
			t.retainLocked(po)
			removed++
		}
	}
	t.mu.Unlock()

	trimmed := t.trimFills()
	if removed > 0 || trimmed > 0 {
		log.Printf("[OrderTracker] cleanup: removed %d closed orders, trimmed %d fills", removed, trimmed)
	}
}

func (t *Tracker) trimFills() int {
	t.fillMu.Lock()
	defer t.fillMu.Unlock()

	excess := len(t.fills) - MaxHistoricalFills
	if excess <= 0 {
		return 0
	}
	keys := make([]fillKey, 0, len(t.fills))
	for k := range t.fills {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].utcNano == keys[j].utcNano {
			return keys[i].orderID < keys[j].orderID
		}
		return keys[i].utcNano < keys[j].utcNano
	})
	for _, k := range keys[:excess] {
		delete(t.fills, k)
	}
	return excess
}
