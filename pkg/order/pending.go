// 文件: pkg/order/pending.go
// PendingOrder: 单个订单的可变聚合根
//
// 持有 Order、成交列表、改单请求列表。所有修改都走 mu，
// 订单进入终态后一切修改返回 ErrOrderClosed。

package order

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"quant.com/pkg/security"
)

var (
	ErrOrderClosed            = errors.New("order is closed")
	ErrInvalidOrderParameters = errors.New("invalid order parameters")
	ErrFillTicker             = errors.New("fill ticker does not match order")
)

// appliedUpdate 已接收的改单 (原请求 + 取整后字段)
type appliedUpdate struct {
	ticket  *UpdateTicket
	rounded Update
}

// PendingOrder 在途订单
type PendingOrder struct {
	mu        sync.RWMutex
	order     Order
	security  *security.Security
	fills     []Fill
	updates   []appliedUpdate
	simulated bool
}

// NewPendingOrder 包装订单
func NewPendingOrder(o Order, sec *security.Security) *PendingOrder {
	return &PendingOrder{order: o.Clone(), security: sec}
}

// =============================================================================
// 读
// =============================================================================

// Order 订单副本
func (p *PendingOrder) Order() Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.order.Clone()
}

func (p *PendingOrder) ID() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.order.ID
}

func (p *PendingOrder) State() OrderState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.order.State
}

func (p *PendingOrder) Security() *security.Security {
	return p.security
}

// IsSimulated 券商不支持该类型，由本地根据行情触发
func (p *PendingOrder) IsSimulated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.simulated
}

func (p *PendingOrder) SetSimulated(v bool) {
	p.mu.Lock()
	p.simulated = v
	p.mu.Unlock()
}

// Fills 成交副本
func (p *PendingOrder) Fills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// FilledQuantity 已成交数量 (带符号)
func (p *PendingOrder) FilledQuantity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filledLocked()
}

func (p *PendingOrder) filledLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, f := range p.fills {
		sum = sum.Add(f.FillQuantity)
	}
	return sum
}

// RemainingQuantity 未成交数量 (带符号)
func (p *PendingOrder) RemainingQuantity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.order.Quantity.Sub(p.filledLocked())
}

// AverageFillPrice 按数量加权的成交均价，无成交返回 0
func (p *PendingOrder) AverageFillPrice() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	notional := decimal.Zero
	qty := decimal.Zero
	for _, f := range p.fills {
		q := f.FillQuantity.Abs()
		notional = notional.Add(f.FillPrice.Mul(q))
		qty = qty.Add(q)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// Value 未成交部分市值 (无符号)，按账户币种计价
func (p *PendingOrder) Value(accountCurrency security.CurrencyType) decimal.Decimal {
	remaining := p.RemainingQuantity().Abs()
	if p.security == nil {
		return decimal.Zero
	}
	v := remaining.Mul(p.security.Price())
	return p.security.ConvertValue(v, accountCurrency)
}

// Updates 收到的改单请求
func (p *PendingOrder) Updates() []*UpdateTicket {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*UpdateTicket, 0, len(p.updates))
	for _, u := range p.updates {
		out = append(out, u.ticket)
	}
	return out
}

// LastUpdate 最近一次改单 (取整后字段)
func (p *PendingOrder) LastUpdate() (Update, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.updates) == 0 {
		return Update{}, false
	}
	return p.updates[len(p.updates)-1].rounded, true
}

// =============================================================================
// 写
// =============================================================================

// UpdateOrder 受保护的修改入口
func (p *PendingOrder) UpdateOrder(fn func(o *Order)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.order.State.IsClosed() {
		return ErrOrderClosed
	}
	id := p.order.ID
	fn(&p.order)
	p.order.ID = id
	return nil
}

// SetState 设置状态
func (p *PendingOrder) SetState(s OrderState) error {
	return p.UpdateOrder(func(o *Order) { o.State = s })
}

// TransitionIf 当前状态为 from 时切到 to
func (p *PendingOrder) TransitionIf(from, to OrderState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.order.State != from || p.order.State.IsClosed() {
		return false
	}
	p.order.State = to
	return true
}

// AddBrokerID 券商确认后追加券商订单号
func (p *PendingOrder) AddBrokerID(id string) error {
	return p.UpdateOrder(func(o *Order) { o.BrokerIDs = append(o.BrokerIDs, id) })
}

// AddUpdate 记录改单请求
func (p *PendingOrder) AddUpdate(t *UpdateTicket, rounded Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.order.State.IsClosed() {
		return ErrOrderClosed
	}
	p.updates = append(p.updates, appliedUpdate{ticket: t, rounded: rounded})
	return nil
}

// ApplyUpdate 把改单字段写入订单
func (p *PendingOrder) ApplyUpdate(u Update) error {
	return p.UpdateOrder(func(o *Order) {
		if u.Quantity.Valid {
			o.Quantity = u.Quantity.Decimal
			o.Direction = DirectionOf(o.Quantity)
		}
		if u.LimitPrice.Valid {
			o.LimitPrice = u.LimitPrice.Decimal
		}
		if u.StopPrice.Valid {
			o.StopPrice = u.StopPrice.Decimal
		}
		if u.Comment != nil {
			o.Comment = *u.Comment
		}
	})
}

// ApplyFill 追加成交并推进状态
//
// fill.State 为空时按累计数量推断 Filled / PartialFilled。
// 返回追加后的 fill (State 已补全)。
func (p *PendingOrder) ApplyFill(f Fill) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.order.State.IsClosed() {
		return f, ErrOrderClosed
	}
	if f.Ticker != "" && f.Ticker != p.order.Ticker {
		return f, ErrFillTicker
	}

	f.OrderID = p.order.ID
	f.FundID = p.order.FundID
	f.Ticker = p.order.Ticker
	if f.Direction == Flat {
		f.Direction = DirectionOf(f.FillQuantity)
	}
	p.fills = append(p.fills, f)

	if f.State != StateFilled && f.State != StatePartialFilled {
		if p.filledLocked().Abs().GreaterThanOrEqual(p.order.Quantity.Abs()) {
			f.State = StateFilled
		} else {
			f.State = StatePartialFilled
		}
		p.fills[len(p.fills)-1].State = f.State
	}
	p.order.State = f.State
	return f, nil
}
