// 文件: pkg/position/position.go
// 持仓簿: 按 ticker 记录带符号持仓、加权成本、已实现盈亏

package position

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"quant.com/pkg/order"
)

// ChangeType 一次成交对持仓的影响
type ChangeType int8

const (
	ChangeNone   ChangeType = iota
	ChangeOpen              // 新开仓
	ChangeAdd               // 同向加仓
	ChangeReduce            // 减仓
	ChangeClose             // 平仓
	ChangeFlip              // 反手
)

func (c ChangeType) String() string {
	switch c {
	case ChangeOpen:
		return "OPEN"
	case ChangeAdd:
		return "ADD"
	case ChangeReduce:
		return "REDUCE"
	case ChangeClose:
		return "CLOSE"
	case ChangeFlip:
		return "FLIP"
	default:
		return "NONE"
	}
}

// Position 单个 ticker 的持仓
type Position struct {
	Ticker       string
	Quantity     decimal.Decimal // 正多负空
	AveragePrice decimal.Decimal
	RealizedPnL  decimal.Decimal
	TotalFees    decimal.Decimal
}

func (p Position) Direction() order.Direction {
	return order.DirectionOf(p.Quantity)
}

func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Tracker 持仓簿 (账户级或基金级各一份)
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]*Position)}
}

// Apply 把成交记入持仓
func (t *Tracker) Apply(f order.Fill) ChangeType {
	if f.FillQuantity.IsZero() {
		return ChangeNone
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[f.Ticker]
	if !ok {
		pos = &Position{Ticker: f.Ticker}
		t.positions[f.Ticker] = pos
	}
	pos.TotalFees = pos.TotalFees.Add(f.Fee.Abs())
	return apply(pos, f.FillQuantity, f.FillPrice)
}

func apply(pos *Position, delta, price decimal.Decimal) ChangeType {
	// 新开仓
	if pos.Quantity.IsZero() {
		pos.Quantity = delta
		pos.AveragePrice = price
		return ChangeOpen
	}

	// 同向加仓: 加权成本
	if pos.Quantity.Sign() == delta.Sign() {
		oldValue := pos.Quantity.Abs().Mul(pos.AveragePrice)
		newValue := delta.Abs().Mul(price)
		pos.Quantity = pos.Quantity.Add(delta)
		pos.AveragePrice = oldValue.Add(newValue).Div(pos.Quantity.Abs())
		return ChangeAdd
	}

	// 反向: 先平掉 min(|持仓|, |成交|)
	closing := decimal.Min(pos.Quantity.Abs(), delta.Abs())
	pnl := price.Sub(pos.AveragePrice).Mul(closing)
	if pos.Quantity.Sign() < 0 {
		pnl = pnl.Neg()
	}
	pos.RealizedPnL = pos.RealizedPnL.Add(pnl)

	remaining := pos.Quantity.Add(delta)
	switch {
	case remaining.IsZero():
		pos.Quantity = decimal.Zero
		pos.AveragePrice = decimal.Zero
		return ChangeClose
	case remaining.Sign() == pos.Quantity.Sign():
		pos.Quantity = remaining
		return ChangeReduce
	default:
		pos.Quantity = remaining
		pos.AveragePrice = price
		return ChangeFlip
	}
}

// Get 持仓副本
func (t *Tracker) Get(ticker string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[ticker]
	if !ok {
		return Position{Ticker: ticker}, false
	}
	return *p, true
}

// Quantity 持仓数量，无持仓为 0
func (t *Tracker) Quantity(ticker string) decimal.Decimal {
	p, _ := t.Get(ticker)
	return p.Quantity
}

// All 所有非空持仓，按 ticker 排序
func (t *Tracker) All() []Position {
	t.mu.RLock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		if !p.Quantity.IsZero() {
			out = append(out, *p)
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// RealizedPnL 全部已实现盈亏
func (t *Tracker) RealizedPnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sum := decimal.Zero
	for _, p := range t.positions {
		sum = sum.Add(p.RealizedPnL)
	}
	return sum
}
