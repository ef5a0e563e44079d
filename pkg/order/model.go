// 文件: pkg/order/model.go
// 订单与成交的值类型
//
// Order 是不可变快照，唯一可变持有者是 PendingOrder。
// 读取一律拿到副本 (Clone)。

package order

import (
	"time"

	"github.com/shopspring/decimal"

	"quant.com/pkg/security"
)

// =============================================================================
// 订单方向
// =============================================================================

type Direction int8

const (
	Short Direction = -1
	Flat  Direction = 0
	Long  Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	}
	return "FLAT"
}

// DirectionOf 按带符号数量判断方向
func DirectionOf(qty decimal.Decimal) Direction {
	return Direction(qty.Sign())
}

// =============================================================================
// 订单类型
// =============================================================================

type OrderType int8

const (
	TypeMarket        OrderType = iota + 1 // 市价
	TypeLimit                              // 限价
	TypeStopMarket                         // 止损市价
	TypeStopLimit                          // 止损限价
	TypeMarketOnOpen                       // 开盘市价
	TypeMarketOnClose                      // 收盘市价
)

func (t OrderType) String() string {
	switch t {
	case TypeMarket:
		return "MARKET"
	case TypeLimit:
		return "LIMIT"
	case TypeStopMarket:
		return "STOP_MARKET"
	case TypeStopLimit:
		return "STOP_LIMIT"
	case TypeMarketOnOpen:
		return "MARKET_ON_OPEN"
	case TypeMarketOnClose:
		return "MARKET_ON_CLOSE"
	}
	return "UNKNOWN"
}

// =============================================================================
// 订单状态
// =============================================================================

type OrderState int8

const (
	StateNone            OrderState = iota
	StateNew                        // 已创建，未报
	StateSubmitted                  // 已报
	StatePartialFilled              // 部分成交
	StateFilled                     // 完全成交
	StateCancelPending              // 撤单中
	StateCancelled                  // 已撤销
	StateUpdateSubmitted            // 改单中
	StateInvalid                    // 校验失败
	StateError                      // 错误
)

func (s OrderState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateNew:
		return "NEW"
	case StateSubmitted:
		return "SUBMITTED"
	case StatePartialFilled:
		return "PARTIAL_FILLED"
	case StateFilled:
		return "FILLED"
	case StateCancelPending:
		return "CANCEL_PENDING"
	case StateCancelled:
		return "CANCELLED"
	case StateUpdateSubmitted:
		return "UPDATE_SUBMITTED"
	case StateInvalid:
		return "INVALID"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// IsClosed 终态: 不再接受成交和修改
func (s OrderState) IsClosed() bool {
	switch s {
	case StateFilled, StateCancelled, StateInvalid, StateError:
		return true
	}
	return false
}

// IsUpdatable 是否允许改单
func (s OrderState) IsUpdatable() bool {
	switch s {
	case StateFilled, StateCancelled, StatePartialFilled, StateInvalid, StateError:
		return false
	}
	return true
}

// =============================================================================
// 有效期 / 成交策略
// =============================================================================

type TimeInForce int8

const (
	GoodTillCancel TimeInForce = iota
	Day                        // 当日收盘失效
	GoodTillDate               // 到 ExpiresUTC 失效
)

type FillPolicy int8

const (
	FillAny       FillPolicy = iota // 允许部分成交
	FillAllOrNone                   // 全部成交或不成交
)

// =============================================================================
// Order
// =============================================================================

// Order 订单快照
type Order struct {
	ID        int64
	FundID    string // 空表示账户级订单
	Ticker    string
	Direction Direction
	Quantity  decimal.Decimal // 带符号: 正买负卖
	Type      OrderType

	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	StopTriggered bool // StopLimit 已触发止损价

	TimeInForce TimeInForce
	FillPolicy  FillPolicy
	BrokerIDs   []string

	State      OrderState
	CreatedUTC time.Time
	ExpiresUTC time.Time
	Comment    string
}

// Clone 深拷贝
func (o Order) Clone() Order {
	if o.BrokerIDs != nil {
		ids := make([]string, len(o.BrokerIDs))
		copy(ids, o.BrokerIDs)
		o.BrokerIDs = ids
	}
	return o
}

func (o Order) IsClosed() bool {
	return o.State.IsClosed()
}

// AbsoluteQuantity 无符号数量
func (o Order) AbsoluteQuantity() decimal.Decimal {
	return o.Quantity.Abs()
}

// =============================================================================
// Fill
// =============================================================================

// Fill 一次成交
type Fill struct {
	OrderID      int64
	FundID       string
	Ticker       string
	Direction    Direction
	FillPrice    decimal.Decimal
	FillQuantity decimal.Decimal // 带符号
	Fee          decimal.Decimal
	Currency     security.CurrencyType
	Exchange     string
	LocalTime    time.Time
	UTCTime      time.Time
	State        OrderState // 成交后订单状态
	Message      string
}

// Value 成交金额 = 数量 × 价格 (带符号)
func (f Fill) Value() decimal.Decimal {
	return f.FillQuantity.Mul(f.FillPrice)
}
