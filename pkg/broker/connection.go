// 文件: pkg/broker/connection.go
// 券商连接与券商模型接口

package broker

import (
	"context"
	"time"

	"quant.com/pkg/cash"
	"quant.com/pkg/market"
	"quant.com/pkg/order"
	"quant.com/pkg/security"
)

// Connection 券商连接
//
// 下单/撤单/改单返回 nil 表示券商已受理。
// 订单状态变化与余额变化经回调异步送达，可能来自任意 goroutine。
type Connection interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	SubmitOrder(po *order.PendingOrder) error
	CancelOrder(po *order.PendingOrder) error
	UpdateOrder(po *order.PendingOrder, u order.Update) error

	GetAccountFunds(ctx context.Context) ([]cash.CashPosition, error)

	OnOrderStateChange(fn func(order.TicketEvent))
	OnBalanceChange(fn func(cash.AccountAction))
}

// MarketDataProcessor 模拟券商在处理器之前消费行情
type MarketDataProcessor interface {
	ProcessMarketData(s market.Slice)
}

// Model 券商规则
type Model interface {
	CanSubmitOrder(sec *security.Security, o order.Order) (bool, string)
	CanUpdateOrder(sec *security.Security, o order.Order, u order.Update) (bool, string)
	IsOrderTypeSupported(t order.OrderType) bool

	GetMarginModel(sec *security.Security) MarginModel
	GetSettlementModel(sec *security.Security) SettlementModel
	GetMarginCallModel() MarginCallModel

	// DayTradingOrdersLeft 剩余日内回转次数，-1 表示不限
	DayTradingOrdersLeft(acct *Account, fills []order.Fill, utcNow time.Time) int
}
