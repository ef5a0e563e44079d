// 文件: pkg/order/event.go
// 订单状态事件 (券商回报 / 本地状态变化)

package order

import "time"

// TicketEvent 订单事件
type TicketEvent struct {
	OrderID  int64
	BrokerID string
	FundID   string
	Ticker   string
	State    OrderState
	Fill     *Fill // 仅 Filled / PartialFilled 时非空
	Message  string
	UTCTime  time.Time

	// Snapshot 事件发出时的订单快照，由处理器填充
	Snapshot *Order
}

// IsFill 是否成交事件
func (e TicketEvent) IsFill() bool {
	return e.Fill != nil && (e.State == StateFilled || e.State == StatePartialFilled)
}
