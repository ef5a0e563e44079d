// 文件: pkg/notify/event.go
// 组合对外事件
//
// 同一个 Event 可发往 NATS (subject = portfolio.events.<type>)、
// Kafka (topic = portfolio_events，按组合+基金分区)、WebSocket 前端。

package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quant.com/pkg/kafka"
	"quant.com/pkg/order"
)

// Kafka Topic / NATS Subject
const (
	TopicPortfolioEvents = "portfolio_events"
	SubjectPrefix        = "portfolio.events."
)

// EventType 事件类型
type EventType string

const (
	EventOrder           EventType = "order_event"
	EventFundInfo        EventType = "fund_info"
	EventPortfolioStatus EventType = "portfolio_status"
	EventDeadLetter      EventType = "dead_letter"
	EventWarning         EventType = "warning"
	EventMessageFailed   EventType = "message_failed"
	EventCashJournal     EventType = "cash_journal"
)

// Event 事件信封
type Event struct {
	ID          string          `json:"id"` // uuid，幂等键
	Type        EventType       `json:"type"`
	PortfolioID string          `json:"portfolio_id"`
	FundID      string          `json:"fund_id,omitempty"`
	UTCTime     time.Time       `json:"utc_time"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEvent 创建事件，payload 按 JSON 编码
func NewEvent(typ EventType, portfolioID, fundID string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:          uuid.NewString(),
		Type:        typ,
		PortfolioID: portfolioID,
		FundID:      fundID,
		UTCTime:     time.Now().UTC(),
		Payload:     data,
	}, nil
}

// Subject NATS subject
func (e *Event) Subject() string {
	return SubjectPrefix + string(e.Type)
}

// Decode 解出 payload
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// =============================================================================
// Event 实现 kafka.Message 接口
// =============================================================================

var _ kafka.Message = (*Event)(nil)

func (e *Event) Topic() string { return TopicPortfolioEvents }

// Key 同一基金的事件进同一分区
func (e *Event) Key() string { return e.PortfolioID + ":" + e.FundID }

func (e *Event) Value() ([]byte, error) { return json.Marshal(e) }

// =============================================================================
// Payload
// =============================================================================

// OrderPayload 订单事件
type OrderPayload struct {
	OrderID      int64            `json:"order_id"`
	BrokerID     string           `json:"broker_id,omitempty"`
	Ticker       string           `json:"ticker"`
	Type         string           `json:"type,omitempty"`
	State        string           `json:"state"`
	Quantity     decimal.Decimal  `json:"quantity"`
	FillQuantity *decimal.Decimal `json:"fill_quantity,omitempty"`
	FillPrice    *decimal.Decimal `json:"fill_price,omitempty"`
	Fee          *decimal.Decimal `json:"fee,omitempty"`
	Message      string           `json:"message,omitempty"`
	UTCTime      time.Time        `json:"utc_time"`

	// Event 完整事件，订单落库服务用
	Event order.TicketEvent `json:"event"`
}

// OrderPayloadOf 由订单事件构造
func OrderPayloadOf(e order.TicketEvent) OrderPayload {
	p := OrderPayload{
		OrderID:  e.OrderID,
		BrokerID: e.BrokerID,
		Ticker:   e.Ticker,
		State:    e.State.String(),
		Message:  e.Message,
		UTCTime:  e.UTCTime,
		Event:    e,
	}
	if e.Snapshot != nil {
		p.Type = e.Snapshot.Type.String()
		p.Quantity = e.Snapshot.Quantity
	}
	if e.Fill != nil {
		q, px, fee := e.Fill.FillQuantity, e.Fill.FillPrice, e.Fill.Fee
		p.FillQuantity, p.FillPrice, p.Fee = &q, &px, &fee
	}
	return p
}

// StatusPayload 组合状态
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// TextPayload 告警 / 消息处理失败
type TextPayload struct {
	Message string `json:"message"`
}

// DeadLetterPayload 无法处理的入站消息
type DeadLetterPayload struct {
	MessageID string          `json:"message_id"`
	Type      string          `json:"type"`
	Body      json.RawMessage `json:"body,omitempty"`
	Reason    string          `json:"reason"`
}
