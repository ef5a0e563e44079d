// 文件: pkg/order/ticket.go
// 订单请求信封: Submit / Cancel / Update
//
// Ticket 是一次性的请求/响应对象:
//   Unprocessed -> Processing -> {Processed | Error}
// 响应写入后 Done 通道关闭，调用方可 Wait。

package order

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// 枚举
// =============================================================================

type TicketType int8

const (
	TicketSubmit TicketType = iota + 1
	TicketCancel
	TicketUpdate
)

func (t TicketType) String() string {
	switch t {
	case TicketSubmit:
		return "SUBMIT"
	case TicketCancel:
		return "CANCEL"
	case TicketUpdate:
		return "UPDATE"
	}
	return "UNKNOWN"
}

type TicketState int8

const (
	TicketUnprocessed TicketState = iota
	TicketProcessing
	TicketProcessed
	TicketError
)

func (s TicketState) String() string {
	switch s {
	case TicketUnprocessed:
		return "UNPROCESSED"
	case TicketProcessing:
		return "PROCESSING"
	case TicketProcessed:
		return "PROCESSED"
	case TicketError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// =============================================================================
// 响应
// =============================================================================

// ResponseCode 处理结果错误码
type ResponseCode int16

const (
	CodeNone ResponseCode = iota
	CodeProcessingError
	CodeUnableToFindOrder
	CodeInvalidOrderStatus
	CodeOrderAlreadyExists
	CodeOrderQuantityZero
	CodeInsufficientBuyingPower
	CodeBrokerageModelRefusedToSubmitOrder
	CodeBrokerageModelRefusedToUpdateOrder
	CodeBrokerageFailedToSubmitOrder
	CodeBrokerageFailedToCancelOrder
	CodeBrokerageFailedToUpdateOrder
	CodeQuantFundBackfilling
	CodeInvalidRequest
)

var codeNames = map[ResponseCode]string{
	CodeNone:                               "None",
	CodeProcessingError:                    "ProcessingError",
	CodeUnableToFindOrder:                  "UnableToFindOrder",
	CodeInvalidOrderStatus:                 "InvalidOrderStatus",
	CodeOrderAlreadyExists:                 "OrderAlreadyExists",
	CodeOrderQuantityZero:                  "OrderQuantityZero",
	CodeInsufficientBuyingPower:            "InsufficientBuyingPower",
	CodeBrokerageModelRefusedToSubmitOrder: "BrokerageModelRefusedToSubmitOrder",
	CodeBrokerageModelRefusedToUpdateOrder: "BrokerageModelRefusedToUpdateOrder",
	CodeBrokerageFailedToSubmitOrder:       "BrokerageFailedToSubmitOrder",
	CodeBrokerageFailedToCancelOrder:       "BrokerageFailedToCancelOrder",
	CodeBrokerageFailedToUpdateOrder:       "BrokerageFailedToUpdateOrder",
	CodeQuantFundBackfilling:               "QuantFundBackfilling",
	CodeInvalidRequest:                     "InvalidRequest",
}

func (c ResponseCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "Unknown"
}

// Response 处理结果
type Response struct {
	OrderID   int64
	Code      ResponseCode
	Message   string
	Processed bool
}

func (r Response) IsError() bool {
	return r.Code != CodeNone
}

// Success 成功响应
func Success(orderID int64) Response {
	return Response{OrderID: orderID, Code: CodeNone, Processed: true}
}

// ErrorResponse 失败响应 (message 不能为空)
func ErrorResponse(orderID int64, code ResponseCode, message string) Response {
	if message == "" {
		message = code.String()
	}
	return Response{OrderID: orderID, Code: code, Message: message, Processed: true}
}

// =============================================================================
// TicketBase
// =============================================================================

// Ticket 三种请求的公共接口
type Ticket interface {
	Type() TicketType
	Base() *TicketBase
}

// TicketBase 请求公共部分
type TicketBase struct {
	FundID     string
	Ticker     string
	CreatedUTC time.Time

	mu       sync.Mutex
	orderID  int64
	state    TicketState
	response Response
	done     chan struct{}
	doneOnce sync.Once
}

func (b *TicketBase) init(fundID, ticker string, orderID int64, now time.Time) {
	b.FundID = fundID
	b.Ticker = ticker
	b.CreatedUTC = now
	b.orderID = orderID
	b.done = make(chan struct{})
}

// OrderID 关联订单 ID (新订单分配前为 -1)
func (b *TicketBase) OrderID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orderID
}

func (b *TicketBase) SetOrderID(id int64) {
	b.mu.Lock()
	b.orderID = id
	b.mu.Unlock()
}

func (b *TicketBase) State() TicketState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *TicketBase) Response() Response {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.response
}

// SetProcessing 入队前标记
func (b *TicketBase) SetProcessing() {
	b.mu.Lock()
	if b.state == TicketUnprocessed {
		b.state = TicketProcessing
	}
	b.mu.Unlock()
}

// Finish 写入最终状态和响应，只生效一次
func (b *TicketBase) Finish(state TicketState, resp Response) {
	b.doneOnce.Do(func() {
		b.mu.Lock()
		b.state = state
		if resp.OrderID == 0 {
			resp.OrderID = b.orderID
		}
		resp.Processed = true
		b.response = resp
		b.mu.Unlock()
		close(b.done)
	})
}

// Done 处理完成后关闭
func (b *TicketBase) Done() <-chan struct{} {
	return b.done
}

// Wait 阻塞到请求处理完成或 ctx 结束
//
// 只等待请求被处理 (已报/被拒)，不等待成交。
func (b *TicketBase) Wait(ctx context.Context) (Response, error) {
	select {
	case <-b.done:
		return b.Response(), nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// =============================================================================
// SubmitTicket
// =============================================================================

// SubmitTicket 下单请求
type SubmitTicket struct {
	TicketBase

	OrderType   OrderType
	Quantity    decimal.Decimal
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce TimeInForce
	FillPolicy  FillPolicy
	ExpiresUTC  time.Time
	Comment     string
}

// NewSubmitTicket 创建下单请求
func NewSubmitTicket(fundID, ticker string, typ OrderType, qty decimal.Decimal, now time.Time) *SubmitTicket {
	t := &SubmitTicket{OrderType: typ, Quantity: qty}
	t.init(fundID, ticker, -1, now)
	return t
}

func (t *SubmitTicket) Type() TicketType  { return TicketSubmit }
func (t *SubmitTicket) Base() *TicketBase { return &t.TicketBase }

// =============================================================================
// CancelTicket
// =============================================================================

// CancelTicket 撤单请求
type CancelTicket struct {
	TicketBase
	Comment string
}

func NewCancelTicket(fundID string, orderID int64, now time.Time) *CancelTicket {
	t := &CancelTicket{}
	t.init(fundID, "", orderID, now)
	return t
}

func (t *CancelTicket) Type() TicketType  { return TicketCancel }
func (t *CancelTicket) Base() *TicketBase { return &t.TicketBase }

// =============================================================================
// UpdateTicket
// =============================================================================

// Update 改单字段，未设置的字段保持不变
type Update struct {
	Quantity   decimal.NullDecimal
	LimitPrice decimal.NullDecimal
	StopPrice  decimal.NullDecimal
	Comment    *string
}

// IsEmpty 没有任何字段
func (u Update) IsEmpty() bool {
	return !u.Quantity.Valid && !u.LimitPrice.Valid && !u.StopPrice.Valid && u.Comment == nil
}

// UpdateTicket 改单请求
type UpdateTicket struct {
	TicketBase
	Update Update
}

func NewUpdateTicket(fundID string, orderID int64, u Update, now time.Time) *UpdateTicket {
	t := &UpdateTicket{Update: u}
	t.init(fundID, "", orderID, now)
	return t
}

func (t *UpdateTicket) Type() TicketType  { return TicketUpdate }
func (t *UpdateTicket) Base() *TicketBase { return &t.TicketBase }
