// 文件: pkg/execution/handler.go
// 订单请求处理器
//
// 【职责】
// 1. Process: 同步入口，做前置校验，把请求放进有界队列
// 2. Execute: 唯一的工作 goroutine 按 FIFO 取出请求，与券商交互
// 3. 对账: 券商回报 (订单状态 / 余额) 写回 PendingOrder 与现金
// 4. 模拟条件单: 券商不支持的类型按行情本地触发
//
// 同一账户的所有券商调用都在工作 goroutine 上串行执行。

package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"quant.com/pkg/broker"
	"quant.com/pkg/order"
	"quant.com/pkg/tracker"
)

// =============================================================================
// 配置
// =============================================================================

// Config 处理器配置
type Config struct {
	QueueSize    int           // 请求队列容量
	DrainTimeout time.Duration // Stop 等待队列清空的上限
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		QueueSize:    10000,
		DrainTimeout: time.Minute,
	}
}

// Fund 处理器关心的基金状态
type Fund interface {
	ID() string
	IsBackfilling() bool
}

// FundLookup 按 ID 查找基金
type FundLookup func(fundID string) (Fund, bool)

// =============================================================================
// Handler
// =============================================================================

// Handler 订单请求处理器
type Handler struct {
	cfg     Config
	conn    broker.Connection
	model   broker.Model
	acct    *broker.Account
	tracker *tracker.Tracker
	funds   FundLookup
	clock   func() time.Time

	queue    chan order.Ticket
	inFlight atomic.Int32
	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	hookMu    sync.RWMutex
	onEvent   []func(order.TicketEvent)
	onWarning []func(fundID, message string)

	lotWarned sync.Map // ticker -> struct{}
	syncMu    sync.Mutex
}

// New 创建处理器，并订阅券商回报
func New(cfg Config, conn broker.Connection, model broker.Model, acct *broker.Account, tr *tracker.Tracker, funds FundLookup) *Handler {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	if funds == nil {
		funds = func(string) (Fund, bool) { return nil, false }
	}

	h := &Handler{
		cfg:     cfg,
		conn:    conn,
		model:   model,
		acct:    acct,
		tracker: tr,
		funds:   funds,
		clock:   func() time.Time { return time.Now().UTC() },
		queue:   make(chan order.Ticket, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	conn.OnOrderStateChange(h.HandleOrderTicketEvent)
	conn.OnBalanceChange(h.HandleBalanceChange)
	return h
}

// SetClock 替换时钟 (回测用数据时间)
func (h *Handler) SetClock(fn func() time.Time) {
	h.clock = fn
}

func (h *Handler) now() time.Time {
	return h.clock()
}

// OnOrderEvent 注册订单事件回调
func (h *Handler) OnOrderEvent(fn func(order.TicketEvent)) {
	h.hookMu.Lock()
	h.onEvent = append(h.onEvent, fn)
	h.hookMu.Unlock()
}

// OnWarning 注册告警回调 (取整提示等)
func (h *Handler) OnWarning(fn func(fundID, message string)) {
	h.hookMu.Lock()
	h.onWarning = append(h.onWarning, fn)
	h.hookMu.Unlock()
}

func (h *Handler) emit(e order.TicketEvent) {
	if e.UTCTime.IsZero() {
		e.UTCTime = h.now()
	}
	h.hookMu.RLock()
	hooks := h.onEvent
	h.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(e)
	}
}

// emitOrder 带订单快照发出事件
func (h *Handler) emitOrder(po *order.PendingOrder, state order.OrderState, message string) {
	o := po.Order()
	h.emit(order.TicketEvent{
		OrderID:  o.ID,
		FundID:   o.FundID,
		Ticker:   o.Ticker,
		State:    state,
		Message:  message,
		Snapshot: &o,
	})
}

func (h *Handler) warn(fundID, message string) {
	log.Printf("[OrderTicketHandler] warning: fund=%q %s", fundID, message)
	h.hookMu.RLock()
	hooks := h.onWarning
	h.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(fundID, message)
	}
}

// Tracker 订单注册表
func (h *Handler) Tracker() *tracker.Tracker { return h.tracker }

// Account 券商账户
func (h *Handler) Account() *broker.Account { return h.acct }

// Model 券商模型
func (h *Handler) Model() broker.Model { return h.model }

// =============================================================================
// 入口
// =============================================================================

// Process 同步入口
//
// 前置校验失败的请求直接以 Error 结束，不入队。
// 入队的请求状态为 Processing，由工作 goroutine 写回结果。
// 队列满时以 ProcessingError 结束，不阻塞调用方。
func (h *Handler) Process(t order.Ticket) order.Ticket {
	b := t.Base()

	if fund, ok := h.funds(b.FundID); ok && fund.IsBackfilling() {
		return h.reject(t, order.CodeQuantFundBackfilling,
			fmt.Sprintf("fund %s is backfilling, %s ticket rejected", b.FundID, t.Type()))
	}

	switch tt := t.(type) {
	case *order.SubmitTicket:
		return h.enqueue(t)

	case *order.CancelTicket:
		po, resp, ok := h.lookupOpen(tt.OrderID())
		if !ok {
			return h.finishError(t, resp)
		}
		prev := po.State()
		if err := po.SetState(order.StateCancelPending); err != nil {
			return h.reject(t, order.CodeInvalidOrderStatus, fmt.Sprintf("order %d is already closed", tt.OrderID()))
		}
		// 先乐观通知，券商结果由工作 goroutine 处理
		h.emitOrder(po, order.StateCancelled, "cancel requested")
		if h.enqueue(t).Base().State() == order.TicketError {
			po.TransitionIf(order.StateCancelPending, prev)
			h.emitOrder(po, order.StateError, t.Base().Response().Message)
		}
		return t

	case *order.UpdateTicket:
		if _, resp, ok := h.lookupOpen(tt.OrderID()); !ok {
			return h.finishError(t, resp)
		}
		if tt.Update.IsEmpty() {
			return h.reject(t, order.CodeInvalidRequest, fmt.Sprintf("update for order %d has no fields", tt.OrderID()))
		}
		return h.enqueue(t)

	default:
		return h.reject(t, order.CodeInvalidRequest, fmt.Sprintf("unsupported ticket type %s", t.Type()))
	}
}

// lookupOpen 查找未进入终态的订单
func (h *Handler) lookupOpen(id int64) (*order.PendingOrder, order.Response, bool) {
	po, ok := h.tracker.Find(id)
	if !ok {
		return nil, order.ErrorResponse(id, order.CodeUnableToFindOrder, fmt.Sprintf("unable to find order %d", id)), false
	}
	if st := po.State(); st.IsClosed() {
		return nil, order.ErrorResponse(id, order.CodeInvalidOrderStatus, fmt.Sprintf("order %d is %s", id, st)), false
	}
	return po, order.Response{}, true
}

func (h *Handler) reject(t order.Ticket, code order.ResponseCode, message string) order.Ticket {
	return h.finishError(t, order.ErrorResponse(t.Base().OrderID(), code, message))
}

func (h *Handler) finishError(t order.Ticket, resp order.Response) order.Ticket {
	log.Printf("[OrderTicketHandler] %s ticket rejected: order=%d code=%s msg=%s",
		t.Type(), resp.OrderID, resp.Code, resp.Message)
	t.Base().Finish(order.TicketError, resp)
	return t
}

// enqueue 非阻塞入队，队列满直接拒绝
//
// 订单事件回调可能在工作 goroutine 上调用 Process，这里不能阻塞。
func (h *Handler) enqueue(t order.Ticket) order.Ticket {
	t.Base().SetProcessing()
	select {
	case <-h.done:
		return h.reject(t, order.CodeProcessingError, "order handler stopped")
	default:
	}

	select {
	case h.queue <- t:
		return t
	default:
		return h.reject(t, order.CodeProcessingError,
			fmt.Sprintf("order queue full (%d tickets)", cap(h.queue)))
	}
}

// =============================================================================
// 工作 goroutine
// =============================================================================

// Start 启动工作 goroutine
func (h *Handler) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.Execute(ctx)
	}()
}

// Execute 按 FIFO 处理请求直到 ctx 取消
func (h *Handler) Execute(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-h.queue:
			h.inFlight.Add(1)
			resp := h.dispatch(t)
			t.Base().Finish(order.TicketProcessed, resp)
			h.inFlight.Add(-1)
		}
	}
}

func (h *Handler) dispatch(t order.Ticket) (resp order.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[OrderTicketHandler] panic processing %s ticket: %v", t.Type(), r)
			resp = order.ErrorResponse(t.Base().OrderID(), order.CodeProcessingError, fmt.Sprintf("processing error: %v", r))
		}
	}()

	switch tt := t.(type) {
	case *order.SubmitTicket:
		return h.submitOrder(tt)
	case *order.CancelTicket:
		return h.cancelOrder(tt)
	case *order.UpdateTicket:
		return h.updateOrder(tt)
	default:
		return order.ErrorResponse(t.Base().OrderID(), order.CodeInvalidRequest, "unsupported ticket type")
	}
}

// Stop 等待队列清空 (最多 DrainTimeout)，然后取消工作 goroutine
func (h *Handler) Stop() {
	h.stopOnce.Do(func() {
		deadline := time.Now().Add(h.cfg.DrainTimeout)
		for (len(h.queue) > 0 || h.inFlight.Load() > 0) && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		close(h.done)
		if h.cancel != nil {
			h.cancel()
		}
		h.wg.Wait()

		dropped := 0
		for {
			select {
			case t := <-h.queue:
				t.Base().Finish(order.TicketError,
					order.ErrorResponse(t.Base().OrderID(), order.CodeProcessingError, "order handler stopped"))
				dropped++
			default:
				if dropped > 0 {
					log.Printf("[OrderTicketHandler] stopped with %d unprocessed tickets", dropped)
				}
				return
			}
		}
	})
}

// QueueLen 待处理请求数
func (h *Handler) QueueLen() int { return len(h.queue) }

// =============================================================================
// 查询
// =============================================================================

// GetOpenOrders 在途订单快照
func (h *Handler) GetOpenOrders() []order.Order {
	pos := h.tracker.OpenOrders()
	out := make([]order.Order, 0, len(pos))
	for _, po := range pos {
		out = append(out, po.Order())
	}
	return out
}

// GetOrderByID 按订单号查找 (含已关闭)
func (h *Handler) GetOrderByID(id int64) (order.Order, bool) {
	po, ok := h.tracker.Find(id)
	if !ok {
		return order.Order{}, false
	}
	return po.Order(), true
}

// GetOrderByBrokerID 按券商订单号查找
func (h *Handler) GetOrderByBrokerID(brokerID string) (order.Order, bool) {
	po, ok := h.tracker.GetOrderByBrokerID(brokerID)
	if !ok {
		return order.Order{}, false
	}
	return po.Order(), true
}

// GetOrders 满足条件的订单快照
func (h *Handler) GetOrders(pred func(order.Order) bool) []order.Order {
	return h.tracker.Orders(pred)
}
