// 文件: pkg/quant/fund.go
// 量化基金: 组合内运行的单个策略实例
//
// 状态机:
//   Initialized -> Backfilling -> Running -> {Stopped | Terminated | RuntimeError}
//   Deleted 可从任意状态进入
//
// Backfilling 期间策略照常收到行情 (预热)，但下单请求会被处理器拒绝。

package quant

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quant.com/pkg/broker"
	"quant.com/pkg/cash"
	"quant.com/pkg/market"
	"quant.com/pkg/order"
	"quant.com/pkg/position"
	"quant.com/pkg/security"
)

var (
	ErrNotAttached     = errors.New("fund is not attached to a portfolio")
	ErrInvalidState    = errors.New("invalid fund state transition")
	ErrStrategyFailure = errors.New("strategy failure")
)

// =============================================================================
// 状态
// =============================================================================

// State 基金状态
type State int8

const (
	StateInitialized State = iota
	StateBackfilling
	StateRunning
	StateStopped
	StateTerminated
	StateRuntimeError
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateBackfilling:
		return "BACKFILLING"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateTerminated:
		return "TERMINATED"
	case StateRuntimeError:
		return "RUNTIME_ERROR"
	case StateDeleted:
		return "DELETED"
	}
	return "UNKNOWN"
}

// IsFinal 不会再收到行情
func (s State) IsFinal() bool {
	switch s {
	case StateTerminated, StateRuntimeError, StateDeleted:
		return true
	}
	return false
}

// =============================================================================
// Fund
// =============================================================================

// OrderRouter 基金下单入口 (组合的订单处理器)
type OrderRouter interface {
	Process(t order.Ticket) order.Ticket
	GetOrders(pred func(order.Order) bool) []order.Order
}

// Info 基金快照，用于通知
type Info struct {
	FundID    string                                      `json:"fund_id"`
	State     string                                      `json:"state"`
	Positions []position.Position                         `json:"positions"`
	Cash      map[security.CurrencyType]cash.CashPosition `json:"cash"`
	Error     string                                      `json:"error,omitempty"`
	UTCTime   time.Time                                   `json:"utc_time"`
}

// Fund 量化基金
type Fund struct {
	id       string
	strategy Strategy

	mu            sync.RWMutex
	state         State
	err           error
	backfillUntil time.Time
	router        OrderRouter
	acct          *broker.Account
	clock         func() time.Time
}

// New 创建基金
func New(id string, s Strategy) *Fund {
	if s == nil {
		s = BaseStrategy{}
	}
	return &Fund{
		id:       id,
		strategy: s,
		state:    StateInitialized,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Attach 由组合调用，接入订单处理器和账户
func (f *Fund) Attach(router OrderRouter, acct *broker.Account, clock func() time.Time) {
	f.mu.Lock()
	f.router = router
	f.acct = acct
	if clock != nil {
		f.clock = clock
	}
	f.mu.Unlock()
}

func (f *Fund) ID() string { return f.id }

func (f *Fund) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Err 进入 RuntimeError 的原因
func (f *Fund) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

func (f *Fund) IsBackfilling() bool {
	return f.State() == StateBackfilling
}

func (f *Fund) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.clock()
}

// =============================================================================
// 生命周期
// =============================================================================

// Initialize 调用策略初始化；until 非零时先进入回补，数据时间到达 until 后转 Running
func (f *Fund) Initialize(until time.Time) error {
	f.mu.Lock()
	if f.state != StateInitialized {
		st := f.state
		f.mu.Unlock()
		return fmt.Errorf("%w: initialize from %s", ErrInvalidState, st)
	}
	f.mu.Unlock()

	if err := f.safeCall(func() error { return f.strategy.Initialize(f) }); err != nil {
		f.fail(err)
		return err
	}

	f.mu.Lock()
	if until.IsZero() {
		f.state = StateRunning
	} else {
		f.state = StateBackfilling
		f.backfillUntil = until
	}
	f.mu.Unlock()
	log.Printf("[QuantFund] %s initialized, state=%s", f.id, f.State())
	return nil
}

// Start 从 Stopped 恢复运行
func (f *Fund) Start() error {
	return f.transition(StateRunning, StateStopped)
}

// Stop 暂停，不再收行情
func (f *Fund) Stop() error {
	return f.transition(StateStopped, StateRunning, StateBackfilling)
}

// Terminate 终止并通知策略
func (f *Fund) Terminate() {
	f.mu.Lock()
	if f.state.IsFinal() {
		f.mu.Unlock()
		return
	}
	f.state = StateTerminated
	f.mu.Unlock()

	if err := f.safeCall(func() error { f.strategy.OnTerminate(f); return nil }); err != nil {
		log.Printf("[QuantFund] %s terminate hook error: %v", f.id, err)
	}
	log.Printf("[QuantFund] %s terminated", f.id)
}

// Delete 管理端删除
func (f *Fund) Delete() {
	f.mu.Lock()
	f.state = StateDeleted
	f.mu.Unlock()
}

func (f *Fund) transition(to State, from ...State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range from {
		if f.state == s {
			f.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidState, f.state, to)
}

func (f *Fund) fail(err error) {
	f.mu.Lock()
	f.state = StateRuntimeError
	f.err = err
	f.mu.Unlock()
	log.Printf("[QuantFund] %s runtime error: %v", f.id, err)
}

// safeCall 策略回调的 panic 转为 error
func (f *Fund) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: fund %s panic: %v", ErrStrategyFailure, f.id, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%w: fund %s: %w", ErrStrategyFailure, f.id, err)
	}
	return nil
}

// =============================================================================
// 回调
// =============================================================================

// OnData 行情回调；策略出错时基金进入 RuntimeError，不影响组合
func (f *Fund) OnData(s market.Slice) error {
	f.mu.Lock()
	st := f.state
	if st == StateBackfilling && !s.UTCTime.Before(f.backfillUntil) {
		f.state = StateRunning
		st = StateRunning
		log.Printf("[QuantFund] %s backfill complete at %s", f.id, s.UTCTime.Format(time.RFC3339))
	}
	f.mu.Unlock()

	if st != StateRunning && st != StateBackfilling {
		return nil
	}
	if err := f.safeCall(func() error { return f.strategy.OnData(f, s) }); err != nil {
		f.fail(err)
		return err
	}
	return nil
}

// OnOrderEvent 本基金的订单事件
func (f *Fund) OnOrderEvent(e order.TicketEvent) {
	if f.State().IsFinal() {
		return
	}
	if err := f.safeCall(func() error { f.strategy.OnOrderEvent(f, e); return nil }); err != nil {
		f.fail(err)
	}
}

// OnMarginCall 追保通知
func (f *Fund) OnMarginCall(calls []broker.MarginCall) {
	if err := f.safeCall(func() error { f.strategy.OnMarginCall(f, calls); return nil }); err != nil {
		f.fail(err)
	}
}

// =============================================================================
// 下单
// =============================================================================

func (f *Fund) route(t order.Ticket) (order.Ticket, error) {
	f.mu.RLock()
	r := f.router
	f.mu.RUnlock()
	if r == nil {
		return t, ErrNotAttached
	}
	return r.Process(t), nil
}

func (f *Fund) submit(ticker string, typ order.OrderType, qty decimal.Decimal, opt func(t *order.SubmitTicket)) (*order.SubmitTicket, error) {
	t := order.NewSubmitTicket(f.id, ticker, typ, qty, f.Now())
	if opt != nil {
		opt(t)
	}
	_, err := f.route(t)
	return t, err
}

// MarketOrder 市价单，qty 正买负卖
func (f *Fund) MarketOrder(ticker string, qty decimal.Decimal) (*order.SubmitTicket, error) {
	return f.submit(ticker, order.TypeMarket, qty, nil)
}

// LimitOrder 限价单
func (f *Fund) LimitOrder(ticker string, qty, limit decimal.Decimal) (*order.SubmitTicket, error) {
	return f.submit(ticker, order.TypeLimit, qty, func(t *order.SubmitTicket) { t.LimitPrice = limit })
}

// StopMarketOrder 止损市价单
func (f *Fund) StopMarketOrder(ticker string, qty, stop decimal.Decimal) (*order.SubmitTicket, error) {
	return f.submit(ticker, order.TypeStopMarket, qty, func(t *order.SubmitTicket) { t.StopPrice = stop })
}

// StopLimitOrder 止损限价单
func (f *Fund) StopLimitOrder(ticker string, qty, stop, limit decimal.Decimal) (*order.SubmitTicket, error) {
	return f.submit(ticker, order.TypeStopLimit, qty, func(t *order.SubmitTicket) {
		t.StopPrice = stop
		t.LimitPrice = limit
	})
}

func (f *Fund) MarketOnOpenOrder(ticker string, qty decimal.Decimal) (*order.SubmitTicket, error) {
	return f.submit(ticker, order.TypeMarketOnOpen, qty, nil)
}

func (f *Fund) MarketOnCloseOrder(ticker string, qty decimal.Decimal) (*order.SubmitTicket, error) {
	return f.submit(ticker, order.TypeMarketOnClose, qty, nil)
}

// CancelOrder 撤单
func (f *Fund) CancelOrder(orderID int64) (*order.CancelTicket, error) {
	t := order.NewCancelTicket(f.id, orderID, f.Now())
	_, err := f.route(t)
	return t, err
}

// UpdateOrder 改单
func (f *Fund) UpdateOrder(orderID int64, u order.Update) (*order.UpdateTicket, error) {
	t := order.NewUpdateTicket(f.id, orderID, u, f.Now())
	_, err := f.route(t)
	return t, err
}

// OpenOrders 本基金未完结订单
func (f *Fund) OpenOrders() []order.Order {
	f.mu.RLock()
	r := f.router
	f.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.GetOrders(func(o order.Order) bool { return o.FundID == f.id && !o.IsClosed() })
}

// Liquidate 撤掉全部挂单并按市价平掉全部持仓
func (f *Fund) Liquidate() ([]order.Ticket, error) {
	f.mu.RLock()
	acct := f.acct
	f.mu.RUnlock()
	if acct == nil {
		return nil, ErrNotAttached
	}

	var tickets []order.Ticket
	var errs []error
	for _, o := range f.OpenOrders() {
		t, err := f.CancelOrder(o.ID)
		tickets = append(tickets, t)
		errs = append(errs, err)
	}
	for _, p := range acct.FundPositions(f.id).All() {
		t, err := f.MarketOrder(p.Ticker, p.Quantity.Neg())
		tickets = append(tickets, t)
		errs = append(errs, err)
	}
	log.Printf("[QuantFund] %s liquidating, %d tickets", f.id, len(tickets))
	return tickets, errors.Join(errs...)
}

// =============================================================================
// 查询
// =============================================================================

// Positions 本基金持仓
func (f *Fund) Positions() []position.Position {
	f.mu.RLock()
	acct := f.acct
	f.mu.RUnlock()
	if acct == nil {
		return nil
	}
	return acct.FundPositions(f.id).All()
}

// Info 基金快照
func (f *Fund) Info() Info {
	f.mu.RLock()
	acct, st, ferr := f.acct, f.state, f.err
	f.mu.RUnlock()

	info := Info{FundID: f.id, State: st.String(), UTCTime: f.Now()}
	if ferr != nil {
		info.Error = ferr.Error()
	}
	if acct != nil {
		info.Positions = acct.FundPositions(f.id).All()
		info.Cash = acct.Cash.GetCashPositions(f.id)
	}
	return info
}
