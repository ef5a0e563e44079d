package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant.com/pkg/broker"
	"quant.com/pkg/cash"
	"quant.com/pkg/market"
	"quant.com/pkg/order"
	"quant.com/pkg/security"
	"quant.com/pkg/tracker"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

// =============================================================================
// stubs
// =============================================================================

type stubConn struct {
	mu         sync.Mutex
	submitted  []int64
	cancelled  []int64
	updated    []int64
	failSubmit error
	failCancel error
	funds      []cash.CashPosition
	onOrder    []func(order.TicketEvent)
	onBalance  []func(cash.AccountAction)
}

func (c *stubConn) Name() string                                  { return "stub" }
func (c *stubConn) Connect(context.Context) error                 { return nil }
func (c *stubConn) Disconnect() error                             { return nil }
func (c *stubConn) IsConnected() bool                             { return true }
func (c *stubConn) OnOrderStateChange(fn func(order.TicketEvent)) { c.onOrder = append(c.onOrder, fn) }
func (c *stubConn) OnBalanceChange(fn func(cash.AccountAction))   { c.onBalance = append(c.onBalance, fn) }

func (c *stubConn) SubmitOrder(po *order.PendingOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSubmit != nil {
		return c.failSubmit
	}
	c.submitted = append(c.submitted, po.ID())
	return po.AddBrokerID(fmt.Sprintf("B%d", po.ID()))
}

func (c *stubConn) CancelOrder(po *order.PendingOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCancel != nil {
		return c.failCancel
	}
	c.cancelled = append(c.cancelled, po.ID())
	return nil
}

func (c *stubConn) UpdateOrder(po *order.PendingOrder, _ order.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updated = append(c.updated, po.ID())
	return nil
}

func (c *stubConn) GetAccountFunds(context.Context) ([]cash.CashPosition, error) {
	return c.funds, nil
}

func (c *stubConn) submittedIDs() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.submitted...)
}

func (c *stubConn) fill(e order.TicketEvent) {
	for _, fn := range c.onOrder {
		fn(e)
	}
}

type stubMargin struct{ free decimal.Decimal }

func (m stubMargin) InitialMarginRequirement(_ *broker.Account, sec *security.Security, qty decimal.Decimal) decimal.Decimal {
	return qty.Abs().Mul(sec.Price())
}

func (m stubMargin) MaintenanceMargin(_ *broker.Account, sec *security.Security, qty decimal.Decimal) decimal.Decimal {
	return qty.Abs().Mul(sec.Price())
}

func (m stubMargin) FreeMargin(*broker.Account, string) decimal.Decimal { return m.free }

type marginModel struct {
	*broker.DefaultModel
	margin broker.MarginModel
}

func (m marginModel) GetMarginModel(*security.Security) broker.MarginModel { return m.margin }

type panicModel struct{ *broker.DefaultModel }

func (panicModel) CanSubmitOrder(*security.Security, order.Order) (bool, string) {
	panic("model exploded")
}

type stubFund struct {
	id          string
	backfilling bool
}

func (f stubFund) ID() string          { return f.id }
func (f stubFund) IsBackfilling() bool { return f.backfilling }

type env struct {
	h    *Handler
	conn *stubConn
	acct *broker.Account
	sec  *security.Security

	mu       sync.Mutex
	events   []order.TicketEvent
	warnings []string
}

func newEnv(t *testing.T, model broker.Model, funds FundLookup, lot string) *env {
	t.Helper()
	return newEnvSized(t, model, funds, lot, 64)
}

func newEnvSized(t *testing.T, model broker.Model, funds FundLookup, lot string, queueSize int) *env {
	t.Helper()
	reg := security.NewRegistry()
	sec := security.New("AAPL", nil, security.USD, d(lot), d("0.01"), nil)
	sec.UpdateQuote(func(q *security.Quote) { q.Last = d("10") })
	reg.Add(sec)

	acct := broker.NewAccount(security.USD, cash.NewManager("pf"), reg, nil)
	require.NoError(t, acct.Cash.Process(cash.ActionDeposit, security.USD, d("10000")))

	if model == nil {
		model = broker.NewDefaultModel(broker.DefaultModelConfig())
	}
	e := &env{conn: &stubConn{}, acct: acct, sec: sec}
	e.h = New(Config{QueueSize: queueSize, DrainTimeout: time.Second}, e.conn, model, acct, tracker.New(), funds)
	e.h.SetClock(func() time.Time { return t0 })
	e.h.OnOrderEvent(func(ev order.TicketEvent) {
		e.mu.Lock()
		e.events = append(e.events, ev)
		e.mu.Unlock()
	})
	e.h.OnWarning(func(_, msg string) {
		e.mu.Lock()
		e.warnings = append(e.warnings, msg)
		e.mu.Unlock()
	})

	e.h.Start(context.Background())
	t.Cleanup(e.h.Stop)
	return e
}

func (e *env) eventsFor(id int64) []order.TicketEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []order.TicketEvent
	for _, ev := range e.events {
		if ev.OrderID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (e *env) warningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.warnings)
}

func wait(t *testing.T, tk order.Ticket) order.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := tk.Base().Wait(ctx)
	require.NoError(t, err)
	return resp
}

func submit(e *env, typ order.OrderType, qty string) *order.SubmitTicket {
	tk := order.NewSubmitTicket("f1", "AAPL", typ, d(qty), t0)
	e.h.Process(tk)
	return tk
}

// =============================================================================
// 下单
// =============================================================================

func TestHandler_SubmitFIFO(t *testing.T) {
	e := newEnv(t, nil, nil, "1")

	var tickets []*order.SubmitTicket
	for i := 0; i < 5; i++ {
		tickets = append(tickets, submit(e, order.TypeMarket, "1"))
	}
	for i, tk := range tickets {
		resp := wait(t, tk)
		assert.False(t, resp.IsError(), resp.Message)
		assert.Equal(t, int64(i+1), tk.OrderID())
		assert.Equal(t, order.TicketProcessed, tk.State())
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, e.conn.submittedIDs())

	o, ok := e.h.GetOrderByID(1)
	require.True(t, ok)
	assert.Equal(t, order.StateSubmitted, o.State)
	assert.Equal(t, []string{"B1"}, o.BrokerIDs)

	byBroker, ok := e.h.GetOrderByBrokerID("B3")
	require.True(t, ok)
	assert.Equal(t, int64(3), byBroker.ID)
	assert.Len(t, e.h.GetOpenOrders(), 5)
}

func TestHandler_SubmitFIFOConcurrentProducers(t *testing.T) {
	e := newEnv(t, nil, nil, "1")

	const producers, perProducer = 4, 10
	runs := make([][]*order.SubmitTicket, producers)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				runs[p] = append(runs[p], submit(e, order.TypeMarket, "1"))
			}
		}(p)
	}
	wg.Wait()

	for p, run := range runs {
		last := int64(0)
		for _, tk := range run {
			resp := wait(t, tk)
			require.False(t, resp.IsError(), resp.Message)
			assert.Greater(t, tk.OrderID(), last, "producer %d out of order", p)
			last = tk.OrderID()
		}
	}

	// 单一工作 goroutine 按出队顺序分配订单号并报券商
	want := make([]int64, 0, producers*perProducer)
	for i := 1; i <= producers*perProducer; i++ {
		want = append(want, int64(i))
	}
	assert.Equal(t, want, e.conn.submittedIDs())
}

func TestHandler_QueueFullRejects(t *testing.T) {
	conn := &stubConn{}
	reg := security.NewRegistry()
	sec := security.New("AAPL", nil, security.USD, d("1"), d("0.01"), nil)
	sec.UpdateQuote(func(q *security.Quote) { q.Last = d("10") })
	reg.Add(sec)
	acct := broker.NewAccount(security.USD, cash.NewManager("pf"), reg, nil)
	h := New(Config{QueueSize: 1, DrainTimeout: 10 * time.Millisecond}, conn,
		broker.NewDefaultModel(broker.DefaultModelConfig()), acct, tracker.New(), nil)
	defer h.Stop()

	// 未启动工作 goroutine，第二张直接被拒
	first := h.Process(order.NewSubmitTicket("f1", "AAPL", order.TypeMarket, d("1"), t0))
	second := h.Process(order.NewSubmitTicket("f1", "AAPL", order.TypeMarket, d("1"), t0))
	assert.Equal(t, order.TicketProcessing, first.Base().State())
	assert.Equal(t, order.TicketError, second.Base().State())
	assert.Equal(t, order.CodeProcessingError, second.Base().Response().Code)
}

func TestHandler_SubmitFromEventHookDoesNotBlock(t *testing.T) {
	e := newEnvSized(t, nil, nil, "1", 1)

	var once sync.Once
	var inner []*order.SubmitTicket
	done := make(chan struct{})
	e.h.OnOrderEvent(func(ev order.TicketEvent) {
		if ev.OrderID != 1 {
			return
		}
		// 运行在工作 goroutine 上: 第一张占满队列，第二张必须立即返回
		once.Do(func() {
			inner = append(inner, submit(e, order.TypeMarket, "1"), submit(e, order.TypeMarket, "1"))
			close(done)
		})
	})

	outer := submit(e, order.TypeMarket, "1")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitting from an order event hook blocked the worker")
	}

	require.False(t, wait(t, outer).IsError())
	require.Len(t, inner, 2)
	assert.False(t, wait(t, inner[0]).IsError())
	assert.Equal(t, order.TicketError, inner[1].State())
	assert.Equal(t, order.CodeProcessingError, inner[1].Response().Code)
	assert.Equal(t, []int64{1, 2}, e.conn.submittedIDs())
}

func TestHandler_ZeroQuantityAfterLotRounding(t *testing.T) {
	e := newEnv(t, nil, nil, "100")

	tk := submit(e, order.TypeMarket, "50")
	resp := wait(t, tk)
	assert.Equal(t, order.CodeOrderQuantityZero, resp.Code)
	assert.Empty(t, e.conn.submittedIDs())

	o, ok := e.h.GetOrderByID(tk.OrderID())
	require.True(t, ok)
	assert.Equal(t, order.StateInvalid, o.State)
	assert.Empty(t, e.h.GetOpenOrders())
}

func TestHandler_LotRoundingWarnsOnce(t *testing.T) {
	e := newEnv(t, nil, nil, "10")

	a := submit(e, order.TypeMarket, "103")
	b := submit(e, order.TypeMarket, "-107")
	require.False(t, wait(t, a).IsError())
	require.False(t, wait(t, b).IsError())

	oa, _ := e.h.GetOrderByID(a.OrderID())
	ob, _ := e.h.GetOrderByID(b.OrderID())
	assert.True(t, oa.Quantity.Equal(d("100")))
	assert.True(t, ob.Quantity.Equal(d("-100")))
	assert.Equal(t, 1, e.warningCount())
}

func TestHandler_PriceRounding(t *testing.T) {
	e := newEnv(t, nil, nil, "1")

	tk := order.NewSubmitTicket("f1", "AAPL", order.TypeLimit, d("5"), t0)
	tk.LimitPrice = d("9.456")
	e.h.Process(tk)
	require.False(t, wait(t, tk).IsError())

	o, _ := e.h.GetOrderByID(tk.OrderID())
	assert.True(t, o.LimitPrice.Equal(d("9.46")), o.LimitPrice.String())
}

func TestHandler_CapitalGate(t *testing.T) {
	model := marginModel{
		DefaultModel: broker.NewDefaultModel(broker.DefaultModelConfig()),
		margin:       stubMargin{free: d("100")},
	}
	e := newEnv(t, model, nil, "1")

	// 开仓需 150，可用 100
	open := submit(e, order.TypeMarket, "15")
	resp := wait(t, open)
	assert.Equal(t, order.CodeInsufficientBuyingPower, resp.Code)
	assert.Empty(t, e.conn.submittedIDs())

	// 同等名义价值的平仓总是允许
	e.acct.FundPositions("f1").Apply(order.Fill{Ticker: "AAPL", FillQuantity: d("15"), FillPrice: d("10")})
	closing := submit(e, order.TypeMarket, "-15")
	resp = wait(t, closing)
	assert.False(t, resp.IsError(), resp.Message)
	assert.Equal(t, []int64{closing.OrderID()}, e.conn.submittedIDs())

	// 反手只检查超出部分: 持仓 15，卖 30 -> 检查 15 -> 150 > 100
	flip := submit(e, order.TypeMarket, "-30")
	assert.Equal(t, order.CodeInsufficientBuyingPower, wait(t, flip).Code)
}

func TestHandler_ModelPanicIsProcessingError(t *testing.T) {
	e := newEnv(t, panicModel{broker.NewDefaultModel(broker.DefaultModelConfig())}, nil, "1")

	tk := submit(e, order.TypeMarket, "1")
	resp := wait(t, tk)
	assert.Equal(t, order.CodeProcessingError, resp.Code)
	assert.Empty(t, e.conn.submittedIDs())

	// 工作 goroutine 仍然存活
	next := submit(e, order.TypeMarket, "1")
	assert.Equal(t, order.CodeProcessingError, wait(t, next).Code)
}

func TestHandler_BrokerSubmitFailure(t *testing.T) {
	e := newEnv(t, nil, nil, "1")
	e.conn.failSubmit = errors.New("gateway down")

	tk := submit(e, order.TypeMarket, "1")
	resp := wait(t, tk)
	assert.Equal(t, order.CodeBrokerageFailedToSubmitOrder, resp.Code)
	assert.Contains(t, resp.Message, "gateway down")

	o, _ := e.h.GetOrderByID(tk.OrderID())
	assert.Equal(t, order.StateInvalid, o.State)
}

func TestHandler_UnknownSecurity(t *testing.T) {
	e := newEnv(t, nil, nil, "1")
	tk := order.NewSubmitTicket("f1", "MSFT", order.TypeMarket, d("1"), t0)
	e.h.Process(tk)
	assert.Equal(t, order.CodeInvalidRequest, wait(t, tk).Code)
}

func TestHandler_BackfillingRejectsAllTickets(t *testing.T) {
	funds := func(id string) (Fund, bool) {
		return stubFund{id: id, backfilling: true}, true
	}
	e := newEnv(t, nil, funds, "1")

	tickets := []order.Ticket{
		order.NewSubmitTicket("f1", "AAPL", order.TypeMarket, d("1"), t0),
		order.NewCancelTicket("f1", 1, t0),
		order.NewUpdateTicket("f1", 1, order.Update{LimitPrice: decimal.NewNullDecimal(d("1"))}, t0),
	}
	for _, tk := range tickets {
		e.h.Process(tk)
		assert.Equal(t, order.TicketError, tk.Base().State(), tk.Type().String())
		assert.Equal(t, order.CodeQuantFundBackfilling, tk.Base().Response().Code)
	}
	assert.Zero(t, e.h.QueueLen())
}

// =============================================================================
// 撤单 / 改单
// =============================================================================

func TestHandler_CancelMissingOrder(t *testing.T) {
	e := newEnv(t, nil, nil, "1")
	tk := order.NewCancelTicket("f1", 42, t0)
	e.h.Process(tk)
	assert.Equal(t, order.TicketError, tk.State())
	assert.Equal(t, order.CodeUnableToFindOrder, tk.Response().Code)
}

func TestHandler_CancelFlow(t *testing.T) {
	e := newEnv(t, nil, nil, "1")
	sub := submit(e, order.TypeMarket, "1")
	require.False(t, wait(t, sub).IsError())
	id := sub.OrderID()

	cancel := order.NewCancelTicket("f1", id, t0)
	e.h.Process(cancel)

	// 入队前已乐观通知
	evs := e.eventsFor(id)
	require.NotEmpty(t, evs)
	assert.Equal(t, order.StateCancelled, evs[len(evs)-1].State)

	assert.False(t, wait(t, cancel).IsError())
	o, _ := e.h.GetOrderByID(id)
	assert.Equal(t, order.StateCancelled, o.State)
	assert.Empty(t, e.h.GetOpenOrders())

	// 终态订单不可再撤
	again := order.NewCancelTicket("f1", id, t0)
	e.h.Process(again)
	assert.Equal(t, order.CodeInvalidOrderStatus, again.Response().Code)
}

func TestHandler_CancelBrokerFailure(t *testing.T) {
	e := newEnv(t, nil, nil, "1")
	sub := submit(e, order.TypeMarket, "1")
	require.False(t, wait(t, sub).IsError())
	id := sub.OrderID()

	e.conn.mu.Lock()
	e.conn.failCancel = errors.New("too late")
	e.conn.mu.Unlock()

	cancel := order.NewCancelTicket("f1", id, t0)
	e.h.Process(cancel)
	assert.Equal(t, order.CodeBrokerageFailedToCancelOrder, wait(t, cancel).Code)

	evs := e.eventsFor(id)
	assert.Equal(t, order.StateError, evs[len(evs)-1].State)
	o, _ := e.h.GetOrderByID(id)
	assert.Equal(t, order.StateSubmitted, o.State)
}

func TestHandler_UpdateFlow(t *testing.T) {
	e := newEnv(t, nil, nil, "1")
	sub := order.NewSubmitTicket("f1", "AAPL", order.TypeLimit, d("5"), t0)
	sub.LimitPrice = d("9")
	e.h.Process(sub)
	require.False(t, wait(t, sub).IsError())
	id := sub.OrderID()

	up := order.NewUpdateTicket("f1", id, order.Update{LimitPrice: decimal.NewNullDecimal(d("9.123"))}, t0)
	e.h.Process(up)
	assert.False(t, wait(t, up).IsError())

	o, _ := e.h.GetOrderByID(id)
	assert.True(t, o.LimitPrice.Equal(d("9.12")))
	assert.Equal(t, order.StateSubmitted, o.State)

	// 方向不可改
	flip := order.NewUpdateTicket("f1", id, order.Update{Quantity: decimal.NewNullDecimal(d("-5"))}, t0)
	e.h.Process(flip)
	assert.Equal(t, order.CodeBrokerageModelRefusedToUpdateOrder, wait(t, flip).Code)

	empty := order.NewUpdateTicket("f1", id, order.Update{}, t0)
	e.h.Process(empty)
	assert.Equal(t, order.CodeInvalidRequest, empty.Response().Code)
}

// =============================================================================
// 回报
// =============================================================================

func TestHandler_FillReconciliation(t *testing.T) {
	e := newEnv(t, nil, nil, "1")
	sub := submit(e, order.TypeMarket, "10")
	require.False(t, wait(t, sub).IsError())
	id := sub.OrderID()

	e.conn.fill(order.TicketEvent{
		BrokerID: fmt.Sprintf("B%d", id),
		State:    order.StateFilled,
		Fill:     &order.Fill{FillQuantity: d("10"), FillPrice: d("10"), Fee: d("1"), UTCTime: t0},
	})

	o, _ := e.h.GetOrderByID(id)
	assert.Equal(t, order.StateFilled, o.State)
	assert.Empty(t, e.h.GetOpenOrders())
	assert.True(t, e.acct.Cash.Settled("", security.USD).Equal(d("9901")))
	assert.True(t, e.acct.FundPositions("f1").Quantity("AAPL").Equal(d("10")))

	evs := e.eventsFor(id)
	last := evs[len(evs)-1]
	require.NotNil(t, last.Snapshot)
	assert.Equal(t, "f1", last.FundID)
	assert.True(t, last.IsFill())

	// 终态后不再接受成交或撤单
	e.conn.fill(order.TicketEvent{
		OrderID: id,
		State:   order.StatePartialFilled,
		Fill:    &order.Fill{FillQuantity: d("1"), FillPrice: d("10")},
	})
	assert.True(t, e.acct.FundPositions("f1").Quantity("AAPL").Equal(d("10")))

	cancel := order.NewCancelTicket("f1", id, t0)
	e.h.Process(cancel)
	assert.Equal(t, order.CodeInvalidOrderStatus, cancel.Response().Code)
}

func TestHandler_BalanceChangeAndSync(t *testing.T) {
	e := newEnv(t, nil, nil, "1")

	for _, fn := range e.conn.onBalance {
		fn(cash.AccountAction{Type: cash.ActionDeposit, Currency: security.USD, Amount: d("500")})
	}
	assert.True(t, e.acct.Cash.Settled("", security.USD).Equal(d("10500")))

	e.conn.funds = []cash.CashPosition{{Currency: security.USD, Settled: d("7000")}}
	assert.True(t, e.h.SyncBrokerageFunds(context.Background()))
	assert.True(t, e.acct.Cash.Settled("", security.USD).Equal(d("7000")))

	// 同步进行中时跳过
	e.h.syncMu.Lock()
	assert.False(t, e.h.SyncBrokerageFunds(context.Background()))
	e.h.syncMu.Unlock()
}

// =============================================================================
// 模拟单 / 到期
// =============================================================================

func TestHandler_SimulatedLimitTriggersOnce(t *testing.T) {
	model := broker.NewDefaultModel(broker.ModelConfig{SupportedTypes: []order.OrderType{order.TypeMarket}})
	e := newEnv(t, model, nil, "1")

	sub := order.NewSubmitTicket("f1", "AAPL", order.TypeLimit, d("10"), t0)
	sub.LimitPrice = d("9.5")
	e.h.Process(sub)
	require.False(t, wait(t, sub).IsError())
	id := sub.OrderID()
	assert.Empty(t, e.conn.submittedIDs())

	batch := market.Slice{UTCTime: t0, Points: []market.DataPoint{
		market.Tick{Symbol: "AAPL", UTCTime: t0, Ask: d("9.4"), Bid: d("9.3")},
		market.Tick{Symbol: "AAPL", UTCTime: t0, Ask: d("9.3"), Bid: d("9.2")},
	}}
	e.h.ProcessSimulatedOrders(batch)
	require.Eventually(t, func() bool { return len(e.conn.submittedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)

	e.h.ProcessSimulatedOrders(batch)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, e.conn.submittedIDs(), 1)

	orig, _ := e.h.GetOrderByID(id)
	assert.Equal(t, order.StateCancelled, orig.State)

	open := e.h.GetOpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, order.TypeMarket, open[0].Type)
	assert.True(t, open[0].Quantity.Equal(d("10")))
	assert.True(t, strings.HasPrefix(open[0].Comment, "simulated LIMIT order"))
}

func TestHandler_SimulatedSellLimitUsesBid(t *testing.T) {
	model := broker.NewDefaultModel(broker.ModelConfig{SupportedTypes: []order.OrderType{order.TypeMarket}})
	e := newEnv(t, model, nil, "1")
	e.acct.FundPositions("f1").Apply(order.Fill{Ticker: "AAPL", FillQuantity: d("5"), FillPrice: d("10")})

	sub := order.NewSubmitTicket("f1", "AAPL", order.TypeLimit, d("-5"), t0)
	sub.LimitPrice = d("11")
	e.h.Process(sub)
	require.False(t, wait(t, sub).IsError())

	// ask 到了限价但 bid 没到，不触发
	e.h.ProcessSimulatedOrders(market.Slice{UTCTime: t0, Points: []market.DataPoint{
		market.Tick{Symbol: "AAPL", UTCTime: t0, Bid: d("10.9"), Ask: d("11.1")},
	}})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, e.conn.submittedIDs())

	e.h.ProcessSimulatedOrders(market.Slice{UTCTime: t0, Points: []market.DataPoint{
		market.TradeBar{Symbol: "AAPL", Start: t0, Period: time.Minute,
			Bar: market.Bar{Open: d("10.5"), High: d("11.2"), Low: d("10.4"), Close: d("11")}},
	}})
	require.Eventually(t, func() bool { return len(e.conn.submittedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_SimulatedMarketOnOpen(t *testing.T) {
	model := broker.NewDefaultModel(broker.ModelConfig{SupportedTypes: []order.OrderType{order.TypeMarket}})
	e := newEnv(t, model, nil, "1")

	sub := submit(e, order.TypeMarketOnOpen, "2")
	require.False(t, wait(t, sub).IsError())

	e.h.ProcessSimulatedOrders(market.Slice{UTCTime: t0, Points: []market.DataPoint{
		market.TradingStatus{Symbol: "AAPL", UTCTime: t0, Status: market.SessionClose},
	}})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, e.conn.submittedIDs())

	e.h.ProcessSimulatedOrders(market.Slice{UTCTime: t0, Points: []market.DataPoint{
		market.TradingStatus{Symbol: "AAPL", UTCTime: t0, Status: market.SessionOpen},
	}})
	require.Eventually(t, func() bool { return len(e.conn.submittedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_DayOrderExpiresAtClose(t *testing.T) {
	e := newEnv(t, nil, nil, "1")

	sub := order.NewSubmitTicket("f1", "AAPL", order.TypeLimit, d("1"), t0)
	sub.LimitPrice = d("9")
	sub.TimeInForce = order.Day
	e.h.Process(sub)
	require.False(t, wait(t, sub).IsError())
	id := sub.OrderID()

	e.h.OnData(market.Slice{UTCTime: t0.Add(time.Hour)})
	o, _ := e.h.GetOrderByID(id)
	assert.Equal(t, order.StateSubmitted, o.State)

	// 全天交易所在次日零点收盘
	e.h.OnData(market.Slice{UTCTime: t0.Add(9 * time.Hour)})
	require.Eventually(t, func() bool {
		o, _ := e.h.GetOrderByID(id)
		return o.State == order.StateCancelled
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_SimulatedTriggers(t *testing.T) {
	tick := func(bid, ask string) []market.DataPoint {
		return []market.DataPoint{market.Tick{Symbol: "AAPL", UTCTime: t0, Bid: d(bid), Ask: d(ask)}}
	}
	session := func(st market.SessionStatus) []market.DataPoint {
		return []market.DataPoint{market.TradingStatus{Symbol: "AAPL", UTCTime: t0, Status: st}}
	}
	type batch struct {
		points      []market.DataPoint
		fired       bool
		stopTouched bool
	}

	tests := []struct {
		name    string
		typ     order.OrderType
		qty     string
		stop    string
		limit   string
		batches []batch
	}{
		{
			name: "buy stop market",
			typ:  order.TypeStopMarket, qty: "10", stop: "10.5",
			batches: []batch{
				{points: tick("10.3", "10.4")},
				{points: tick("10.5", "10.6"), fired: true},
			},
		},
		{
			name: "sell stop market",
			typ:  order.TypeStopMarket, qty: "-10", stop: "9.5",
			batches: []batch{
				{points: tick("9.6", "9.7")},
				{points: tick("9.4", "9.5"), fired: true},
			},
		},
		{
			name: "buy stop limit across batches",
			typ:  order.TypeStopLimit, qty: "10", stop: "10.5", limit: "10.6",
			batches: []batch{
				// 价格在限价内但止损未触及
				{points: tick("10.3", "10.4")},
				// 止损触及，价格越过限价
				{points: tick("10.7", "10.8"), stopTouched: true},
				// 回落到止损价以下，限价成交
				{points: tick("10.4", "10.45"), fired: true, stopTouched: true},
			},
		},
		{
			name: "sell stop limit same batch",
			typ:  order.TypeStopLimit, qty: "-10", stop: "9.5", limit: "9.4",
			batches: []batch{
				{points: tick("9.6", "9.7")},
				{points: tick("9.45", "9.5"), fired: true, stopTouched: true},
			},
		},
		{
			name: "market on close",
			typ:  order.TypeMarketOnClose, qty: "10",
			batches: []batch{
				{points: session(market.SessionOpen)},
				{points: session(market.SessionClose), fired: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := broker.NewDefaultModel(broker.ModelConfig{SupportedTypes: []order.OrderType{order.TypeMarket}})
			e := newEnv(t, model, nil, "1")
			e.acct.FundPositions("f1").Apply(order.Fill{Ticker: "AAPL", FillQuantity: d("10"), FillPrice: d("10")})

			sub := order.NewSubmitTicket("f1", "AAPL", tt.typ, d(tt.qty), t0)
			if tt.stop != "" {
				sub.StopPrice = d(tt.stop)
			}
			if tt.limit != "" {
				sub.LimitPrice = d(tt.limit)
			}
			e.h.Process(sub)
			require.False(t, wait(t, sub).IsError())
			id := sub.OrderID()

			for i, b := range tt.batches {
				e.h.ProcessSimulatedOrders(market.Slice{UTCTime: t0, Points: b.points})
				if !b.fired {
					time.Sleep(20 * time.Millisecond)
					assert.Empty(t, e.conn.submittedIDs(), "batch %d", i)
					o, _ := e.h.GetOrderByID(id)
					assert.Equal(t, b.stopTouched, o.StopTriggered, "batch %d", i)
					continue
				}
				require.Eventually(t, func() bool { return len(e.conn.submittedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
			}

			orig, _ := e.h.GetOrderByID(id)
			assert.Equal(t, order.StateCancelled, orig.State)
			open := e.h.GetOpenOrders()
			require.Len(t, open, 1)
			assert.Equal(t, order.TypeMarket, open[0].Type)
			assert.True(t, open[0].Quantity.Equal(d(tt.qty)))
		})
	}
}

func TestHandler_GoodTillDateExpires(t *testing.T) {
	e := newEnv(t, nil, nil, "1")

	sub := order.NewSubmitTicket("f1", "AAPL", order.TypeLimit, d("1"), t0)
	sub.LimitPrice = d("9")
	sub.TimeInForce = order.GoodTillDate
	sub.ExpiresUTC = t0.Add(30 * time.Minute)
	e.h.Process(sub)
	require.False(t, wait(t, sub).IsError())
	id := sub.OrderID()
	require.Equal(t, []int64{id}, e.conn.submittedIDs())

	e.h.OnData(market.Slice{UTCTime: t0.Add(10 * time.Minute)})
	time.Sleep(20 * time.Millisecond)
	o, _ := e.h.GetOrderByID(id)
	assert.Equal(t, order.StateSubmitted, o.State)

	e.h.OnData(market.Slice{UTCTime: t0.Add(30 * time.Minute)})
	require.Eventually(t, func() bool {
		o, _ := e.h.GetOrderByID(id)
		return o.State == order.StateCancelled
	}, 2*time.Second, 5*time.Millisecond)

	e.conn.mu.Lock()
	assert.Equal(t, []int64{id}, e.conn.cancelled)
	e.conn.mu.Unlock()
}

// =============================================================================
// 停止
// =============================================================================

func TestHandler_StopRejectsNewTickets(t *testing.T) {
	e := newEnv(t, nil, nil, "1")
	first := submit(e, order.TypeMarket, "1")
	e.h.Stop()
	assert.Equal(t, order.TicketProcessed, first.State())

	late := submit(e, order.TypeMarket, "1")
	assert.Equal(t, order.TicketError, late.State())
	assert.Equal(t, order.CodeProcessingError, late.Response().Code)
}
