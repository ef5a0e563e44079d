// 文件: pkg/broker/simulated.go
// 模拟券商 (纸面交易)
//
// - 市价单在下一批行情按买一/卖一成交，没有盘口时用最新价
// - 限价单价格穿越时按限价成交
// - 手续费 = max(|数量| × 每股费用, 最低费用)
// - 自行维护现金余额，供资金同步使用

package broker

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"quant.com/pkg/cash"
	"quant.com/pkg/market"
	"quant.com/pkg/order"
	"quant.com/pkg/security"
)

var (
	ErrNotConnected         = errors.New("brokerage not connected")
	ErrUnsupportedOrderType = errors.New("order type not supported by brokerage")
	ErrUnknownOrder         = errors.New("order unknown to brokerage")
)

// SimulatedConfig 模拟券商配置
type SimulatedConfig struct {
	Name           string
	NodeID         int64
	Currency       security.CurrencyType
	FeePerUnit     decimal.Decimal
	MinFee         decimal.Decimal
	SupportedTypes []order.OrderType
}

// DefaultSimulatedConfig 每股 0.005，最低 1
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		Name:           "paper",
		NodeID:         1,
		Currency:       security.USD,
		FeePerUnit:     decimal.RequireFromString("0.005"),
		MinFee:         decimal.NewFromInt(1),
		SupportedTypes: []order.OrderType{order.TypeMarket, order.TypeLimit},
	}
}

type simOrder struct {
	brokerID string
	po       *order.PendingOrder
}

// SimulatedConnection 模拟券商
type SimulatedConnection struct {
	cfg       SimulatedConfig
	ids       *IDGenerator
	supported map[order.OrderType]bool

	mu        sync.Mutex
	connected bool
	open      map[int64]*simOrder // 内部订单号 -> 挂单
	balances  map[security.CurrencyType]decimal.Decimal

	cbMu            sync.RWMutex
	orderHandlers   []func(order.TicketEvent)
	balanceHandlers []func(cash.AccountAction)
}

var (
	_ Connection          = (*SimulatedConnection)(nil)
	_ MarketDataProcessor = (*SimulatedConnection)(nil)
)

// NewSimulatedConnection 创建模拟券商
func NewSimulatedConnection(cfg SimulatedConfig) (*SimulatedConnection, error) {
	ids, err := NewIDGenerator(cfg.NodeID)
	if err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	if cfg.Currency == "" {
		cfg.Currency = security.USD
	}
	if cfg.SupportedTypes == nil {
		cfg.SupportedTypes = DefaultSimulatedConfig().SupportedTypes
	}
	supported := make(map[order.OrderType]bool)
	for _, t := range cfg.SupportedTypes {
		supported[t] = true
	}
	return &SimulatedConnection{
		cfg:       cfg,
		ids:       ids,
		supported: supported,
		open:      make(map[int64]*simOrder),
		balances:  make(map[security.CurrencyType]decimal.Decimal),
	}, nil
}

func (c *SimulatedConnection) Name() string { return c.cfg.Name }

func (c *SimulatedConnection) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	log.Printf("[Brokerage] %s connected", c.cfg.Name)
	return nil
}

func (c *SimulatedConnection) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	log.Printf("[Brokerage] %s disconnected", c.cfg.Name)
	return nil
}

func (c *SimulatedConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *SimulatedConnection) OnOrderStateChange(fn func(order.TicketEvent)) {
	c.cbMu.Lock()
	c.orderHandlers = append(c.orderHandlers, fn)
	c.cbMu.Unlock()
}

func (c *SimulatedConnection) OnBalanceChange(fn func(cash.AccountAction)) {
	c.cbMu.Lock()
	c.balanceHandlers = append(c.balanceHandlers, fn)
	c.cbMu.Unlock()
}

// =============================================================================
// 订单
// =============================================================================

// SubmitOrder 受理订单，分配券商订单号
func (c *SimulatedConnection) SubmitOrder(po *order.PendingOrder) error {
	o := po.Order()
	if !c.supported[o.Type] {
		return ErrUnsupportedOrderType
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}

	brokerID := c.ids.Next()
	if err := po.AddBrokerID(brokerID); err != nil {
		return err
	}
	c.open[o.ID] = &simOrder{brokerID: brokerID, po: po}
	return nil
}

// CancelOrder 撤单
func (c *SimulatedConnection) CancelOrder(po *order.PendingOrder) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	id := po.ID()
	if _, ok := c.open[id]; !ok {
		return ErrUnknownOrder
	}
	delete(c.open, id)
	return nil
}

// UpdateOrder 改单，成交时读取订单最新字段
func (c *SimulatedConnection) UpdateOrder(po *order.PendingOrder, _ order.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	if _, ok := c.open[po.ID()]; !ok {
		return ErrUnknownOrder
	}
	return nil
}

// OpenOrderCount 挂单数
func (c *SimulatedConnection) OpenOrderCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// =============================================================================
// 资金
// =============================================================================

// Deposit 入金，触发余额变动回报
func (c *SimulatedConnection) Deposit(currency security.CurrencyType, amount decimal.Decimal) {
	c.mu.Lock()
	c.balances[currency] = c.balances[currency].Add(amount)
	c.mu.Unlock()

	c.emitBalance(cash.AccountAction{
		Type:     cash.ActionDeposit,
		Currency: currency,
		Amount:   amount,
		Message:  "paper deposit",
	})
}

// GetAccountFunds 当前余额
func (c *SimulatedConnection) GetAccountFunds(ctx context.Context) ([]cash.CashPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}

	out := make([]cash.CashPosition, 0, len(c.balances))
	for cur, bal := range c.balances {
		out = append(out, cash.CashPosition{Currency: cur, Settled: bal})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// =============================================================================
// 撮合
// =============================================================================

// quoteView 一批数据里某证券的最新价格
type quoteView struct {
	bid, ask, last decimal.Decimal
	low, high      decimal.Decimal
}

func viewOf(points []market.DataPoint) (quoteView, bool) {
	var v quoteView
	found := false
	for _, p := range points {
		switch d := p.(type) {
		case market.Tick:
			if !d.Bid.IsZero() {
				v.bid = d.Bid
			}
			if !d.Ask.IsZero() {
				v.ask = d.Ask
			}
			if !d.Price.IsZero() {
				v.last = d.Price
			}
			found = true
		case market.TradeBar:
			v.last, v.low, v.high = d.Close, d.Low, d.High
			found = true
		case market.QuoteBar:
			v.bid, v.ask = d.Bid.Close, d.Ask.Close
			found = true
		}
	}
	if v.last.IsZero() {
		v.last = v.bid.Add(v.ask).Div(decimal.NewFromInt(2))
	}
	if v.low.IsZero() {
		v.low = v.last
	}
	if v.high.IsZero() {
		v.high = v.last
	}
	return v, found
}

// marketablePrice 买用卖一，卖用买一
func (v quoteView) marketablePrice(buy bool) decimal.Decimal {
	if buy && !v.ask.IsZero() {
		return v.ask
	}
	if !buy && !v.bid.IsZero() {
		return v.bid
	}
	return v.last
}

// ProcessMarketData 按本批行情撮合挂单
func (c *SimulatedConnection) ProcessMarketData(s market.Slice) {
	var events []order.TicketEvent

	c.mu.Lock()
	ids := make([]int64, 0, len(c.open))
	for id := range c.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		so := c.open[id]
		o := so.po.Order()
		if o.IsClosed() {
			delete(c.open, id)
			continue
		}
		v, ok := viewOf(s.ForTicker(o.Ticker))
		if !ok {
			continue
		}

		buy := o.Quantity.IsPositive()
		var price decimal.Decimal
		switch o.Type {
		case order.TypeMarket:
			price = v.marketablePrice(buy)
		case order.TypeLimit:
			touch := v.marketablePrice(buy)
			if buy && v.low.LessThan(touch) {
				touch = v.low
			}
			if !buy && v.high.GreaterThan(touch) {
				touch = v.high
			}
			if (buy && touch.LessThanOrEqual(o.LimitPrice)) || (!buy && touch.GreaterThanOrEqual(o.LimitPrice)) {
				price = o.LimitPrice
			}
		default:
			log.Printf("[Brokerage] order %d: unsupported type %s left open", o.ID, o.Type)
		}
		if price.IsZero() {
			continue
		}

		qty := so.po.RemainingQuantity()
		if qty.IsZero() {
			delete(c.open, id)
			continue
		}
		fee := decimal.Max(qty.Abs().Mul(c.cfg.FeePerUnit), c.cfg.MinFee)
		sec := so.po.Security()

		fill := order.Fill{
			Ticker:       o.Ticker,
			Direction:    order.DirectionOf(qty),
			FillPrice:    price,
			FillQuantity: qty,
			Fee:          fee,
			Currency:     sec.BaseCurrency,
			Exchange:     sec.Exchange.Name,
			LocalTime:    sec.LocalTime(s.UTCTime),
			UTCTime:      s.UTCTime,
			State:        order.StateFilled,
		}
		cur := sec.BaseCurrency
		c.balances[cur] = c.balances[cur].Sub(qty.Mul(price)).Sub(fee)
		delete(c.open, id)

		events = append(events, order.TicketEvent{
			OrderID:  o.ID,
			BrokerID: so.brokerID,
			FundID:   o.FundID,
			Ticker:   o.Ticker,
			State:    order.StateFilled,
			Fill:     &fill,
			UTCTime:  s.UTCTime,
		})
	}
	c.mu.Unlock()

	// 回调在锁外，处理器可能回调撤单
	for _, e := range events {
		c.emitOrder(e)
	}
}

func (c *SimulatedConnection) emitOrder(e order.TicketEvent) {
	c.cbMu.RLock()
	handlers := c.orderHandlers
	c.cbMu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func (c *SimulatedConnection) emitBalance(a cash.AccountAction) {
	c.cbMu.RLock()
	handlers := c.balanceHandlers
	c.cbMu.RUnlock()
	for _, fn := range handlers {
		fn(a)
	}
}
