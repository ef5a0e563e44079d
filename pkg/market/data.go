// 文件: pkg/market/data.go
// 行情数据点 - 封闭的变体集合
//
// Tick / TradeBar / QuoteBar / Delisting / Dividend / Split / TradingStatus
// 使用方通过 type switch 穷举匹配，未知变体走显式 default 分支

package market

import (
	"time"

	"github.com/shopspring/decimal"

	"quant.com/pkg/security"
)

// DataPoint 行情数据点
type DataPoint interface {
	Ticker() string
	// EndTime 数据点生效时间 (bar 为结束时间)
	EndTime() time.Time
	isDataPoint()
}

// =============================================================================
// Tick
// =============================================================================

// Tick 逐笔成交/报价
type Tick struct {
	Symbol   string
	UTCTime  time.Time
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Bid      decimal.Decimal
	Ask      decimal.Decimal
}

func (t Tick) Ticker() string     { return t.Symbol }
func (t Tick) EndTime() time.Time { return t.UTCTime }
func (Tick) isDataPoint()         {}

// =============================================================================
// Bar
// =============================================================================

// Bar OHLC
type Bar struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// Update 用一个价格更新 OHLC
func (b *Bar) Update(price decimal.Decimal) {
	if b.Open.IsZero() {
		b.Open, b.High, b.Low = price, price, price
	}
	if price.GreaterThan(b.High) {
		b.High = price
	}
	if price.LessThan(b.Low) {
		b.Low = price
	}
	b.Close = price
}

// TradeBar 成交 K 线
type TradeBar struct {
	Bar
	Symbol string
	Start  time.Time
	Period time.Duration
	Volume decimal.Decimal
}

func (b TradeBar) Ticker() string     { return b.Symbol }
func (b TradeBar) EndTime() time.Time { return b.Start.Add(b.Period) }
func (TradeBar) isDataPoint()         {}

// QuoteBar 买卖盘 K 线
type QuoteBar struct {
	Symbol string
	Start  time.Time
	Period time.Duration
	Bid    Bar
	Ask    Bar
}

func (b QuoteBar) Ticker() string     { return b.Symbol }
func (b QuoteBar) EndTime() time.Time { return b.Start.Add(b.Period) }
func (QuoteBar) isDataPoint()         {}

// =============================================================================
// 公司行为与交易状态
// =============================================================================

// Delisting 退市通知 (Warning=true 为预告，此时 UTCTime 为最后交易时间)
type Delisting struct {
	Symbol  string
	UTCTime time.Time
	Warning bool
}

func (d Delisting) Ticker() string     { return d.Symbol }
func (d Delisting) EndTime() time.Time { return d.UTCTime }
func (Delisting) isDataPoint()         {}

// Dividend 分红 (每股)
type Dividend struct {
	Symbol       string
	UTCTime      time.Time
	Distribution decimal.Decimal
}

func (d Dividend) Ticker() string     { return d.Symbol }
func (d Dividend) EndTime() time.Time { return d.UTCTime }
func (Dividend) isDataPoint()         {}

// Split 拆股 (Factor=0.5 表示 1 拆 2)
type Split struct {
	Symbol  string
	UTCTime time.Time
	Factor  decimal.Decimal
}

func (s Split) Ticker() string     { return s.Symbol }
func (s Split) EndTime() time.Time { return s.UTCTime }
func (Split) isDataPoint()         {}

// SessionStatus 交易时段状态
type SessionStatus int

const (
	SessionOpen SessionStatus = iota + 1
	SessionClose
	SessionHalted
	SessionResumed
)

// TradingStatus 开收盘/停牌标记
type TradingStatus struct {
	Symbol  string
	UTCTime time.Time
	Status  SessionStatus
}

func (s TradingStatus) Ticker() string     { return s.Symbol }
func (s TradingStatus) EndTime() time.Time { return s.UTCTime }
func (TradingStatus) isDataPoint()         {}

// =============================================================================
// 报价更新
// =============================================================================

// ApplyQuote 将数据点写入证券最新报价，非价格类数据返回 false
func ApplyQuote(sec *security.Security, p DataPoint) bool {
	switch v := p.(type) {
	case Tick:
		sec.UpdateQuote(func(q *security.Quote) {
			if !v.Price.IsZero() {
				q.Last = v.Price
			}
			if !v.Bid.IsZero() {
				q.Bid = v.Bid
			}
			if !v.Ask.IsZero() {
				q.Ask = v.Ask
			}
			q.Time = v.UTCTime
		})
	case TradeBar:
		sec.UpdateQuote(func(q *security.Quote) {
			q.Open, q.High, q.Low, q.Close = v.Open, v.High, v.Low, v.Close
			q.Last = v.Close
			q.Time = v.EndTime()
		})
	case QuoteBar:
		sec.UpdateQuote(func(q *security.Quote) {
			q.Bid, q.Ask = v.Bid.Close, v.Ask.Close
			q.Time = v.EndTime()
		})
	default:
		return false
	}
	return true
}
