// 文件: pkg/security/security.go
// 证券定义: 最小交易单位、最小价格变动、最新报价、退市时间

package security

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// 报价快照
// =============================================================================

// Quote 最新报价 (OHLC + 买卖盘)
type Quote struct {
	Bid   decimal.Decimal
	Ask   decimal.Decimal
	Last  decimal.Decimal
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
	Time  time.Time
}

// Price 参考价: Last > Close > 中间价
func (q Quote) Price() decimal.Decimal {
	if !q.Last.IsZero() {
		return q.Last
	}
	if !q.Close.IsZero() {
		return q.Close
	}
	if !q.Bid.IsZero() && !q.Ask.IsZero() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	if !q.Ask.IsZero() {
		return q.Ask
	}
	return q.Bid
}

// =============================================================================
// Security
// =============================================================================

// Security 可交易证券
//
// 静态属性在创建后不变，报价和退市时间由行情线程更新。
type Security struct {
	Ticker       string
	Exchange     *Exchange
	BaseCurrency CurrencyType
	LotSize      decimal.Decimal // 最小交易单位 (<=0 表示不限制)
	MinTick      decimal.Decimal // 最小价格变动 (<=0 表示不限制)

	converter Converter

	mu        sync.RWMutex
	quote     Quote
	delisting time.Time
}

// New 创建证券
func New(ticker string, ex *Exchange, currency CurrencyType, lotSize, minTick decimal.Decimal, conv Converter) *Security {
	if ex == nil {
		ex = DefaultExchange()
	}
	return &Security{
		Ticker:       ticker,
		Exchange:     ex,
		BaseCurrency: currency,
		LotSize:      lotSize,
		MinTick:      minTick,
		converter:    conv,
	}
}

// Quote 当前报价
func (s *Security) Quote() Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote
}

// Price 当前参考价
func (s *Security) Price() decimal.Decimal {
	return s.Quote().Price()
}

// UpdateQuote 用 fn 修改报价
func (s *Security) UpdateQuote(fn func(q *Quote)) {
	s.mu.Lock()
	fn(&s.quote)
	s.mu.Unlock()
}

// SetDelisting 设置退市时间
func (s *Security) SetDelisting(utc time.Time) {
	s.mu.Lock()
	s.delisting = utc
	s.mu.Unlock()
}

// Delisting 退市时间，未设置时返回 false
func (s *Security) Delisting() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.delisting, !s.delisting.IsZero()
}

// IsDelisted 在 utc 时刻是否已退市
func (s *Security) IsDelisted(utc time.Time) bool {
	t, ok := s.Delisting()
	return ok && !utc.Before(t)
}

// LocalTime 交易所本地时间
func (s *Security) LocalTime(utc time.Time) time.Time {
	return s.Exchange.LocalTime(utc)
}

// =============================================================================
// 取整
// =============================================================================

// RoundLot 数量按最小交易单位向零取整
// 例: lot=10, 103 -> 100, -107 -> -100
func (s *Security) RoundLot(qty decimal.Decimal) decimal.Decimal {
	if s.LotSize.Sign() <= 0 {
		return qty
	}
	return qty.Div(s.LotSize).Truncate(0).Mul(s.LotSize)
}

// RoundPrice 价格按最小变动单位四舍五入
func (s *Security) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if s.MinTick.Sign() <= 0 || price.IsZero() {
		return price
	}
	return price.Div(s.MinTick).Round(0).Mul(s.MinTick)
}

// ConvertValue 把以本币计价的金额换算为 to 币种
func (s *Security) ConvertValue(amount decimal.Decimal, to CurrencyType) decimal.Decimal {
	if s.BaseCurrency == to || s.converter == nil {
		return amount
	}
	return s.converter.Convert(amount, s.BaseCurrency, to)
}
