// 文件: pkg/security/currency.go
// 币种与汇率表

package security

import (
	"log"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// CurrencyType 币种代码 (ISO 4217)
type CurrencyType string

const (
	USD CurrencyType = "USD"
	EUR CurrencyType = "EUR"
	GBP CurrencyType = "GBP"
	JPY CurrencyType = "JPY"
	CNY CurrencyType = "CNY"
	HKD CurrencyType = "HKD"
)

// Converter 币种换算
type Converter interface {
	Convert(amount decimal.Decimal, from, to CurrencyType) decimal.Decimal
}

type pair struct {
	from CurrencyType
	to   CurrencyType
}

// RateTable 汇率表
//
// 未知汇率按 1:1 处理，每个币对只告警一次。
type RateTable struct {
	mu     sync.RWMutex
	rates  map[pair]decimal.Decimal
	warned sync.Map // pair -> struct{}
}

// NewRateTable 创建汇率表
func NewRateTable() *RateTable {
	return &RateTable{rates: make(map[pair]decimal.Decimal)}
}

// SetRate 设置 1 from = rate to，同时写入反向汇率
func (r *RateTable) SetRate(from, to CurrencyType, rate decimal.Decimal) {
	if rate.Sign() <= 0 {
		return
	}
	r.mu.Lock()
	r.rates[pair{from, to}] = rate
	r.rates[pair{to, from}] = decimal.NewFromInt(1).Div(rate)
	r.mu.Unlock()
}

// Rate 查询汇率
func (r *RateTable) Rate(from, to CurrencyType) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.rates[pair{from, to}]
	return rate, ok
}

// Convert 实现 Converter
func (r *RateTable) Convert(amount decimal.Decimal, from, to CurrencyType) decimal.Decimal {
	rate, ok := r.Rate(from, to)
	if !ok {
		if _, loaded := r.warned.LoadOrStore(pair{from, to}, struct{}{}); !loaded {
			log.Printf("[Currency] no rate for %s->%s, using 1:1", from, to)
		}
		return amount
	}
	return amount.Mul(rate)
}

// UpdateFromTicker 用外汇行情更新汇率，ticker 形如 "EURUSD"
// 非外汇 ticker 返回 false
func (r *RateTable) UpdateFromTicker(ticker string, price decimal.Decimal) bool {
	from, to, ok := ParseFXTicker(ticker)
	if !ok || price.Sign() <= 0 {
		return false
	}
	r.SetRate(from, to, price)
	return true
}

// ParseFXTicker 解析 6 字母外汇代码
func ParseFXTicker(ticker string) (CurrencyType, CurrencyType, bool) {
	if len(ticker) != 6 || strings.ToUpper(ticker) != ticker {
		return "", "", false
	}
	for _, c := range ticker {
		if c < 'A' || c > 'Z' {
			return "", "", false
		}
	}
	return CurrencyType(ticker[:3]), CurrencyType(ticker[3:]), true
}
