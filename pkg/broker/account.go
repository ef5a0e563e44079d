// 文件: pkg/broker/account.go
// 券商账户: 现金 + 账户级/基金级持仓

package broker

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"quant.com/pkg/cash"
	"quant.com/pkg/position"
	"quant.com/pkg/security"
)

// Account 券商账户
type Account struct {
	Currency   security.CurrencyType
	Cash       *cash.Manager
	Securities *security.Registry
	Converter  security.Converter

	positions *position.Tracker

	mu    sync.RWMutex
	funds map[string]*position.Tracker
}

// NewAccount 创建账户
func NewAccount(currency security.CurrencyType, cm *cash.Manager, reg *security.Registry, conv security.Converter) *Account {
	return &Account{
		Currency:   currency,
		Cash:       cm,
		Securities: reg,
		Converter:  conv,
		positions:  position.NewTracker(),
		funds:      make(map[string]*position.Tracker),
	}
}

// Positions 账户级持仓
func (a *Account) Positions() *position.Tracker {
	return a.positions
}

// FundPositions 基金持仓，不存在则创建；fundID 为空返回账户级持仓
func (a *Account) FundPositions(fundID string) *position.Tracker {
	if fundID == "" {
		return a.positions
	}

	a.mu.RLock()
	t, ok := a.funds[fundID]
	a.mu.RUnlock()
	if ok {
		return t
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if t, ok = a.funds[fundID]; !ok {
		t = position.NewTracker()
		a.funds[fundID] = t
	}
	return t
}

// FundIDs 有持仓簿的基金
func (a *Account) FundIDs() []string {
	a.mu.RLock()
	ids := make([]string, 0, len(a.funds))
	for id := range a.funds {
		ids = append(ids, id)
	}
	a.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (a *Account) convert(amount decimal.Decimal, from security.CurrencyType) decimal.Decimal {
	if from == a.Currency || a.Converter == nil {
		return amount
	}
	return a.Converter.Convert(amount, from, a.Currency)
}

// SettledCash 已结算现金 (账户币种)
func (a *Account) SettledCash(fundID string) decimal.Decimal {
	sum := decimal.Zero
	for cur, p := range a.Cash.GetCashPositions(fundID) {
		sum = sum.Add(a.convert(p.Settled, cur))
	}
	return sum
}

// TotalCash 已结算 + 未结算现金 (账户币种)
func (a *Account) TotalCash(fundID string) decimal.Decimal {
	sum := decimal.Zero
	for cur, p := range a.Cash.GetCashPositions(fundID) {
		sum = sum.Add(a.convert(p.Total(), cur))
	}
	return sum
}

// HoldingsValue 持仓市值 (带符号，账户币种)
func (a *Account) HoldingsValue(fundID string) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range a.FundPositions(fundID).All() {
		sec, ok := a.Securities.Get(p.Ticker)
		if !ok {
			continue
		}
		sum = sum.Add(sec.ConvertValue(p.Quantity.Mul(sec.Price()), a.Currency))
	}
	return sum
}

// Equity 权益 = 现金 + 持仓市值
func (a *Account) Equity(fundID string) decimal.Decimal {
	return a.TotalCash(fundID).Add(a.HoldingsValue(fundID))
}
