// 文件: pkg/broker/margin.go
// 保证金模型: 按比例的初始/维持保证金

package broker

import (
	"github.com/shopspring/decimal"

	"quant.com/pkg/security"
)

// MarginModel 保证金模型，金额均为账户币种
type MarginModel interface {
	InitialMarginRequirement(acct *Account, sec *security.Security, qty decimal.Decimal) decimal.Decimal
	MaintenanceMargin(acct *Account, sec *security.Security, qty decimal.Decimal) decimal.Decimal
	FreeMargin(acct *Account, fundID string) decimal.Decimal
}

// RateMarginModel 名义价值 × 比例
//
//	Initial=1    现金账户，不允许杠杆
//	Initial=0.5  Reg-T 两倍杠杆
type RateMarginModel struct {
	Initial     decimal.Decimal
	Maintenance decimal.Decimal
}

// CashMarginModel 现金账户
func CashMarginModel() *RateMarginModel {
	one := decimal.NewFromInt(1)
	return &RateMarginModel{Initial: one, Maintenance: one}
}

// RegTMarginModel 初始 50%，维持 25%
func RegTMarginModel() *RateMarginModel {
	return &RateMarginModel{
		Initial:     decimal.RequireFromString("0.5"),
		Maintenance: decimal.RequireFromString("0.25"),
	}
}

func notional(acct *Account, sec *security.Security, qty decimal.Decimal) decimal.Decimal {
	return sec.ConvertValue(qty.Abs().Mul(sec.Price()), acct.Currency)
}

// InitialMarginRequirement 开仓所需保证金
func (m *RateMarginModel) InitialMarginRequirement(acct *Account, sec *security.Security, qty decimal.Decimal) decimal.Decimal {
	return notional(acct, sec, qty).Mul(m.Initial)
}

// MaintenanceMargin 维持保证金
func (m *RateMarginModel) MaintenanceMargin(acct *Account, sec *security.Security, qty decimal.Decimal) decimal.Decimal {
	return notional(acct, sec, qty).Mul(m.Maintenance)
}

// usedMargin 现有持仓占用的初始保证金
func (m *RateMarginModel) usedMargin(acct *Account, fundID string) decimal.Decimal {
	used := decimal.Zero
	for _, p := range acct.FundPositions(fundID).All() {
		sec, ok := acct.Securities.Get(p.Ticker)
		if !ok {
			continue
		}
		used = used.Add(m.InitialMarginRequirement(acct, sec, p.Quantity))
	}
	return used
}

// FreeMargin 可用保证金 = 已结算现金 + 持仓市值 - 已用保证金
func (m *RateMarginModel) FreeMargin(acct *Account, fundID string) decimal.Decimal {
	return acct.SettledCash(fundID).
		Add(acct.HoldingsValue(fundID)).
		Sub(m.usedMargin(acct, fundID))
}

// MarginRemaining 权益减维持保证金，负值触发追保
func (m *RateMarginModel) MarginRemaining(acct *Account, fundID string) decimal.Decimal {
	maint := decimal.Zero
	for _, p := range acct.FundPositions(fundID).All() {
		sec, ok := acct.Securities.Get(p.Ticker)
		if !ok {
			continue
		}
		maint = maint.Add(m.MaintenanceMargin(acct, sec, p.Quantity))
	}
	return acct.Equity(fundID).Sub(maint)
}
