// 文件: pkg/broker/settlement.go
// 结算模型: 即时结算 / T+N 延迟结算

package broker

import (
	"time"

	"github.com/shopspring/decimal"

	"quant.com/pkg/cash"
	"quant.com/pkg/security"
)

// SettlementModel 成交资金入账规则
type SettlementModel interface {
	// ApplyFunds amount 为正入账，为负出账 (币种 currency)
	ApplyFunds(acct *Account, fundID string, currency security.CurrencyType, amount decimal.Decimal, utcTime time.Time) error
}

// ImmediateSettlement 成交即结算
type ImmediateSettlement struct{}

func (ImmediateSettlement) ApplyFunds(acct *Account, fundID string, currency security.CurrencyType, amount decimal.Decimal, _ time.Time) error {
	if amount.Sign() >= 0 {
		return acct.Cash.ProcessFund(fundID, cash.ActionCredit, currency, amount)
	}
	return acct.Cash.ProcessFund(fundID, cash.ActionDebit, currency, amount)
}

// DelayedSettlement 卖出资金 T+Days 到账，买入立即扣款
type DelayedSettlement struct {
	Days      int
	TimeOfDay time.Duration // 到账时刻 (距当地零点)
	Location  *time.Location
}

// NewDelayedSettlement 美股 T+1，纽约 08:00 到账
func NewDelayedSettlement(days int, loc *time.Location) *DelayedSettlement {
	if loc == nil {
		loc = time.UTC
	}
	return &DelayedSettlement{Days: days, TimeOfDay: 8 * time.Hour, Location: loc}
}

func (s *DelayedSettlement) ApplyFunds(acct *Account, fundID string, currency security.CurrencyType, amount decimal.Decimal, utcTime time.Time) error {
	if amount.Sign() < 0 {
		return acct.Cash.ProcessFund(fundID, cash.ActionDebit, currency, amount)
	}
	return acct.Cash.AddUnsettled(fundID, currency, amount, s.SettlementTime(utcTime))
}

// SettlementTime 跳过周末后第 Days 个工作日的到账时刻 (UTC)
func (s *DelayedSettlement) SettlementTime(utcTime time.Time) time.Time {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	local := utcTime.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	for n := 0; n < s.Days; {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n++
		}
	}
	h := int(s.TimeOfDay / time.Hour)
	m := int(s.TimeOfDay % time.Hour / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc).UTC()
}
