// 文件: pkg/broker/margincall.go
// 追保模型: 维持保证金不足时按比例减仓

package broker

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// MarginCall 一笔追保减仓
type MarginCall struct {
	FundID   string
	Ticker   string
	Quantity decimal.Decimal // 带符号，与持仓方向相反
	Reason   string
}

// MarginCallModel 追保规则
type MarginCallModel interface {
	// GetMarginCalls 返回需要执行的减仓，warning 为接近追保线
	GetMarginCalls(acct *Account, utcNow time.Time) (calls []MarginCall, warning bool, err error)
}

// NoMarginCall 从不追保
type NoMarginCall struct{}

func (NoMarginCall) GetMarginCalls(*Account, time.Time) ([]MarginCall, bool, error) {
	return nil, false, nil
}

// DefaultMarginCallModel 维持保证金模型
type DefaultMarginCallModel struct {
	Margin *RateMarginModel
	// WarningBuffer 剩余保证金 / 权益 低于该比例时告警
	WarningBuffer decimal.Decimal
}

// NewDefaultMarginCallModel 告警线 5%
func NewDefaultMarginCallModel(m *RateMarginModel) *DefaultMarginCallModel {
	return &DefaultMarginCallModel{Margin: m, WarningBuffer: decimal.RequireFromString("0.05")}
}

// GetMarginCalls 对账户和每个基金分别检查
//
// 减仓比例 f = 1 - 权益/维持保证金，按手数向上取整。
func (m *DefaultMarginCallModel) GetMarginCalls(acct *Account, utcNow time.Time) ([]MarginCall, bool, error) {
	var (
		calls   []MarginCall
		warning bool
	)

	scopes := append([]string{""}, acct.FundIDs()...)
	for _, fundID := range scopes {
		positions := acct.FundPositions(fundID).All()
		if len(positions) == 0 {
			continue
		}

		equity := acct.Equity(fundID)
		remaining := m.Margin.MarginRemaining(acct, fundID)
		if remaining.Sign() >= 0 {
			if equity.IsPositive() && remaining.Div(equity).LessThan(m.WarningBuffer) {
				warning = true
			}
			continue
		}

		maint := equity.Sub(remaining)
		f := decimal.NewFromInt(1)
		if maint.IsPositive() && equity.IsPositive() {
			f = f.Sub(equity.Div(maint))
		}
		log.Printf("[MarginCall] fund=%q equity=%s maintenance=%s reduce=%s at %s",
			fundID, equity.StringFixed(2), maint.StringFixed(2), f.StringFixed(4), utcNow.Format(time.RFC3339))

		for _, p := range positions {
			sec, ok := acct.Securities.Get(p.Ticker)
			if !ok {
				continue
			}
			qty := p.Quantity.Abs().Mul(f)
			if sec.LotSize.IsPositive() {
				qty = qty.Div(sec.LotSize).Ceil().Mul(sec.LotSize)
			}
			qty = decimal.Min(qty, p.Quantity.Abs())
			if qty.IsZero() {
				continue
			}
			if p.Quantity.IsPositive() {
				qty = qty.Neg()
			}
			calls = append(calls, MarginCall{
				FundID:   fundID,
				Ticker:   p.Ticker,
				Quantity: qty,
				Reason:   "maintenance margin deficit",
			})
		}
	}
	return calls, warning, nil
}
