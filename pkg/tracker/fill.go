// 文件: pkg/tracker/fill.go
// 成交入账: 现金 -> 结算模型 -> 账户/基金持仓 -> 历史成交 -> 清理

package tracker

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"quant.com/pkg/broker"
	"quant.com/pkg/order"
	"quant.com/pkg/security"
)

// CashDelta 成交带来的现金变动 (证券本币)
//
// 金额为 |价值| - |手续费|。held 为成交前持仓:
// 空仓或同向加仓时现金流出 (负)，减少反向持仓时现金流入 (正)。
func CashDelta(f order.Fill, held decimal.Decimal) decimal.Decimal {
	amount := f.Value().Abs().Sub(f.Fee.Abs())
	if held.IsZero() || held.Sign() == f.FillQuantity.Sign() {
		return amount.Neg()
	}
	return amount
}

// ProcessFill 把在途订单的一笔成交记入账户
func (t *Tracker) ProcessFill(po *order.PendingOrder, f order.Fill, model broker.Model, acct *broker.Account) error {
	sec := po.Security()
	held := acct.Positions().Quantity(f.Ticker)
	if f.FundID != "" {
		held = acct.FundPositions(f.FundID).Quantity(f.Ticker)
	}
	if err := settle(sec, f, held, model, acct); err != nil {
		return err
	}

	change := acct.Positions().Apply(f)
	if f.FundID != "" {
		acct.FundPositions(f.FundID).Apply(f)
	}

	t.AddHistoricalFill(f)
	left := model.DayTradingOrdersLeft(acct, t.HistoricalFills(), f.UTCTime)
	if left == 0 {
		log.Printf("[OrderTracker] no day trades left after order %d (%s)", f.OrderID, f.Ticker)
	}

	log.Printf("[OrderTracker] fill order=%d %s qty=%s @ %s fee=%s position=%s",
		f.OrderID, f.Ticker, f.FillQuantity, f.FillPrice, f.Fee, change)

	t.Cleanup()
	return nil
}

// ProcessAccountFill 处理没有对应在途订单的成交
//
// 只在账户持有反向仓位时入账，同向成交无需对账。
func (t *Tracker) ProcessAccountFill(acct *broker.Account, model broker.Model, f order.Fill) bool {
	held := acct.Positions().Quantity(f.Ticker)
	if held.IsZero() || held.Sign() == f.FillQuantity.Sign() {
		return false
	}

	if sec, ok := acct.Securities.Get(f.Ticker); ok {
		if err := settle(sec, f, held, model, acct); err != nil {
			log.Printf("[OrderTracker] account fill settlement error: %v", err)
		}
	}
	acct.Positions().Apply(f)
	t.AddHistoricalFill(f)
	t.trimFills()
	return true
}

func settle(sec *security.Security, f order.Fill, held decimal.Decimal, model broker.Model, acct *broker.Account) error {
	if sec == nil {
		return fmt.Errorf("fill for order %d has no security", f.OrderID)
	}
	delta := sec.ConvertValue(CashDelta(f, held), acct.Currency)
	if delta.IsZero() {
		return nil
	}
	if err := model.GetSettlementModel(sec).ApplyFunds(acct, f.FundID, acct.Currency, delta, f.UTCTime); err != nil {
		return fmt.Errorf("apply funds for order %d: %w", f.OrderID, err)
	}
	return nil
}
