// 文件: pkg/portfolio/step.go
// 主循环单批处理: 报价、汇率、退市、追保、结算、聚合、回调

package portfolio

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"quant.com/pkg/broker"
	"quant.com/pkg/market"
	"quant.com/pkg/notify"
	"quant.com/pkg/order"
)

// step 处理一批行情，致命错误记入 exceptions
func (p *Portfolio) step(s market.Slice) {
	now := s.UTCTime
	if p.cfg.Backtest {
		p.setClock(now)
	}

	p.applyQuotes(s)

	// 模拟券商先撮合，订单处理器再看到这批数据
	if mdp, ok := p.conn.(broker.MarketDataProcessor); ok {
		mdp.ProcessMarketData(s)
	}

	if p.cfg.Backtest {
		p.sched.PumpPastDue(now)
	}

	p.updateRates(s)
	p.processDelistings(s)
	p.handler.OnData(s)

	if p.nextMarginCall.IsZero() {
		p.nextMarginCall = now.Add(p.cfg.MarginCallPeriod)
	} else if !now.Before(p.nextMarginCall) {
		p.nextMarginCall = now.Add(p.cfg.MarginCallPeriod)
		if err := p.checkMarginCalls(now); err != nil {
			p.exceptions.Fatal(err)
			return
		}
	}

	if p.nextSettlement.IsZero() {
		p.nextSettlement = now.Add(p.cfg.SettlementPeriod)
	} else if !now.Before(p.nextSettlement) {
		p.nextSettlement = now.Add(p.cfg.SettlementPeriod)
		if n := p.acct.Cash.Settle(now); n > 0 {
			log.Printf("[Portfolio] %s settled %d entries", p.cfg.ID, n)
		}
	}

	p.mu.RLock()
	aggs := p.aggregators
	p.mu.RUnlock()
	market.Dispatch(aggs, s)

	if err := p.onData(s); err != nil {
		p.exceptions.Fatal(err)
		return
	}
	p.prevTime = now
}

func (p *Portfolio) applyQuotes(s market.Slice) {
	for _, pt := range s.Points {
		if sec, ok := p.acct.Securities.Get(pt.Ticker()); ok {
			market.ApplyQuote(sec, pt)
		}
	}
}

// updateRates 外汇行情更新汇率表
func (p *Portfolio) updateRates(s market.Slice) {
	if p.rates == nil {
		return
	}
	for _, pt := range s.Points {
		var price decimal.Decimal
		switch v := pt.(type) {
		case market.Tick:
			price = v.Price
			if price.IsZero() && !v.Bid.IsZero() && !v.Ask.IsZero() {
				price = v.Bid.Add(v.Ask).Div(decimal.NewFromInt(2))
			}
		case market.TradeBar:
			price = v.Close
		case market.QuoteBar:
			price = v.Bid.Close.Add(v.Ask.Close).Div(decimal.NewFromInt(2))
		default:
			continue
		}
		p.rates.UpdateFromTicker(pt.Ticker(), price)
	}
}

// =============================================================================
// 退市
// =============================================================================

// processDelistings 记录退市时间；到期后撤单并按市价平掉各基金持仓，每个证券只处理一次
func (p *Portfolio) processDelistings(s market.Slice) {
	for _, pt := range s.Points {
		d, ok := pt.(market.Delisting)
		if !ok {
			continue
		}
		sec, ok := p.acct.Securities.Get(d.Symbol)
		if !ok {
			continue
		}
		if t, set := sec.Delisting(); !set || d.UTCTime.Before(t) {
			sec.SetDelisting(d.UTCTime)
		}
	}

	for _, sec := range p.acct.Securities.All() {
		if p.delisted[sec.Ticker] || !sec.IsDelisted(s.UTCTime) {
			continue
		}
		p.delisted[sec.Ticker] = true
		p.liquidateSecurity(sec.Ticker, s.UTCTime)
	}
}

func (p *Portfolio) liquidateSecurity(ticker string, now time.Time) {
	open := p.handler.GetOrders(func(o order.Order) bool {
		return o.Ticker == ticker && !o.State.IsClosed()
	})
	for _, o := range open {
		t := order.NewCancelTicket(o.FundID, o.ID, now)
		t.Comment = "delisting"
		p.handler.Process(t)
	}

	attributed := decimal.Zero
	for _, fundID := range p.acct.FundIDs() {
		qty := p.acct.FundPositions(fundID).Quantity(ticker)
		if qty.IsZero() {
			continue
		}
		attributed = attributed.Add(qty)
		p.submitLiquidation(fundID, ticker, qty.Neg(), now, "delisting liquidation")
	}
	// 账户级持仓中不属于任何基金的部分
	if rest := p.acct.Positions().Quantity(ticker).Sub(attributed); !rest.IsZero() {
		p.submitLiquidation("", ticker, rest.Neg(), now, "delisting liquidation")
	}
	log.Printf("[Portfolio] %s delisted %s: cancelled=%d", p.cfg.ID, ticker, len(open))
}

func (p *Portfolio) submitLiquidation(fundID, ticker string, qty decimal.Decimal, now time.Time, comment string) {
	t := order.NewSubmitTicket(fundID, ticker, order.TypeMarket, qty, now)
	t.Comment = comment
	p.handler.Process(t)
	if t.State() == order.TicketError {
		r := t.Response()
		log.Printf("[Portfolio] %s order rejected: fund=%q %s qty=%s code=%s msg=%s",
			comment, fundID, ticker, qty, r.Code, r.Message)
	}
}

// =============================================================================
// 追保
// =============================================================================

// checkMarginCalls 追保检查；模型出错或 panic 为致命错误
func (p *Portfolio) checkMarginCalls(now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("margin call panic: %v", r)
		}
	}()

	calls, warning, err := p.model.GetMarginCallModel().GetMarginCalls(p.acct, now)
	if err != nil {
		return fmt.Errorf("margin call: %w", err)
	}
	if warning {
		p.publish(notify.EventWarning, "", notify.TextPayload{Message: "margin call warning: margin remaining is low"})
	}
	if len(calls) == 0 {
		return nil
	}

	byFund := make(map[string][]broker.MarginCall)
	for _, c := range calls {
		byFund[c.FundID] = append(byFund[c.FundID], c)
	}
	for fundID, cs := range byFund {
		if f, ok := p.Fund(fundID); ok {
			f.OnMarginCall(cs)
		}
	}
	for _, c := range calls {
		p.submitLiquidation(c.FundID, c.Ticker, c.Quantity, now, "margin call: "+c.Reason)
	}
	log.Printf("[Portfolio] %s margin calls executed: %d", p.cfg.ID, len(calls))
	return nil
}

// =============================================================================
// 组合回调
// =============================================================================

// onData 分发给基金和组合级回调
//
// 基金策略的错误只让该基金进入 RuntimeError；组合级回调的错误或 panic 是致命错误。
func (p *Portfolio) onData(s market.Slice) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("portfolio on data panic: %v", r)
		}
	}()

	for _, f := range p.Funds() {
		if ferr := f.OnData(s); ferr != nil {
			p.exceptions.Report(ferr)
			p.publishFundInfo(f)
		}
	}

	p.broadcaster.Broadcast(s)

	p.mu.RLock()
	hooks := p.dataHooks
	p.mu.RUnlock()
	var errs []error
	for _, fn := range hooks {
		errs = append(errs, fn(s))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("portfolio on data: %w", err)
	}
	return nil
}

// LastProcessed 最近处理完的数据时间，主循环结束后读取
func (p *Portfolio) LastProcessed() time.Time { return p.prevTime }
