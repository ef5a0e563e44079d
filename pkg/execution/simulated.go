// 文件: pkg/execution/simulated.go
// 本地模拟条件单 + 到期撤单
//
// 券商不支持的 Limit / Stop / StopLimit / MOO / MOC 由本地按行情触发，
// 触发后原单撤销，按剩余数量另下一张市价单。

package execution

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"quant.com/pkg/market"
	"quant.com/pkg/order"
)

// OnData 每批行情调用一次
func (h *Handler) OnData(s market.Slice) {
	h.ProcessSimulatedOrders(s)
	h.expireOrders(s.UTCTime)
}

// =============================================================================
// 触发
// =============================================================================

// priceRange 一个数据点上某一方向可成交的价格区间
type priceRange struct {
	low  decimal.Decimal
	high decimal.Decimal
}

// rangeOf 买方看卖价 (ask)，卖方看买价 (bid)；非价格类数据返回 false
func rangeOf(p market.DataPoint, buy bool) (priceRange, bool) {
	switch v := p.(type) {
	case market.Tick:
		px := v.Bid
		if buy {
			px = v.Ask
		}
		if px.IsZero() {
			px = v.Price
		}
		if px.IsZero() {
			return priceRange{}, false
		}
		return priceRange{low: px, high: px}, true
	case market.TradeBar:
		return priceRange{low: v.Low, high: v.High}, true
	case market.QuoteBar:
		side := v.Bid
		if buy {
			side = v.Ask
		}
		return priceRange{low: side.Low, high: side.High}, true
	case market.Delisting, market.Dividend, market.Split, market.TradingStatus:
		return priceRange{}, false
	default:
		return priceRange{}, false
	}
}

func limitHit(r priceRange, buy bool, limit decimal.Decimal) bool {
	if buy {
		return r.low.LessThanOrEqual(limit)
	}
	return r.high.GreaterThanOrEqual(limit)
}

func stopHit(r priceRange, buy bool, stop decimal.Decimal) bool {
	if buy {
		return r.high.GreaterThanOrEqual(stop)
	}
	return r.low.LessThanOrEqual(stop)
}

func sessionHit(p market.DataPoint, want market.SessionStatus) bool {
	ts, ok := p.(market.TradingStatus)
	return ok && ts.Status == want
}

// ProcessSimulatedOrders 对本批行情检查所有模拟单，每单每批最多触发一次
func (h *Handler) ProcessSimulatedOrders(s market.Slice) {
	for _, po := range h.tracker.OpenOrders() {
		if !po.IsSimulated() {
			continue
		}
		o := po.Order()
		if o.State == order.StateCancelPending || o.IsClosed() {
			continue
		}
		points := s.ForTicker(o.Ticker)
		if len(points) == 0 {
			continue
		}

		buy := o.Quantity.IsPositive()
		fired, reason := false, ""

	scan:
		for _, p := range points {
			switch o.Type {
			case order.TypeLimit:
				if r, ok := rangeOf(p, buy); ok && limitHit(r, buy, o.LimitPrice) {
					fired, reason = true, fmt.Sprintf("limit %s reached", o.LimitPrice)
				}
			case order.TypeStopMarket:
				if r, ok := rangeOf(p, buy); ok && stopHit(r, buy, o.StopPrice) {
					fired, reason = true, fmt.Sprintf("stop %s reached", o.StopPrice)
				}
			case order.TypeStopLimit:
				r, ok := rangeOf(p, buy)
				if !ok {
					continue
				}
				if !o.StopTriggered && stopHit(r, buy, o.StopPrice) {
					_ = po.UpdateOrder(func(o *order.Order) { o.StopTriggered = true })
					o.StopTriggered = true
					log.Printf("[OrderTicketHandler] simulated order %d stop %s triggered", o.ID, o.StopPrice)
				}
				if o.StopTriggered && limitHit(r, buy, o.LimitPrice) {
					fired, reason = true, fmt.Sprintf("stop %s triggered and limit %s reached", o.StopPrice, o.LimitPrice)
				}
			case order.TypeMarketOnOpen:
				if sessionHit(p, market.SessionOpen) {
					fired, reason = true, "market open"
				}
			case order.TypeMarketOnClose:
				if sessionHit(p, market.SessionClose) {
					fired, reason = true, "market close"
				}
			default:
				msg := fmt.Sprintf("no simulation policy for %s order %d, removed", o.Type, o.ID)
				log.Printf("[OrderTicketHandler] %s", msg)
				_ = po.SetState(order.StateError)
				h.tracker.TryRemoveOrder(o.ID)
				h.emitOrder(po, order.StateError, msg)
				break scan
			}
			if fired {
				break scan
			}
		}

		if fired {
			h.convertToMarket(po, reason)
		}
	}
}

// convertToMarket 撤销原模拟单，按剩余数量提交市价单
func (h *Handler) convertToMarket(po *order.PendingOrder, reason string) {
	o := po.Order()
	remaining := po.RemainingQuantity()
	msg := fmt.Sprintf("converted to market order: %s", reason)

	if err := po.SetState(order.StateCancelled); err != nil {
		return
	}
	h.tracker.TryRemoveOrder(o.ID)
	h.emitOrder(po, order.StateCancelled, msg)

	if remaining.IsZero() {
		return
	}
	t := order.NewSubmitTicket(o.FundID, o.Ticker, order.TypeMarket, remaining, h.now())
	t.TimeInForce = o.TimeInForce
	t.ExpiresUTC = o.ExpiresUTC
	t.Comment = fmt.Sprintf("simulated %s order %d: %s", o.Type, o.ID, reason)
	if st := h.Process(t).Base().State(); st == order.TicketError {
		log.Printf("[OrderTicketHandler] market order for simulated order %d rejected: %s", o.ID, t.Response().Message)
	}
}

// =============================================================================
// 到期
// =============================================================================

// expireOrders Day 单收盘撤、GTD 单到期撤
func (h *Handler) expireOrders(now time.Time) {
	if now.IsZero() {
		return
	}
	for _, po := range h.tracker.OpenOrders() {
		o := po.Order()
		if o.State == order.StateCancelPending || o.IsClosed() {
			continue
		}

		var reason string
		switch o.TimeInForce {
		case order.GoodTillDate:
			if !o.ExpiresUTC.After(now) {
				reason = fmt.Sprintf("good-till-date order expired at %s", o.ExpiresUTC.Format(time.RFC3339))
			}
		case order.Day:
			ex := po.Security().Exchange
			closeAt := ex.SessionClose(o.CreatedUTC)
			if !o.CreatedUTC.Before(closeAt) {
				closeAt = ex.SessionClose(o.CreatedUTC.AddDate(0, 0, 1))
			}
			if !now.Before(closeAt) {
				reason = "day order expired at session close"
			}
		}
		if reason == "" {
			continue
		}

		t := order.NewCancelTicket(o.FundID, o.ID, now)
		t.Comment = reason
		if h.Process(t).Base().State() == order.TicketError {
			log.Printf("[OrderTicketHandler] expire order %d rejected: %s", o.ID, t.Response().Message)
		}
	}
}
