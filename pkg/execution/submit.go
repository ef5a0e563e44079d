// 文件: pkg/execution/submit.go
// 下单流程
//
// 建单 -> 数量取整 -> 登记 -> 价格取整 -> 零数量 -> 资金检查
// -> 券商模型 -> (模拟单 | 报券商) -> Submitted

package execution

import (
	"fmt"
	"log"

	"quant.com/pkg/order"
	"quant.com/pkg/security"
)

// simulatable 券商不支持时可由本地按行情触发的类型
func simulatable(t order.OrderType) bool {
	switch t {
	case order.TypeLimit, order.TypeStopMarket, order.TypeStopLimit,
		order.TypeMarketOnOpen, order.TypeMarketOnClose:
		return true
	}
	return false
}

func (h *Handler) submitOrder(t *order.SubmitTicket) order.Response {
	sec, ok := h.acct.Securities.Get(t.Ticker)
	if !ok {
		return order.ErrorResponse(t.OrderID(), order.CodeInvalidRequest,
			fmt.Sprintf("unknown security %s", t.Ticker))
	}

	id := h.tracker.NextOrderID()
	t.SetOrderID(id)

	po, err := order.NewFromTicket(id, t, sec, h.now())
	if err != nil {
		return order.ErrorResponse(id, order.CodeInvalidRequest, err.Error())
	}

	// 1. 数量按最小交易单位取整
	o := po.Order()
	if rounded := sec.RoundLot(o.Quantity); !rounded.Equal(o.Quantity) {
		_ = po.UpdateOrder(func(o *order.Order) { o.Quantity = rounded })
		if _, warned := h.lotWarned.LoadOrStore(sec.Ticker, struct{}{}); !warned {
			h.warn(o.FundID, fmt.Sprintf(
				"order quantity for %s rounded from %s to %s, lot size is %s",
				sec.Ticker, o.Quantity, rounded, sec.LotSize))
		}
	}

	// 2. 登记
	if !h.tracker.TryAddOrder(po) {
		return order.ErrorResponse(id, order.CodeOrderAlreadyExists,
			fmt.Sprintf("order %d already exists", id))
	}

	// 3. 价格按最小变动单位取整
	h.roundPrices(po, sec)

	// 4. 零数量
	o = po.Order()
	if o.Quantity.IsZero() {
		return h.invalidate(po, order.CodeOrderQuantityZero,
			fmt.Sprintf("order quantity for %s is zero after rounding to lot size %s", o.Ticker, sec.LotSize))
	}

	// 5. 资金检查
	sufficient, reason, err := h.sufficientCapital(po, sec)
	if err != nil {
		return h.invalidate(po, order.CodeProcessingError, err.Error())
	}
	if !sufficient {
		return h.invalidate(po, order.CodeInsufficientBuyingPower, reason)
	}

	// 6. 券商模型
	accepted, reason, err := h.canSubmit(sec, po.Order())
	if err != nil {
		return h.invalidate(po, order.CodeProcessingError, err.Error())
	}
	if !accepted {
		return h.invalidate(po, order.CodeBrokerageModelRefusedToSubmitOrder, reason)
	}

	// 7. 券商不支持的条件单本地模拟
	if !h.model.IsOrderTypeSupported(o.Type) && simulatable(o.Type) {
		po.SetSimulated(true)
		po.TransitionIf(order.StateNew, order.StateSubmitted)
		log.Printf("[OrderTicketHandler] order %d %s %s simulated locally", id, o.Type, o.Ticker)
		h.emitOrder(po, order.StateSubmitted, "simulated order accepted")
		return order.Success(id)
	}

	// 8. 报券商
	if err := h.brokerSubmit(po); err != nil {
		return h.invalidate(po, order.CodeBrokerageFailedToSubmitOrder,
			fmt.Sprintf("brokerage failed to submit order %d: %v", id, err))
	}

	po.TransitionIf(order.StateNew, order.StateSubmitted)
	h.emitOrder(po, order.StateSubmitted, "")
	return order.Success(id)
}

func (h *Handler) roundPrices(po *order.PendingOrder, sec *security.Security) {
	o := po.Order()
	limit := sec.RoundPrice(o.LimitPrice)
	stop := sec.RoundPrice(o.StopPrice)
	if limit.Equal(o.LimitPrice) && stop.Equal(o.StopPrice) {
		return
	}
	_ = po.UpdateOrder(func(o *order.Order) {
		o.LimitPrice = limit
		o.StopPrice = stop
	})
	log.Printf("[OrderTicketHandler] order %d prices rounded to tick %s: limit %s->%s stop %s->%s",
		o.ID, sec.MinTick, o.LimitPrice, limit, o.StopPrice, stop)
}

// invalidate 标记 Invalid，发事件并移出注册表
func (h *Handler) invalidate(po *order.PendingOrder, code order.ResponseCode, message string) order.Response {
	id := po.ID()
	_ = po.SetState(order.StateInvalid)
	log.Printf("[OrderTicketHandler] order %d invalid: %s: %s", id, code, message)
	h.emitOrder(po, order.StateInvalid, message)
	h.tracker.TryRemoveOrder(id)
	return order.ErrorResponse(id, code, message)
}

// sufficientCapital 资金检查
//
// 平仓或减仓总是允许，反手只检查超出持仓的部分。
func (h *Handler) sufficientCapital(po *order.PendingOrder, sec *security.Security) (ok bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("margin model panic: %v", r)
		}
	}()

	o := po.Order()
	qty := po.RemainingQuantity()
	held := h.acct.FundPositions(o.FundID).Quantity(o.Ticker)

	if !held.IsZero() && held.Sign() != qty.Sign() {
		if qty.Abs().LessThanOrEqual(held.Abs()) {
			return true, "", nil
		}
		qty = qty.Add(held)
	}

	mm := h.model.GetMarginModel(sec)
	required := mm.InitialMarginRequirement(h.acct, sec, qty).Abs()
	free := mm.FreeMargin(h.acct, o.FundID)
	if required.GreaterThan(free) {
		return false, fmt.Sprintf(
			"insufficient buying power for order %d: initial margin %s, free margin %s",
			o.ID, required.StringFixed(2), free.StringFixed(2)), nil
	}
	return true, "", nil
}

func (h *Handler) canSubmit(sec *security.Security, o order.Order) (ok bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("brokerage model panic: %v", r)
		}
	}()
	ok, reason = h.model.CanSubmitOrder(sec, o)
	return ok, reason, nil
}

func (h *Handler) brokerSubmit(po *order.PendingOrder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.conn.SubmitOrder(po)
}
