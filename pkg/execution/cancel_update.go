// 文件: pkg/execution/cancel_update.go
// 撤单 / 改单流程

package execution

import (
	"fmt"
	"log"

	"quant.com/pkg/order"
)

// =============================================================================
// 撤单
// =============================================================================

func (h *Handler) cancelOrder(t *order.CancelTicket) order.Response {
	id := t.OrderID()
	po, ok := h.tracker.Find(id)
	if !ok {
		return order.ErrorResponse(id, order.CodeUnableToFindOrder, fmt.Sprintf("unable to find order %d", id))
	}
	if st := po.State(); st.IsClosed() {
		return order.ErrorResponse(id, order.CodeInvalidOrderStatus, fmt.Sprintf("order %d is %s", id, st))
	}

	// 模拟单只在本地
	if po.IsSimulated() {
		_ = po.SetState(order.StateCancelled)
		h.tracker.TryRemoveOrder(id)
		log.Printf("[OrderTicketHandler] simulated order %d cancelled", id)
		return order.Success(id)
	}

	if err := h.brokerCancel(po); err != nil {
		// 回退到撤单前的状态
		prev := order.StateSubmitted
		if !po.FilledQuantity().IsZero() {
			prev = order.StatePartialFilled
		}
		po.TransitionIf(order.StateCancelPending, prev)

		msg := fmt.Sprintf("brokerage failed to cancel order %d: %v", id, err)
		log.Printf("[OrderTicketHandler] %s", msg)
		h.emitOrder(po, order.StateError, msg)
		return order.ErrorResponse(id, order.CodeBrokerageFailedToCancelOrder, msg)
	}

	if err := po.SetState(order.StateCancelled); err != nil {
		// 撤单期间已全部成交
		return order.ErrorResponse(id, order.CodeInvalidOrderStatus, fmt.Sprintf("order %d closed before cancel: %s", id, po.State()))
	}
	h.tracker.TryRemoveOrder(id)
	return order.Success(id)
}

func (h *Handler) brokerCancel(po *order.PendingOrder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.conn.CancelOrder(po)
}

// =============================================================================
// 改单
// =============================================================================

func (h *Handler) updateOrder(t *order.UpdateTicket) order.Response {
	id := t.OrderID()
	po, ok := h.tracker.Find(id)
	if !ok {
		return order.ErrorResponse(id, order.CodeUnableToFindOrder, fmt.Sprintf("unable to find order %d", id))
	}
	prev := po.State()
	if !prev.IsUpdatable() {
		return order.ErrorResponse(id, order.CodeInvalidOrderStatus, fmt.Sprintf("order %d is %s and cannot be updated", id, prev))
	}
	if t.Update.IsEmpty() {
		return order.ErrorResponse(id, order.CodeInvalidRequest, fmt.Sprintf("update for order %d has no fields", id))
	}

	// 取整
	sec := po.Security()
	u := t.Update
	if u.Quantity.Valid {
		u.Quantity.Decimal = sec.RoundLot(u.Quantity.Decimal)
	}
	if u.LimitPrice.Valid {
		u.LimitPrice.Decimal = sec.RoundPrice(u.LimitPrice.Decimal)
	}
	if u.StopPrice.Valid {
		u.StopPrice.Decimal = sec.RoundPrice(u.StopPrice.Decimal)
	}

	accepted, reason, err := h.canUpdate(po, u)
	if err != nil {
		return order.ErrorResponse(id, order.CodeProcessingError, err.Error())
	}
	if !accepted {
		return order.ErrorResponse(id, order.CodeBrokerageModelRefusedToUpdateOrder, reason)
	}

	if err := po.AddUpdate(t, u); err != nil {
		return order.ErrorResponse(id, order.CodeInvalidOrderStatus, fmt.Sprintf("order %d closed: %v", id, err))
	}

	if !po.IsSimulated() {
		if !po.TransitionIf(prev, order.StateUpdateSubmitted) {
			return order.ErrorResponse(id, order.CodeInvalidOrderStatus,
				fmt.Sprintf("order %d changed state to %s during update", id, po.State()))
		}
		if err := h.brokerUpdate(po, u); err != nil {
			po.TransitionIf(order.StateUpdateSubmitted, prev)
			msg := fmt.Sprintf("brokerage failed to update order %d: %v", id, err)
			log.Printf("[OrderTicketHandler] %s", msg)
			return order.ErrorResponse(id, order.CodeBrokerageFailedToUpdateOrder, msg)
		}
	}

	if err := po.ApplyUpdate(u); err != nil {
		return order.ErrorResponse(id, order.CodeInvalidOrderStatus, fmt.Sprintf("order %d closed: %v", id, err))
	}
	po.TransitionIf(order.StateUpdateSubmitted, order.StateSubmitted)
	h.emitOrder(po, po.State(), "order updated")
	return order.Success(id)
}

func (h *Handler) canUpdate(po *order.PendingOrder, u order.Update) (ok bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("brokerage model panic: %v", r)
		}
	}()
	ok, reason = h.model.CanUpdateOrder(po.Security(), po.Order(), u)
	return ok, reason, nil
}

func (h *Handler) brokerUpdate(po *order.PendingOrder, u order.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.conn.UpdateOrder(po, u)
}
