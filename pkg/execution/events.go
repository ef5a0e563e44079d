// 文件: pkg/execution/events.go
// 券商回报对账: 订单状态 / 成交 / 余额

package execution

import (
	"context"
	"log"

	"quant.com/pkg/cash"
	"quant.com/pkg/order"
)

// HandleOrderTicketEvent 券商订单状态回报
//
// 可能来自任意 goroutine，单个订单的修改由 PendingOrder 自身的锁串行化。
func (h *Handler) HandleOrderTicketEvent(e order.TicketEvent) {
	po, ok := h.tracker.Find(e.OrderID)
	if !ok && e.BrokerID != "" {
		po, ok = h.tracker.GetOrderByBrokerID(e.BrokerID)
	}
	if !ok {
		if e.IsFill() && h.tracker.ProcessAccountFill(h.acct, h.model, *e.Fill) {
			log.Printf("[OrderTicketHandler] account fill without order: broker_id=%s %s qty=%s",
				e.BrokerID, e.Fill.Ticker, e.Fill.FillQuantity)
			return
		}
		log.Printf("[OrderTicketHandler] event for unknown order: id=%d broker_id=%s state=%s",
			e.OrderID, e.BrokerID, e.State)
		return
	}

	id := po.ID()
	if e.IsFill() {
		f, err := po.ApplyFill(*e.Fill)
		if err != nil {
			log.Printf("[OrderTicketHandler] fill rejected for order %d: %v", id, err)
			return
		}
		if err := h.tracker.ProcessFill(po, f, h.model, h.acct); err != nil {
			log.Printf("[OrderTicketHandler] process fill error for order %d: %v", id, err)
		}
		e.Fill = &f
		e.State = f.State
	} else if err := po.SetState(e.State); err != nil {
		log.Printf("[OrderTicketHandler] state %s ignored for order %d: %v", e.State, id, err)
		return
	}

	if e.State.IsClosed() {
		h.tracker.TryRemoveOrder(id)
	}

	o := po.Order()
	e.OrderID = id
	e.FundID = o.FundID
	e.Ticker = o.Ticker
	e.Snapshot = &o
	h.emit(e)
}

// HandleBalanceChange 券商余额回报
func (h *Handler) HandleBalanceChange(a cash.AccountAction) {
	switch a.Type {
	case cash.ActionSync, cash.ActionDeposit, cash.ActionWithdraw:
		if err := h.acct.Cash.Process(a.Type, a.Currency, a.Amount); err != nil {
			log.Printf("[OrderTicketHandler] balance change %s %s %s error: %v", a.Type, a.Currency, a.Amount, err)
		}
	default:
		log.Printf("[OrderTicketHandler] unexpected balance action %s ignored", a.Type)
	}
}

// SyncBrokerageFunds 拉取券商余额并以 Sync 覆盖现金
//
// 已有同步在进行时直接跳过，返回是否执行了同步。
func (h *Handler) SyncBrokerageFunds(ctx context.Context) bool {
	if !h.syncMu.TryLock() {
		log.Printf("[OrderTicketHandler] brokerage funds sync already running, skipped")
		return false
	}
	defer h.syncMu.Unlock()

	funds, err := h.conn.GetAccountFunds(ctx)
	if err != nil {
		log.Printf("[OrderTicketHandler] get account funds error: %v", err)
		return false
	}
	for _, p := range funds {
		if err := h.acct.Cash.Process(cash.ActionSync, p.Currency, p.Settled); err != nil {
			log.Printf("[OrderTicketHandler] sync %s error: %v", p.Currency, err)
		}
	}
	log.Printf("[OrderTicketHandler] synced %d currencies from %s", len(funds), h.conn.Name())
	return true
}
