// 文件: pkg/order/factory.go
// 由下单请求构造订单

package order

import (
	"fmt"
	"time"

	"quant.com/pkg/security"
)

// NewFromTicket 按订单类型校验参数并创建 PendingOrder (状态 New)
func NewFromTicket(id int64, t *SubmitTicket, sec *security.Security, now time.Time) (*PendingOrder, error) {
	if sec == nil {
		return nil, fmt.Errorf("%w: unknown security %q", ErrInvalidOrderParameters, t.Ticker)
	}

	switch t.OrderType {
	case TypeMarket, TypeMarketOnOpen, TypeMarketOnClose:
	case TypeLimit:
		if t.LimitPrice.Sign() <= 0 {
			return nil, fmt.Errorf("%w: limit order requires a positive limit price", ErrInvalidOrderParameters)
		}
	case TypeStopMarket:
		if t.StopPrice.Sign() <= 0 {
			return nil, fmt.Errorf("%w: stop market order requires a positive stop price", ErrInvalidOrderParameters)
		}
	case TypeStopLimit:
		if t.LimitPrice.Sign() <= 0 || t.StopPrice.Sign() <= 0 {
			return nil, fmt.Errorf("%w: stop limit order requires positive stop and limit prices", ErrInvalidOrderParameters)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported order type %d", ErrInvalidOrderParameters, t.OrderType)
	}

	if t.TimeInForce == GoodTillDate && t.ExpiresUTC.IsZero() {
		return nil, fmt.Errorf("%w: good-till-date order requires an expiry", ErrInvalidOrderParameters)
	}

	o := Order{
		ID:          id,
		FundID:      t.FundID,
		Ticker:      sec.Ticker,
		Direction:   DirectionOf(t.Quantity),
		Quantity:    t.Quantity,
		Type:        t.OrderType,
		LimitPrice:  t.LimitPrice,
		StopPrice:   t.StopPrice,
		TimeInForce: t.TimeInForce,
		FillPolicy:  t.FillPolicy,
		State:       StateNew,
		CreatedUTC:  now,
		ExpiresUTC:  t.ExpiresUTC,
		Comment:     t.Comment,
	}
	return NewPendingOrder(o, sec), nil
}
