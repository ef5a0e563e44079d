package order

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant.com/pkg/security"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testSecurity() *security.Security {
	sec := security.New("AAPL", nil, security.USD, d("1"), d("0.01"), nil)
	sec.UpdateQuote(func(q *security.Quote) { q.Last = d("10") })
	return sec
}

func newTestPending(t *testing.T, qty string) *PendingOrder {
	tk := NewSubmitTicket("fund-1", "AAPL", TypeMarket, d(qty), time.Now())
	po, err := NewFromTicket(1, tk, testSecurity(), time.Now())
	require.NoError(t, err)
	return po
}

func TestPendingOrder_AverageFillPrice(t *testing.T) {
	po := newTestPending(t, "10")

	_, err := po.ApplyFill(Fill{FillPrice: d("10"), FillQuantity: d("5")})
	require.NoError(t, err)
	assert.Equal(t, StatePartialFilled, po.State())

	_, err = po.ApplyFill(Fill{FillPrice: d("12"), FillQuantity: d("5")})
	require.NoError(t, err)

	assert.True(t, po.AverageFillPrice().Equal(d("11")), "got %s", po.AverageFillPrice())
	assert.True(t, po.FilledQuantity().Equal(d("10")))
	assert.True(t, po.RemainingQuantity().IsZero())
	assert.Equal(t, StateFilled, po.State())
}

func TestPendingOrder_AverageFillPriceShort(t *testing.T) {
	po := newTestPending(t, "-10")

	_, err := po.ApplyFill(Fill{FillPrice: d("10"), FillQuantity: d("-5")})
	require.NoError(t, err)
	_, err = po.ApplyFill(Fill{FillPrice: d("12"), FillQuantity: d("-5")})
	require.NoError(t, err)

	assert.True(t, po.AverageFillPrice().Equal(d("11")))
	assert.Equal(t, StateFilled, po.State())
}

func TestPendingOrder_TerminalImmutable(t *testing.T) {
	po := newTestPending(t, "10")
	require.NoError(t, po.SetState(StateCancelled))

	before := po.Order()

	_, err := po.ApplyFill(Fill{FillPrice: d("10"), FillQuantity: d("5")})
	assert.ErrorIs(t, err, ErrOrderClosed)
	assert.ErrorIs(t, po.SetState(StateSubmitted), ErrOrderClosed)
	assert.ErrorIs(t, po.AddBrokerID("x"), ErrOrderClosed)
	assert.ErrorIs(t, po.ApplyUpdate(Update{Quantity: decimal.NewNullDecimal(d("20"))}), ErrOrderClosed)
	assert.False(t, po.TransitionIf(StateCancelled, StateSubmitted))

	assert.Equal(t, before, po.Order())
	assert.Empty(t, po.Fills())
}

func TestPendingOrder_OrderIsCopy(t *testing.T) {
	po := newTestPending(t, "10")
	require.NoError(t, po.AddBrokerID("b-1"))

	o := po.Order()
	o.BrokerIDs[0] = "changed"
	o.Quantity = d("99")

	assert.Equal(t, "b-1", po.Order().BrokerIDs[0])
	assert.True(t, po.Order().Quantity.Equal(d("10")))
}

func TestPendingOrder_Value(t *testing.T) {
	po := newTestPending(t, "-10")
	_, err := po.ApplyFill(Fill{FillPrice: d("10"), FillQuantity: d("-4")})
	require.NoError(t, err)

	// 剩余 6 × 最新价 10
	assert.True(t, po.Value(security.USD).Equal(d("60")))
}

func TestPendingOrder_ApplyUpdate(t *testing.T) {
	po := newTestPending(t, "10")
	comment := "moved"

	require.NoError(t, po.ApplyUpdate(Update{
		Quantity:   decimal.NewNullDecimal(d("-20")),
		LimitPrice: decimal.NewNullDecimal(d("9.5")),
		Comment:    &comment,
	}))

	o := po.Order()
	assert.True(t, o.Quantity.Equal(d("-20")))
	assert.Equal(t, Short, o.Direction)
	assert.True(t, o.LimitPrice.Equal(d("9.5")))
	assert.Equal(t, "moved", o.Comment)
}

func TestPendingOrder_ConcurrentFills(t *testing.T) {
	po := newTestPending(t, "100")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			po.ApplyFill(Fill{FillPrice: d("10"), FillQuantity: d("1")})
		}()
	}
	wg.Wait()

	assert.True(t, po.FilledQuantity().Equal(d("100")))
	assert.Equal(t, StateFilled, po.State())
	assert.Len(t, po.Fills(), 100)
}

func TestNewFromTicket_Validation(t *testing.T) {
	sec := testSecurity()
	now := time.Now()

	limit := NewSubmitTicket("", "AAPL", TypeLimit, d("1"), now)
	_, err := NewFromTicket(1, limit, sec, now)
	assert.ErrorIs(t, err, ErrInvalidOrderParameters)

	limit.LimitPrice = d("10")
	po, err := NewFromTicket(1, limit, sec, now)
	require.NoError(t, err)
	assert.Equal(t, StateNew, po.State())

	stopLimit := NewSubmitTicket("", "AAPL", TypeStopLimit, d("1"), now)
	stopLimit.StopPrice = d("11")
	_, err = NewFromTicket(2, stopLimit, sec, now)
	assert.ErrorIs(t, err, ErrInvalidOrderParameters)

	gtd := NewSubmitTicket("", "AAPL", TypeMarket, d("1"), now)
	gtd.TimeInForce = GoodTillDate
	_, err = NewFromTicket(3, gtd, sec, now)
	assert.ErrorIs(t, err, ErrInvalidOrderParameters)

	_, err = NewFromTicket(4, NewSubmitTicket("", "AAPL", OrderType(99), d("1"), now), sec, now)
	assert.ErrorIs(t, err, ErrInvalidOrderParameters)
}

func TestOrderState_IsClosed(t *testing.T) {
	closed := []OrderState{StateFilled, StateCancelled, StateInvalid, StateError}
	for _, s := range closed {
		assert.True(t, s.IsClosed(), s.String())
	}
	open := []OrderState{StateNew, StateSubmitted, StatePartialFilled, StateCancelPending, StateUpdateSubmitted}
	for _, s := range open {
		assert.False(t, s.IsClosed(), s.String())
	}
	assert.False(t, StatePartialFilled.IsUpdatable())
	assert.True(t, StateSubmitted.IsUpdatable())
}
