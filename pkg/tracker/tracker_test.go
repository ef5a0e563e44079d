package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant.com/pkg/broker"
	"quant.com/pkg/cash"
	"quant.com/pkg/order"
	"quant.com/pkg/security"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 3, 6, 15, 0, 0, 0, time.UTC)

func setupAccount(t *testing.T) (*broker.Account, *security.Security) {
	t.Helper()
	reg := security.NewRegistry()
	sec := security.New("AAPL", nil, security.USD, d("1"), d("0.01"), nil)
	sec.UpdateQuote(func(q *security.Quote) { q.Last = d("10") })
	reg.Add(sec)
	acct := broker.NewAccount(security.USD, cash.NewManager("pf"), reg, nil)
	require.NoError(t, acct.Cash.Process(cash.ActionDeposit, security.USD, d("1000")))
	return acct, sec
}

func pending(id int64, sec *security.Security, qty string, fundID string) *order.PendingOrder {
	return order.NewPendingOrder(order.Order{
		ID:       id,
		FundID:   fundID,
		Ticker:   sec.Ticker,
		Quantity: d(qty),
		Type:     order.TypeMarket,
		State:    order.StateSubmitted,
	}, sec)
}

func TestTracker_UniqueIDsUnderConcurrency(t *testing.T) {
	tr := New()
	_, sec := setupAccount(t)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := tr.NextOrderID()
			assert.True(t, tr.TryAddOrder(pending(id, sec, "1", "")))
		}()
	}
	wg.Wait()

	assert.Equal(t, n, tr.Count())
	assert.Equal(t, int64(n), tr.LastOrderID())
}

func TestTracker_DuplicateAdd(t *testing.T) {
	tr := New()
	_, sec := setupAccount(t)

	var wg sync.WaitGroup
	var added sync.Map
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if tr.TryAddOrder(pending(7, sec, "1", "")) {
				added.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	added.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 1, count)
}

func TestTracker_RemoveRetainsClosed(t *testing.T) {
	tr := New()
	_, sec := setupAccount(t)

	po := pending(1, sec, "1", "")
	require.True(t, tr.TryAddOrder(po))
	require.NoError(t, po.SetState(order.StateCancelled))

	_, ok := tr.TryRemoveOrder(1)
	require.True(t, ok)
	_, ok = tr.TryGetOrder(1)
	assert.False(t, ok)

	found, ok := tr.Find(1)
	require.True(t, ok)
	assert.Equal(t, order.StateCancelled, found.State())

	// 已关闭的订单号不能重新注册
	assert.False(t, tr.TryAddOrder(pending(1, sec, "1", "")))
	assert.Len(t, tr.Orders(nil), 1)
}

func TestTracker_GetOrderByBrokerID(t *testing.T) {
	tr := New()
	_, sec := setupAccount(t)
	po := pending(1, sec, "1", "")
	require.NoError(t, po.AddBrokerID("B-1"))
	tr.TryAddOrder(po)

	got, ok := tr.GetOrderByBrokerID("B-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), got.ID())

	_, ok = tr.GetOrderByBrokerID("B-2")
	assert.False(t, ok)
}

func TestTracker_ProcessFill(t *testing.T) {
	tr := New()
	acct, sec := setupAccount(t)
	model := broker.NewDefaultModel(broker.DefaultModelConfig())

	po := pending(tr.NextOrderID(), sec, "10", "f1")
	require.True(t, tr.TryAddOrder(po))

	f, err := po.ApplyFill(order.Fill{FillPrice: d("10"), FillQuantity: d("10"), Fee: d("1"), UTCTime: t0})
	require.NoError(t, err)
	require.NoError(t, tr.ProcessFill(po, f, model, acct))

	// 1000 - (100 - 1)
	assert.True(t, acct.Cash.Settled("", security.USD).Equal(d("901")))
	assert.True(t, acct.Cash.Settled("f1", security.USD).Equal(d("-99")))
	assert.True(t, acct.Positions().Quantity("AAPL").Equal(d("10")))
	assert.True(t, acct.FundPositions("f1").Quantity("AAPL").Equal(d("10")))

	// 已成交的订单被清理
	assert.Equal(t, 0, tr.Count())
	assert.Len(t, tr.HistoricalFills(), 1)

	// 平仓 @12
	po2 := pending(tr.NextOrderID(), sec, "-10", "f1")
	require.True(t, tr.TryAddOrder(po2))
	f2, err := po2.ApplyFill(order.Fill{FillPrice: d("12"), FillQuantity: d("-10"), Fee: d("1"), UTCTime: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NoError(t, tr.ProcessFill(po2, f2, model, acct))

	// 901 + (120 - 1)
	assert.True(t, acct.Cash.Settled("", security.USD).Equal(d("1020")))
	assert.True(t, acct.Positions().Quantity("AAPL").IsZero())
}

func TestTracker_TrimsHistoricalFills(t *testing.T) {
	tr := New()
	for i := 0; i < MaxHistoricalFills+25; i++ {
		tr.AddHistoricalFill(order.Fill{OrderID: int64(i), UTCTime: t0.Add(time.Duration(i) * time.Second)})
	}
	tr.Cleanup()

	fills := tr.HistoricalFills()
	require.Len(t, fills, MaxHistoricalFills)
	assert.Equal(t, int64(25), fills[0].OrderID)
}

func TestTracker_ProcessAccountFill(t *testing.T) {
	tr := New()
	acct, _ := setupAccount(t)
	model := broker.NewDefaultModel(broker.DefaultModelConfig())

	// 没有持仓: 忽略
	assert.False(t, tr.ProcessAccountFill(acct, model, order.Fill{Ticker: "AAPL", FillQuantity: d("-5"), FillPrice: d("10"), UTCTime: t0}))

	acct.Positions().Apply(order.Fill{Ticker: "AAPL", FillQuantity: d("10"), FillPrice: d("10")})

	// 同向: 忽略
	assert.False(t, tr.ProcessAccountFill(acct, model, order.Fill{Ticker: "AAPL", FillQuantity: d("5"), FillPrice: d("10"), UTCTime: t0}))

	// 反向: 入账
	assert.True(t, tr.ProcessAccountFill(acct, model, order.Fill{Ticker: "AAPL", FillQuantity: d("-5"), FillPrice: d("10"), UTCTime: t0}))
	assert.True(t, acct.Positions().Quantity("AAPL").Equal(d("5")))
	assert.True(t, acct.Cash.Settled("", security.USD).Equal(d("1050")))
}

func TestCashDelta(t *testing.T) {
	buy := order.Fill{FillPrice: d("10"), FillQuantity: d("3"), Fee: d("1")}
	sell := order.Fill{FillPrice: d("10"), FillQuantity: d("-3"), Fee: d("-1")}

	tests := []struct {
		name string
		fill order.Fill
		held string
		want string
	}{
		{"buy from flat", buy, "0", "-29"},
		{"add to long", buy, "5", "-29"},
		{"short from flat", sell, "0", "-29"},
		{"add to short", sell, "-5", "-29"},
		{"reduce long", sell, "5", "29"},
		{"cover short", buy, "-5", "29"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CashDelta(tt.fill, d(tt.held))
			assert.True(t, got.Equal(d(tt.want)), "got %s", got)
		})
	}
}

func TestTracker_ProcessFill_ShortFromFlat(t *testing.T) {
	tr := New()
	acct, sec := setupAccount(t)
	model := broker.NewDefaultModel(broker.DefaultModelConfig())

	po := pending(tr.NextOrderID(), sec, "-10", "")
	require.True(t, tr.TryAddOrder(po))
	f, err := po.ApplyFill(order.Fill{FillPrice: d("10"), FillQuantity: d("-10"), Fee: d("1"), UTCTime: t0})
	require.NoError(t, err)
	require.NoError(t, tr.ProcessFill(po, f, model, acct))

	// 空仓开空同样是现金流出: 1000 - (100 - 1)
	assert.True(t, acct.Cash.Settled("", security.USD).Equal(d("901")))
	assert.True(t, acct.Positions().Quantity("AAPL").Equal(d("-10")))

	// 买入平空: 901 + (80 - 1)
	po2 := pending(tr.NextOrderID(), sec, "10", "")
	require.True(t, tr.TryAddOrder(po2))
	f2, err := po2.ApplyFill(order.Fill{FillPrice: d("8"), FillQuantity: d("10"), Fee: d("1"), UTCTime: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NoError(t, tr.ProcessFill(po2, f2, model, acct))

	assert.True(t, acct.Cash.Settled("", security.USD).Equal(d("980")))
	assert.True(t, acct.Positions().Quantity("AAPL").IsZero())
}
