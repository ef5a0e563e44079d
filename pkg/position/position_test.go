package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"quant.com/pkg/order"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(qty, price string) order.Fill {
	return order.Fill{Ticker: "AAPL", FillQuantity: d(qty), FillPrice: d(price)}
}

func TestTracker_OpenAddReduceClose(t *testing.T) {
	tr := NewTracker()

	assert.Equal(t, ChangeOpen, tr.Apply(fill("10", "100")))
	assert.Equal(t, ChangeAdd, tr.Apply(fill("10", "110")))

	p, ok := tr.Get("AAPL")
	assert.True(t, ok)
	assert.True(t, p.Quantity.Equal(d("20")))
	assert.True(t, p.AveragePrice.Equal(d("105")))

	assert.Equal(t, ChangeReduce, tr.Apply(fill("-5", "115")))
	p, _ = tr.Get("AAPL")
	assert.True(t, p.Quantity.Equal(d("15")))
	assert.True(t, p.RealizedPnL.Equal(d("50")))

	assert.Equal(t, ChangeClose, tr.Apply(fill("-15", "105")))
	p, _ = tr.Get("AAPL")
	assert.True(t, p.IsFlat())
	assert.True(t, p.RealizedPnL.Equal(d("50")))
	assert.Empty(t, tr.All())
}

func TestTracker_ShortAndFlip(t *testing.T) {
	tr := NewTracker()

	tr.Apply(fill("-10", "50"))
	assert.Equal(t, order.Short, order.DirectionOf(tr.Quantity("AAPL")))

	// 买 15: 平空 10 (盈利 (50-40)*10)，反手多 5
	assert.Equal(t, ChangeFlip, tr.Apply(fill("15", "40")))
	p, _ := tr.Get("AAPL")
	assert.True(t, p.Quantity.Equal(d("5")))
	assert.True(t, p.AveragePrice.Equal(d("40")))
	assert.True(t, p.RealizedPnL.Equal(d("100")))
	assert.Equal(t, order.Long, p.Direction())
}

func TestTracker_ZeroFill(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, ChangeNone, tr.Apply(fill("0", "10")))
	assert.True(t, tr.Quantity("AAPL").IsZero())
}
