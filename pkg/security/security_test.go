package security

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSecurity_RoundLot(t *testing.T) {
	s := New("AAPL", nil, USD, d("10"), d("0.01"), nil)

	assert.True(t, s.RoundLot(d("103")).Equal(d("100")))
	assert.True(t, s.RoundLot(d("-107")).Equal(d("-100")))
	assert.True(t, s.RoundLot(d("9")).IsZero())

	noLot := New("X", nil, USD, decimal.Zero, decimal.Zero, nil)
	assert.True(t, noLot.RoundLot(d("3.7")).Equal(d("3.7")))
}

func TestSecurity_RoundPrice(t *testing.T) {
	s := New("AAPL", nil, USD, d("1"), d("0.05"), nil)

	assert.True(t, s.RoundPrice(d("10.02")).Equal(d("10")))
	assert.True(t, s.RoundPrice(d("10.03")).Equal(d("10.05")))
	assert.True(t, s.RoundPrice(d("10.05")).Equal(d("10.05")))
}

func TestRateTable_Convert(t *testing.T) {
	rt := NewRateTable()
	rt.SetRate(EUR, USD, d("1.25"))

	assert.True(t, rt.Convert(d("100"), EUR, USD).Equal(d("125")))
	assert.True(t, rt.Convert(d("125"), USD, EUR).Equal(d("100")))
	// 未知汇率 1:1
	assert.True(t, rt.Convert(d("7"), GBP, JPY).Equal(d("7")))
}

func TestRateTable_UpdateFromTicker(t *testing.T) {
	rt := NewRateTable()

	require.True(t, rt.UpdateFromTicker("GBPUSD", d("1.3")))
	rate, ok := rt.Rate(GBP, USD)
	require.True(t, ok)
	assert.True(t, rate.Equal(d("1.3")))

	assert.False(t, rt.UpdateFromTicker("AAPL", d("150")))
	assert.False(t, rt.UpdateFromTicker("eurusd", d("1.1")))
}

func TestSecurity_ConvertValue(t *testing.T) {
	rt := NewRateTable()
	rt.SetRate(EUR, USD, d("2"))
	s := New("SAP", nil, EUR, d("1"), d("0.01"), rt)

	assert.True(t, s.ConvertValue(d("10"), USD).Equal(d("20")))
	assert.True(t, s.ConvertValue(d("10"), EUR).Equal(d("10")))
}

func TestExchange_Session(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	ex := &Exchange{Name: "NYSE", Location: ny, Open: 9*time.Hour + 30*time.Minute, Close: 16 * time.Hour}

	// 2024-03-12 周二 14:00 UTC = 10:00 EDT
	now := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)
	assert.True(t, ex.IsOpen(now))
	assert.Equal(t, time.Date(2024, 3, 12, 20, 0, 0, 0, time.UTC), ex.SessionClose(now))

	// 周六休市
	assert.False(t, ex.IsOpen(time.Date(2024, 3, 16, 15, 0, 0, 0, time.UTC)))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Add(New("MSFT", nil, USD, d("1"), d("0.01"), nil))
	r.Add(New("AAPL", nil, USD, d("1"), d("0.01"), nil))

	s, ok := r.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, "AAPL", s.Ticker)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "AAPL", all[0].Ticker)
}
