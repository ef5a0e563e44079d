package main

import (
	"github.com/shopspring/decimal"

	"quant.com/pkg/market"
	"quant.com/pkg/quant"
)

// momentum 均线动量: 价格上穿均线买入，下穿平仓
type momentum struct {
	quant.BaseStrategy
	window  int
	qty     decimal.Decimal
	tickers map[string]bool
	prices  map[string][]decimal.Decimal
}

func newMomentum(window int, qty decimal.Decimal, tickers ...string) *momentum {
	m := &momentum{
		window:  window,
		qty:     qty,
		tickers: make(map[string]bool),
		prices:  make(map[string][]decimal.Decimal),
	}
	for _, t := range tickers {
		m.tickers[t] = true
	}
	return m
}

func (m *momentum) OnData(f *quant.Fund, s market.Slice) error {
	for _, p := range s.Points {
		tick, ok := p.(market.Tick)
		if !ok || (len(m.tickers) > 0 && !m.tickers[tick.Symbol]) {
			continue
		}
		if err := m.onPrice(f, tick.Symbol, tick.Price); err != nil {
			return err
		}
	}
	return nil
}

func (m *momentum) onPrice(f *quant.Fund, ticker string, price decimal.Decimal) error {
	hist := append(m.prices[ticker], price)
	if len(hist) > m.window {
		hist = hist[len(hist)-m.window:]
	}
	m.prices[ticker] = hist
	if len(hist) < m.window {
		return nil
	}

	for _, o := range f.OpenOrders() {
		if o.Ticker == ticker {
			return nil
		}
	}

	sma := decimal.Sum(decimal.Zero, hist...).Div(decimal.NewFromInt(int64(len(hist))))
	held := decimal.Zero
	for _, pos := range f.Positions() {
		if pos.Ticker == ticker {
			held = pos.Quantity
		}
	}

	switch {
	case held.IsZero() && price.GreaterThan(sma):
		_, err := f.MarketOrder(ticker, m.qty)
		return err
	case held.IsPositive() && price.LessThan(sma):
		_, err := f.MarketOrder(ticker, held.Neg())
		return err
	}
	return nil
}
