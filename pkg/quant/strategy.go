// 文件: pkg/quant/strategy.go
// 策略接口

package quant

import (
	"quant.com/pkg/broker"
	"quant.com/pkg/market"
	"quant.com/pkg/order"
)

// Strategy 基金内运行的策略
type Strategy interface {
	Initialize(f *Fund) error
	OnData(f *Fund, s market.Slice) error
	OnOrderEvent(f *Fund, e order.TicketEvent)
	OnMarginCall(f *Fund, calls []broker.MarginCall)
	OnTerminate(f *Fund)
}

// BaseStrategy 空实现，嵌入后只需覆盖关心的回调
type BaseStrategy struct{}

func (BaseStrategy) Initialize(*Fund) error                  { return nil }
func (BaseStrategy) OnData(*Fund, market.Slice) error        { return nil }
func (BaseStrategy) OnOrderEvent(*Fund, order.TicketEvent)   {}
func (BaseStrategy) OnMarginCall(*Fund, []broker.MarginCall) {}
func (BaseStrategy) OnTerminate(*Fund)                       {}

// StrategyFunc 只处理行情的策略
type StrategyFunc func(f *Fund, s market.Slice) error

func (fn StrategyFunc) Initialize(*Fund) error                  { return nil }
func (fn StrategyFunc) OnData(f *Fund, s market.Slice) error    { return fn(f, s) }
func (fn StrategyFunc) OnOrderEvent(*Fund, order.TicketEvent)   {}
func (fn StrategyFunc) OnMarginCall(*Fund, []broker.MarginCall) {}
func (fn StrategyFunc) OnTerminate(*Fund)                       {}
