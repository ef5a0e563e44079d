// 文件: pkg/market/aggregator.go
// 订阅与聚合 - 只把落在订阅原生周期边界上的数据送入聚合器

package market

import (
	"log"
	"sync"
	"time"
)

// 常用周期
const (
	ResolutionTick   time.Duration = 0
	ResolutionSecond               = time.Second
	ResolutionMinute               = time.Minute
	ResolutionHour                 = time.Hour
	ResolutionDaily                = 24 * time.Hour
)

// Subscription 数据订阅
type Subscription struct {
	Ticker     string
	Resolution time.Duration
	Location   *time.Location // 交易所时区，nil 为 UTC
}

func (s Subscription) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// IsNativeResolution 数据点是否落在订阅的原生周期上
//
// Tick 总是满足。Bar 的结束时间换算到订阅时区后，
// 距当地零点的墙钟偏移必须恰好是周期的整数倍 (边界闭区间，无容差)；
// 日线及以上要求恰好当地零点。
func IsNativeResolution(sub Subscription, p DataPoint) bool {
	switch p.(type) {
	case Tick:
		return true
	case TradeBar, QuoteBar:
		return onBoundary(p.EndTime(), sub.Resolution, sub.location())
	default:
		return false
	}
}

func onBoundary(t time.Time, res time.Duration, loc *time.Location) bool {
	if res <= 0 {
		return false
	}
	local := t.In(loc)
	// 墙钟偏移，夏令时切换日也按表盘时间算
	offset := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	if res >= ResolutionDaily {
		return offset == 0
	}
	return offset%res == 0
}

// floorToPeriod 当地时间向下取整到周期
func floorToPeriod(t time.Time, period time.Duration, loc *time.Location) time.Time {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if period >= ResolutionDaily {
		return midnight.UTC()
	}
	offset := local.Sub(midnight)
	return midnight.Add(offset - offset%period).UTC()
}

// =============================================================================
// Aggregator
// =============================================================================

// Aggregator 聚合器
type Aggregator interface {
	Subscription() Subscription
	// Feed 送入一个原生周期数据点
	Feed(p DataPoint)
	// Check 按时间推进，输出已完成的 bar
	Check(utcNow time.Time)
}

// Dispatch 把一批数据路由到各聚合器，然后逐个 Check
func Dispatch(aggs []Aggregator, s Slice) {
	for _, agg := range aggs {
		sub := agg.Subscription()
		for _, p := range s.ForTicker(sub.Ticker) {
			if IsNativeResolution(sub, p) {
				agg.Feed(p)
			}
		}
	}
	for _, agg := range aggs {
		agg.Check(s.UTCTime)
	}
}

// =============================================================================
// TradeBarConsolidator
// =============================================================================

// TradeBarConsolidator 把 Tick / 小周期 TradeBar 合成为固定周期 TradeBar
type TradeBarConsolidator struct {
	sub    Subscription
	period time.Duration
	onBar  func(TradeBar)

	mu      sync.Mutex
	working *TradeBar
}

// NewTradeBarConsolidator 创建合成器
func NewTradeBarConsolidator(sub Subscription, period time.Duration, onBar func(TradeBar)) *TradeBarConsolidator {
	if period <= 0 {
		period = ResolutionMinute
	}
	return &TradeBarConsolidator{sub: sub, period: period, onBar: onBar}
}

// Subscription 订阅
func (c *TradeBarConsolidator) Subscription() Subscription { return c.sub }

// Feed 送入数据
func (c *TradeBarConsolidator) Feed(p DataPoint) {
	var emit *TradeBar

	c.mu.Lock()
	switch v := p.(type) {
	case Tick:
		if v.Price.IsZero() {
			break
		}
		emit = c.roll(v.UTCTime)
		c.working.Update(v.Price)
		c.working.Volume = c.working.Volume.Add(v.Quantity)
	case TradeBar:
		emit = c.roll(v.Start)
		c.working.Update(v.Open)
		c.working.Update(v.High)
		c.working.Update(v.Low)
		c.working.Update(v.Close)
		c.working.Volume = c.working.Volume.Add(v.Volume)
	default:
		log.Printf("[Aggregator] %s: unsupported data point %T", c.sub.Ticker, p)
	}
	c.mu.Unlock()

	if emit != nil && c.onBar != nil {
		c.onBar(*emit)
	}
}

// roll 时间越过当前 bar 则换新 bar，返回需要输出的旧 bar
func (c *TradeBarConsolidator) roll(t time.Time) *TradeBar {
	start := floorToPeriod(t, c.period, c.sub.location())
	if c.working != nil && c.working.Start.Equal(start) {
		return nil
	}
	prev := c.working
	c.working = &TradeBar{Symbol: c.sub.Ticker, Start: start, Period: c.period}
	return prev
}

// Check 当前 bar 到期则输出
func (c *TradeBarConsolidator) Check(utcNow time.Time) {
	c.mu.Lock()
	var emit *TradeBar
	if c.working != nil && !utcNow.Before(c.working.EndTime()) {
		emit = c.working
		c.working = nil
	}
	c.mu.Unlock()

	if emit != nil && c.onBar != nil {
		c.onBar(*emit)
	}
}
