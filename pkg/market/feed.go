// 文件: pkg/market/feed.go
// 数据源 - 回测回放 与 模拟行情 (几何布朗运动)

package market

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// ErrFeedStarted 重复启动
var ErrFeedStarted = errors.New("feed already started")

// Feed 数据源
//
// Batches 在数据耗尽或 Stop 后关闭。
type Feed interface {
	Start(ctx context.Context) error
	Stop()
	IsActive() bool
	Batches() <-chan Slice
}

// =============================================================================
// BacktestFeed 回放
// =============================================================================

// BacktestFeed 按时间顺序回放历史数据，下游慢时阻塞 (回测不能丢数据)
type BacktestFeed struct {
	slices []Slice
	out    chan Slice

	started atomic.Bool
	active  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBacktestFeed 创建回放数据源
func NewBacktestFeed(points []DataPoint) *BacktestFeed {
	return &BacktestFeed{
		slices: GroupByTime(points),
		out:    make(chan Slice, 16),
	}
}

// Start 启动回放
func (f *BacktestFeed) Start(ctx context.Context) error {
	if f.started.Swap(true) {
		return ErrFeedStarted
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.active.Store(true)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.active.Store(false)
		defer close(f.out)

		for _, s := range f.slices {
			select {
			case <-ctx.Done():
				return
			case f.out <- s:
			}
		}
	}()
	return nil
}

// Stop 停止回放
func (f *BacktestFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// IsActive 回放中或通道内仍有数据
func (f *BacktestFeed) IsActive() bool {
	return f.active.Load() || len(f.out) > 0
}

// Batches 数据通道
func (f *BacktestFeed) Batches() <-chan Slice { return f.out }

// =============================================================================
// SimulatedFeed 模拟实时行情
// =============================================================================

// SimulatedSymbol 模拟标的
type SimulatedSymbol struct {
	Ticker     string
	Price      float64
	Volatility float64 // 年化波动率，0 取 0.3
	Spread     float64 // 买卖价差 (绝对值)
}

// SimulatedFeed 按固定频率生成逐笔报价
//
// 下游消费慢时丢弃新数据，旧价格没有价值。
type SimulatedFeed struct {
	symbols  []SimulatedSymbol
	interval time.Duration
	out      chan Slice

	dropped atomic.Int64
	started atomic.Bool
	active  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSimulatedFeed 创建模拟行情
func NewSimulatedFeed(interval time.Duration, symbols ...SimulatedSymbol) *SimulatedFeed {
	if interval <= 0 {
		interval = time.Second
	}
	syms := make([]SimulatedSymbol, len(symbols))
	copy(syms, symbols)
	for i := range syms {
		if syms[i].Volatility <= 0 {
			syms[i].Volatility = 0.3
		}
	}
	return &SimulatedFeed{
		symbols:  syms,
		interval: interval,
		out:      make(chan Slice, 100),
	}
}

// Start 启动生成
func (f *SimulatedFeed) Start(ctx context.Context) error {
	if f.started.Swap(true) {
		return ErrFeedStarted
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.active.Store(true)

	f.wg.Add(1)
	go f.loop(ctx)
	return nil
}

func (f *SimulatedFeed) loop(ctx context.Context) {
	defer f.wg.Done()
	defer f.active.Store(false)
	defer close(f.out)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// dt 以年为单位
			dt := now.Sub(last).Hours() / 24 / 365
			if dt <= 0 {
				dt = 1e-9
			}
			last = now

			s := Slice{UTCTime: now.UTC(), Points: make([]DataPoint, 0, len(f.symbols))}
			for i := range f.symbols {
				sym := &f.symbols[i]
				// S_new = S * exp(-0.5*σ²*dt + σ*sqrt(dt)*Z)
				sigma := sym.Volatility
				sym.Price *= math.Exp(-0.5*sigma*sigma*dt + sigma*math.Sqrt(dt)*r.NormFloat64())

				half := sym.Spread / 2
				s.Points = append(s.Points, Tick{
					Symbol:   sym.Ticker,
					UTCTime:  s.UTCTime,
					Price:    decimal.NewFromFloat(sym.Price).Round(4),
					Quantity: decimal.NewFromInt(int64(1 + r.Intn(100))),
					Bid:      decimal.NewFromFloat(sym.Price - half).Round(4),
					Ask:      decimal.NewFromFloat(sym.Price + half).Round(4),
				})
			}

			select {
			case f.out <- s:
			default:
				f.dropped.Add(1)
			}
		}
	}
}

// Stop 停止生成
func (f *SimulatedFeed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// IsActive 是否运行中
func (f *SimulatedFeed) IsActive() bool { return f.active.Load() }

// Batches 数据通道
func (f *SimulatedFeed) Batches() <-chan Slice { return f.out }

// Dropped 因下游过慢丢弃的批次数
func (f *SimulatedFeed) Dropped() int64 { return f.dropped.Load() }
