// 文件: pkg/market/slice.go
// 同一时间点的一批数据

package market

import (
	"sort"
	"time"
)

// Slice 一批行情数据
type Slice struct {
	UTCTime time.Time
	Points  []DataPoint
}

// Len 数据点数量
func (s Slice) Len() int { return len(s.Points) }

// ForTicker 取某证券的数据点 (保持原顺序)
func (s Slice) ForTicker(ticker string) []DataPoint {
	var out []DataPoint
	for _, p := range s.Points {
		if p.Ticker() == ticker {
			out = append(out, p)
		}
	}
	return out
}

// Tickers 本批涉及的证券 (排序去重)
func (s Slice) Tickers() []string {
	seen := make(map[string]struct{}, len(s.Points))
	out := make([]string, 0, len(s.Points))
	for _, p := range s.Points {
		if _, ok := seen[p.Ticker()]; ok {
			continue
		}
		seen[p.Ticker()] = struct{}{}
		out = append(out, p.Ticker())
	}
	sort.Strings(out)
	return out
}

// GroupByTime 按 EndTime 分批，时间升序
func GroupByTime(points []DataPoint) []Slice {
	byTime := make(map[time.Time][]DataPoint)
	for _, p := range points {
		t := p.EndTime().UTC()
		byTime[t] = append(byTime[t], p)
	}

	times := make([]time.Time, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	out := make([]Slice, 0, len(times))
	for _, t := range times {
		out = append(out, Slice{UTCTime: t, Points: byTime[t]})
	}
	return out
}
