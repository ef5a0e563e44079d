// 文件: pkg/security/exchange.go
// 交易所: 时区与交易时段

package security

import "time"

// Exchange 交易所
type Exchange struct {
	Name     string
	Location *time.Location
	Open     time.Duration // 开盘时间 (距本地零点)
	Close    time.Duration // 收盘时间 (距本地零点)
}

// DefaultExchange 全天交易的 UTC 交易所
func DefaultExchange() *Exchange {
	return &Exchange{
		Name:     "SIM",
		Location: time.UTC,
		Open:     0,
		Close:    24 * time.Hour,
	}
}

// LocalTime UTC 转本地时间
func (e *Exchange) LocalTime(utc time.Time) time.Time {
	if e.Location == nil {
		return utc.UTC()
	}
	return utc.In(e.Location)
}

// sessionStart 本地日零点
func (e *Exchange) sessionStart(utc time.Time) time.Time {
	local := e.LocalTime(utc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}

// SessionOpen utc 所在本地交易日的开盘时刻
func (e *Exchange) SessionOpen(utc time.Time) time.Time {
	d := e.sessionStart(utc)
	return wallClock(d, e.Open).UTC()
}

// SessionClose utc 所在本地交易日的收盘时刻
func (e *Exchange) SessionClose(utc time.Time) time.Time {
	d := e.sessionStart(utc)
	return wallClock(d, e.Close).UTC()
}

// IsOpen utc 时刻是否在交易时段内 (周末休市，全天交易所除外)
func (e *Exchange) IsOpen(utc time.Time) bool {
	if e.Close-e.Open < 24*time.Hour {
		switch e.LocalTime(utc).Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	return !utc.Before(e.SessionOpen(utc)) && utc.Before(e.SessionClose(utc))
}

// wallClock 按本地墙钟时间偏移 (避免夏令时当天按绝对时长计算)
func wallClock(midnight time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	s := int((offset % time.Minute) / time.Second)
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), h, m, s, 0, midnight.Location())
}
