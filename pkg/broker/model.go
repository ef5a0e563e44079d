// 文件: pkg/broker/model.go
// 默认券商模型: 支持市价/限价，日内回转限制 (PDT)

package broker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quant.com/pkg/order"
	"quant.com/pkg/security"
)

// ModelConfig 券商模型配置
type ModelConfig struct {
	Margin     *RateMarginModel
	Settlement SettlementModel
	MarginCall MarginCallModel

	SupportedTypes []order.OrderType

	// 日内回转: 权益低于 PatternDayTraderEquity 时，
	// 最近 DayTradeWindow 个工作日内最多 DayTradeLimit 次
	DayTradeLimit          int
	DayTradeWindow         int
	PatternDayTraderEquity decimal.Decimal
	Location               *time.Location
}

// DefaultModelConfig 现金账户、即时结算
func DefaultModelConfig() ModelConfig {
	m := CashMarginModel()
	return ModelConfig{
		Margin:                 m,
		Settlement:             ImmediateSettlement{},
		MarginCall:             NewDefaultMarginCallModel(m),
		SupportedTypes:         []order.OrderType{order.TypeMarket, order.TypeLimit},
		DayTradeLimit:          3,
		DayTradeWindow:         5,
		PatternDayTraderEquity: decimal.NewFromInt(25000),
		Location:               time.UTC,
	}
}

// DefaultModel 默认券商模型
type DefaultModel struct {
	cfg       ModelConfig
	supported map[order.OrderType]bool
}

// NewDefaultModel 创建模型，空字段取默认值
func NewDefaultModel(cfg ModelConfig) *DefaultModel {
	def := DefaultModelConfig()
	if cfg.Margin == nil {
		cfg.Margin = def.Margin
	}
	if cfg.Settlement == nil {
		cfg.Settlement = def.Settlement
	}
	if cfg.MarginCall == nil {
		cfg.MarginCall = NewDefaultMarginCallModel(cfg.Margin)
	}
	if cfg.SupportedTypes == nil {
		cfg.SupportedTypes = def.SupportedTypes
	}
	if cfg.DayTradeWindow <= 0 {
		cfg.DayTradeWindow = def.DayTradeWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	supported := make(map[order.OrderType]bool, len(cfg.SupportedTypes))
	for _, t := range cfg.SupportedTypes {
		supported[t] = true
	}
	return &DefaultModel{cfg: cfg, supported: supported}
}

func (m *DefaultModel) IsOrderTypeSupported(t order.OrderType) bool {
	return m.supported[t]
}

func (m *DefaultModel) GetMarginModel(*security.Security) MarginModel         { return m.cfg.Margin }
func (m *DefaultModel) GetSettlementModel(*security.Security) SettlementModel { return m.cfg.Settlement }
func (m *DefaultModel) GetMarginCallModel() MarginCallModel                   { return m.cfg.MarginCall }

// CanSubmitOrder 下单前检查
func (m *DefaultModel) CanSubmitOrder(sec *security.Security, o order.Order) (bool, string) {
	if sec == nil {
		return false, fmt.Sprintf("unknown security %s", o.Ticker)
	}
	if sec.Price().IsZero() {
		return false, fmt.Sprintf("no market price for %s", o.Ticker)
	}
	if o.TimeInForce == order.GoodTillDate && !o.ExpiresUTC.After(o.CreatedUTC) {
		return false, "good-till-date order already expired"
	}
	return true, ""
}

// CanUpdateOrder 改单检查: 不允许改变方向或改为 0
func (m *DefaultModel) CanUpdateOrder(sec *security.Security, o order.Order, u order.Update) (bool, string) {
	if u.Quantity.Valid {
		q := u.Quantity.Decimal
		if q.IsZero() {
			return false, "updated quantity must be non-zero"
		}
		if order.DirectionOf(q) != o.Direction {
			return false, "update cannot change order direction"
		}
	}
	if u.LimitPrice.Valid && !u.LimitPrice.Decimal.IsPositive() {
		return false, "limit price must be positive"
	}
	if u.StopPrice.Valid && !u.StopPrice.Decimal.IsPositive() {
		return false, "stop price must be positive"
	}
	return true, ""
}

// DayTradingOrdersLeft 剩余日内回转次数
//
// 同一交易日同一证券既有买又有卖记为一次回转。
func (m *DefaultModel) DayTradingOrdersLeft(acct *Account, fills []order.Fill, utcNow time.Time) int {
	if m.cfg.DayTradeLimit <= 0 {
		return -1
	}
	if acct != nil && acct.Equity("").GreaterThanOrEqual(m.cfg.PatternDayTraderEquity) {
		return -1
	}

	cutoff := windowStart(utcNow.In(m.cfg.Location), m.cfg.DayTradeWindow)

	type dayKey struct {
		ticker string
		day    string
	}
	sides := make(map[dayKey]uint8)
	for _, f := range fills {
		local := f.UTCTime.In(m.cfg.Location)
		if local.Before(cutoff) {
			continue
		}
		k := dayKey{ticker: f.Ticker, day: local.Format("2006-01-02")}
		if f.FillQuantity.IsPositive() {
			sides[k] |= 1
		} else if f.FillQuantity.IsNegative() {
			sides[k] |= 2
		}
	}

	trips := 0
	for _, s := range sides {
		if s == 3 {
			trips++
		}
	}
	left := m.cfg.DayTradeLimit - trips
	if left < 0 {
		left = 0
	}
	return left
}

// windowStart 含今天在内往前数 n 个工作日的零点
func windowStart(local time.Time, n int) time.Time {
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	counted := 0
	for {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			counted++
			if counted >= n {
				return day
			}
		}
		day = day.AddDate(0, 0, -1)
	}
}
