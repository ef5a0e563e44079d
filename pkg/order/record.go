// 文件: pkg/order/record.go
// 订单持久化模型 (MySQL)

package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record 订单表记录
type Record struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	PortfolioID string `gorm:"column:portfolio_id;type:varchar(64);uniqueIndex:uk_portfolio_order"`
	OrderID     int64  `gorm:"column:order_id;uniqueIndex:uk_portfolio_order"`
	FundID      string `gorm:"column:fund_id;type:varchar(64);index"`
	Ticker      string `gorm:"column:ticker;type:varchar(32)"`
	BrokerIDs   string `gorm:"column:broker_ids;type:varchar(255)"`

	OrderType  OrderType       `gorm:"column:order_type"`
	Quantity   decimal.Decimal `gorm:"column:quantity;type:decimal(36,18)"`
	LimitPrice decimal.Decimal `gorm:"column:limit_price;type:decimal(36,18)"`
	StopPrice  decimal.Decimal `gorm:"column:stop_price;type:decimal(36,18)"`

	FilledQty decimal.Decimal `gorm:"column:filled_qty;type:decimal(36,18)"`
	AvgPrice  decimal.Decimal `gorm:"column:avg_price;type:decimal(36,18)"`
	State     OrderState      `gorm:"column:state;index"`
	Comment   string          `gorm:"column:comment;type:varchar(255)"`

	CreatedAt int64 `gorm:"column:created_at;index"`
	UpdatedAt int64 `gorm:"column:updated_at"`
}

func (Record) TableName() string {
	return "portfolio_orders"
}

// FillRecord 成交表记录
type FillRecord struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`
	PortfolioID string          `gorm:"column:portfolio_id;type:varchar(64);index:idx_portfolio_order"`
	OrderID     int64           `gorm:"column:order_id;index:idx_portfolio_order"`
	FundID      string          `gorm:"column:fund_id;type:varchar(64)"`
	Ticker      string          `gorm:"column:ticker;type:varchar(32)"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(36,18)"`
	Quantity    decimal.Decimal `gorm:"column:quantity;type:decimal(36,18)"`
	Fee         decimal.Decimal `gorm:"column:fee;type:decimal(36,18)"`
	Currency    string          `gorm:"column:currency;type:varchar(8)"`
	FilledAt    time.Time       `gorm:"column:filled_at"`
}

func (FillRecord) TableName() string {
	return "portfolio_fills"
}

// NewRecord 由订单快照构造记录
func NewRecord(portfolioID string, o Order) *Record {
	now := time.Now().UnixMilli()
	created := now
	if !o.CreatedUTC.IsZero() {
		created = o.CreatedUTC.UnixMilli()
	}
	ids := ""
	for i, id := range o.BrokerIDs {
		if i > 0 {
			ids += ","
		}
		ids += id
	}
	return &Record{
		PortfolioID: portfolioID,
		OrderID:     o.ID,
		FundID:      o.FundID,
		Ticker:      o.Ticker,
		BrokerIDs:   ids,
		OrderType:   o.Type,
		Quantity:    o.Quantity,
		LimitPrice:  o.LimitPrice,
		StopPrice:   o.StopPrice,
		State:       o.State,
		Comment:     o.Comment,
		CreatedAt:   created,
		UpdatedAt:   now,
	}
}

// IsActive 是否仍在途
func (r *Record) IsActive() bool {
	return !r.State.IsClosed()
}
