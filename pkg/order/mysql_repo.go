// 文件: pkg/order/mysql_repo.go
package order

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ Repository = (*MySQLRepository)(nil)

type MySQLRepository struct {
	db *gorm.DB
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

// AutoMigrate 建表
func (r *MySQLRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{}, &FillRecord{})
}

// Create 重复写入忽略 (同一订单事件可能重放)
func (r *MySQLRepository) Create(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		Create(rec).Error
}

func (r *MySQLRepository) AddFill(ctx context.Context, f *FillRecord) error {
	return r.db.WithContext(ctx).Create(f).Error
}

func (r *MySQLRepository) GetByOrderID(ctx context.Context, portfolioID string, orderID int64) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND order_id = ?", portfolioID, orderID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *MySQLRepository) GetActiveByFund(ctx context.Context, portfolioID, fundID string) ([]*Record, error) {
	var recs []*Record
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND fund_id = ? AND state IN ?", portfolioID, fundID,
			[]OrderState{StateNew, StateSubmitted, StatePartialFilled, StateCancelPending, StateUpdateSubmitted}).
		Order("created_at DESC").
		Find(&recs).Error
	return recs, err
}

func (r *MySQLRepository) GetFills(ctx context.Context, portfolioID string, orderID int64) ([]*FillRecord, error) {
	var fills []*FillRecord
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ? AND order_id = ?", portfolioID, orderID).
		Order("filled_at ASC").
		Find(&fills).Error
	return fills, err
}

func (r *MySQLRepository) UpdateFill(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).
		Model(&Record{}).
		Where("portfolio_id = ? AND order_id = ?", rec.PortfolioID, rec.OrderID).
		Updates(map[string]any{
			"filled_qty": rec.FilledQty,
			"avg_price":  rec.AvgPrice,
			"state":      rec.State,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}

func (r *MySQLRepository) UpdateState(ctx context.Context, portfolioID string, orderID int64, state OrderState) error {
	return r.db.WithContext(ctx).
		Model(&Record{}).
		Where("portfolio_id = ? AND order_id = ?", portfolioID, orderID).
		Updates(map[string]any{
			"state":      state,
			"updated_at": time.Now().UnixMilli(),
		}).Error
}
