// 文件: pkg/order/repository.go
package order

import "context"

type Repository interface {
	// 创建
	Create(ctx context.Context, r *Record) error
	AddFill(ctx context.Context, f *FillRecord) error

	// 查询
	GetByOrderID(ctx context.Context, portfolioID string, orderID int64) (*Record, error)
	GetActiveByFund(ctx context.Context, portfolioID, fundID string) ([]*Record, error)
	GetFills(ctx context.Context, portfolioID string, orderID int64) ([]*FillRecord, error)

	// 更新
	UpdateFill(ctx context.Context, r *Record) error
	UpdateState(ctx context.Context, portfolioID string, orderID int64, state OrderState) error
}
