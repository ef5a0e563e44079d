// 文件: pkg/order/service.go
// 订单落库服务: 把订单事件写入订单表/成交表

package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service struct {
	portfolioID string
	repo        Repository
}

func NewService(portfolioID string, repo Repository) *Service {
	return &Service{portfolioID: portfolioID, repo: repo}
}

// =============================================================================
// 事件处理
// =============================================================================

// OnTicketEvent 按事件类型更新订单记录
func (s *Service) OnTicketEvent(ctx context.Context, e TicketEvent) error {
	rec, err := s.repo.GetByOrderID(ctx, s.portfolioID, e.OrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if e.Snapshot == nil {
			return nil // 无快照无法建档
		}
		rec = NewRecord(s.portfolioID, *e.Snapshot)
		if err := s.repo.Create(ctx, rec); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if e.IsFill() {
		return s.OnFill(ctx, rec, *e.Fill, e.State)
	}
	if rec.State == e.State {
		return nil
	}
	return s.repo.UpdateState(ctx, s.portfolioID, e.OrderID, e.State)
}

// OnFill 写成交并更新累计数量和均价
func (s *Service) OnFill(ctx context.Context, rec *Record, f Fill, state OrderState) error {
	filledAt := f.UTCTime
	if filledAt.IsZero() {
		filledAt = time.Now().UTC()
	}
	if err := s.repo.AddFill(ctx, &FillRecord{
		PortfolioID: s.portfolioID,
		OrderID:     rec.OrderID,
		FundID:      rec.FundID,
		Ticker:      rec.Ticker,
		Price:       f.FillPrice,
		Quantity:    f.FillQuantity,
		Fee:         f.Fee,
		Currency:    string(f.Currency),
		FilledAt:    filledAt,
	}); err != nil {
		return err
	}

	// 新均价 = (旧均价×旧数量 + 成交价×成交数量) / 新数量
	oldQty := rec.FilledQty.Abs()
	fillQty := f.FillQuantity.Abs()
	newQty := oldQty.Add(fillQty)
	if newQty.IsZero() {
		return nil
	}
	rec.AvgPrice = rec.AvgPrice.Mul(oldQty).Add(f.FillPrice.Mul(fillQty)).Div(newQty)
	rec.FilledQty = rec.FilledQty.Add(f.FillQuantity)
	rec.State = state
	return s.repo.UpdateFill(ctx, rec)
}

// =============================================================================
// 查询
// =============================================================================

func (s *Service) GetOrder(ctx context.Context, orderID int64) (*Record, error) {
	return s.repo.GetByOrderID(ctx, s.portfolioID, orderID)
}

func (s *Service) GetActiveOrders(ctx context.Context, fundID string) ([]*Record, error) {
	return s.repo.GetActiveByFund(ctx, s.portfolioID, fundID)
}

// RecomputeAverage 由成交记录重新计算均价
func (s *Service) RecomputeAverage(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	fills, err := s.repo.GetFills(ctx, s.portfolioID, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	notional, qty := decimal.Zero, decimal.Zero
	for _, f := range fills {
		q := f.Quantity.Abs()
		notional = notional.Add(f.Price.Mul(q))
		qty = qty.Add(q)
	}
	if qty.IsZero() {
		return decimal.Zero, nil
	}
	return notional.Div(qty), nil
}
